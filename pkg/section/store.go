package section

import (
	"context"
	"fmt"
	"sync"
)

// Store is the narrow key/value section store the engine reads from and
// commits to. Implementations must apply a change batch atomically.
type Store interface {
	// Load returns the sections of a type in user order.
	Load(ctx context.Context, sectionType string) ([]*Section, error)

	// Get returns the stored values of a field.
	Get(ctx context.Context, sectionType, id, key string) ([]string, error)

	// Set stores the values of a field.
	Set(ctx context.Context, sectionType, id, key string, values []string) error

	// SectionsOfType returns the sections of a type; used by option
	// derivation and uniqueness checks outside an editing session.
	SectionsOfType(ctx context.Context, sectionType string) ([]*Section, error)

	// Apply commits a batch of changes atomically.
	Apply(ctx context.Context, changes []Change) error
}

// LoadSnapshot builds a snapshot from the sections of the given types.
func LoadSnapshot(ctx context.Context, store Store, types []string) (*Snapshot, error) {
	snap := NewSnapshot()
	var changes []Change
	for _, t := range types {
		sections, err := store.Load(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s sections: %w", t, err)
		}
		for _, sec := range sections {
			changes = append(changes, CreateChange(sec, -1))
		}
	}
	if err := snap.Apply(changes...); err != nil {
		return nil, fmt.Errorf("failed to build snapshot: %w", err)
	}
	return snap, nil
}

// MemoryStore is an in-memory Store backed by a Snapshot.
type MemoryStore struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewMemoryStore creates a memory store seeded with the given sections.
func NewMemoryStore(sections ...*Section) (*MemoryStore, error) {
	ms := &MemoryStore{snap: NewSnapshot()}
	changes := make([]Change, 0, len(sections))
	for _, sec := range sections {
		changes = append(changes, CreateChange(sec, -1))
	}
	if err := ms.snap.Apply(changes...); err != nil {
		return nil, err
	}
	return ms, nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, sectionType string) ([]*Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.snap.SectionsOfType(sectionType)
	out := make([]*Section, len(src))
	for i, sec := range src {
		out[i] = sec.Clone()
	}
	return out, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sectionType, id, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sec, ok := m.snap.Section(sectionType, id)
	if !ok {
		return nil, fmt.Errorf("section not found: %s.%s", sectionType, id)
	}
	return sec.Get(key), nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, sectionType, id, key string, values []string) error {
	return m.Apply(ctx, []Change{SetChange(sectionType, id, key, values)})
}

// SectionsOfType implements Store.
func (m *MemoryStore) SectionsOfType(ctx context.Context, sectionType string) ([]*Section, error) {
	return m.Load(ctx, sectionType)
}

// Apply implements Store.
func (m *MemoryStore) Apply(_ context.Context, changes []Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snap.Apply(changes...)
}

// Sections returns a copy of every stored section, grouped by type in
// sorted type order.
func (m *MemoryStore) Sections() []*Section {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Section
	for _, t := range m.snap.Types() {
		for _, sec := range m.snap.SectionsOfType(t) {
			out = append(out, sec.Clone())
		}
	}
	return out
}
