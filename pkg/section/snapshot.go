package section

import (
	"fmt"
	"slices"
	"sort"
)

// Snapshot is the in-memory configuration: ordered sections per type plus
// externally sourced values merged from the remote control surface.
//
// Readers (evaluators, resolvers, validators) only read a snapshot. The
// section controller is its sole mutator.
type Snapshot struct {
	version  uint64
	order    map[string][]string
	sections map[string]map[string]*Section
	external map[string]string
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		order:    make(map[string][]string),
		sections: make(map[string]map[string]*Section),
		external: make(map[string]string),
	}
}

// Version returns a counter bumped by every applied change batch.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Section returns the section with the given type and ID.
func (s *Snapshot) Section(sectionType, id string) (*Section, bool) {
	sec, ok := s.sections[sectionType][id]
	return sec, ok
}

// SectionsOfType returns the sections of a type in user order.
func (s *Snapshot) SectionsOfType(sectionType string) []*Section {
	ids := s.order[sectionType]
	out := make([]*Section, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.sections[sectionType][id])
	}
	return out
}

// IDs returns the section IDs of a type in user order.
func (s *Snapshot) IDs(sectionType string) []string {
	return slices.Clone(s.order[sectionType])
}

// Index returns the position of a section within its type, or -1.
func (s *Snapshot) Index(sectionType, id string) int {
	return slices.Index(s.order[sectionType], id)
}

// Types returns the section types present in the snapshot, sorted.
func (s *Snapshot) Types() []string {
	types := make([]string, 0, len(s.order))
	for t := range s.order {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Value returns the stored values of a field, or nil.
func (s *Snapshot) Value(sectionType, id, key string) []string {
	sec, ok := s.Section(sectionType, id)
	if !ok {
		return nil
	}
	return sec.Get(key)
}

// External returns an externally sourced value (named list, resource
// version, service status, secret).
func (s *Snapshot) External(key string) (string, bool) {
	v, ok := s.external[key]
	return v, ok
}

// SetExternal merges an externally sourced value. It does not bump the
// version: external values never feed field predicates.
func (s *Snapshot) SetExternal(key, value string) {
	s.external[key] = value
}

// Clone returns a deep copy of the snapshot, including its version.
func (s *Snapshot) Clone() *Snapshot {
	c := NewSnapshot()
	c.version = s.version
	for t, ids := range s.order {
		c.order[t] = slices.Clone(ids)
		c.sections[t] = make(map[string]*Section, len(ids))
		for _, id := range ids {
			c.sections[t][id] = s.sections[t][id].Clone()
		}
	}
	for k, v := range s.external {
		c.external[k] = v
	}
	return c
}

// Apply applies a batch of changes atomically: either every change is
// applied and the version is bumped once, or the snapshot is left untouched.
func (s *Snapshot) Apply(changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}

	next := s.Clone()
	for i := range changes {
		if err := next.applyOne(&changes[i]); err != nil {
			return err
		}
	}

	s.order = next.order
	s.sections = next.sections
	s.version++
	return nil
}

func (s *Snapshot) applyOne(c *Change) error {
	switch c.Op {
	case ChangeCreate:
		if c.Section == nil {
			return fmt.Errorf("create %s.%s: missing section", c.Type, c.ID)
		}
		if _, exists := s.Section(c.Type, c.ID); exists {
			return fmt.Errorf("section %s.%s already exists", c.Type, c.ID)
		}
		if s.sections[c.Type] == nil {
			s.sections[c.Type] = make(map[string]*Section)
		}
		sec := c.Section.Clone()
		sec.Type, sec.ID = c.Type, c.ID
		s.sections[c.Type][c.ID] = sec
		s.order[c.Type] = insertAt(s.order[c.Type], c.ID, c.Index)

	case ChangeSet:
		sec, ok := s.Section(c.Type, c.ID)
		if !ok {
			return fmt.Errorf("section %s.%s not found", c.Type, c.ID)
		}
		sec.Set(c.Key, c.Values)

	case ChangeDelete:
		if _, ok := s.Section(c.Type, c.ID); !ok {
			return fmt.Errorf("section %s.%s not found", c.Type, c.ID)
		}
		delete(s.sections[c.Type], c.ID)
		s.order[c.Type] = slices.DeleteFunc(s.order[c.Type], func(id string) bool { return id == c.ID })

	case ChangeMove:
		idx := s.Index(c.Type, c.ID)
		if idx < 0 {
			return fmt.Errorf("section %s.%s not found", c.Type, c.ID)
		}
		ids := slices.Delete(s.order[c.Type], idx, idx+1)
		s.order[c.Type] = insertAt(ids, c.ID, c.Index)

	default:
		return fmt.Errorf("unknown change op %q", c.Op)
	}
	return nil
}

func insertAt(ids []string, id string, index int) []string {
	if index < 0 || index >= len(ids) {
		return append(ids, id)
	}
	return slices.Insert(ids, index, id)
}
