package schema

import (
	"fmt"
	"sync"
)

// Registry holds the registered section types and their field models.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*SectionType
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*SectionType),
	}
}

// Register validates and adds a section type. Registration order is kept.
func (r *Registry) Register(st *SectionType) error {
	if st == nil || st.Name == "" {
		return fmt.Errorf("section type has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[st.Name]; exists {
		return fmt.Errorf("duplicate section type: %s", st.Name)
	}
	if st.Prefix == "" {
		st.Prefix = st.Name
	}

	seen := make(map[string]bool, len(st.Fields))
	for _, d := range st.Fields {
		if d.Key == "" {
			return fmt.Errorf("section type %s has a field with empty key", st.Name)
		}
		if seen[d.Key] {
			return fmt.Errorf("duplicate field %s in section type %s", d.Key, st.Name)
		}
		seen[d.Key] = true
		d.Type = st.Name

		if d.Exclusive != "" && d.Kind != KindMultiChoice {
			return fmt.Errorf("field %s.%s: exclusive sentinel requires a multi-choice field", st.Name, d.Key)
		}
		if d.Source != nil && d.Source.Target == "" {
			return fmt.Errorf("field %s.%s: option source has no target", st.Name, d.Key)
		}
	}

	r.types[st.Name] = st
	r.order = append(r.order, st.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(types ...*SectionType) {
	for _, st := range types {
		if err := r.Register(st); err != nil {
			panic(err)
		}
	}
}

// Validate checks that every option source targets a registered type.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		for _, d := range r.types[name].Fields {
			if d.Source == nil {
				continue
			}
			if _, ok := r.types[d.Source.Target]; !ok {
				return fmt.Errorf("field %s.%s: option source targets unknown type %s", name, d.Key, d.Source.Target)
			}
		}
	}
	return nil
}

// Describe returns the field descriptors of a section type in declaration
// order, or nil for an unknown type.
func (r *Registry) Describe(sectionType string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.types[sectionType]
	if !ok {
		return nil
	}
	out := make([]*Descriptor, len(st.Fields))
	copy(out, st.Fields)
	return out
}

// Type returns a registered section type.
func (r *Registry) Type(name string) (*SectionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.types[name]
	return st, ok
}

// Field returns the descriptor of a field.
func (r *Registry) Field(sectionType, key string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.types[sectionType]
	if !ok {
		return nil, false
	}
	for _, d := range st.Fields {
		if d.Key == key {
			return d, true
		}
	}
	return nil, false
}

// Types returns the registered section type names in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ReferencesTo returns every descriptor whose option source targets the
// given section type.
func (r *Registry) ReferencesTo(target string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, name := range r.order {
		for _, d := range r.types[name].Fields {
			if d.Source != nil && d.Source.Target == target {
				out = append(out, d)
			}
		}
	}
	return out
}
