// Package depend evaluates field visibility predicates against a
// configuration snapshot.
package depend

import (
	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

// Evaluator decides which fields are visible. It holds no state between
// calls: every answer is computed from the snapshot passed in.
type Evaluator struct {
	registry *schema.Registry
}

// New creates an evaluator over the field model of reg.
func New(reg *schema.Registry) *Evaluator {
	return &Evaluator{registry: reg}
}

// IsVisible reports whether field d of section sectionID is visible. A
// field with no predicates is always visible; otherwise any one of its
// alternative predicates must hold.
func (e *Evaluator) IsVisible(d *schema.Descriptor, snap *section.Snapshot, sectionID string) bool {
	st := newState()
	return st.visible(e, d, snap, sectionID)
}

// Eval evaluates a single predicate in the context of a section.
func (e *Evaluator) Eval(p schema.Predicate, sectionType, sectionID string, snap *section.Snapshot) bool {
	st := newState()
	return st.eval(e, p, sectionType, sectionID, snap)
}

// Visibility returns the visibility of every field of a section keyed by
// field key.
func (e *Evaluator) Visibility(sectionType, sectionID string, snap *section.Snapshot) map[string]bool {
	fields := e.registry.Describe(sectionType)
	out := make(map[string]bool, len(fields))
	for _, d := range fields {
		out[d.Key] = e.IsVisible(d, snap, sectionID)
	}
	return out
}

// Value returns the value a predicate reads for ref: the stored value, the
// declared default when nothing is stored, or nil when the referenced field
// is itself hidden.
func (e *Evaluator) Value(ref schema.Ref, sectionType, sectionID string, snap *section.Snapshot) []string {
	st := newState()
	return st.value(e, ref, sectionType, sectionID, snap)
}

// state guards against predicates that read each other in a loop. A field
// reached again while its own visibility is being computed reads as hidden.
type state struct {
	visiting map[string]bool
}

func newState() *state {
	return &state{visiting: make(map[string]bool)}
}

func (s *state) visible(e *Evaluator, d *schema.Descriptor, snap *section.Snapshot, sectionID string) bool {
	if len(d.Depends) == 0 {
		return true
	}

	key := d.Type + "." + sectionID + "." + d.Key
	if s.visiting[key] {
		return false
	}
	s.visiting[key] = true
	defer delete(s.visiting, key)

	for _, p := range d.Depends {
		if s.eval(e, p, d.Type, sectionID, snap) {
			return true
		}
	}
	return false
}

func (s *state) eval(e *Evaluator, p schema.Predicate, sectionType, sectionID string, snap *section.Snapshot) bool {
	switch p.Op {
	case schema.OpAll:
		for _, t := range p.Terms {
			if !s.eval(e, t, sectionType, sectionID, snap) {
				return false
			}
		}
		return true

	case schema.OpAny:
		for _, t := range p.Terms {
			if s.eval(e, t, sectionType, sectionID, snap) {
				return true
			}
		}
		return false

	case schema.OpNot:
		if len(p.Terms) == 0 {
			return true
		}
		return !s.eval(e, p.Terms[0], sectionType, sectionID, snap)

	case schema.OpEquals:
		return contains(s.value(e, p.Ref, sectionType, sectionID, snap), p.Value)

	case schema.OpNotEquals:
		return !contains(s.value(e, p.Ref, sectionType, sectionID, snap), p.Value)

	case schema.OpMatches:
		if p.Pattern == nil {
			return false
		}
		values := s.value(e, p.Ref, sectionType, sectionID, snap)
		if len(values) == 0 {
			return p.Pattern.MatchString("")
		}
		for _, v := range values {
			if p.Pattern.MatchString(v) {
				return true
			}
		}
		return false
	}
	return false
}

func (s *state) value(e *Evaluator, ref schema.Ref, sectionType, sectionID string, snap *section.Snapshot) []string {
	targetType, targetID := sectionType, sectionID
	if ref.Section != schema.CurrentSection {
		targetID = ref.Section
		if ref.Type != "" {
			targetType = ref.Type
		}
	}

	d, ok := e.registry.Field(targetType, ref.Key)
	if !ok {
		return snap.Value(targetType, targetID, ref.Key)
	}
	if !s.visible(e, d, snap, targetID) {
		return nil
	}
	if v := snap.Value(targetType, targetID, ref.Key); len(v) > 0 {
		return v
	}
	return d.Default
}

// contains treats an empty value as the single empty string, so Eq(ref, "")
// holds for unset fields.
func contains(values []string, want string) bool {
	if len(values) == 0 {
		return want == ""
	}
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
