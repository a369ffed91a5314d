package section

import (
	"slices"
)

// Well-known field keys shared by most section types.
const (
	KeyLabel   = "label"
	KeyEnabled = "enabled"
)

// Section is one configurable record of a section type. Every field value is
// an ordered list of strings; single-valued fields hold one element.
type Section struct {
	// Type is the section type (e.g. "routing_node").
	Type string `json:"type" yaml:"type"`

	// ID is the stable identifier of the section within its type.
	ID string `json:"id" yaml:"id"`

	// Values maps field keys to their stored values.
	Values map[string][]string `json:"values" yaml:"values"`
}

// New creates an empty section.
func New(sectionType, id string) *Section {
	return &Section{
		Type:   sectionType,
		ID:     id,
		Values: make(map[string][]string),
	}
}

// Get returns a copy of the stored values of key.
func (s *Section) Get(key string) []string {
	return slices.Clone(s.Values[key])
}

// First returns the first stored value of key, or "".
func (s *Section) First(key string) string {
	if v := s.Values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Has reports whether key has a stored value.
func (s *Section) Has(key string) bool {
	return len(s.Values[key]) > 0
}

// Set stores values under key. An empty value list removes the key.
func (s *Section) Set(key string, values []string) {
	if len(values) == 0 {
		delete(s.Values, key)
		return
	}
	s.Values[key] = slices.Clone(values)
}

// Label returns the free-text label of the section.
func (s *Section) Label() string {
	return s.First(KeyLabel)
}

// Enabled reports whether the section is enabled. A section without an
// explicit enabled flag counts as enabled.
func (s *Section) Enabled() bool {
	v := s.Values[KeyEnabled]
	if len(v) == 0 {
		return true
	}
	return v[0] != "0"
}

// Clone returns a deep copy of the section.
func (s *Section) Clone() *Section {
	c := New(s.Type, s.ID)
	for k, v := range s.Values {
		c.Values[k] = slices.Clone(v)
	}
	return c
}

// ChangeOp identifies the kind of a structural or field change.
type ChangeOp string

const (
	// ChangeCreate inserts Section at Index (-1 appends).
	ChangeCreate ChangeOp = "create"

	// ChangeSet replaces the values of Key in section Type/ID.
	ChangeSet ChangeOp = "set"

	// ChangeDelete removes section Type/ID.
	ChangeDelete ChangeOp = "delete"

	// ChangeMove moves section Type/ID to Index.
	ChangeMove ChangeOp = "move"
)

// Change is one mutation applied atomically together with the other changes
// of the same batch.
type Change struct {
	Op      ChangeOp
	Type    string
	ID      string
	Key     string
	Values  []string
	Index   int
	Section *Section
}

// CreateChange returns a change inserting a copy of s at index.
func CreateChange(s *Section, index int) Change {
	return Change{Op: ChangeCreate, Type: s.Type, ID: s.ID, Index: index, Section: s.Clone()}
}

// SetChange returns a change storing values under key.
func SetChange(sectionType, id, key string, values []string) Change {
	return Change{Op: ChangeSet, Type: sectionType, ID: id, Key: key, Values: slices.Clone(values)}
}

// DeleteChange returns a change removing a section.
func DeleteChange(sectionType, id string) Change {
	return Change{Op: ChangeDelete, Type: sectionType, ID: id}
}

// MoveChange returns a change moving a section to index.
func MoveChange(sectionType, id string, index int) Change {
	return Change{Op: ChangeMove, Type: sectionType, ID: id, Index: index}
}
