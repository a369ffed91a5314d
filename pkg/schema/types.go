package schema

// Kind is the value kind of a field.
type Kind int

const (
	// KindFlag is a boolean stored as "1" or "0".
	KindFlag Kind = iota
	// KindChoice is a single value from a static or dynamic option list.
	KindChoice
	// KindMultiChoice is a set of values from an option list.
	KindMultiChoice
	// KindText is a free-text string, optionally typed by a Datatype.
	KindText
	// KindList is an ordered list of text entries validated independently.
	KindList
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindChoice:
		return "choice"
	case KindMultiChoice:
		return "multi-choice"
	case KindText:
		return "text"
	case KindList:
		return "list"
	}
	return "unknown"
}

// Multi reports whether the kind stores more than one value.
func (k Kind) Multi() bool {
	return k == KindMultiChoice || k == KindList
}

// Datatype tags the format of text values.
type Datatype string

const (
	DatatypeNone      Datatype = ""
	DatatypeHostname  Datatype = "hostname"
	DatatypeHost      Datatype = "host"
	DatatypeIPAddr    Datatype = "ipaddr"
	DatatypeIP4Addr   Datatype = "ip4addr"
	DatatypeIP6Addr   Datatype = "ip6addr"
	DatatypeCIDR      Datatype = "cidr"
	DatatypePort      Datatype = "port"
	DatatypePortRange Datatype = "portrange"
	DatatypeUInteger  Datatype = "uinteger"
)

// Flag values.
const (
	FlagEnabled  = "1"
	FlagDisabled = "0"
)

// Option is a selectable (value, label) pair.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// UniqueScope selects which sections of a type take part in uniqueness checks.
type UniqueScope int

const (
	// UniqueScopeEnabled compares only against enabled sections.
	UniqueScopeEnabled UniqueScope = iota
	// UniqueScopeAll compares against every section of the type.
	UniqueScopeAll
)

// OptionSource derives a choice field's options from another section type.
type OptionSource struct {
	// Target is the section type whose enabled sections are offered.
	Target string

	// Leading are sentinel options offered before the sections.
	Leading []Option

	// Trailing are sentinel options offered after the sections.
	Trailing []Option

	// ExcludeSelf removes the current section from its own options.
	ExcludeSelf bool

	// Chained marks the field as an edge of a reference graph that must
	// stay acyclic. Only meaningful when Target equals the field's own type.
	Chained bool

	// Filter further restricts offered sections. It must be a pure function.
	Filter func(values map[string][]string) bool
}

// IsSentinel reports whether value is one of the source's sentinel options.
func (s *OptionSource) IsSentinel(value string) bool {
	for _, o := range s.Leading {
		if o.Value == value {
			return true
		}
	}
	for _, o := range s.Trailing {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Descriptor describes one configurable field of a section type. Descriptors
// are immutable once registered.
type Descriptor struct {
	// Type is the owning section type, set on registration.
	Type string

	// Key is the field key.
	Key string

	// Title is a short human readable name.
	Title string

	// Kind is the value kind.
	Kind Kind

	// Datatype constrains text and list entries.
	Datatype Datatype

	// Default is the declared default value.
	Default []string

	// Values are the static allowed values of choice fields.
	Values []Option

	// Depends holds alternative visibility predicates; the field is visible
	// when any of them holds. An empty list means always visible.
	Depends []Predicate

	// Source derives dynamic options from another section type.
	Source *OptionSource

	// Required rejects empty values while the field is visible.
	Required bool

	// Unique requires the value to differ from the same field of other
	// sections of the type within the type's uniqueness scope.
	Unique bool

	// Exclusive is a sentinel value of a multi-choice field that may not be
	// combined with any other selection.
	Exclusive string

	// Check is an optional extra validator run per value after the datatype.
	Check func(value string) error
}

// IsReference reports whether the field names sections of another type.
func (d *Descriptor) IsReference() bool {
	return d.Source != nil
}

// IsChained reports whether writes must be checked for reference cycles.
func (d *Descriptor) IsChained() bool {
	return d.Source != nil && d.Source.Chained && d.Source.Target == d.Type
}

// AllowsValue reports whether value is one of the static allowed values.
func (d *Descriptor) AllowsValue(value string) bool {
	for _, o := range d.Values {
		if o.Value == value {
			return true
		}
	}
	return false
}

// SectionType describes a class of sections sharing one field model.
type SectionType struct {
	// Name is the section type name (e.g. "routing_node").
	Name string

	// Title is a short human readable name.
	Title string

	// Prefix is used to generate identifiers for new sections.
	Prefix string

	// Singleton types have exactly one section whose ID equals Name.
	Singleton bool

	// UniqueScope selects the sections compared by unique fields.
	UniqueScope UniqueScope

	// Fields are the field descriptors in declaration order.
	Fields []*Descriptor
}
