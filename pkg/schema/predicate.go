package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// CurrentSection refers to the section whose field is being evaluated.
const CurrentSection = ""

// Ref names a field value a predicate reads: a field of the current section,
// or a field of a named section (typically a singleton such as "config").
type Ref struct {
	Type    string
	Section string
	Key     string
}

// Field refers to a field of the current section.
func Field(key string) Ref {
	return Ref{Key: key}
}

// In refers to a field of a named section.
func In(sectionType, id, key string) Ref {
	return Ref{Type: sectionType, Section: id, Key: key}
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	if r.Section == CurrentSection {
		return r.Key
	}
	return fmt.Sprintf("%s.%s.%s", r.Type, r.Section, r.Key)
}

// Op identifies the clause kind of a predicate.
type Op int

const (
	// OpEquals holds when the referenced value equals Value.
	OpEquals Op = iota
	// OpNotEquals holds when the referenced value differs from Value.
	OpNotEquals
	// OpMatches holds when the referenced value matches Pattern.
	OpMatches
	// OpAll holds when every term holds (conjunction).
	OpAll
	// OpAny holds when at least one term holds (disjunction).
	OpAny
	// OpNot negates its single term.
	OpNot
)

// Predicate is a declarative visibility expression. It is plain data: one
// evaluator interprets it against a snapshot.
type Predicate struct {
	Op      Op
	Ref     Ref
	Value   string
	Pattern *regexp.Regexp
	Terms   []Predicate
}

// Eq returns a clause requiring ref to equal value.
func Eq(ref Ref, value string) Predicate {
	return Predicate{Op: OpEquals, Ref: ref, Value: value}
}

// Ne returns a clause requiring ref to differ from value.
func Ne(ref Ref, value string) Predicate {
	return Predicate{Op: OpNotEquals, Ref: ref, Value: value}
}

// Match returns a clause requiring ref to match the regular expression.
// It panics if pattern does not compile, like regexp.MustCompile; patterns
// are declared statically alongside the field model.
func Match(ref Ref, pattern string) Predicate {
	return Predicate{Op: OpMatches, Ref: ref, Pattern: regexp.MustCompile(pattern)}
}

// All returns the conjunction of terms.
func All(terms ...Predicate) Predicate {
	return Predicate{Op: OpAll, Terms: terms}
}

// Any returns the disjunction of terms.
func Any(terms ...Predicate) Predicate {
	return Predicate{Op: OpAny, Terms: terms}
}

// Not returns the negation of p.
func Not(p Predicate) Predicate {
	return Predicate{Op: OpNot, Terms: []Predicate{p}}
}

// Clauses builds the conjunction of clauses. With reverse set, the whole
// conjunction is negated: Clauses(true, a, b) is NOT (a AND b), never
// (NOT a) AND (NOT b).
func Clauses(reverse bool, clauses ...Predicate) Predicate {
	p := All(clauses...)
	if reverse {
		return Not(p)
	}
	return p
}

// Refs returns every field reference read by the predicate.
func (p Predicate) Refs() []Ref {
	switch p.Op {
	case OpAll, OpAny, OpNot:
		var refs []Ref
		for _, t := range p.Terms {
			refs = append(refs, t.Refs()...)
		}
		return refs
	}
	return []Ref{p.Ref}
}

// String renders the predicate for logs and debugging.
func (p Predicate) String() string {
	switch p.Op {
	case OpEquals:
		return fmt.Sprintf("%s == %q", p.Ref, p.Value)
	case OpNotEquals:
		return fmt.Sprintf("%s != %q", p.Ref, p.Value)
	case OpMatches:
		return fmt.Sprintf("%s =~ /%s/", p.Ref, p.Pattern)
	case OpNot:
		return fmt.Sprintf("!(%s)", p.Terms[0])
	case OpAll, OpAny:
		sep := " && "
		if p.Op == OpAny {
			sep = " || "
		}
		parts := make([]string, len(p.Terms))
		for i, t := range p.Terms {
			parts[i] = t.String()
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
	return "?"
}
