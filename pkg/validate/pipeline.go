// Package validate runs the ordered validation pipeline applied to every
// field write.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/depend"
	"github.com/hpconf/hpconf/pkg/refs"
	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

// Status is the outcome of validating one write.
type Status int

const (
	// StatusAccepted means the normalized value may be committed.
	StatusAccepted Status = iota
	// StatusRejected means the write must not be committed.
	StatusRejected
	// StatusSkipped means the field is hidden and the write is ignored.
	StatusSkipped
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Result is the outcome of Validate.
type Result struct {
	Status Status

	// Value is the normalized value to commit. Empty means the stored key
	// is removed and the declared default applies.
	Value []string

	// Err is set when Status is StatusRejected.
	Err error
}

// Accepted reports whether the write may be committed.
func (r Result) Accepted() bool {
	return r.Status == StatusAccepted
}

func rejected(err error) Result {
	return Result{Status: StatusRejected, Err: err}
}

// Pipeline validates field writes. It never mutates the snapshot.
type Pipeline struct {
	registry *schema.Registry
	depend   *depend.Evaluator
	refs     *refs.Resolver
	validate *validator.Validate
}

// New creates a pipeline over the field model of reg.
func New(reg *schema.Registry, eval *depend.Evaluator, resolver *refs.Resolver) (*Pipeline, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		registry: reg,
		depend:   eval,
		refs:     resolver,
		validate: v,
	}, nil
}

// Validate checks raw as the new value of field d in section sectionID. The
// stages run in order: presence, datatype, multiplicity, cross-section
// uniqueness, structural checks, then option membership. The first failing
// stage decides the error.
func (p *Pipeline) Validate(d *schema.Descriptor, sectionID string, raw []string, snap *section.Snapshot) Result {
	if !p.depend.IsVisible(d, snap, sectionID) {
		return Result{Status: StatusSkipped}
	}

	fail := func(kind cfgerrors.Kind, format string, args ...interface{}) Result {
		return rejected(cfgerrors.Newf(kind, format, args...).WithSection(d.Type, sectionID).WithField(d.Key))
	}

	values := clean(d, raw)
	if !d.Kind.Multi() && len(values) > 1 {
		return fail(cfgerrors.KindInvalidFormat, "expecting a single value")
	}

	// presence
	if len(values) == 0 {
		if d.Required {
			return fail(cfgerrors.KindEmptyRequiredField, "%s is required", title(d))
		}
		return Result{Status: StatusAccepted}
	}

	// datatype
	for i, v := range values {
		n, err := p.checkValue(d, v)
		if err != nil {
			return fail(cfgerrors.KindInvalidFormat, "%s", err.Error())
		}
		values[i] = n
	}

	// multiplicity
	if d.Kind.Multi() {
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if seen[v] {
				return fail(cfgerrors.KindDuplicateIdentifier, "%q already exists", v)
			}
			seen[v] = true
		}
	}

	// uniqueness
	if err := p.checkUnique(d, sectionID, values, snap); err != nil {
		return rejected(err)
	}

	// structural
	if err := p.refs.CheckReference(d, snap, sectionID, values); err != nil {
		return rejected(err)
	}
	if d.Exclusive != "" && len(values) > 1 {
		for _, v := range values {
			if v == d.Exclusive {
				return fail(cfgerrors.KindConflictingSelection, "%q cannot be combined with other selections", d.Exclusive)
			}
		}
	}

	// membership
	if d.Kind == schema.KindChoice || d.Kind == schema.KindMultiChoice {
		for _, v := range values {
			if !p.refs.Offers(d, snap, sectionID, v) {
				return fail(cfgerrors.KindInvalidFormat, "%q is not a valid choice", v)
			}
		}
	}

	return Result{Status: StatusAccepted, Value: values}
}

// clean trims entries. Multi-valued kinds drop blank entries; single-valued
// kinds collapse a lone blank entry to no value.
func clean(d *schema.Descriptor, raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" && (d.Kind.Multi() || len(raw) == 1) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (p *Pipeline) checkValue(d *schema.Descriptor, v string) (string, error) {
	if d.Kind == schema.KindFlag {
		n, ok := NormalizeFlag(v)
		if !ok {
			return "", fmt.Errorf("expecting a boolean value")
		}
		return n, nil
	}

	n, err := checkDatatype(p.validate, d.Datatype, v)
	if err != nil {
		return "", err
	}
	if d.Check != nil {
		if err := d.Check(n); err != nil {
			return "", err
		}
	}
	return n, nil
}

// checkUnique compares a unique field against the same field of the other
// sections of the type within the type's uniqueness scope. Enabling a
// section re-checks its unique fields when the scope only covers enabled
// sections.
func (p *Pipeline) checkUnique(d *schema.Descriptor, sectionID string, values []string, snap *section.Snapshot) error {
	st, ok := p.registry.Type(d.Type)
	if !ok {
		return nil
	}

	if d.Unique {
		if other := p.findDuplicate(st, d.Key, sectionID, values[0], snap); other != nil {
			return duplicateError(d, sectionID, values[0], other)
		}
	}

	if d.Key == section.KeyEnabled && values[0] == schema.FlagEnabled && st.UniqueScope == schema.UniqueScopeEnabled {
		self, ok := snap.Section(d.Type, sectionID)
		if !ok || self.Enabled() {
			return nil
		}
		for _, f := range st.Fields {
			if !f.Unique || !self.Has(f.Key) {
				continue
			}
			v := self.First(f.Key)
			if other := p.findDuplicate(st, f.Key, sectionID, v, snap); other != nil {
				return duplicateError(f, sectionID, v, other)
			}
		}
	}
	return nil
}

func (p *Pipeline) findDuplicate(st *schema.SectionType, key, sectionID, value string, snap *section.Snapshot) *section.Section {
	for _, other := range snap.SectionsOfType(st.Name) {
		if other.ID == sectionID {
			continue
		}
		if st.UniqueScope == schema.UniqueScopeEnabled && !other.Enabled() {
			continue
		}
		if other.First(key) == value {
			return other
		}
	}
	return nil
}

func duplicateError(d *schema.Descriptor, sectionID, value string, other *section.Section) error {
	return cfgerrors.Newf(cfgerrors.KindDuplicateIdentifier, "%s %q is already used by %s", strings.ToLower(title(d)), value, other.ID).
		WithSection(d.Type, sectionID).
		WithField(d.Key).
		WithDetail("conflict", other.ID)
}

// ValidateSection validates the effective value of every visible field of a
// section and returns every error found, in field order.
func (p *Pipeline) ValidateSection(sectionType, sectionID string, snap *section.Snapshot) []error {
	sec, ok := snap.Section(sectionType, sectionID)
	if !ok {
		return []error{cfgerrors.Newf(cfgerrors.KindNotFound, "section not found").WithSection(sectionType, sectionID)}
	}

	var errs []error
	for _, d := range p.registry.Describe(sectionType) {
		values := sec.Get(d.Key)
		if len(values) == 0 {
			values = d.Default
		}
		if len(values) > 0 && d.Source != nil && len(p.refs.Stale(d, snap, sectionID)) > 0 {
			// stale references are reported by Dangling, not as format errors
			continue
		}
		if res := p.Validate(d, sectionID, values, snap); res.Status == StatusRejected {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

func title(d *schema.Descriptor) string {
	if d.Title != "" {
		return d.Title
	}
	return d.Key
}
