// Package refs derives option lists for reference fields and guards the
// reference graphs against cycles.
package refs

import (
	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

// Resolver computes option lists from a snapshot. Nothing is cached: a
// structural change is visible on the next call.
type Resolver struct {
	registry *schema.Registry
}

// New creates a resolver over the field model of reg.
func New(reg *schema.Registry) *Resolver {
	return &Resolver{registry: reg}
}

// OptionsFor returns the ordered options of a choice field for section
// sectionID: leading sentinels, enabled sections of the target type by
// label, then trailing sentinels. Static choices return their declared
// values.
func (r *Resolver) OptionsFor(d *schema.Descriptor, snap *section.Snapshot, sectionID string) []schema.Option {
	if d.Source == nil {
		return append([]schema.Option(nil), d.Values...)
	}

	src := d.Source
	out := make([]schema.Option, 0, len(src.Leading)+len(src.Trailing))
	out = append(out, src.Leading...)
	for _, sec := range snap.SectionsOfType(src.Target) {
		if !r.offered(d, sec, sectionID) {
			continue
		}
		label := sec.Label()
		if label == "" {
			label = sec.ID
		}
		out = append(out, schema.Option{Value: sec.ID, Label: label})
	}
	out = append(out, src.Trailing...)
	return out
}

// Offers reports whether value is currently one of the field's options.
func (r *Resolver) Offers(d *schema.Descriptor, snap *section.Snapshot, sectionID, value string) bool {
	if d.Source == nil {
		return d.AllowsValue(value)
	}
	if d.Source.IsSentinel(value) {
		return true
	}
	sec, ok := snap.Section(d.Source.Target, value)
	return ok && r.offered(d, sec, sectionID)
}

func (r *Resolver) offered(d *schema.Descriptor, sec *section.Section, sectionID string) bool {
	if !sec.Enabled() {
		return false
	}
	if d.Source.ExcludeSelf && d.Source.Target == d.Type && sec.ID == sectionID {
		return false
	}
	if d.Source.Filter != nil && !d.Source.Filter(sec.Values) {
		return false
	}
	return true
}

// CheckReference checks that writing targets into chained field d of
// section sectionID keeps the field's reference graph acyclic. Fields that
// are not chained always pass.
func (r *Resolver) CheckReference(d *schema.Descriptor, snap *section.Snapshot, sectionID string, targets []string) error {
	if !d.IsChained() {
		return nil
	}

	g := BuildGraph(d, snap)
	var next []string
	for _, t := range targets {
		if t == "" || d.Source.IsSentinel(t) {
			continue
		}
		if t == sectionID {
			return cfgerrors.Newf(cfgerrors.KindRecursiveReference, "section %s cannot reference itself", sectionID).
				WithSection(d.Type, sectionID).
				WithField(d.Key).
				WithDetail("cycle", FormatCycle([]string{sectionID, sectionID}))
		}
		if _, ok := snap.Section(d.Source.Target, t); ok {
			next = append(next, t)
		}
	}
	g.SetEdges(sectionID, next)

	for _, t := range next {
		if path, found := g.Path(t, sectionID); found {
			cycle := FormatCycle(append([]string{sectionID}, path...))
			return cfgerrors.Newf(cfgerrors.KindRecursiveReference, "recursive reference: %s", cycle).
				WithSection(d.Type, sectionID).
				WithField(d.Key).
				WithDetail("cycle", cycle)
		}
	}
	return nil
}

// Graphs builds the reference graph of every chained field in the registry.
func (r *Resolver) Graphs(snap *section.Snapshot) []*Graph {
	var out []*Graph
	for _, name := range r.registry.Types() {
		for _, d := range r.registry.Describe(name) {
			if d.IsChained() {
				out = append(out, BuildGraph(d, snap))
			}
		}
	}
	return out
}

// Dangling is a stored reference naming a section that is no longer offered.
type Dangling struct {
	Type   string   `json:"type"`
	ID     string   `json:"id"`
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// Stale returns the stored values of reference field d in section sectionID
// that name removed or disabled sections.
func (r *Resolver) Stale(d *schema.Descriptor, snap *section.Snapshot, sectionID string) []string {
	if d.Source == nil {
		return nil
	}
	sec, ok := snap.Section(d.Type, sectionID)
	if !ok {
		return nil
	}

	var stale []string
	for _, v := range sec.Values[d.Key] {
		if v == "" || d.Source.IsSentinel(v) {
			continue
		}
		target, ok := snap.Section(d.Source.Target, v)
		if !ok || !target.Enabled() {
			stale = append(stale, v)
		}
	}
	return stale
}

// Dangling returns every stale reference in the snapshot, in registry and
// section order.
func (r *Resolver) Dangling(snap *section.Snapshot) []Dangling {
	var out []Dangling
	for _, name := range r.registry.Types() {
		fields := r.registry.Describe(name)
		for _, sec := range snap.SectionsOfType(name) {
			for _, d := range fields {
				if stale := r.Stale(d, snap, sec.ID); len(stale) > 0 {
					out = append(out, Dangling{Type: name, ID: sec.ID, Key: d.Key, Values: stale})
				}
			}
		}
	}
	return out
}
