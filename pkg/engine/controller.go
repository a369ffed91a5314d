package engine

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/depend"
	"github.com/hpconf/hpconf/pkg/refs"
	"github.com/hpconf/hpconf/pkg/remote"
	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
	"github.com/hpconf/hpconf/pkg/telemetry"
	"github.com/hpconf/hpconf/pkg/validate"
)

// Options configures a Controller.
type Options struct {
	// Store persists committed changes. Defaults to an empty memory store.
	Store section.Store

	// Telemetry receives logs, spans, metrics and events. Defaults to a
	// no-op bundle.
	Telemetry *telemetry.Telemetry

	// Remote is the router control surface. Without it every refresh falls
	// back to empty values.
	Remote remote.Control

	// RefreshTimeout bounds each remote call.
	RefreshTimeout time.Duration
}

// Controller owns the configuration snapshot of one editing session. It is
// the only mutator of the snapshot and serializes every mutation; each
// accepted write is committed atomically to the store and the snapshot.
type Controller struct {
	mu sync.Mutex

	registry  *schema.Registry
	depend    *depend.Evaluator
	refs      *refs.Resolver
	pipeline  *validate.Pipeline
	store     section.Store
	snap      *section.Snapshot
	refresher *Refresher

	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
	sessionID string
}

// NewController loads every registered section type from the store and
// creates missing singleton sections.
func NewController(ctx context.Context, reg *schema.Registry, opts Options) (*Controller, error) {
	if opts.Store == nil {
		store, err := section.NewMemoryStore()
		if err != nil {
			return nil, err
		}
		opts.Store = store
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Noop()
	}

	eval := depend.New(reg)
	resolver := refs.New(reg)
	pipeline, err := validate.New(reg, eval, resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation pipeline: %w", err)
	}

	snap, err := section.LoadSnapshot(ctx, opts.Store, reg.Types())
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	c := &Controller{
		registry:  reg,
		depend:    eval,
		refs:      resolver,
		pipeline:  pipeline,
		store:     opts.Store,
		snap:      snap,
		tel:       opts.Telemetry,
		logger:    opts.Telemetry.Logger.NewComponentLogger("controller").WithSession(sessionID),
		sessionID: sessionID,
	}
	if opts.Remote != nil {
		c.refresher = NewRefresher(opts.Remote, opts.RefreshTimeout)
	}

	var changes []section.Change
	for _, name := range reg.Types() {
		st, _ := reg.Type(name)
		if !st.Singleton {
			continue
		}
		if _, ok := snap.Section(name, name); ok {
			continue
		}
		changes = append(changes, section.CreateChange(c.newSection(st, name), -1))
	}
	if err := c.commit(ctx, changes); err != nil {
		return nil, err
	}

	c.logger.WithField("version", snap.Version()).Debug("editing session opened")
	return c, nil
}

// SessionID returns the editing session identifier.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Registry returns the field model.
func (c *Controller) Registry() *schema.Registry {
	return c.registry
}

// Version returns the current snapshot version.
func (c *Controller) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Version()
}

// Snapshot returns a copy of the current snapshot.
func (c *Controller) Snapshot() *section.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

func (c *Controller) newSection(st *schema.SectionType, id string) *section.Section {
	sec := section.New(st.Name, id)
	for _, d := range st.Fields {
		if d.Required && len(d.Default) > 0 {
			sec.Set(d.Key, d.Default)
		}
	}
	return sec
}

func (c *Controller) lookup(sectionType, id string) (*schema.SectionType, *section.Section, error) {
	st, ok := c.registry.Type(sectionType)
	if !ok {
		return nil, nil, cfgerrors.Newf(cfgerrors.KindNotFound, "unknown section type %q", sectionType)
	}
	sec, ok := c.snap.Section(sectionType, id)
	if !ok {
		return nil, nil, cfgerrors.New(cfgerrors.KindNotFound, "section not found").WithSection(sectionType, id)
	}
	return st, sec, nil
}

func (c *Controller) field(sectionType, id, key string) (*schema.Descriptor, *section.Section, error) {
	_, sec, err := c.lookup(sectionType, id)
	if err != nil {
		return nil, nil, err
	}
	d, ok := c.registry.Field(sectionType, key)
	if !ok {
		return nil, nil, cfgerrors.Newf(cfgerrors.KindNotFound, "unknown field %q", key).WithSection(sectionType, id)
	}
	return d, sec, nil
}

// commit applies changes to the store and then to the snapshot. The batch
// is tried on a copy first so a store write is never followed by a failed
// snapshot update.
func (c *Controller) commit(ctx context.Context, changes []section.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := c.snap.Clone().Apply(changes...); err != nil {
		return cfgerrors.Wrap(cfgerrors.KindInternal, "invalid change batch", err)
	}
	if err := c.store.Apply(ctx, changes); err != nil {
		return cfgerrors.Wrap(cfgerrors.KindInternal, "failed to persist changes", err)
	}
	if err := c.snap.Apply(changes...); err != nil {
		return cfgerrors.Wrap(cfgerrors.KindInternal, "failed to apply changes", err)
	}

	c.tel.Metrics.SetSnapshotVersion(c.snap.Version())
	c.tel.Metrics.SetDanglingReferences(len(c.refs.Dangling(c.snap)))
	return nil
}

// Add creates a section of sectionType, assigns required fields their
// declared defaults and applies prefill in field declaration order. Prefill
// values are validated like writes; the section is not created if any of
// them is rejected. Prefill values of hidden fields are ignored.
func (c *Controller) Add(ctx context.Context, sectionType string, prefill map[string][]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := telemetry.StartOperation(c.tel.WithContext(ctx), "section.add", sectionType, "")
	id, err := c.add(op.Ctx, sectionType, prefill)
	op.End(err)
	return id, err
}

func (c *Controller) add(ctx context.Context, sectionType string, prefill map[string][]string) (string, error) {
	st, ok := c.registry.Type(sectionType)
	if !ok {
		return "", cfgerrors.Newf(cfgerrors.KindNotFound, "unknown section type %q", sectionType)
	}
	for key := range prefill {
		if _, ok := c.registry.Field(sectionType, key); !ok {
			return "", cfgerrors.Newf(cfgerrors.KindNotFound, "unknown field %q", key).WithSection(sectionType, "")
		}
	}

	id := nextID(st, c.snap, c.danglingTargets(sectionType))
	if _, exists := c.snap.Section(sectionType, id); exists {
		return "", cfgerrors.Newf(cfgerrors.KindDuplicateIdentifier, "section %q already exists", id).WithSection(sectionType, id)
	}

	work := c.snap.Clone()
	if err := work.Apply(section.CreateChange(c.newSection(st, id), -1)); err != nil {
		return "", cfgerrors.Wrap(cfgerrors.KindInternal, "failed to stage section", err)
	}

	for _, d := range st.Fields {
		raw, ok := prefill[d.Key]
		if !ok {
			continue
		}
		res := c.pipeline.Validate(d, id, raw, work)
		switch res.Status {
		case validate.StatusRejected:
			c.recordRejection(sectionType, id, d.Key, res.Err, 0)
			return "", res.Err
		case validate.StatusSkipped:
			c.logger.WithSection(sectionType, id).WithField("field", d.Key).Debug("ignoring prefill of hidden field")
			continue
		}
		if err := work.Apply(section.SetChange(sectionType, id, d.Key, res.Value)); err != nil {
			return "", cfgerrors.Wrap(cfgerrors.KindInternal, "failed to stage prefill", err)
		}
	}

	sec, _ := work.Section(sectionType, id)
	if err := c.commit(ctx, []section.Change{section.CreateChange(sec, -1)}); err != nil {
		return "", err
	}

	c.tel.Metrics.RecordSectionChange(sectionType, "add")
	_ = c.tel.Events.SectionChanged(c.sessionID, telemetry.EventSectionAdded, sectionType, id, "")
	c.logger.WithSection(sectionType, id).Info("section added")
	return id, nil
}

// NextID returns the identifier the next Add of sectionType would assign.
func (c *Controller) NextID(sectionType string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.registry.Type(sectionType)
	if !ok {
		return "", cfgerrors.Newf(cfgerrors.KindNotFound, "unknown section type %q", sectionType)
	}
	return nextID(st, c.snap, c.danglingTargets(sectionType)), nil
}

// danglingTargets returns the identifiers of sectionType still named by
// stale references.
func (c *Controller) danglingTargets(sectionType string) map[string]bool {
	taken := make(map[string]bool)
	for _, d := range c.refs.Dangling(c.snap) {
		desc, ok := c.registry.Field(d.Type, d.Key)
		if !ok || desc.Source.Target != sectionType {
			continue
		}
		for _, v := range d.Values {
			taken[v] = true
		}
	}
	return taken
}

// Remove deletes a section. References to it are left in place: they are
// reported by Dangling and reset on the next write to their section.
func (c *Controller) Remove(ctx context.Context, sectionType, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := telemetry.StartOperation(c.tel.WithContext(ctx), "section.remove", sectionType, id)
	err := c.remove(op.Ctx, sectionType, id)
	op.End(err)
	return err
}

func (c *Controller) remove(ctx context.Context, sectionType, id string) error {
	st, _, err := c.lookup(sectionType, id)
	if err != nil {
		return err
	}
	if st.Singleton {
		return cfgerrors.New(cfgerrors.KindInvalidFormat, "a singleton section cannot be removed").WithSection(sectionType, id)
	}

	if err := c.commit(ctx, []section.Change{section.DeleteChange(sectionType, id)}); err != nil {
		return err
	}

	c.tel.Metrics.RecordSectionChange(sectionType, "remove")
	_ = c.tel.Events.SectionChanged(c.sessionID, telemetry.EventSectionRemoved, sectionType, id, "")
	c.logger.WithSection(sectionType, id).Info("section removed")
	return nil
}

// Rename writes the label of a section.
func (c *Controller) Rename(ctx context.Context, sectionType, id, label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registry.Field(sectionType, section.KeyLabel); !ok {
		return cfgerrors.Newf(cfgerrors.KindNotFound, "section type %q has no label", sectionType)
	}
	if _, err := c.set(ctx, sectionType, id, section.KeyLabel, []string{label}); err != nil {
		return err
	}

	_ = c.tel.Events.SectionChanged(c.sessionID, telemetry.EventSectionRenamed, sectionType, id, label)
	return nil
}

// Move moves a section to index within its type.
func (c *Controller) Move(ctx context.Context, sectionType, id string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, err := c.lookup(sectionType, id); err != nil {
		return err
	}
	if n := len(c.snap.IDs(sectionType)); index < 0 || index >= n {
		return cfgerrors.Newf(cfgerrors.KindInvalidFormat, "index %d out of range [0, %d)", index, n).WithSection(sectionType, id)
	}
	if c.snap.Index(sectionType, id) == index {
		return nil
	}

	if err := c.commit(ctx, []section.Change{section.MoveChange(sectionType, id, index)}); err != nil {
		return err
	}

	c.tel.Metrics.RecordSectionChange(sectionType, "move")
	_ = c.tel.Events.SectionChanged(c.sessionID, telemetry.EventSectionMoved, sectionType, id, strconv.Itoa(index))
	return nil
}

// Set validates raw as the new value of a field and commits it. It returns
// the normalized value. A rejected write leaves the snapshot untouched; a
// write to a hidden field fails with KindInactiveField. Stale references in
// other fields of the section fall back to their defaults in the same
// commit.
func (c *Controller) Set(ctx context.Context, sectionType, id, key string, raw []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(ctx, sectionType, id, key, raw)
}

func (c *Controller) set(ctx context.Context, sectionType, id, key string, raw []string) (value []string, err error) {
	op := telemetry.StartOperation(c.tel.WithContext(ctx), "field.write", sectionType, id, telemetry.AttrFieldKey.String(key))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	d, _, err := c.field(sectionType, id, key)
	if err != nil {
		return nil, err
	}

	res := c.pipeline.Validate(d, id, raw, c.snap)
	switch res.Status {
	case validate.StatusSkipped:
		err := cfgerrors.Newf(cfgerrors.KindInactiveField, "%s is not active", key).WithSection(sectionType, id).WithField(key)
		c.recordRejection(sectionType, id, key, err, op.Elapsed())
		return nil, err
	case validate.StatusRejected:
		c.recordRejection(sectionType, id, key, res.Err, op.Elapsed())
		return nil, res.Err
	}

	changes := []section.Change{section.SetChange(sectionType, id, key, res.Value)}
	changes = append(changes, c.fallbackChanges(sectionType, id, key)...)
	if err := c.commit(ctx, changes); err != nil {
		c.recordRejection(sectionType, id, key, err, op.Elapsed())
		return nil, err
	}

	c.tel.Metrics.RecordWrite(sectionType, validate.StatusAccepted.String(), "", op.Elapsed())
	_ = c.tel.Events.FieldWritten(c.sessionID, sectionType, id, key, res.Value)
	c.logger.WithSection(sectionType, id).WithField("field", key).Debug("field written")
	return slices.Clone(res.Value), nil
}

// fallbackChanges resets reference fields of a section, other than skip,
// that name removed or disabled sections. Multi-valued fields keep their
// live entries.
func (c *Controller) fallbackChanges(sectionType, id, skip string) []section.Change {
	var changes []section.Change
	for _, d := range c.registry.Describe(sectionType) {
		if d.Key == skip || d.Source == nil {
			continue
		}
		stale := c.refs.Stale(d, c.snap, id)
		if len(stale) == 0 {
			continue
		}

		next := live(c.snap.Value(sectionType, id, d.Key), stale)
		if len(next) == 0 {
			next = d.Default
		}
		changes = append(changes, section.SetChange(sectionType, id, d.Key, next))
		c.logger.WithSection(sectionType, id).
			WithField("field", d.Key).
			WithField("stale", stale).
			Info("dangling reference reset")
	}
	return changes
}

func live(values, stale []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(stale, v) {
			out = append(out, v)
		}
	}
	return out
}

func (c *Controller) recordRejection(sectionType, id, key string, err error, d time.Duration) {
	kind := string(cfgerrors.KindOf(err))
	c.tel.Metrics.RecordWrite(sectionType, validate.StatusRejected.String(), kind, d)
	_ = c.tel.Events.FieldRejected(c.sessionID, sectionType, id, key, kind, err.Error())
	c.logger.WithSection(sectionType, id).WithField("field", key).WithError(err).Debug("write rejected")
}

// Get returns the stored value of a field, including stale references.
func (c *Controller) Get(sectionType, id, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, sec, err := c.field(sectionType, id, key)
	if err != nil {
		return nil, err
	}
	return sec.Get(key), nil
}

// Effective returns the value a field resolves to: the stored value without
// entries naming removed or disabled sections, or the declared default when
// nothing remains.
func (c *Controller) Effective(sectionType, id, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, sec, err := c.field(sectionType, id, key)
	if err != nil {
		return nil, err
	}
	values := sec.Get(key)
	if d.Source != nil {
		values = live(values, c.refs.Stale(d, c.snap, id))
	}
	if len(values) == 0 {
		return slices.Clone(d.Default), nil
	}
	return values, nil
}

// Visible reports the visibility of every field of a section.
func (c *Controller) Visible(sectionType, id string) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, err := c.lookup(sectionType, id); err != nil {
		return nil, err
	}
	return c.depend.Visibility(sectionType, id, c.snap), nil
}

// Options returns the selectable options of a choice field, recomputed
// from the current snapshot.
func (c *Controller) Options(sectionType, id, key string) ([]schema.Option, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, _, err := c.field(sectionType, id, key)
	if err != nil {
		return nil, err
	}
	return c.refs.OptionsFor(d, c.snap, id), nil
}

// Dangling returns every stored reference naming a removed or disabled
// section.
func (c *Controller) Dangling() []refs.Dangling {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs.Dangling(c.snap)
}

// Graphs returns the reference graphs of the chained fields.
func (c *Controller) Graphs() []*refs.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs.Graphs(c.snap)
}

// ValidateAll validates every visible field of every section and returns
// all errors found, in registry and section order.
func (c *Controller) ValidateAll() []error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, name := range c.registry.Types() {
		for _, id := range c.snap.IDs(name) {
			errs = append(errs, c.pipeline.ValidateSection(name, id, c.snap)...)
		}
	}
	return errs
}

// External returns a value merged from the remote control surface.
func (c *Controller) External(kind TaskKind, name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.External(ExternalKey(kind, name))
}
