package telemetry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an editing event.
type EventType string

const (
	EventSectionAdded     EventType = "section.added"
	EventSectionRemoved   EventType = "section.removed"
	EventSectionRenamed   EventType = "section.renamed"
	EventSectionMoved     EventType = "section.moved"
	EventFieldWritten     EventType = "field.written"
	EventFieldRejected    EventType = "field.rejected"
	EventRefreshMerged    EventType = "refresh.merged"
	EventRefreshDiscarded EventType = "refresh.discarded"
	EventLintViolation    EventType = "lint.violation"
)

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// Event is something that happened to the configuration of a session.
// Fields that do not apply to Type are empty.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Type    EventType `json:"type"`
	Session string    `json:"session,omitempty"`

	SectionType string   `json:"section_type,omitempty"`
	SectionID   string   `json:"section_id,omitempty"`
	Field       string   `json:"field,omitempty"`
	Value       []string `json:"value,omitempty"`

	// Kind is the error kind of a rejected write, the task kind of a
	// refresh, or the severity of a lint violation.
	Kind string `json:"kind,omitempty"`

	// Detail is the new label, the new index, the rejection reason or the
	// violating policy.
	Detail string `json:"detail,omitempty"`
}

func (e Event) String() string {
	s := string(e.Type)
	if e.SectionType != "" {
		s += " " + e.SectionType + "." + e.SectionID
		if e.Field != "" {
			s += "." + e.Field
		}
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

type subscription struct {
	id    int
	fn    func(Event)
	types []EventType
}

func (s subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// EventPublisher delivers editing events to subscribers in subscription
// order. Without EnableAsync, subscribers run inside Publish.
type EventPublisher struct {
	enabled bool

	mu     sync.RWMutex
	subs   []subscription
	nextID int
	queue  chan Event
	closed bool
	done   chan struct{}
}

// NewEventPublisher creates a publisher. A disabled publisher drops every
// event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{enabled: cfg.Enabled}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep.queue = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go func() {
		defer close(ep.done)
		for e := range ep.queue {
			ep.deliver(e)
		}
	}()
	return ep, nil
}

// Subscribe registers fn for events of the given types, or for every event
// when types is empty. The returned function removes the subscription.
func (ep *EventPublisher) Subscribe(fn func(Event), types ...EventType) (unsubscribe func()) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.nextID++
	id := ep.nextID
	ep.subs = append(ep.subs, subscription{id: id, fn: fn, types: types})

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		ep.subs = slices.DeleteFunc(ep.subs, func(s subscription) bool { return s.id == id })
	}
}

// Publish stamps e and delivers it. In async mode a full buffer drops the
// event with an error.
func (ep *EventPublisher) Publish(e Event) error {
	if ep == nil || !ep.enabled {
		return nil
	}
	e.ID = uuid.NewString()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	if ep.queue == nil {
		ep.deliver(e)
		return nil
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrPublisherStopped
	}
	select {
	case ep.queue <- e:
		return nil
	default:
		return fmt.Errorf("event buffer full, %s dropped", e.Type)
	}
}

func (ep *EventPublisher) deliver(e Event) {
	ep.mu.RLock()
	subs := slices.Clone(ep.subs)
	ep.mu.RUnlock()

	for _, s := range subs {
		if s.wants(e.Type) {
			s.fn(e)
		}
	}
}

// SectionChanged publishes a section added, removed, renamed or moved event.
func (ep *EventPublisher) SectionChanged(session string, t EventType, sectionType, id, detail string) error {
	return ep.Publish(Event{Type: t, Session: session, SectionType: sectionType, SectionID: id, Detail: detail})
}

// FieldWritten publishes an accepted write with its normalized value.
func (ep *EventPublisher) FieldWritten(session, sectionType, id, key string, value []string) error {
	return ep.Publish(Event{
		Type:        EventFieldWritten,
		Session:     session,
		SectionType: sectionType,
		SectionID:   id,
		Field:       key,
		Value:       slices.Clone(value),
	})
}

// FieldRejected publishes a rejected write.
func (ep *EventPublisher) FieldRejected(session, sectionType, id, key, kind, reason string) error {
	return ep.Publish(Event{
		Type:        EventFieldRejected,
		Session:     session,
		SectionType: sectionType,
		SectionID:   id,
		Field:       key,
		Kind:        kind,
		Detail:      reason,
	})
}

// RefreshApplied publishes whether the result of a refresh task was merged.
func (ep *EventPublisher) RefreshApplied(session, taskID, kind string, merged bool, reason string) error {
	t := EventRefreshMerged
	if !merged {
		t = EventRefreshDiscarded
	}
	return ep.Publish(Event{Type: t, Session: session, Kind: kind, Value: []string{taskID}, Detail: reason})
}

// LintViolation publishes a policy finding.
func (ep *EventPublisher) LintViolation(policy, sectionType, id, severity, message string) error {
	return ep.Publish(Event{
		Type:        EventLintViolation,
		SectionType: sectionType,
		SectionID:   id,
		Kind:        severity,
		Detail:      policy + ": " + message,
	})
}

// Shutdown stops accepting events and waits until buffered events are
// delivered or ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.queue == nil {
		return nil
	}

	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.queue)
	}
	ep.mu.Unlock()

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}
