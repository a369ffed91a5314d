package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a telemetry bundle from cfg.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, err
	}

	return &Telemetry{Logger: logger, Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}, nil
}

// Noop returns a telemetry bundle with every output disabled.
func Noop() *Telemetry {
	cfg := NoopConfig()
	tracer, _ := NewTracer(cfg)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{Logger: NewNopLogger(), Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}
}

// WithContext returns a copy of ctx carrying t.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, telemetryContextKey{}, t)
}

// FromContext returns the telemetry carried by ctx, or nil.
func FromContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown drains events, then flushes and stops tracing.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// Operation is one instrumented controller operation on a section.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name  string
	owned bool
	start time.Time
}

// StartOperation opens a span named name for a section. id is empty when
// the section does not exist yet. Without telemetry in ctx the operation
// only measures time.
func StartOperation(ctx context.Context, name, sectionType, id string, attrs ...attribute.KeyValue) *Operation {
	op := &Operation{Ctx: ctx, name: name, start: time.Now()}

	tel := FromContext(ctx)
	if tel == nil {
		op.Span = trace.SpanFromContext(ctx)
		op.Logger = NewNopLogger()
		return op
	}

	attrs = append(attrs, AttrSectionType.String(sectionType))
	if id != "" {
		attrs = append(attrs, AttrSectionID.String(id))
	}
	op.Ctx, op.Span = tel.Tracer.Start(ctx, name, attrs...)
	op.owned = true
	op.Logger = tel.Logger.WithSection(sectionType, id).WithField("operation", name)
	if sc := op.Span.SpanContext(); sc.IsValid() {
		op.Logger = op.Logger.WithField("trace_id", sc.TraceID().String())
	}
	return op
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed() time.Duration {
	return time.Since(op.start)
}

// End closes the span with the outcome of the operation.
func (op *Operation) End(err error) {
	if err != nil {
		op.Logger.WithError(err).Debug(op.name + " failed")
	}
	if op.owned {
		finishSpan(op.Span, err)
	}
}

// RemoteCall runs fn as the remote operation named operation, recording a
// "remote.<operation>" span and the call outcome and latency.
func RemoteCall(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	tel := FromContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	spanCtx, span := tel.Tracer.Start(ctx, "remote."+operation, AttrRemoteOp.String(operation))
	start := time.Now()
	err := fn(spanCtx)
	elapsed := time.Since(start)
	finishSpan(span, err)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tel.Metrics.RecordRemoteCall(operation, outcome, elapsed)
	tel.Logger.NewComponentLogger("remote").
		WithField("operation", operation).
		WithField("outcome", outcome).
		WithField("elapsed", elapsed.String()).
		Debug("remote call finished")
	return err
}
