package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the configuration engine. Every
// Record method is a no-op on a disabled instance.
type Metrics struct {
	config MetricsConfig

	// Write metrics
	writes             *prometheus.CounterVec
	writeErrors        *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec

	// Structural metrics
	sectionChanges  *prometheus.CounterVec
	snapshotVersion prometheus.Gauge
	danglingRefs    prometheus.Gauge

	// Remote metrics
	remoteCalls      *prometheus.CounterVec
	remoteDuration   *prometheus.HistogramVec
	refreshDiscarded *prometheus.CounterVec
	refreshPending   prometheus.Gauge

	// Lint metrics
	lintViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the engine metrics in a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	f := metricFactory{registry: prometheus.NewRegistry(), namespace: cfg.Namespace, buckets: cfg.HistogramBuckets}
	if len(f.buckets) == 0 {
		f.buckets = prometheus.DefBuckets
	}

	return &Metrics{
		config:   cfg,
		registry: f.registry,

		writes:             f.counter("field_writes_total", "Field writes by outcome", "section_type", "status"),
		writeErrors:        f.counter("field_write_errors_total", "Rejected field writes by error kind", "kind"),
		validationDuration: f.histogram("validation_duration_seconds", "Time spent in the validation pipeline", "section_type"),

		sectionChanges:  f.counter("section_changes_total", "Sections added, removed, renamed or moved", "section_type", "op"),
		snapshotVersion: f.gauge("snapshot_version", "Current configuration snapshot version"),
		danglingRefs:    f.gauge("dangling_references", "Stored references naming removed or disabled sections"),

		remoteCalls:      f.counter("remote_calls_total", "Remote control calls by outcome", "operation", "outcome"),
		remoteDuration:   f.histogram("remote_call_duration_seconds", "Latency of remote control calls", "operation"),
		refreshDiscarded: f.counter("refresh_results_discarded_total", "Refresh results discarded because the snapshot moved on", "kind"),
		refreshPending:   f.gauge("refresh_tasks_pending", "Refresh tasks dispatched but not yet merged"),

		lintViolations: f.counter("lint_violations_total", "Lint policy violations", "policy", "severity"),
	}, nil
}

// metricFactory creates collectors and registers them as it goes.
type metricFactory struct {
	registry  *prometheus.Registry
	namespace string
	buckets   []float64
}

func (f metricFactory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help}, labels)
	f.registry.MustRegister(c)
	return c
}

func (f metricFactory) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.namespace, Name: name, Help: help, Buckets: f.buckets}, labels)
	f.registry.MustRegister(h)
	return h
}

func (f metricFactory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: f.namespace, Name: name, Help: help})
	f.registry.MustRegister(g)
	return g
}

// RecordWrite records a field write with its pipeline outcome. kind is the
// error kind of a rejected write and is ignored otherwise.
func (m *Metrics) RecordWrite(sectionType, status, kind string, duration time.Duration) {
	if m.writes == nil {
		return
	}
	m.writes.WithLabelValues(sectionType, status).Inc()
	m.validationDuration.WithLabelValues(sectionType).Observe(duration.Seconds())
	if kind != "" {
		m.writeErrors.WithLabelValues(kind).Inc()
	}
}

// RecordSectionChange records an add, remove, rename or move.
func (m *Metrics) RecordSectionChange(sectionType, op string) {
	if m.sectionChanges == nil {
		return
	}
	m.sectionChanges.WithLabelValues(sectionType, op).Inc()
}

// SetSnapshotVersion records the current snapshot version.
func (m *Metrics) SetSnapshotVersion(version uint64) {
	if m.snapshotVersion == nil {
		return
	}
	m.snapshotVersion.Set(float64(version))
}

// SetDanglingReferences records the number of stale references.
func (m *Metrics) SetDanglingReferences(count int) {
	if m.danglingRefs == nil {
		return
	}
	m.danglingRefs.Set(float64(count))
}

// RecordRemoteCall records a remote control call.
func (m *Metrics) RecordRemoteCall(operation, outcome string, duration time.Duration) {
	if m.remoteCalls == nil {
		return
	}
	m.remoteCalls.WithLabelValues(operation, outcome).Inc()
	m.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRefreshDiscarded records a stale refresh result.
func (m *Metrics) RecordRefreshDiscarded(kind string) {
	if m.refreshDiscarded == nil {
		return
	}
	m.refreshDiscarded.WithLabelValues(kind).Inc()
}

// SetRefreshPending sets the number of in-flight refresh tasks.
func (m *Metrics) SetRefreshPending(count int) {
	if m.refreshPending == nil {
		return
	}
	m.refreshPending.Set(float64(count))
}

// RecordLintViolation records a lint policy violation.
func (m *Metrics) RecordLintViolation(policy, severity string) {
	if m.lintViolations == nil {
		return
	}
	m.lintViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ServeMetrics serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) ServeMetrics(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", m.config.ListenAddress).Str("path", path).Msg("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
