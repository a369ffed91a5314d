package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordWrite("routing_rule", "accepted", "", time.Millisecond)
	m.RecordRemoteCall("service_status", "ok", time.Millisecond)
	m.RecordRefreshDiscarded("resource_version")

	if m.Registry() != nil {
		t.Error("Expected nil registry for disabled metrics")
	}
}

func TestMetrics_RecordWrite(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test", ListenAddress: ":0"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordWrite("routing_rule", "accepted", "", time.Millisecond)
	m.RecordWrite("routing_rule", "rejected", "duplicate_identifier", time.Millisecond)
	m.RecordRefreshDiscarded("resource_version")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	counts := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				counts[f.GetName()] += c.GetValue()
			}
		}
	}

	if counts["test_field_writes_total"] != 2 {
		t.Errorf("Expected 2 writes, got %v", counts["test_field_writes_total"])
	}
	if counts["test_field_write_errors_total"] != 1 {
		t.Errorf("Expected 1 write error, got %v", counts["test_field_write_errors_total"])
	}
	if counts["test_refresh_results_discarded_total"] != 1 {
		t.Errorf("Expected 1 discarded refresh, got %v", counts["test_refresh_results_discarded_total"])
	}
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 8})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	received := make(chan Event, 8)
	ep.Subscribe(func(e Event) { received <- e })

	for i := 0; i < 3; i++ {
		if err := ep.FieldWritten("s", "dns_rule", "dns_rule_1", "server", []string{"default-dns"}); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}

	if len(received) != 3 {
		t.Errorf("Expected 3 delivered events, got %d", len(received))
	}
}

func TestRemoteCall(t *testing.T) {
	cfg := NoopConfig()
	cfg.Metrics.Enabled = true
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	ctx := tel.WithContext(context.Background())

	boom := errors.New("boom")
	if err := RemoteCall(ctx, "secret", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped operation error, got: %v", err)
	}
	if err := RemoteCall(context.Background(), "secret", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Expected no error without telemetry, got: %v", err)
	}
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "section.add", "node", "")
	if op.Span == nil || op.Logger == nil {
		t.Fatal("Expected a span and logger without telemetry")
	}
	if op.Ctx != context.Background() {
		t.Error("Expected the context to be left unchanged")
	}
	op.End(errors.New("rejected"))
}
