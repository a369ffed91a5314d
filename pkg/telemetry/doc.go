// Package telemetry provides observability for the hpconf configuration
// engine: structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and editing events.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("telemetry")
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// The section controller takes a *Telemetry and reports every write:
//
//   - a "field.write" span with section and field attributes
//   - field_writes_total{section_type,status} and validation_duration_seconds
//   - field_write_errors_total{kind} for rejected writes
//   - a field.written or field.rejected event
//
// Remote control calls run through RemoteCall, which records
// remote_calls_total{operation,outcome} and a "remote.<op>" span. Refresh
// results discarded because the snapshot moved on are counted in
// refresh_results_discarded_total.
//
// # Events
//
// Subscribers receive editing events synchronously unless EnableAsync is
// set:
//
//	unsubscribe := tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e)
//	}, telemetry.EventSectionRemoved)
//	defer unsubscribe()
//
// Metrics are served by Metrics.ServeMetrics, used by "hpconf watch".
package telemetry
