package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpconf/hpconf/pkg/config"
	"github.com/hpconf/hpconf/pkg/policy"
	"github.com/hpconf/hpconf/pkg/telemetry"
)

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-validate a document whenever it changes",
		Long: `Watch a configuration document and re-run validation and lint each
time it is saved. Policy files listed in the settings are reloaded when they
change. With --metrics-addr the Prometheus endpoint is served while watching.`,
		Example: `  # Watch a document
  hpconf watch -d router.cue

  # Watch and expose metrics
  hpconf watch -c hpconf.yaml --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings(opts)
			if err != nil {
				return err
			}
			if settings.Store.Driver != config.DriverMemory || settings.Document == "" {
				return fmt.Errorf("watch needs a document and the memory store driver")
			}
			if metricsAddr != "" {
				settings.Telemetry.Metrics.Enabled = true
				settings.Telemetry.Metrics.ListenAddress = metricsAddr
			}

			tel, err := telemetry.NewTelemetry(settings.Telemetry)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				_ = tel.Shutdown(context.Background())
			}()
			logger := tel.Logger.NewComponentLogger("watch")

			engine, err := newPolicyEngine(ctx, tel, settings.Policies, nil)
			if err != nil {
				return err
			}

			go func() {
				if err := tel.Metrics.ServeMetrics(ctx); err != nil {
					logger.WithError(err).Error("metrics endpoint stopped")
				}
			}()
			if len(settings.Policies) > 0 {
				loader := policy.NewLoader(tel.Logger.Zerolog())
				go func() {
					if err := loader.Watch(ctx, settings.Policies, engine); err != nil && !errors.Is(err, context.Canceled) {
						logger.WithError(err).Error("policy watcher stopped")
					}
				}()
			}

			check := func(path string) {
				s, err := openSessionWith(ctx, settings, tel)
				if err != nil {
					logger.WithField("document", path).WithError(err).Error("document rejected")
					return
				}
				defer s.close()

				errs := s.ctrl.ValidateAll()
				for _, err := range errs {
					logger.WithField("document", path).WithError(err).Warn("validation error")
				}

				result, err := engine.Lint(ctx, policy.NewInput(s.ctrl.Snapshot(), s.ctrl.Dangling()))
				if err != nil {
					logger.WithError(err).Error("lint failed")
					return
				}
				for _, v := range result.Violations {
					logger.WithSection(v.SectionType, v.Section).
						WithField("policy", v.Policy).
						WithField("severity", string(v.Severity)).
						Warn(v.Message)
				}
				logger.WithField("document", path).
					WithField("errors", len(errs)).
					WithField("violations", len(result.Violations)).
					Info("document checked")
			}

			watcher, err := config.NewWatcher(settings.Document, debounce, tel.Logger.Zerolog())
			if err != nil {
				return err
			}
			check(settings.Document)

			err = watcher.Run(ctx, check)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", config.DefaultDebounce, "quiet period before re-checking")

	return cmd
}
