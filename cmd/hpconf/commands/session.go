package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/hpconf/hpconf/pkg/config"
	"github.com/hpconf/hpconf/pkg/engine"
	"github.com/hpconf/hpconf/pkg/remote/ssh"
	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
	"github.com/hpconf/hpconf/pkg/stores"
	"github.com/hpconf/hpconf/pkg/telemetry"
)

// session is one CLI editing session: settings, telemetry, the store and a
// controller over it.
type session struct {
	settings *config.Settings
	registry *schema.Registry
	tel      *telemetry.Telemetry
	ctrl     *engine.Controller
	closers  []func() error
}

// loadSettings reads the settings file, if any, and applies flag overrides.
func loadSettings(opts *globalOptions) (*config.Settings, error) {
	settings := config.DefaultSettings()
	if opts.settingsPath != "" {
		s, err := config.LoadSettings(opts.settingsPath)
		if err != nil {
			return nil, err
		}
		settings = s
	}
	if opts.documentPath != "" {
		settings.Document = opts.documentPath
	}
	return settings, nil
}

// openSession builds a session from the global flags. Telemetry is created
// from the settings unless tel is non-nil.
func openSession(ctx context.Context, opts *globalOptions, tel *telemetry.Telemetry) (*session, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	return openSessionWith(ctx, settings, tel)
}

func openSessionWith(ctx context.Context, settings *config.Settings, tel *telemetry.Telemetry) (*session, error) {
	s := &session{
		settings: settings,
		registry: schema.Builtin(),
		tel:      tel,
	}

	if s.tel == nil {
		t, err := telemetry.NewTelemetry(settings.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		s.tel = t
		s.closers = append(s.closers, func() error { return t.Shutdown(context.Background()) })
	}

	store, err := s.openStore(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	ctrlOpts := engine.Options{
		Store:          store,
		Telemetry:      s.tel,
		RefreshTimeout: settings.RefreshTimeout,
	}
	if settings.Remote != nil {
		client, err := ssh.NewClient(settings.Remote)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to create remote client: %w", err)
		}
		ctrlOpts.Remote = client
		s.closers = append(s.closers, client.Close)
	}

	ctrl, err := engine.NewController(ctx, s.registry, ctrlOpts)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to open configuration: %w", err)
	}
	s.ctrl = ctrl

	log.Debug().
		Str("session", ctrl.SessionID()).
		Str("driver", settings.Store.Driver).
		Str("document", settings.Document).
		Msg("Session opened")
	return s, nil
}

func (s *session) openStore(ctx context.Context) (section.Store, error) {
	switch s.settings.Store.Driver {
	case config.DriverSQLite:
		store, err := stores.Open(ctx, *s.settings.Store.SQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	}

	if s.settings.Document == "" {
		return section.NewMemoryStore()
	}
	doc, err := config.LoadDocument(s.settings.Document)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("document", s.settings.Document).Msg("Document not found, starting empty")
		return section.NewMemoryStore()
	}
	if err != nil {
		return nil, err
	}
	if errs := doc.Check(s.registry); len(errs) > 0 {
		return nil, errs
	}
	return doc.Store()
}

// persist writes the configuration back to the document when sections live
// in memory. SQLite sessions are committed on every write.
func (s *session) persist() error {
	if s.settings.Store.Driver == config.DriverSQLite || s.settings.Document == "" {
		return nil
	}
	docFormat, err := config.FormatOf(s.settings.Document)
	if err != nil {
		return err
	}
	data, err := config.FromSnapshot(s.registry, s.ctrl.Snapshot()).Marshal(docFormat)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := os.WriteFile(s.settings.Document, data, 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	log.Debug().Str("document", s.settings.Document).Msg("Document saved")
	return nil
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to release session resource")
		}
	}
	s.closers = nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
