package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hpconf/hpconf/pkg/remote/ssh"
	"github.com/hpconf/hpconf/pkg/stores"
	"github.com/hpconf/hpconf/pkg/telemetry"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// DefaultRefreshTimeout bounds a single remote refresh task.
const DefaultRefreshTimeout = 30 * time.Second

// Settings holds the tool settings read from hpconf.yaml.
type Settings struct {
	// Document is the configuration document loaded into a memory store.
	Document string `yaml:"document,omitempty"`

	// Store selects where sections are persisted.
	Store StoreSettings `yaml:"store"`

	// Remote is the router to refresh external values from. Nil disables
	// remote refreshes; external values then read as empty.
	Remote *ssh.Config `yaml:"remote,omitempty"`

	// RefreshTimeout bounds each remote refresh task.
	RefreshTimeout time.Duration `yaml:"refresh_timeout" validate:"gte=0"`

	// Templates maps a section type to a Starlark prefill template file.
	Templates map[string]string `yaml:"templates,omitempty" validate:"dive,keys,required,endkeys,required"`

	// Policies lists extra Rego policy files or directories for lint.
	Policies []string `yaml:"policies,omitempty" validate:"dive,required"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// StoreSettings selects the section store.
type StoreSettings struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`

	// SQLite configures the sqlite driver.
	SQLite *stores.Config `yaml:"sqlite,omitempty" validate:"required_if=Driver sqlite"`
}

// DefaultSettings returns settings for an in-memory store without a remote.
func DefaultSettings() *Settings {
	return &Settings{
		Store: StoreSettings{
			Driver: DriverMemory,
		},
		RefreshTimeout: DefaultRefreshTimeout,
		Telemetry:      telemetry.DefaultConfig(),
	}
}

// LoadSettings reads settings from a YAML file on top of DefaultSettings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes YAML settings on top of DefaultSettings and
// validates the result.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.Remote != nil {
		s.Remote.ApplyDefaults()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks struct constraints and the nested remote configuration.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Remote != nil {
		if err := s.Remote.Validate(); err != nil {
			return fmt.Errorf("invalid remote settings: %w", err)
		}
	}
	return nil
}

// Marshal encodes the settings as YAML.
func (s *Settings) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return data, nil
}
