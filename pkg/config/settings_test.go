package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("expected default settings to be valid, got: %v", err)
	}
	if s.Store.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %s", s.Store.Driver)
	}
	if s.Remote != nil {
		t.Error("expected no remote by default")
	}
}

func TestParseSettings(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("key"), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	tests := []struct {
		name    string
		yaml    string
		wantErr string
		check   func(*testing.T, *Settings)
	}{
		{
			name: "sqlite store",
			yaml: `
store:
  driver: sqlite
  sqlite:
    path: /var/lib/hpconf/hpconf.db
refresh_timeout: 10s
`,
			check: func(t *testing.T, s *Settings) {
				if s.Store.SQLite == nil || s.Store.SQLite.Path != "/var/lib/hpconf/hpconf.db" {
					t.Errorf("unexpected sqlite settings: %+v", s.Store.SQLite)
				}
				if s.RefreshTimeout != 10*time.Second {
					t.Errorf("expected refresh timeout 10s, got %v", s.RefreshTimeout)
				}
				if s.Telemetry == nil || s.Telemetry.ServiceName != "hpconf" {
					t.Error("expected telemetry defaults to be kept")
				}
			},
		},
		{
			name: "sqlite driver without sqlite block",
			yaml: `
store:
  driver: sqlite
`,
			wantErr: "SQLite",
		},
		{
			name: "unknown driver",
			yaml: `
store:
  driver: etcd
`,
			wantErr: "Driver",
		},
		{
			name: "remote with defaults",
			yaml: `
remote:
  host: 192.168.1.1
  user: root
  private_key_path: ` + keyPath + `
`,
			check: func(t *testing.T, s *Settings) {
				if s.Remote.Port != 22 {
					t.Errorf("expected default port 22, got %d", s.Remote.Port)
				}
				if s.Remote.ResourceDir != "/etc/homeproxy/resources" {
					t.Errorf("expected default resource dir, got %s", s.Remote.ResourceDir)
				}
			},
		},
		{
			name: "remote with password picks password auth",
			yaml: `
remote:
  host: 192.168.1.1
  user: root
  password: secret
`,
			check: func(t *testing.T, s *Settings) {
				if s.Remote.AuthMethod != "password" {
					t.Errorf("expected password auth, got %s", s.Remote.AuthMethod)
				}
			},
		},
		{
			name: "remote without host",
			yaml: `
remote:
  user: root
  password: secret
`,
			wantErr: "Host",
		},
		{
			name:    "bad log level",
			yaml:    "telemetry:\n  service_name: hpconf\n  service_version: dev\n  logging:\n    level: loud\n    format: console\n    output: stderr\n",
			wantErr: "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSettings([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, s)
			}
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing settings file")
	}
}

func TestSettings_MarshalRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.Templates = map[string]string{"routing_node": "templates/routing_node.star"}

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	parsed, err := ParseSettings(data)
	if err != nil {
		t.Fatalf("failed to parse marshalled settings: %v", err)
	}
	if parsed.Templates["routing_node"] != "templates/routing_node.star" {
		t.Errorf("expected template path to survive, got %v", parsed.Templates)
	}
}
