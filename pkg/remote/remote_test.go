package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
)

func TestNormalizeList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank lines only", "\n  \n\t\n", ""},
		{"trims and dedups", "  example.com \nexample.com\n\nfoo.org\n", "example.com\nfoo.org\n"},
		{"keeps comments", "# direct\nexample.com\n# direct\n", "# direct\nexample.com\n# direct\n"},
		{"crlf", "a.com\r\nb.com\r\n", "a.com\nb.com\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeList(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMemory_NamedLists(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.WriteNamedList(ctx, ListDirect, "b.com\n b.com\na.com"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got, err := m.ReadNamedList(ctx, ListDirect)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "b.com\na.com\n" {
		t.Errorf("Expected normalized list, got %q", got)
	}

	err = m.WriteNamedList(ctx, "other_list", "x")
	if !cfgerrors.IsKind(err, cfgerrors.KindInvalidFormat) {
		t.Errorf("Expected invalid_format for unknown list, got %v", err)
	}
}

func TestMemory_FailureIsTransportUnavailable(t *testing.T) {
	m := NewMemory()
	m.Fail = errors.New("connection refused")

	_, err := m.ServiceStatus(context.Background(), "homeproxy")
	if !cfgerrors.IsKind(err, cfgerrors.KindTransportUnavailable) {
		t.Fatalf("Expected transport_unavailable, got %v", err)
	}
	if !errors.Is(err, m.Fail) {
		t.Error("Expected the underlying error to be wrapped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Fail = nil
	if _, err := m.ReadNamedList(ctx, ListProxy); !cfgerrors.IsKind(err, cfgerrors.KindTransportUnavailable) {
		t.Errorf("Expected transport_unavailable for cancelled context, got %v", err)
	}
}

func TestMemory_SecretsAndVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.QueueSecrets("3b241101-e2bb-4255-8caf-4136c566a962")
	m.SetVersion(ResourceGFWList, "20261016")

	s, err := m.Secret(ctx, SecretUUID)
	if err != nil || s != "3b241101-e2bb-4255-8caf-4136c566a962" {
		t.Errorf("Unexpected secret %q (err=%v)", s, err)
	}
	if _, err := m.Secret(ctx, SecretUUID); !cfgerrors.IsKind(err, cfgerrors.KindTransportUnavailable) {
		t.Errorf("Expected transport_unavailable when no secret is queued, got %v", err)
	}

	v, err := m.ResourceVersion(ctx, ResourceGFWList, "1715173329/sing-geosite")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v.Version != "20261016" {
		t.Errorf("Expected version 20261016, got %q", v.Version)
	}

	if len(m.Calls()) != 3 {
		t.Errorf("Expected 3 recorded calls, got %v", m.Calls())
	}
}
