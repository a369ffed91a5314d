// Package remote defines the router-side operations the configuration engine
// depends on: service status, named domain lists, generated secrets and
// resource versions. Calls may block on the network; the engine dispatches
// them through its refresher and never from inside a write.
package remote

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
)

// Named domain lists that may be read and written.
const (
	ListDirect = "direct_list"
	ListProxy  = "proxy_list"
)

// Resource kinds whose published versions can be looked up.
const (
	ResourceChinaIP4  = "china_ip4"
	ResourceChinaIP6  = "china_ip6"
	ResourceChinaList = "china_list"
	ResourceGFWList   = "gfw_list"
)

// Secret kinds the router can generate.
const (
	SecretUUID          = "uuid"
	SecretRealityKeys   = "reality-keypair"
	SecretWireGuardKeys = "wg-keypair"
	SecretVAPIDKeys     = "vapid-keypair"
)

// ServiceStatus is the running state of a router service.
type ServiceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Detail  string `json:"detail,omitempty"`
}

// ResourceVersion is the installed version of a resource file.
type ResourceVersion struct {
	Kind    string `json:"kind"`
	Repo    string `json:"repo,omitempty"`
	Version string `json:"version"`
}

// Control is the narrow remote interface of the router. Every failure is
// reported as a cfgerrors.KindTransportUnavailable error.
type Control interface {
	// ServiceStatus reports whether the named service is running.
	ServiceStatus(ctx context.Context, name string) (ServiceStatus, error)

	// ReadNamedList returns the raw text of a named domain list.
	ReadNamedList(ctx context.Context, id string) (string, error)

	// WriteNamedList replaces a named domain list. The text is normalized
	// before it is written.
	WriteNamedList(ctx context.Context, id, text string) error

	// Secret generates a secret of the given kind (a UUID or a key pair).
	Secret(ctx context.Context, kind string) (string, error)

	// ResourceVersion returns the installed version of a resource.
	ResourceVersion(ctx context.Context, kind, repo string) (ResourceVersion, error)
}

// ValidList reports whether id names a writable domain list.
func ValidList(id string) bool {
	return id == ListDirect || id == ListProxy
}

// ValidResource reports whether kind names a versioned resource.
func ValidResource(kind string) bool {
	switch kind {
	case ResourceChinaIP4, ResourceChinaIP6, ResourceChinaList, ResourceGFWList:
		return true
	}
	return false
}

// ValidSecret reports whether kind names a secret the router can generate.
func ValidSecret(kind string) bool {
	switch kind {
	case SecretUUID, SecretRealityKeys, SecretWireGuardKeys, SecretVAPIDKeys:
		return true
	}
	return false
}

// NormalizeList trims every line of a domain list and drops blank lines and
// repeated entries. Comment lines starting with '#' are kept as is, even when
// repeated. The result ends with a newline unless it is empty.
func NormalizeList(text string) string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			if seen[line] {
				continue
			}
			seen[line] = true
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// Unavailable wraps err as a transport failure of op.
func Unavailable(op string, err error) *cfgerrors.Error {
	return cfgerrors.Wrap(cfgerrors.KindTransportUnavailable, fmt.Sprintf("%s failed", op), err).
		WithDetail("operation", op)
}

func checkList(op, id string) error {
	if !ValidList(id) {
		return cfgerrors.Newf(cfgerrors.KindInvalidFormat, "unknown domain list %q", id).
			WithDetail("operation", op)
	}
	return nil
}

// Memory is an in-process Control used by tests and offline editing. Fail,
// when set, is returned by every call.
type Memory struct {
	mu       sync.Mutex
	services map[string]ServiceStatus
	lists    map[string]string
	versions map[string]string
	secrets  []string
	calls    []string

	Fail error
}

// NewMemory creates an empty in-memory control.
func NewMemory() *Memory {
	return &Memory{
		services: make(map[string]ServiceStatus),
		lists:    make(map[string]string),
		versions: make(map[string]string),
	}
}

// SetService records the status of a service.
func (m *Memory) SetService(name string, running bool, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = ServiceStatus{Name: name, Running: running, Detail: detail}
}

// SetVersion records the version of a resource.
func (m *Memory) SetVersion(kind, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[kind] = version
}

// QueueSecrets queues values returned by successive Secret calls.
func (m *Memory) QueueSecrets(values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, values...)
}

// Calls returns the operations invoked so far.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *Memory) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	fail := m.Fail
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Unavailable(op, err)
	}
	if fail != nil {
		return Unavailable(op, fail)
	}
	return nil
}

// ServiceStatus implements Control.
func (m *Memory) ServiceStatus(ctx context.Context, name string) (ServiceStatus, error) {
	if err := m.begin(ctx, "status"); err != nil {
		return ServiceStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.services[name]; ok {
		return st, nil
	}
	return ServiceStatus{Name: name}, nil
}

// ReadNamedList implements Control.
func (m *Memory) ReadNamedList(ctx context.Context, id string) (string, error) {
	if err := checkList("read_list", id); err != nil {
		return "", err
	}
	if err := m.begin(ctx, "read_list"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists[id], nil
}

// WriteNamedList implements Control.
func (m *Memory) WriteNamedList(ctx context.Context, id, text string) error {
	if err := checkList("write_list", id); err != nil {
		return err
	}
	if err := m.begin(ctx, "write_list"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[id] = NormalizeList(text)
	return nil
}

// Secret implements Control.
func (m *Memory) Secret(ctx context.Context, kind string) (string, error) {
	if !ValidSecret(kind) {
		return "", cfgerrors.Newf(cfgerrors.KindInvalidFormat, "unknown secret kind %q", kind)
	}
	if err := m.begin(ctx, "secret"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.secrets) == 0 {
		return "", Unavailable("secret", fmt.Errorf("no secret available for %s", kind))
	}
	v := m.secrets[0]
	m.secrets = m.secrets[1:]
	return v, nil
}

// ResourceVersion implements Control.
func (m *Memory) ResourceVersion(ctx context.Context, kind, repo string) (ResourceVersion, error) {
	if !ValidResource(kind) {
		return ResourceVersion{}, cfgerrors.Newf(cfgerrors.KindInvalidFormat, "unknown resource %q", kind)
	}
	if err := m.begin(ctx, "resource_version"); err != nil {
		return ResourceVersion{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return ResourceVersion{Kind: kind, Repo: repo, Version: m.versions[kind]}, nil
}
