package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/remote"
	"github.com/hpconf/hpconf/pkg/schema"
)

// gatedControl holds every call until release is closed.
type gatedControl struct {
	*remote.Memory
	release chan struct{}
}

func newGatedControl() *gatedControl {
	return &gatedControl{Memory: remote.NewMemory(), release: make(chan struct{})}
}

func (g *gatedControl) ReadNamedList(ctx context.Context, id string) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", remote.Unavailable("read_list", ctx.Err())
	}
	return g.Memory.ReadNamedList(ctx, id)
}

func TestRefresh_MergesExternalValues(t *testing.T) {
	mem := remote.NewMemory()
	mem.SetVersion(remote.ResourceChinaIP4, "20261016")
	mem.SetService("homeproxy", true, "running")
	if err := mem.WriteNamedList(context.Background(), remote.ListDirect, "example.com\n"); err != nil {
		t.Fatalf("failed to seed list: %v", err)
	}

	c, _ := newTestController(t, Options{Remote: mem})
	ctx := context.Background()

	for _, req := range []Request{
		{Kind: TaskResourceVersion, Name: remote.ResourceChinaIP4},
		{Kind: TaskServiceStatus, Name: "homeproxy"},
		{Kind: TaskReadList, Name: remote.ListDirect},
	} {
		if _, err := c.Refresh(ctx, req); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	report, err := c.Await(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Merged != 3 {
		t.Errorf("Expected 3 merged results, got %+v", report)
	}

	tests := []struct {
		kind TaskKind
		name string
		want string
	}{
		{TaskResourceVersion, remote.ResourceChinaIP4, "20261016"},
		{TaskServiceStatus, "homeproxy", "running"},
		{TaskReadList, remote.ListDirect, "example.com\n"},
	}
	for _, tt := range tests {
		if got, ok := c.External(tt.kind, tt.name); !ok || got != tt.want {
			t.Errorf("Expected %s %s to be %q, got %q (ok=%v)", tt.kind, tt.name, tt.want, got, ok)
		}
	}
}

func TestRefresh_DiscardsStaleResults(t *testing.T) {
	gated := newGatedControl()
	c, _ := newTestController(t, Options{Remote: gated})
	ctx := context.Background()

	if _, err := c.Refresh(ctx, Request{Kind: TaskReadList, Name: remote.ListProxy}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// a write lands while the call is in flight
	mustAdd(t, c, schema.TypeRoutingNode, map[string][]string{"label": {"A"}})
	close(gated.release)

	report, err := c.Await(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Discarded != 1 || report.Merged != 0 {
		t.Errorf("Expected the result to be discarded, got %+v", report)
	}
	if _, ok := c.External(TaskReadList, remote.ListProxy); ok {
		t.Error("Expected no merged list after a stale result")
	}
}

func TestRefresh_TransportFailureFallsBackToEmpty(t *testing.T) {
	mem := remote.NewMemory()
	mem.Fail = errors.New("no route to host")

	c, _ := newTestController(t, Options{Remote: mem})
	ctx := context.Background()

	if _, err := c.Refresh(ctx, Request{Kind: TaskResourceVersion, Name: remote.ResourceGFWList}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	report, err := c.Await(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Fallbacks != 1 {
		t.Errorf("Expected one fallback, got %+v", report)
	}
	if got, ok := c.External(TaskResourceVersion, remote.ResourceGFWList); !ok || got != "" {
		t.Errorf("Expected empty fallback value, got %q (ok=%v)", got, ok)
	}

	// the rest of the form stays usable
	if _, err := c.Add(ctx, schema.TypeRoutingNode, map[string][]string{"label": {"A"}}); err != nil {
		t.Errorf("Expected edits to keep working, got: %v", err)
	}
}

func TestRefresh_SecretWritesTargetField(t *testing.T) {
	const secret = "3b241101-e2bb-4255-8caf-4136c566a962"
	mem := remote.NewMemory()
	mem.QueueSecrets(secret)

	c, _ := newTestController(t, Options{Remote: mem})
	ctx := context.Background()

	id := mustAdd(t, c, schema.TypeNode, map[string][]string{
		"label":   {"vless"},
		"type":    {"vless"},
		"address": {"203.0.113.7"},
		"port":    {"443"},
	})

	_, err := c.Refresh(ctx, Request{
		Kind:   TaskSecret,
		Name:   remote.SecretUUID,
		Target: &FieldRef{Type: schema.TypeNode, ID: id, Key: "uuid"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := c.Await(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got, _ := c.Get(schema.TypeNode, id, "uuid")
	if len(got) != 1 || got[0] != secret {
		t.Errorf("Expected uuid %s, got %v", secret, got)
	}
}

func TestRefresher_WaitHonoursContext(t *testing.T) {
	gated := newGatedControl()
	defer close(gated.release)

	r := NewRefresher(gated, time.Minute)
	r.Dispatch(context.Background(), Request{Kind: TaskReadList, Name: remote.ListDirect}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if r.Pending() != 1 {
		t.Errorf("Expected 1 pending task, got %d", r.Pending())
	}
}

func TestRefresh_WithoutRemoteUsesEmptyValue(t *testing.T) {
	c, _ := newTestController(t, Options{})

	taskID, err := c.Refresh(context.Background(), Request{Kind: TaskReadList, Name: remote.ListDirect})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if taskID != "" {
		t.Errorf("Expected no task, got %s", taskID)
	}
	if got, ok := c.External(TaskReadList, remote.ListDirect); !ok || got != "" {
		t.Errorf("Expected empty list, got %q (ok=%v)", got, ok)
	}
}

func TestRefresh_FieldWriteStalesLaterResults(t *testing.T) {
	secrets := []string{
		"3b241101-e2bb-4255-8caf-4136c566a962",
		"9f4c2a1e-7b3d-4e5f-8a6b-1c2d3e4f5a6b",
	}
	mem := remote.NewMemory()
	mem.QueueSecrets(secrets...)

	c, _ := newTestController(t, Options{Remote: mem})
	ctx := context.Background()

	id := mustAdd(t, c, schema.TypeNode, map[string][]string{
		"label":   {"vless"},
		"type":    {"vless"},
		"address": {"203.0.113.7"},
		"port":    {"443"},
	})
	dispatched := c.Snapshot().Version()

	for range secrets {
		_, err := c.Refresh(ctx, Request{
			Kind:   TaskSecret,
			Name:   remote.SecretUUID,
			Target: &FieldRef{Type: schema.TypeNode, ID: id, Key: "uuid"},
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	report, err := c.Await(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Merged != 1 || report.Discarded != 1 {
		t.Errorf("Expected one merged and one discarded result, got %+v", report)
	}
	if v := c.Snapshot().Version(); v <= dispatched {
		t.Errorf("Expected the merged write to bump version %d, got version %d", dispatched, v)
	}
	got, _ := c.Get(schema.TypeNode, id, "uuid")
	if len(got) != 1 || (got[0] != secrets[0] && got[0] != secrets[1]) {
		t.Errorf("Expected one of the generated secrets, got %v", got)
	}
}

func TestRefresh_WithoutRemoteRejectsTargetedRequest(t *testing.T) {
	c, _ := newTestController(t, Options{})
	id := mustAdd(t, c, schema.TypeNode, map[string][]string{
		"label":   {"vless"},
		"type":    {"vless"},
		"address": {"203.0.113.7"},
		"port":    {"443"},
	})

	_, err := c.Refresh(context.Background(), Request{
		Kind:   TaskSecret,
		Name:   remote.SecretUUID,
		Target: &FieldRef{Type: schema.TypeNode, ID: id, Key: "uuid"},
	})
	if !cfgerrors.IsKind(err, cfgerrors.KindTransportUnavailable) {
		t.Fatalf("Expected a transport unavailable error, got: %v", err)
	}
	if got, _ := c.Get(schema.TypeNode, id, "uuid"); len(got) != 0 {
		t.Errorf("Expected uuid to stay empty, got %v", got)
	}
	if _, ok := c.External(TaskSecret, remote.SecretUUID); ok {
		t.Error("Expected no external value for a targeted request")
	}
}
