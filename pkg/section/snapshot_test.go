package section

import (
	"context"
	"testing"
)

func newNode(id, label string) *Section {
	s := New("routing_node", id)
	s.Set(KeyLabel, []string{label})
	return s
}

func TestSnapshot_ApplyBumpsVersionOnce(t *testing.T) {
	snap := NewSnapshot()

	err := snap.Apply(
		CreateChange(newNode("node_1", "A"), -1),
		CreateChange(newNode("node_2", "B"), -1),
	)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if snap.Version() != 1 {
		t.Errorf("Expected version 1, got %d", snap.Version())
	}

	ids := snap.IDs("routing_node")
	if len(ids) != 2 || ids[0] != "node_1" || ids[1] != "node_2" {
		t.Errorf("Expected [node_1 node_2], got %v", ids)
	}
}

func TestSnapshot_ApplyIsAtomic(t *testing.T) {
	snap := NewSnapshot()
	if err := snap.Apply(CreateChange(newNode("node_1", "A"), -1)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	err := snap.Apply(
		SetChange("routing_node", "node_1", KeyLabel, []string{"changed"}),
		SetChange("routing_node", "missing", KeyLabel, []string{"x"}),
	)
	if err == nil {
		t.Fatal("Expected error for missing section")
	}

	sec, _ := snap.Section("routing_node", "node_1")
	if sec.Label() != "A" {
		t.Errorf("Expected label to be untouched, got %q", sec.Label())
	}
	if snap.Version() != 1 {
		t.Errorf("Expected version to stay 1, got %d", snap.Version())
	}
}

func TestSnapshot_MoveAndDelete(t *testing.T) {
	snap := NewSnapshot()
	_ = snap.Apply(
		CreateChange(newNode("a", "A"), -1),
		CreateChange(newNode("b", "B"), -1),
		CreateChange(newNode("c", "C"), -1),
	)

	if err := snap.Apply(MoveChange("routing_node", "c", 0)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := snap.IDs("routing_node"); got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Errorf("Expected [c a b], got %v", got)
	}

	if err := snap.Apply(DeleteChange("routing_node", "a")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := snap.Section("routing_node", "a"); ok {
		t.Error("Expected section a to be removed")
	}
	if snap.Index("routing_node", "b") != 1 {
		t.Errorf("Expected b at index 1, got %d", snap.Index("routing_node", "b"))
	}
}

func TestSnapshot_ExternalDoesNotBumpVersion(t *testing.T) {
	snap := NewSnapshot()
	snap.SetExternal("list:direct_list", "example.com\n")

	if snap.Version() != 0 {
		t.Errorf("Expected version 0, got %d", snap.Version())
	}
	if v, ok := snap.External("list:direct_list"); !ok || v != "example.com\n" {
		t.Errorf("Unexpected external value %q (ok=%v)", v, ok)
	}
}

func TestSection_EnabledDefaultsTrue(t *testing.T) {
	s := New("routing_rule", "rule_1")
	if !s.Enabled() {
		t.Error("Expected section without enabled flag to be enabled")
	}
	s.Set(KeyEnabled, []string{"0"})
	if s.Enabled() {
		t.Error("Expected disabled section")
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(newNode("node_1", "A"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Set(ctx, "routing_node", "node_1", "outbound", []string{"node_2"}); err != nil {
		t.Fatalf("failed to set value: %v", err)
	}

	got, err := store.Get(ctx, "routing_node", "node_1", "outbound")
	if err != nil {
		t.Fatalf("failed to get value: %v", err)
	}
	if len(got) != 1 || got[0] != "node_2" {
		t.Errorf("Expected [node_2], got %v", got)
	}

	snap, err := LoadSnapshot(ctx, store, []string{"routing_node"})
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if len(snap.SectionsOfType("routing_node")) != 1 {
		t.Error("Expected one routing_node in the snapshot")
	}
}
