package depend

import (
	"testing"

	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

func newSnapshot(t *testing.T, sections ...*section.Section) *section.Snapshot {
	t.Helper()

	snap := section.NewSnapshot()
	changes := make([]section.Change, 0, len(sections))
	for _, s := range sections {
		changes = append(changes, section.CreateChange(s, -1))
	}
	if err := snap.Apply(changes...); err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}
	return snap
}

func newSection(sectionType, id string, kv ...string) *section.Section {
	s := section.New(sectionType, id)
	for i := 0; i+1 < len(kv); i += 2 {
		s.Set(kv[i], []string{kv[i+1]})
	}
	return s
}

func mustField(t *testing.T, reg *schema.Registry, sectionType, key string) *schema.Descriptor {
	t.Helper()

	d, ok := reg.Field(sectionType, key)
	if !ok {
		t.Fatalf("field %s.%s not registered", sectionType, key)
	}
	return d
}

func TestIsVisible_ReverseNegatesWholeConjunction(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustRegister(&schema.SectionType{Name: "t", Fields: []*schema.Descriptor{
		{Key: "a", Kind: schema.KindFlag},
		{Key: "b", Kind: schema.KindFlag},
		{Key: "x", Kind: schema.KindText, Depends: []schema.Predicate{
			schema.Clauses(true, schema.Eq(schema.Field("a"), "1"), schema.Eq(schema.Field("b"), "1")),
		}},
	}})
	eval := New(reg)
	x := mustField(t, reg, "t", "x")

	tests := []struct {
		a, b string
		want bool
	}{
		{"0", "0", true},
		{"1", "0", true},
		{"0", "1", true},
		{"1", "1", false},
	}

	for _, tt := range tests {
		snap := newSnapshot(t, newSection("t", "s", "a", tt.a, "b", tt.b))
		got := eval.IsVisible(x, snap, "s")
		if got != tt.want {
			t.Errorf("a=%s b=%s: expected visible=%v, got %v", tt.a, tt.b, tt.want, got)
		}

		distributed := tt.a != "1" && tt.b != "1"
		if tt.a != tt.b && got == distributed {
			t.Errorf("a=%s b=%s: reverse must not distribute over clauses", tt.a, tt.b)
		}
	}
}

func TestIsVisible_AlternativesAreDisjunctive(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustRegister(&schema.SectionType{Name: "t", Fields: []*schema.Descriptor{
		{Key: "mode", Kind: schema.KindText},
		{Key: "x", Kind: schema.KindText, Depends: []schema.Predicate{
			schema.Eq(schema.Field("mode"), "a"),
			schema.Eq(schema.Field("mode"), "b"),
		}},
	}})
	eval := New(reg)
	x := mustField(t, reg, "t", "x")

	for mode, want := range map[string]bool{"a": true, "b": true, "c": false} {
		snap := newSnapshot(t, newSection("t", "s", "mode", mode))
		if got := eval.IsVisible(x, snap, "s"); got != want {
			t.Errorf("mode=%s: expected %v, got %v", mode, want, got)
		}
	}
}

func TestIsVisible_Builtin(t *testing.T) {
	reg := schema.Builtin()
	eval := New(reg)

	tests := []struct {
		name     string
		sections []*section.Section
		typ      string
		id       string
		key      string
		want     bool
	}{
		{
			name:     "regex on current section",
			sections: []*section.Section{newSection("node", "node_1", "type", "http")},
			typ:      "node", id: "node_1", key: "username",
			want: true,
		},
		{
			name:     "regex does not match",
			sections: []*section.Section{newSection("node", "node_1", "type", "shadowsocks")},
			typ:      "node", id: "node_1", key: "username",
			want: false,
		},
		{
			name:     "default feeds predicate",
			sections: []*section.Section{newSection("config", "config")},
			typ:      "config", id: "config", key: "china_dns_server",
			want: true,
		},
		{
			name:     "reverse clause hides main node in custom mode",
			sections: []*section.Section{newSection("config", "config", "routing_mode", "custom")},
			typ:      "config", id: "config", key: "main_node",
			want: false,
		},
		{
			name: "named section predicate",
			sections: []*section.Section{
				newSection("config", "config", "routing_mode", "custom"),
				newSection("routing", "routing"),
			},
			typ: "routing", id: "routing", key: "default_outbound",
			want: true,
		},
		{
			name: "named section predicate false",
			sections: []*section.Section{
				newSection("config", "config", "routing_mode", "gfwlist"),
				newSection("routing", "routing"),
			},
			typ: "routing", id: "routing", key: "default_outbound",
			want: false,
		},
		{
			name:     "hidden dependency reads as empty",
			sections: []*section.Section{newSection("node", "node_1", "type", "socks", "tls", "1")},
			typ:      "node", id: "node_1", key: "tls_sni",
			want: false,
		},
		{
			name:     "visible dependency",
			sections: []*section.Section{newSection("node", "node_1", "type", "vless", "tls", "1")},
			typ:      "node", id: "node_1", key: "tls_sni",
			want: true,
		},
		{
			name:     "match on multi-valued field",
			sections: []*section.Section{newSection("routing_rule", "routing_rule_1", "rule_set", "ruleset_1")},
			typ:      "routing_rule", id: "routing_rule_1", key: "rule_set_ipcidr_match_source",
			want: true,
		},
		{
			name:     "match on empty multi-valued field",
			sections: []*section.Section{newSection("routing_rule", "routing_rule_1")},
			typ:      "routing_rule", id: "routing_rule_1", key: "rule_set_ipcidr_match_source",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := newSnapshot(t, tt.sections...)
			d := mustField(t, reg, tt.typ, tt.key)
			if got := eval.IsVisible(d, snap, tt.id); got != tt.want {
				t.Errorf("Expected visible=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestIsVisible_ReevaluatedAfterWrite(t *testing.T) {
	reg := schema.Builtin()
	eval := New(reg)
	d := mustField(t, reg, "node", "password")

	snap := newSnapshot(t, newSection("node", "node_1", "type", "vmess"))
	if eval.IsVisible(d, snap, "node_1") {
		t.Fatal("Expected password hidden for vmess")
	}

	if err := snap.Apply(section.SetChange("node", "node_1", "type", []string{"trojan"})); err != nil {
		t.Fatalf("failed to apply change: %v", err)
	}
	if !eval.IsVisible(d, snap, "node_1") {
		t.Error("Expected password visible after switching to trojan")
	}
}

func TestIsVisible_MutualDependencyTerminates(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustRegister(&schema.SectionType{Name: "t", Fields: []*schema.Descriptor{
		{Key: "a", Kind: schema.KindFlag, Depends: []schema.Predicate{schema.Eq(schema.Field("b"), "1")}},
		{Key: "b", Kind: schema.KindFlag, Depends: []schema.Predicate{schema.Eq(schema.Field("a"), "1")}},
	}})
	eval := New(reg)
	snap := newSnapshot(t, newSection("t", "s", "a", "1", "b", "1"))

	vis := eval.Visibility("t", "s", snap)
	if vis["a"] || vis["b"] {
		t.Errorf("Expected mutually dependent fields to be hidden, got %v", vis)
	}
}

func TestValue_HiddenFieldIsEmpty(t *testing.T) {
	reg := schema.Builtin()
	eval := New(reg)
	snap := newSnapshot(t, newSection("node", "node_1", "type", "direct", "tls", "1"))

	if v := eval.Value(schema.Field("tls"), "node", "node_1", snap); v != nil {
		t.Errorf("Expected nil for hidden field, got %v", v)
	}
	if v := eval.Value(schema.Field("type"), "node", "node_1", snap); len(v) != 1 || v[0] != "direct" {
		t.Errorf("Expected [direct], got %v", v)
	}
}
