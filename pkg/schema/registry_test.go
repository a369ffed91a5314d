package schema

import (
	"strings"
	"testing"
)

func TestRegistry_RegisterRejectsInvalidTypes(t *testing.T) {
	tests := []struct {
		name    string
		st      *SectionType
		wantErr string
	}{
		{
			name:    "empty name",
			st:      &SectionType{},
			wantErr: "empty name",
		},
		{
			name: "duplicate field",
			st: &SectionType{Name: "a", Fields: []*Descriptor{
				{Key: "x", Kind: KindText},
				{Key: "x", Kind: KindText},
			}},
			wantErr: "duplicate field",
		},
		{
			name: "exclusive on single choice",
			st: &SectionType{Name: "b", Fields: []*Descriptor{
				{Key: "x", Kind: KindChoice, Exclusive: "any"},
			}},
			wantErr: "exclusive sentinel",
		},
		{
			name: "source without target",
			st: &SectionType{Name: "c", Fields: []*Descriptor{
				{Key: "x", Kind: KindChoice, Source: &OptionSource{}},
			}},
			wantErr: "no target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.st)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegistry_ValidateUnknownTarget(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&SectionType{Name: "rule", Fields: []*Descriptor{
		{Key: "outbound", Kind: KindChoice, Source: &OptionSource{Target: "missing"}},
	}})

	if err := r.Validate(); err == nil {
		t.Error("Expected error for unknown option source target")
	}
}

func TestRegistry_DescribeKeepsDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&SectionType{Name: "t", Fields: []*Descriptor{
		{Key: "b", Kind: KindText},
		{Key: "a", Kind: KindText},
		{Key: "c", Kind: KindFlag},
	}})

	fields := r.Describe("t")
	if len(fields) != 3 {
		t.Fatalf("Expected 3 fields, got %d", len(fields))
	}
	for i, want := range []string{"b", "a", "c"} {
		if fields[i].Key != want {
			t.Errorf("Expected field %d to be %s, got %s", i, want, fields[i].Key)
		}
		if fields[i].Type != "t" {
			t.Errorf("Expected owning type t, got %q", fields[i].Type)
		}
	}

	st, _ := r.Type("t")
	if st.Prefix != "t" {
		t.Errorf("Expected prefix to default to the type name, got %q", st.Prefix)
	}

	if r.Describe("unknown") != nil {
		t.Error("Expected nil descriptors for unknown type")
	}
}

func TestBuiltin(t *testing.T) {
	r := Builtin()

	wantTypes := []string{
		TypeConfig, TypeRouting, TypeDNS, TypeControl, TypeNode,
		TypeRoutingNode, TypeRoutingRule, TypeDNSServer, TypeDNSRule, TypeRuleset,
	}
	got := r.Types()
	if len(got) != len(wantTypes) {
		t.Fatalf("Expected %d types, got %d", len(wantTypes), len(got))
	}
	for i, name := range wantTypes {
		if got[i] != name {
			t.Errorf("Expected type %d to be %s, got %s", i, name, got[i])
		}
	}

	chained := map[string]bool{}
	for _, name := range r.Types() {
		for _, d := range r.Describe(name) {
			if d.IsChained() {
				chained[d.Type+"."+d.Key] = true
			}
		}
	}
	if len(chained) != 2 || !chained["routing_node.outbound"] || !chained["dns_server.address_resolver"] {
		t.Errorf("Unexpected chained fields: %v", chained)
	}

	refs := r.ReferencesTo(TypeRoutingNode)
	if len(refs) < 4 {
		t.Errorf("Expected at least 4 fields referencing routing_node, got %d", len(refs))
	}

	d, ok := r.Field(TypeDNSRule, "outbound")
	if !ok {
		t.Fatal("Expected dns_rule.outbound to exist")
	}
	if d.Exclusive != OutboundAny || d.Source.Leading[0].Value != OutboundAny {
		t.Errorf("Expected %s as exclusive leading sentinel", OutboundAny)
	}
}

func TestClauses_ReverseNegatesConjunction(t *testing.T) {
	a := Eq(Field("a"), "1")
	b := Eq(Field("b"), "1")

	p := Clauses(true, a, b)
	if p.Op != OpNot {
		t.Fatalf("Expected negation, got op %d", p.Op)
	}
	if inner := p.Terms[0]; inner.Op != OpAll || len(inner.Terms) != 2 {
		t.Errorf("Expected negation of a two-term conjunction, got %s", p)
	}
	if got := p.String(); got != `!((a == "1" && b == "1"))` {
		t.Errorf("Unexpected rendering: %s", got)
	}

	if refs := p.Refs(); len(refs) != 2 {
		t.Errorf("Expected 2 refs, got %d", len(refs))
	}
}

func TestCheckDNSAddress(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"local", true},
		{"8.8.8.8", true},
		{"tls://1.1.1.1", true},
		{"https://dns.google/dns-query", true},
		{"ftp://example.com", false},
		{"tcp://", false},
		{"bad value", false},
	}

	for _, tt := range tests {
		err := checkDNSAddress(tt.value)
		if (err == nil) != tt.valid {
			t.Errorf("checkDNSAddress(%q): expected valid=%v, got err=%v", tt.value, tt.valid, err)
		}
	}
}
