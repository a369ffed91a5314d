package validate

import (
	"testing"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/depend"
	"github.com/hpconf/hpconf/pkg/refs"
	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

type fixture struct {
	reg      *schema.Registry
	pipeline *Pipeline
	snap     *section.Snapshot
}

func setup(t *testing.T, sections ...*section.Section) *fixture {
	t.Helper()

	reg := schema.Builtin()
	p, err := New(reg, depend.New(reg), refs.New(reg))
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	snap := section.NewSnapshot()
	changes := make([]section.Change, 0, len(sections))
	for _, s := range sections {
		changes = append(changes, section.CreateChange(s, -1))
	}
	if err := snap.Apply(changes...); err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}
	return &fixture{reg: reg, pipeline: p, snap: snap}
}

func (f *fixture) validate(t *testing.T, sectionType, id, key string, raw ...string) Result {
	t.Helper()

	d, ok := f.reg.Field(sectionType, key)
	if !ok {
		t.Fatalf("field %s.%s not registered", sectionType, key)
	}
	return f.pipeline.Validate(d, id, raw, f.snap)
}

func newSection(sectionType, id string, kv ...string) *section.Section {
	s := section.New(sectionType, id)
	for i := 0; i+1 < len(kv); i += 2 {
		s.Set(kv[i], []string{kv[i+1]})
	}
	return s
}

func expectKind(t *testing.T, res Result, kind cfgerrors.Kind) {
	t.Helper()

	if res.Status != StatusRejected {
		t.Fatalf("Expected rejection with %s, got %s (value %v)", kind, res.Status, res.Value)
	}
	if !cfgerrors.IsKind(res.Err, kind) {
		t.Errorf("Expected %s, got: %v", kind, res.Err)
	}
}

func TestParsePortRange(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "1000:2000", want: "1000:2000"},
		{input: ":2000", want: "0:2000"},
		{input: "1000:", want: "1000:65535"},
		{input: "0:65535", want: "0:65535"},
		{input: "2000:1000", wantErr: true},
		{input: "1000:1000", wantErr: true},
		{input: "65535:", wantErr: true},
		{input: ":", wantErr: true},
		{input: "1000", wantErr: true},
		{input: "1:65536", wantErr: true},
		{input: "a:2000", wantErr: true},
		{input: "-1:2000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePortRange(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestValidate_Datatypes(t *testing.T) {
	f := setup(t,
		newSection("node", "node_1", "type", "vless", "tls", "1"),
		newSection("routing_rule", "routing_rule_1", "label", "R"),
		newSection("control", "control", "lan_proxy_mode", "listed_only"),
	)

	tests := []struct {
		name  string
		typ   string
		id    string
		key   string
		raw   []string
		want  []string
		valid bool
	}{
		{"port", "node", "node_1", "port", []string{"443"}, []string{"443"}, true},
		{"port leading zero normalized", "node", "node_1", "port", []string{"0443"}, []string{"443"}, true},
		{"port too large", "node", "node_1", "port", []string{"70000"}, nil, false},
		{"port not a number", "node", "node_1", "port", []string{"https"}, nil, false},
		{"port zero", "node", "node_1", "port", []string{"0"}, nil, false},
		{"port list rejects zero", "routing_rule", "routing_rule_1", "port", []string{"53", "0"}, nil, false},
		{"port range may start at zero", "routing_rule", "routing_rule_1", "port_range", []string{"0:53"}, []string{"0:53"}, true},
		{"host as ip", "node", "node_1", "address", []string{"1.2.3.4"}, []string{"1.2.3.4"}, true},
		{"host as name", "node", "node_1", "address", []string{" example.com "}, []string{"example.com"}, true},
		{"host invalid", "node", "node_1", "address", []string{"exa mple"}, nil, false},
		{"hostname", "node", "node_1", "tls_sni", []string{"sni.example.com"}, []string{"sni.example.com"}, true},
		{"uuid check", "node", "node_1", "uuid", []string{"not-a-uuid"}, nil, false},
		{"cidr list", "routing_rule", "routing_rule_1", "ip_cidr", []string{"10.0.0.0/8", "fd00::/8"}, []string{"10.0.0.0/8", "fd00::/8"}, true},
		{"cidr list bad entry", "routing_rule", "routing_rule_1", "ip_cidr", []string{"10.0.0.0/8", "10.0.0.1"}, nil, false},
		{"port range normalized", "routing_rule", "routing_rule_1", "port_range", []string{":2000", "1000:"}, []string{"0:2000", "1000:65535"}, true},
		{"list drops blanks", "routing_rule", "routing_rule_1", "domain", []string{"a.com", " ", "b.com"}, []string{"a.com", "b.com"}, true},
		{"regex check", "routing_rule", "routing_rule_1", "domain_regex", []string{"(unclosed"}, nil, false},
		{"flag normalized", "routing_rule", "routing_rule_1", "invert", []string{"true"}, []string{"1"}, true},
		{"flag invalid", "routing_rule", "routing_rule_1", "invert", []string{"maybe"}, nil, false},
		{"ipv4 with mask", "control", "control", "lan_proxy_ipv4_ips", []string{"192.168.1.0/24", "192.168.2.1"}, []string{"192.168.1.0/24", "192.168.2.1"}, true},
		{"ipv4 rejects ipv6", "control", "control", "lan_proxy_ipv4_ips", []string{"fd00::1"}, nil, false},
		{"static choice", "routing_rule", "routing_rule_1", "ip_version", []string{"6"}, []string{"6"}, true},
		{"static choice invalid", "routing_rule", "routing_rule_1", "ip_version", []string{"5"}, nil, false},
		{"single value expected", "routing_rule", "routing_rule_1", "ip_version", []string{"4", "6"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.validate(t, tt.typ, tt.id, tt.key, tt.raw...)
			if !tt.valid {
				expectKind(t, res, cfgerrors.KindInvalidFormat)
				return
			}
			if !res.Accepted() {
				t.Fatalf("Expected accepted, got %s: %v", res.Status, res.Err)
			}
			if len(res.Value) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, res.Value)
			}
			for i := range tt.want {
				if res.Value[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, res.Value)
				}
			}
		})
	}
}

func TestValidate_Presence(t *testing.T) {
	f := setup(t, newSection("routing_node", "routing_node_1", "label", "A"))

	expectKind(t, f.validate(t, "routing_node", "routing_node_1", "label", "  "), cfgerrors.KindEmptyRequiredField)
	expectKind(t, f.validate(t, "routing_node", "routing_node_1", "node"), cfgerrors.KindEmptyRequiredField)

	res := f.validate(t, "routing_node", "routing_node_1", "outbound", "")
	if !res.Accepted() || len(res.Value) != 0 {
		t.Errorf("Expected empty optional outbound to be accepted, got %s %v", res.Status, res.Err)
	}
}

func TestValidate_DuplicateListEntry(t *testing.T) {
	f := setup(t, newSection("routing_rule", "routing_rule_1", "label", "R"))

	res := f.validate(t, "routing_rule", "routing_rule_1", "domain", "a.com", "b.com", "a.com")
	expectKind(t, res, cfgerrors.KindDuplicateIdentifier)
	if msg := res.Err.(*cfgerrors.Error).Message; msg != `"a.com" already exists` {
		t.Errorf("Unexpected message: %s", msg)
	}
}

func TestValidate_LabelUniqueness(t *testing.T) {
	disabled := newSection("routing_node", "routing_node_2", "label", "B")
	disabled.Set("enabled", []string{"0"})
	f := setup(t,
		newSection("routing_node", "routing_node_1", "label", "A"),
		disabled,
		newSection("routing_node", "routing_node_3", "label", "C", "enabled", "0"),
		newSection("node", "node_1", "label", "X"),
		newSection("node", "node_2", "label", "Y"),
	)

	expectKind(t, f.validate(t, "routing_node", "routing_node_3", "label", "A"), cfgerrors.KindDuplicateIdentifier)

	if res := f.validate(t, "routing_node", "routing_node_3", "label", "B"); !res.Accepted() {
		t.Errorf("Expected label of a disabled section to be reusable, got: %v", res.Err)
	}
	if res := f.validate(t, "routing_node", "routing_node_1", "label", "A"); !res.Accepted() {
		t.Errorf("Expected the edited section to be excluded, got: %v", res.Err)
	}

	expectKind(t, f.validate(t, "node", "node_2", "label", "X"), cfgerrors.KindDuplicateIdentifier)
}

func TestValidate_EnablingRechecksLabel(t *testing.T) {
	f := setup(t,
		newSection("routing_node", "routing_node_1", "label", "A"),
		newSection("routing_node", "routing_node_2", "label", "A", "enabled", "0"),
	)

	res := f.validate(t, "routing_node", "routing_node_2", "enabled", "1")
	expectKind(t, res, cfgerrors.KindDuplicateIdentifier)
	if field := res.Err.(*cfgerrors.Error).Field; field != "label" {
		t.Errorf("Expected error on label, got %q", field)
	}
}

func TestValidate_RecursiveReference(t *testing.T) {
	f := setup(t,
		newSection("routing_node", "a", "label", "A", "outbound", "b"),
		newSection("routing_node", "b", "label", "B", "outbound", "c"),
		newSection("routing_node", "c", "label", "C"),
	)

	expectKind(t, f.validate(t, "routing_node", "c", "outbound", "a"), cfgerrors.KindRecursiveReference)
	expectKind(t, f.validate(t, "routing_node", "a", "outbound", "a"), cfgerrors.KindRecursiveReference)

	if res := f.validate(t, "routing_node", "a", "outbound", "c"); !res.Accepted() {
		t.Errorf("Expected acyclic reference to be accepted, got: %v", res.Err)
	}
}

func TestValidate_AnyIsExclusive(t *testing.T) {
	f := setup(t,
		newSection("routing_node", "n1", "label", "N1"),
		newSection("dns_rule", "dns_rule_1", "label", "D"),
	)

	expectKind(t, f.validate(t, "dns_rule", "dns_rule_1", "outbound", "any-out", "n1"), cfgerrors.KindConflictingSelection)

	for _, raw := range [][]string{{"any-out"}, {"direct-out", "n1"}} {
		if res := f.validate(t, "dns_rule", "dns_rule_1", "outbound", raw...); !res.Accepted() {
			t.Errorf("Expected %v accepted, got: %v", raw, res.Err)
		}
	}
}

func TestValidate_Membership(t *testing.T) {
	f := setup(t,
		newSection("routing_node", "n1", "label", "N1", "enabled", "0"),
		newSection("routing_rule", "routing_rule_1", "label", "R"),
	)

	expectKind(t, f.validate(t, "routing_rule", "routing_rule_1", "outbound", "n1"), cfgerrors.KindInvalidFormat)
	expectKind(t, f.validate(t, "routing_rule", "routing_rule_1", "outbound", "missing"), cfgerrors.KindInvalidFormat)

	if res := f.validate(t, "routing_rule", "routing_rule_1", "outbound", "block-out"); !res.Accepted() {
		t.Errorf("Expected sentinel accepted, got: %v", res.Err)
	}
}

func TestValidate_HiddenFieldSkipped(t *testing.T) {
	f := setup(t, newSection("node", "node_1", "type", "direct"))

	res := f.validate(t, "node", "node_1", "port", "not-a-port")
	if res.Status != StatusSkipped {
		t.Errorf("Expected hidden field to be skipped, got %s", res.Status)
	}
}

func TestValidateSection(t *testing.T) {
	node := newSection("node", "node_1", "label", "N", "type", "socks", "port", "99999")
	f := setup(t,
		node,
		newSection("routing_rule", "routing_rule_1", "label", "R", "outbound", "gone"),
	)

	errs := f.pipeline.ValidateSection("node", "node_1", f.snap)
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors (address, port), got %v", errs)
	}
	if e := errs[0].(*cfgerrors.Error); e.Field != "address" || e.Kind != cfgerrors.KindEmptyRequiredField {
		t.Errorf("Expected empty address first, got: %v", e)
	}
	if e := errs[1].(*cfgerrors.Error); e.Field != "port" || e.Kind != cfgerrors.KindInvalidFormat {
		t.Errorf("Expected invalid port second, got: %v", e)
	}

	if errs := f.pipeline.ValidateSection("routing_rule", "routing_rule_1", f.snap); len(errs) != 0 {
		t.Errorf("Expected stale reference not to be reported as a format error, got %v", errs)
	}

	errs = f.pipeline.ValidateSection("routing_rule", "missing", f.snap)
	if len(errs) != 1 || !cfgerrors.IsKind(errs[0], cfgerrors.KindNotFound) {
		t.Errorf("Expected not found error, got %v", errs)
	}
}
