package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

const sampleCUE = `
sections: [
	{type: "config", id: "config", values: routing_mode: ["bypass_mainland_china"]},
	{type: "node", id: "node_1", values: {
		label: ["Hong Kong"]
		type: ["socks"]
		address: ["10.0.0.2"]
		port: ["1080"]
	}},
	{type: "routing_node", id: "routing_node_1", values: {
		label: ["HK"]
		node: ["node_1"]
	}},
]
`

func TestParseDocument_CUE(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleCUE), FormatCUE, "sample.cue")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(doc.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(doc.Sections))
	}
	if got := doc.Sections[1].Values["port"]; len(got) != 1 || got[0] != "1080" {
		t.Errorf("expected port [1080], got %v", got)
	}
	if errs := doc.Check(schema.Builtin()); len(errs) != 0 {
		t.Errorf("expected no check errors, got: %v", errs)
	}
}

func TestParseDocument_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		content string
	}{
		{"cue syntax", FormatCUE, "sections: [{"},
		{"cue bad id", FormatCUE, `sections: [{type: "node", id: "node-1"}]`},
		{"cue unknown top-level field", FormatCUE, `sections: [], extra: 1`},
		{"cue scalar value", FormatCUE, `sections: [{type: "node", id: "n", values: port: "1080"}]`},
		{"yaml bad type", FormatYAML, "sections:\n  - type: Node\n    id: n\n"},
		{"json missing id", FormatJSON, `{"sections": [{"type": "node"}]}`},
		{"unknown format", "toml", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(tt.content), tt.format, "doc"); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseDocument_CUEErrorPositions(t *testing.T) {
	_, err := ParseDocument([]byte("sections: [{type: \"node\", id: \"bad id\"}]\n"), FormatCUE, "bad.cue")
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	if len(errs) == 0 || errs[0].Line == 0 || errs[0].Message == "" {
		t.Errorf("expected a positioned error, got %+v", errs)
	}
	if !strings.Contains(errs.Error(), "bad id") {
		t.Errorf("expected the offending value in the message, got: %v", errs)
	}
}

func TestDocument_Check(t *testing.T) {
	doc := &Document{Sections: []DocSection{
		{Type: "dns", ID: "main"},
		{Type: "firewall", ID: "fw_1"},
		{Type: "node", ID: "node_1", Values: map[string][]string{"colour": {"red"}}},
		{Type: "node", ID: "node_1", Values: map[string][]string{"port": {"1", "2"}}},
	}}

	errs := doc.Check(schema.Builtin())
	want := []string{
		"sections[0].id",
		"sections[1].type",
		"sections[2].values.colour",
		"sections[3].id",
		"sections[3].values.port",
	}
	if len(errs) != len(want) {
		t.Fatalf("expected %d errors, got %d: %v", len(want), len(errs), errs)
	}
	for i, w := range want {
		if errs[i].Path != w {
			t.Errorf("error %d: expected path %s, got %s (%s)", i, w, errs[i].Path, errs[i].Message)
		}
	}
}

func TestLoadDocument_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"doc.yaml": "sections:\n  - type: ruleset\n    id: ruleset_1\n    values:\n      label: [geoip-cn]\n",
		"doc.json": `{"sections": [{"type": "ruleset", "id": "ruleset_1", "values": {"label": ["geoip-cn"]}}]}`,
		"doc.cue":  `sections: [{type: "ruleset", id: "ruleset_1", values: label: ["geoip-cn"]}]`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("failed to write file: %v", err)
			}
			doc, err := LoadDocument(path)
			if err != nil {
				t.Fatalf("failed to load: %v", err)
			}
			sections := doc.ToSections()
			if len(sections) != 1 || sections[0].Label() != "geoip-cn" {
				t.Errorf("unexpected sections: %+v", sections)
			}
		})
	}

	if _, err := LoadDocument(filepath.Join(dir, "doc.toml")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestDocument_MarshalRoundTrip(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleCUE), FormatCUE, "sample.cue")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	for _, f := range []string{FormatCUE, FormatYAML, FormatJSON} {
		t.Run(f, func(t *testing.T) {
			data, err := doc.Marshal(f)
			if err != nil {
				t.Fatalf("failed to marshal: %v", err)
			}
			back, err := ParseDocument(data, f, "roundtrip."+f)
			if err != nil {
				t.Fatalf("failed to parse marshalled document: %v\n%s", err, data)
			}
			if len(back.Sections) != len(doc.Sections) {
				t.Fatalf("expected %d sections, got %d", len(doc.Sections), len(back.Sections))
			}
			if back.Sections[2].Values["node"][0] != "node_1" {
				t.Errorf("expected node_1 reference to survive, got %v", back.Sections[2].Values)
			}
		})
	}
}

func TestFromSnapshot(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleCUE), FormatCUE, "sample.cue")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	store, err := doc.Store()
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	reg := schema.Builtin()
	snap, err := section.LoadSnapshot(context.Background(), store, reg.Types())
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}

	exported := FromSnapshot(reg, snap)
	var types []string
	for _, s := range exported.Sections {
		types = append(types, s.Type)
	}
	if got := strings.Join(types, ","); got != "config,node,routing_node" {
		t.Errorf("expected registry order config,node,routing_node, got %s", got)
	}
}
