package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestTemplateEvaluator_Evaluate(t *testing.T) {
	evaluator := NewTemplateEvaluator(5 * time.Second)
	ctx := context.Background()
	in := TemplateInput{Type: "routing_node", ID: "routing_node_3", Labels: []string{"Node", "Node 2"}}

	tests := []struct {
		name    string
		script  string
		want    map[string][]string
		wantErr string
	}{
		{
			name:   "scalar values",
			script: `prefill = {"label": unique_label("Node"), "enabled": True, "urltest_interval": 180}`,
			want: map[string][]string{
				"label":            {"Node 3"},
				"enabled":          {"1"},
				"urltest_interval": {"180"},
			},
		},
		{
			name:   "free label kept",
			script: `prefill = {"label": unique_label("Japan")}`,
			want:   map[string][]string{"label": {"Japan"}},
		},
		{
			name: "lists and section context",
			script: `
def build():
    return {
        "label": section.type + "-" + str(len(section.labels)),
        "urltest_nodes": ["node_1", "node_2"],
        "bind_interface": None,
    }

prefill = build()
`,
			want: map[string][]string{
				"label":          {"routing_node-2"},
				"urltest_nodes":  {"node_1", "node_2"},
				"bind_interface": nil,
			},
		},
		{
			name:   "no prefill",
			script: `x = 1`,
			want:   map[string][]string{},
		},
		{
			name:    "prefill not a dict",
			script:  `prefill = ["label"]`,
			wantErr: "must be a dict",
		},
		{
			name:    "unsupported value",
			script:  `prefill = {"label": 1.5}`,
			wantErr: "unsupported starlark type",
		},
		{
			name:    "labels are frozen",
			script:  `section.labels.append("x")`,
			wantErr: "frozen",
		},
		{
			name:    "syntax error",
			script:  `prefill = {`,
			wantErr: "template execution failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(ctx, tt.script, in)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d keys, got %v", len(tt.want), got)
			}
			for k, v := range tt.want {
				if !slices.Equal(got[k], v) {
					t.Errorf("key %s: expected %v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestTemplateEvaluator_Timeout(t *testing.T) {
	evaluator := NewTemplateEvaluator(100 * time.Millisecond)

	script := `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n

prefill = {"label": str(spin())}
`
	start := time.Now()
	_, err := evaluator.Evaluate(context.Background(), script, TemplateInput{})
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout error, got: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("expected evaluation to stop near the timeout, took %v", time.Since(start))
	}
}

func TestTemplateEvaluator_EvaluateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ruleset.star")
	if err := os.WriteFile(path, []byte(`prefill = {"label": unique_label("geoip-cn")}`), 0o644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	got, err := NewTemplateEvaluator(0).EvaluateFile(context.Background(), path, TemplateInput{Labels: []string{"geoip-cn"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(got["label"], []string{"geoip-cn 2"}) {
		t.Errorf("expected [geoip-cn 2], got %v", got["label"])
	}

	if _, err := NewTemplateEvaluator(0).EvaluateFile(context.Background(), path+".missing", TemplateInput{}); err == nil {
		t.Error("expected error for missing template")
	}
}
