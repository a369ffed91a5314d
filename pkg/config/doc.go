// Package config loads hpconf tool settings and configuration documents.
//
// # Overview
//
// Two kinds of files are handled here. Settings (hpconf.yaml) describe how
// the tool runs: where sections are stored, how to reach the router and how
// telemetry is emitted. Documents describe the sections themselves and can
// be written in CUE, YAML or JSON.
//
// # Components
//
// Settings: Tool settings decoded with yaml.v3 and checked with validator
// struct tags. DefaultSettings returns a usable in-memory configuration.
//
// Document: A list of sections keyed by type and ID. CUE documents are
// unified against a built-in schema before decoding; every document is then
// checked against a schema.Registry so unknown types and fields surface with
// their path.
//
// TemplateEvaluator: Runs Starlark prefill templates for new sections with a
// timeout. A template sees the labels already in use and assigns a prefill
// dict.
//
// Watcher: Watches a document with fsnotify and invokes a callback after
// writes settle.
//
// # Usage Example
//
//	doc, err := config.LoadDocument("homeproxy.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := doc.Check(schema.Builtin()); len(errs) > 0 {
//	    log.Fatal(errs)
//	}
//	store, err := doc.Store()
//
// # Template Example
//
//	evaluator := config.NewTemplateEvaluator(5 * time.Second)
//	prefill, err := evaluator.Evaluate(ctx, `prefill = {"label": unique_label("Node")}`,
//	    config.TemplateInput{Type: "routing_node", Labels: []string{"Node"}})
//	// prefill["label"] == []string{"Node 2"}
package config
