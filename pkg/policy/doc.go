// Package policy lints hpconf configurations with Open Policy Agent.
//
// Write-time validation only looks at one field at a time. Lint policies see
// the whole snapshot at once and report findings that span sections, such
// as nodes nothing selects or custom routing without rules.
//
// # Architecture
//
//  1. Engine - Compiles Rego modules and evaluates their deny sets
//  2. Loader - Loads .rego and .json policies and reloads them on change
//  3. Types - Policies, violations, results and the policy input
//  4. Built-in Policies - Lint rules shipped with hpconf
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, tel)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.Lint(ctx, policy.NewInput(ctrl.Snapshot(), ctrl.Dangling()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, v := range result.Violations {
//	    fmt.Printf("%s %s.%s: %s\n", v.Severity, v.SectionType, v.Section, v.Message)
//	}
//
// # Writing Policies
//
// A policy is a Rego v1 module defining a deny set. Entries are either
// strings or objects with "message" and optional "severity",
// "section_type", "section" and "field" keys:
//
//	package custom.dns
//
//	import rego.v1
//
//	deny contains violation if {
//	    some rule in input.sections.dns_rule
//	    not rule.label
//	    violation := {"message": "dns rule without label", "section_type": "dns_rule", "section": rule.id}
//	}
//
// # Built-in Policies
//
//   - dangling-reference: stored references to removed or disabled sections
//   - custom-routing-rules: custom routing mode without an enabled rule
//   - unused-node: nodes no routing node or main node selects
//   - insecure-transport: http, vless and vmess without TLS; trojan without TLS is an error
//   - duplicate-endpoint: nodes sharing type, address and port
package policy
