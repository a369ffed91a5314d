package policy

// BuiltinPolicies returns the lint policies shipped with hpconf.
func BuiltinPolicies() []Policy {
	return []Policy{
		danglingReferencePolicy(),
		customRoutingPolicy(),
		unusedNodePolicy(),
		insecureTransportPolicy(),
		duplicateEndpointPolicy(),
	}
}

// danglingReferencePolicy reports stored references to removed or disabled
// sections. They fall back to the field default on the next write.
func danglingReferencePolicy() Policy {
	return Policy{
		Name:        "dangling-reference",
		Description: "Reference fields naming removed or disabled sections",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package hpconf.lint.dangling

import rego.v1

deny contains violation if {
	some d in input.dangling
	violation := {
		"message": sprintf("%s.%s.%s references unavailable %v; the default applies on the next write", [d.type, d.id, d.key, d.values]),
		"section_type": d.type,
		"section": d.id,
		"field": d.key,
	}
}
`,
	}
}

// customRoutingPolicy flags custom routing without any enabled rule, which
// sends all traffic to the default outbound.
func customRoutingPolicy() Policy {
	return Policy{
		Name:        "custom-routing-rules",
		Description: "Custom routing mode needs at least one enabled routing rule",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package hpconf.lint.routing

import rego.v1

enabled_rules := [r | some r in object.get(input.sections, "routing_rule", []); r.enabled]

deny contains violation if {
	some cfg in input.sections.config
	cfg.values.routing_mode == ["custom"]
	count(enabled_rules) == 0
	violation := {
		"message": "routing mode is custom but no routing rule is enabled",
		"section_type": "config",
		"section": "config",
		"field": "routing_mode",
	}
}
`,
	}
}

// unusedNodePolicy reports nodes no routing node or main node selects.
func unusedNodePolicy() Policy {
	return Policy{
		Name:        "unused-node",
		Description: "Nodes that are not selected anywhere",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Rego: `package hpconf.lint.nodes

import rego.v1

referenced contains id if {
	some rn in object.get(input.sections, "routing_node", [])
	some id in object.get(rn.values, "node", [])
}

referenced contains id if {
	some rn in object.get(input.sections, "routing_node", [])
	some id in object.get(rn.values, "urltest_nodes", [])
}

referenced contains id if {
	some cfg in object.get(input.sections, "config", [])
	some key in ["main_node", "main_udp_node"]
	some id in object.get(cfg.values, key, [])
}

deny contains violation if {
	some node in object.get(input.sections, "node", [])
	not referenced[node.id]
	violation := {
		"message": sprintf("node %q is not used by any routing node or main node", [node.label]),
		"section_type": "node",
		"section": node.id,
	}
}
`,
	}
}

// insecureTransportPolicy flags nodes whose protocol expects TLS but have
// it switched off.
func insecureTransportPolicy() Policy {
	return Policy{
		Name:        "insecure-transport",
		Description: "Proxy protocols used without TLS",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package hpconf.lint.transport

import rego.v1

tls_on(node) if node.values.tls == ["1"]

deny contains violation if {
	some node in object.get(input.sections, "node", [])
	node.values.type == ["trojan"]
	not tls_on(node)
	violation := {
		"message": sprintf("trojan node %q requires TLS", [node.label]),
		"severity": "error",
		"section_type": "node",
		"section": node.id,
		"field": "tls",
	}
}

deny contains violation if {
	some node in object.get(input.sections, "node", [])
	some proto in ["http", "vless", "vmess"]
	node.values.type == [proto]
	not tls_on(node)
	violation := {
		"message": sprintf("%s node %q sends traffic without TLS", [proto, node.label]),
		"section_type": "node",
		"section": node.id,
		"field": "tls",
	}
}
`,
	}
}

// duplicateEndpointPolicy flags nodes pointing at the same server.
func duplicateEndpointPolicy() Policy {
	return Policy{
		Name:        "duplicate-endpoint",
		Description: "Several nodes with the same type, address and port",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package hpconf.lint.endpoints

import rego.v1

endpoint(node) := [node.values.type, node.values.address, node.values.port]

deny contains violation if {
	nodes := object.get(input.sections, "node", [])
	some i, a in nodes
	some j, b in nodes
	i < j
	a.values.address
	endpoint(a) == endpoint(b)
	violation := {
		"message": sprintf("nodes %q and %q use the same endpoint", [a.label, b.label]),
		"section_type": "node",
		"section": b.id,
	}
}
`,
	}
}
