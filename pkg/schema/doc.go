// Package schema provides the field model of the configuration engine.
//
// A Registry holds section types. Each section type declares its fields as
// Descriptors: a key, a value kind, an optional datatype tag, defaults,
// static or derived options and visibility predicates. Descriptors are plain
// data and immutable once registered; every per-section behavior is computed
// from them against an explicit configuration snapshot by the depend, refs
// and validate packages.
//
// # Predicates
//
// Visibility is expressed with Predicate values built from Eq, Ne, Match, All,
// Any and Not. Clauses builds a conjunction and, with reverse set, negates the
// whole conjunction:
//
//	schema.Clauses(true, schema.Eq(schema.Field("routing_mode"), "custom"))
//
// A descriptor lists alternative predicates in Depends; it is visible when any
// alternative holds.
//
// # Built-in types
//
// Builtin returns a registry with the proxy router section types: the
// singletons config, routing, dns and control, and the list types node,
// routing_node, routing_rule, dns_server, dns_rule and ruleset.
package schema
