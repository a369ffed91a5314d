// Package section holds the configuration data model: typed sections with
// ordered multi-valued fields, the versioned in-memory Snapshot, and the
// Store interface the engine commits accepted writes through.
package section
