// Package stores provides persistence for configuration sections. The
// SQLite store keeps sections in user order, their field values as ordered
// rows, and an audit trail of every committed change batch.
package stores
