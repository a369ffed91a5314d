package stores

import (
	"time"
)

// AuditEntry is one committed change recorded in the audit table.
type AuditEntry struct {
	Seq       int64     `json:"seq"`
	BatchID   string    `json:"batch_id"`
	Op        string    `json:"op"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Key       *string   `json:"key,omitempty"`
	Value     *string   `json:"value,omitempty"` // JSON array
	CreatedAt time.Time `json:"created_at"`
}

// AuditFilter narrows an audit query.
type AuditFilter struct {
	Type    string
	ID      string
	BatchID string
	Limit   int
}
