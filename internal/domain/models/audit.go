package models

import (
	"time"
)

// Action is the kind of write an audit record describes
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AuditRecord is one committed logical write. Records are append-only.
type AuditRecord struct {
	ID          string                 `json:"id"`
	Action      Action                 `json:"action"`
	Table       string                 `json:"table"`
	PK          string                 `json:"pk"`
	OldValues   map[string]interface{} `json:"old_values,omitempty"`
	NewValues   map[string]interface{} `json:"new_values,omitempty"`
	Context     string                 `json:"context"` // intention/mode, e.g. admin/primary
	ActorUserID string                 `json:"actor_user_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
