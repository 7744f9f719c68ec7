package entity

import "time"

// HistoryEntry is one immutable audit record of a committed or reverted
// state change. Entries are append-only; deletion happens only through
// explicit retention cleanup.
type HistoryEntry struct {
	ID         int64             `json:"id"`
	InstanceID string            `json:"instance_id"`
	ModelType  string            `json:"model_type"`
	Workflow   string            `json:"workflow"`
	FromState  string            `json:"from_state"`
	ToState    string            `json:"to_state"`
	Trigger    string            `json:"trigger"`
	ActorID    string            `json:"actor_id"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Priority   int               `json:"priority"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Revert     bool              `json:"revert"`
	Timestamp  time.Time         `json:"timestamp"`
}
