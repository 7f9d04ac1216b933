package models

import "encoding/json"

// UpdateStatus is the lifecycle state of an optimistic update.
type UpdateStatus string

const (
	UpdateStatusPending    UpdateStatus = "pending"
	UpdateStatusConfirmed  UpdateStatus = "confirmed"
	UpdateStatusFailed     UpdateStatus = "failed"
	UpdateStatusRolledBack UpdateStatus = "rolled_back"
)

// Terminal reports whether the status admits no further transitions.
func (s UpdateStatus) Terminal() bool {
	return s == UpdateStatusConfirmed || s == UpdateStatusRolledBack
}

// OptimisticUpdate is the UI-facing record of a local mutation applied
// before remote confirmation.
type OptimisticUpdate struct {
	ID            string          `json:"id"`
	EntityType    ItemType        `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Operation     Action          `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Status        UpdateStatus    `json:"status"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	Error         string          `json:"error,omitempty"`
	QueueRecordID string          `json:"queue_record_id,omitempty"` // lookup key, not ownership
	CreatedAt     int64           `json:"created_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

// DefaultMaxRetries is the retry ceiling for optimistic updates.
const DefaultMaxRetries = 3
