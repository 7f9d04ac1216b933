// Package models provides data model definitions for the FieldSync engine.
package models

import "encoding/json"

// ItemType identifies the kind of field record a mutation targets.
type ItemType string

const (
	ItemTypeAssessment ItemType = "assessment"
	ItemTypeResponse   ItemType = "response"
	ItemTypeMedia      ItemType = "media"
	ItemTypeIncident   ItemType = "incident"
	ItemTypeEntity     ItemType = "entity"
)

// Action is the mutation verb carried by a queue record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Priority is the coarse urgency label on a queue record.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for sorting. Higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// QueueStatus is derived from retry count and last error, never stored.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSyncing QueueStatus = "syncing"
	QueueStatusFailed  QueueStatus = "failed"
	QueueStatusSynced  QueueStatus = "synced"
)

// QueueRecord is a durable unit of pending synchronization work.
type QueueRecord struct {
	ID            string          `db:"id" json:"id"`
	ItemType      ItemType        `db:"item_type" json:"item_type"`
	Action        Action          `db:"action" json:"action"`
	EntityID      string          `db:"entity_id" json:"entity_id,omitempty"` // empty for creates
	Payload       json.RawMessage `db:"payload" json:"payload"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	Priority      Priority        `db:"priority" json:"priority"`
	PriorityScore int             `db:"priority_score" json:"priority_score"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
	LastAttemptAt int64           `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueRecord.
func (QueueRecord) TableName() string {
	return "queue_records"
}

// Status derives the record's sync state.
// A record with zero retries and no error is strictly "pending, never attempted".
func (r *QueueRecord) Status() QueueStatus {
	switch {
	case r.LastError != "" && r.RetryCount > 0:
		return QueueStatusFailed
	case r.RetryCount > 0 && r.LastError == "":
		return QueueStatusSyncing
	case r.RetryCount == 0 && r.LastError == "":
		return QueueStatusPending
	default:
		return QueueStatusSynced
	}
}

// PriorityFromScore maps a fine-grained score onto the coarse label.
func PriorityFromScore(score int) Priority {
	switch {
	case score >= 70:
		return PriorityHigh
	case score >= 40:
		return PriorityNormal
	default:
		return PriorityLow
	}
}
