package models

// PriorityEventType classifies an audit entry.
type PriorityEventType string

const (
	EventOverride           PriorityEventType = "override"
	EventCalculated         PriorityEventType = "calculated"
	EventRuleApplied        PriorityEventType = "rule_applied"
	EventSyncPriorityChange PriorityEventType = "sync_priority_change"
)

// PriorityEvent is an immutable audit entry recording a priority
// decision or override. Never mutated after creation.
type PriorityEvent struct {
	ID           string            `json:"id"`
	Timestamp    int64             `json:"timestamp"`
	EventType    PriorityEventType `json:"event_type"`
	ItemID       string            `json:"item_id"`
	ItemType     ItemType          `json:"item_type"`
	OldPriority  *int              `json:"old_priority,omitempty"`
	NewPriority  int               `json:"new_priority"`
	Reason       string            `json:"reason"`
	ActorID      string            `json:"actor_id,omitempty"`
	AppliedRules []string          `json:"applied_rules,omitempty"`
}
