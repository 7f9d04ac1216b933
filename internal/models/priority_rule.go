package models

// ConditionOperator is the comparison applied by a rule condition.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorContains    ConditionOperator = "contains"
	OperatorInArray     ConditionOperator = "in_array"
)

// RuleCondition is one field/operator/value triple. All conditions of a
// rule must match for the rule to apply.
type RuleCondition struct {
	Field    string            `json:"field"` // dot path into the payload
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value"`
}

// PriorityRule scores a mutation's urgency from its content.
type PriorityRule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	EntityType       ItemType        `json:"entity_type"`
	Conditions       []RuleCondition `json:"conditions"`
	PriorityModifier int             `json:"priority_modifier"`
	IsActive         bool            `json:"is_active"`
}
