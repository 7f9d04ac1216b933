package priority

import (
	"encoding/json"
	"strings"

	"github.com/relieflab/fieldsync/internal/models"
)

// matchesAll reports whether every condition matches the payload.
// Rules combine conditions with logical AND.
func matchesAll(conditions []models.RuleCondition, payload map[string]interface{}) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, cond := range conditions {
		if !matches(cond, payload) {
			return false
		}
	}
	return true
}

func matches(cond models.RuleCondition, payload map[string]interface{}) bool {
	value, ok := lookupField(payload, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case models.OperatorEquals:
		return equalValues(value, cond.Value)
	case models.OperatorGreaterThan:
		a, okA := toFloat(value)
		b, okB := toFloat(cond.Value)
		return okA && okB && a > b
	case models.OperatorContains:
		return containsValue(value, cond.Value)
	case models.OperatorInArray:
		arr, ok := cond.Value.([]interface{})
		if !ok {
			return false
		}
		for _, elem := range arr {
			if equalValues(value, elem) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// lookupField resolves a dot path into nested payload maps.
func lookupField(payload map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = payload

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equalValues(a, b interface{}) bool {
	// JSON numbers decode as float64; compare numerically when both
	// sides are numbers so 5 matches 5.0.
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return sa == sb
	}
	return a == b
}

func containsValue(value, needle interface{}) bool {
	switch v := value.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(n))
	case []interface{}:
		for _, elem := range v {
			if equalValues(elem, needle) {
				return true
			}
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
