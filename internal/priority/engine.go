package priority

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relieflab/fieldsync/internal/models"
)

// RuleSource lists priority rules. Rule storage is externally owned;
// the engine only caches what the source returns.
type RuleSource interface {
	ListRules(ctx context.Context) ([]models.PriorityRule, error)
}

// DefaultRuleTTL is how long fetched rules are served before refresh.
const DefaultRuleTTL = 5 * time.Minute

// Evaluation is the outcome of scoring a mutation against the rule set.
type Evaluation struct {
	Score        int
	AppliedRules []string
}

// RuleEngine scores a mutation's urgency from its content and type.
// The rule cache is read-through with explicit invalidation; refresh
// replaces the whole cache atomically, so concurrent readers are safe.
type RuleEngine struct {
	source RuleSource
	audit  *AuditLog
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	cached    []models.PriorityRule
	fetchedAt time.Time
}

// NewRuleEngine creates a RuleEngine backed by the given source.
func NewRuleEngine(source RuleSource, audit *AuditLog, logger *zap.Logger) *RuleEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleEngine{
		source: source,
		audit:  audit,
		logger: logger,
		ttl:    DefaultRuleTTL,
		now:    time.Now,
	}
}

// Invalidate drops the cached rule set. Called after rule mutations.
func (e *RuleEngine) Invalidate() {
	e.mu.Lock()
	e.cached = nil
	e.fetchedAt = time.Time{}
	e.mu.Unlock()
}

// rules returns the cached rule set, refreshing past the TTL. A failed
// refresh serves stale rules rather than failing the caller.
func (e *RuleEngine) rules(ctx context.Context) ([]models.PriorityRule, error) {
	e.mu.RLock()
	cached := e.cached
	fresh := !e.fetchedAt.IsZero() && e.now().Sub(e.fetchedAt) < e.ttl
	e.mu.RUnlock()

	if fresh {
		return cached, nil
	}

	fetched, err := e.source.ListRules(ctx)
	if err != nil {
		if cached != nil {
			e.logger.Warn("rule refresh failed, serving stale rules", zap.Error(err))
			return cached, nil
		}
		return nil, err
	}

	e.mu.Lock()
	e.cached = fetched
	e.fetchedAt = e.now()
	e.mu.Unlock()

	return fetched, nil
}

// Evaluate scores a payload against all active rules of the matching
// entity type. A rule contributes its modifier only when every one of
// its conditions matches. The final score is clamped to [0,100].
func (e *RuleEngine) Evaluate(ctx context.Context, payload map[string]interface{}, itemType models.ItemType) (Evaluation, error) {
	rules, err := e.rules(ctx)
	if err != nil {
		return Evaluation{}, err
	}

	total := 0
	var applied []string

	for _, rule := range rules {
		if !rule.IsActive || rule.EntityType != itemType {
			continue
		}
		if matchesAll(rule.Conditions, payload) {
			total += rule.PriorityModifier
			applied = append(applied, rule.Name)
		}
	}

	return Evaluation{Score: clampScore(total), AppliedRules: applied}, nil
}

// ScoreMutation evaluates rules and falls back to the fixed heuristic
// when evaluation fails or no rule applies. Every decision is appended
// to the audit log with the applied rule names for traceability.
func (e *RuleEngine) ScoreMutation(ctx context.Context, itemID string, itemType models.ItemType, action models.Action, payload json.RawMessage) int {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		fields = nil
	}

	eval, err := e.Evaluate(ctx, fields, itemType)
	reason := "rule evaluation"
	if err != nil || len(eval.AppliedRules) == 0 {
		if err != nil {
			e.logger.Warn("rule evaluation failed, using fallback heuristic",
				zap.String("item_id", itemID), zap.Error(err))
		}
		eval = Evaluation{Score: FallbackScore(itemType, action, fields)}
		reason = "fallback heuristic"
	}

	if e.audit != nil {
		e.audit.Append(models.PriorityEvent{
			EventType:    models.EventCalculated,
			ItemID:       itemID,
			ItemType:     itemType,
			NewPriority:  eval.Score,
			Reason:       reason,
			AppliedRules: eval.AppliedRules,
		})
	}

	return eval.Score
}

// Override records a manually forced priority and returns the new score.
func (e *RuleEngine) Override(itemID string, itemType models.ItemType, oldScore, newScore int, actorID, reason string) int {
	newScore = clampScore(newScore)
	if e.audit != nil {
		old := oldScore
		e.audit.Append(models.PriorityEvent{
			EventType:   models.EventOverride,
			ItemID:      itemID,
			ItemType:    itemType,
			OldPriority: &old,
			NewPriority: newScore,
			Reason:      reason,
			ActorID:     actorID,
		})
	}
	return newScore
}

// urgencyKeywords trigger the content boost in the fallback heuristic.
var urgencyKeywords = []string{"urgent", "critical", "emergency", "immediate", "severe", "life-threatening"}

// FallbackScore is the fixed heuristic used when rules are unavailable
// or none apply: base score from the coarse priority label carried in
// the payload, plus content boosts, capped at 100.
func FallbackScore(itemType models.ItemType, action models.Action, payload map[string]interface{}) int {
	score := 50 // normal

	switch label, _ := payload["priority"].(string); strings.ToLower(label) {
	case "high":
		score = 80
	case "low":
		score = 20
	}

	if containsUrgencyKeyword(payload) {
		score += 20
	}

	if population, ok := numericField(payload, "affected_population"); ok && population > 500 {
		score += 15
	}

	// High-criticality subtypes
	subtype, _ := payload["type"].(string)
	switch {
	case itemType == models.ItemTypeIncident && strings.EqualFold(subtype, "critical"):
		score += 15
	case itemType == models.ItemTypeAssessment && strings.EqualFold(subtype, "rapid"):
		score += 10
	}

	return clampScore(score)
}

func containsUrgencyKeyword(payload map[string]interface{}) bool {
	for _, field := range []string{"name", "title", "description", "notes"} {
		text, ok := payload[field].(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(text)
		for _, kw := range urgencyKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

func numericField(payload map[string]interface{}, field string) (float64, bool) {
	v, ok := payload[field]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
