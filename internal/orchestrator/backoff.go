// Package orchestrator schedules, batches, throttles, and retries sync
// passes over the durable queue.
package orchestrator

import "time"

const (
	// BackoffBase is the cool-down applied at multiplier 1.
	BackoffBase = 5 * time.Minute
	// BackoffMaxMultiplier caps the exponential growth.
	BackoffMaxMultiplier = 32
	// BackoffMaxCooldown caps the effective cool-down.
	BackoffMaxCooldown = 60 * time.Minute
)

// Backoff is an explicit, serializable backoff state transformed by
// pure functions, so tests need no wall-clock mocking.
type Backoff struct {
	Multiplier    int       `json:"multiplier"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

// NewBackoff returns the initial (reset) backoff state.
func NewBackoff() Backoff {
	return Backoff{Multiplier: 1}
}

// Fail returns the state after a pass-level failure at time now: the
// multiplier doubles, capped at BackoffMaxMultiplier.
func (b Backoff) Fail(now time.Time) Backoff {
	next := b.Multiplier * 2
	if b.Multiplier < 1 {
		next = 2
	}
	if next > BackoffMaxMultiplier {
		next = BackoffMaxMultiplier
	}
	return Backoff{Multiplier: next, LastFailureAt: now}
}

// Reset returns the state after a fully successful pass.
func (b Backoff) Reset() Backoff {
	return NewBackoff()
}

// Cooldown returns the effective cool-down duration for this state.
func (b Backoff) Cooldown() time.Duration {
	if b.LastFailureAt.IsZero() {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(mult) * BackoffBase
	if d > BackoffMaxCooldown {
		d = BackoffMaxCooldown
	}
	return d
}

// CoolingDown reports whether now still falls inside the cool-down
// window following the last failure.
func (b Backoff) CoolingDown(now time.Time) bool {
	if b.LastFailureAt.IsZero() {
		return false
	}
	return now.Before(b.LastFailureAt.Add(b.Cooldown()))
}
