// Package optimistic provides tests for the update lifecycle bridging
// visible local state and the durable queue.
package optimistic

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/fieldsync/internal/db"
	apperrors "github.com/relieflab/fieldsync/internal/errors"
	"github.com/relieflab/fieldsync/internal/models"
	"github.com/relieflab/fieldsync/internal/priority"
	"github.com/relieflab/fieldsync/internal/queue"
)

// fakeDispatcher answers every remote verb with a configurable error.
type fakeDispatcher struct {
	mu  sync.Mutex
	err error
}

func (d *fakeDispatcher) outcome() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *fakeDispatcher) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDispatcher) Insert(ctx context.Context, itemType models.ItemType, payload json.RawMessage, requestID string) error {
	return d.outcome()
}

func (d *fakeDispatcher) Replace(ctx context.Context, itemType models.ItemType, entityID string, payload json.RawMessage, requestID string) error {
	return d.outcome()
}

func (d *fakeDispatcher) Remove(ctx context.Context, itemType models.ItemType, entityID string, requestID string) error {
	return d.outcome()
}

// fixedRules serves a static rule set.
type fixedRules struct {
	rules []models.PriorityRule
}

func (s fixedRules) ListRules(ctx context.Context) ([]models.PriorityRule, error) {
	return s.rules, nil
}

type harness struct {
	manager *Manager
	queue   *queue.Service
	remote  *fakeDispatcher
}

func newHarness(t *testing.T, rules []models.PriorityRule) *harness {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Initialize(database.DB))

	repo := db.NewQueueRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	remote := &fakeDispatcher{}
	svc := queue.NewService(repo, remote, nil)
	engine := priority.NewRuleEngine(fixedRules{rules: rules}, nil, nil)

	return &harness{
		manager: NewManager(svc, engine, nil),
		queue:   svc,
		remote:  remote,
	}
}

// waitForRecord polls until the update's queue record exists.
func (h *harness) waitForRecord(t *testing.T, updateID string) *models.QueueRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		update, err := h.manager.GetUpdate(updateID)
		require.NoError(t, err)
		if update.QueueRecordID != "" {
			rec, err := h.queue.Get(update.QueueRecordID)
			require.NoError(t, err)
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the update to be enqueued")
	return nil
}

// failUpdate drives one attempt that fails, flipping the update to
// Failed.
func (h *harness) failUpdate(t *testing.T, updateID string) {
	t.Helper()
	rec := h.waitForRecord(t, updateID)
	require.Error(t, h.queue.Attempt(context.Background(), rec))
	update, err := h.manager.GetUpdate(updateID)
	require.NoError(t, err)
	require.Equal(t, models.UpdateStatusFailed, update.Status)
}

// =====================================================
// Apply
// =====================================================

// TestApplyImmediateVisibility verifies the optimistic contract: the
// update id returns synchronously with Pending status and the entity
// state is visible before any remote round trip.
func TestApplyImmediateVisibility(t *testing.T) {
	h := newHarness(t, nil)

	payload := json.RawMessage(`{"name":"Test"}`)
	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, payload)
	require.NotEmpty(t, id)

	update, err := h.manager.GetUpdate(id)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateStatusPending, update.Status)
	assert.Equal(t, models.DefaultMaxRetries, update.MaxRetries)

	state, ok := h.manager.EntityState(models.ItemTypeAssessment, "a-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"Test"}`, string(state))
}

// TestApplyDeleteHidesEntity verifies delete operations remove the
// visible entity.
func TestApplyDeleteHidesEntity(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.Apply(models.ItemTypeEntity, "e-1", models.ActionCreate, json.RawMessage(`{"v":1}`))
	h.manager.Apply(models.ItemTypeEntity, "e-1", models.ActionDelete, nil)

	_, ok := h.manager.EntityState(models.ItemTypeEntity, "e-1")
	assert.False(t, ok)
}

// TestApplyConfirmedRoundTrip walks a create from Apply through remote
// confirmation: the rule-derived score rides on the queue record, the
// remote accepts, and the update lands Confirmed.
func TestApplyConfirmedRoundTrip(t *testing.T) {
	h := newHarness(t, []models.PriorityRule{{
		ID:         "max",
		Name:       "max",
		EntityType: models.ItemTypeAssessment,
		Conditions: []models.RuleCondition{
			{Field: "name", Operator: models.OperatorEquals, Value: "Test"},
		},
		PriorityModifier: 100,
		IsActive:         true,
	}})

	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"name":"Test"}`))

	rec := h.waitForRecord(t, id)
	assert.Equal(t, 100, rec.PriorityScore)
	assert.Equal(t, models.PriorityHigh, rec.Priority)

	require.NoError(t, h.queue.Attempt(context.Background(), rec))

	update, err := h.manager.GetUpdate(id)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateStatusConfirmed, update.Status)

	// The record is gone and the depth reflects it.
	depth, err := h.queue.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

// TestConflictMarksFailed verifies the conflict outcome message.
func TestConflictMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.setErr(apperrors.CategorizeTransport(409, nil))

	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"name":"Test"}`))
	h.failUpdate(t, id)

	update, err := h.manager.GetUpdate(id)
	require.NoError(t, err)
	assert.Equal(t, "create failed: conflict", update.Error)
	assert.Equal(t, 1, update.RetryCount)
}

// TestTransportFailureMarksFailed verifies the generic failure message.
func TestTransportFailureMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.setErr(apperrors.New(apperrors.ErrNetwork, "network request failed"))

	id := h.manager.Apply(models.ItemTypeResponse, "r-1", models.ActionUpdate, json.RawMessage(`{"status":"done"}`))
	h.failUpdate(t, id)

	update, err := h.manager.GetUpdate(id)
	require.NoError(t, err)
	assert.Equal(t, "Sync operation failed", update.Error)
}

// =====================================================
// Rollback
// =====================================================

// TestRollbackRestoresPreviousState verifies visible state reverts and
// the queue record is removed.
func TestRollbackRestoresPreviousState(t *testing.T) {
	h := newHarness(t, nil)

	first := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"v":1}`))
	h.waitForRecord(t, first)

	second := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionUpdate, json.RawMessage(`{"v":2}`))
	rec := h.waitForRecord(t, second)

	require.NoError(t, h.manager.Rollback(second))

	state, ok := h.manager.EntityState(models.ItemTypeAssessment, "a-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(state))

	update, err := h.manager.GetUpdate(second)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateStatusRolledBack, update.Status)

	_, err = h.queue.Get(rec.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestRollbackCreateHidesEntity verifies rolling back a create removes
// the entity entirely.
func TestRollbackCreateHidesEntity(t *testing.T) {
	h := newHarness(t, nil)

	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"v":1}`))
	h.waitForRecord(t, id)

	require.NoError(t, h.manager.Rollback(id))

	_, ok := h.manager.EntityState(models.ItemTypeAssessment, "a-1")
	assert.False(t, ok)
}

// TestRollbackConfirmedRejected verifies confirmed work is immutable.
func TestRollbackConfirmedRejected(t *testing.T) {
	h := newHarness(t, nil)

	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"v":1}`))
	rec := h.waitForRecord(t, id)
	require.NoError(t, h.queue.Attempt(context.Background(), rec))

	err := h.manager.Rollback(id)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState))

	// Visible state untouched by the rejected rollback.
	state, ok := h.manager.EntityState(models.ItemTypeAssessment, "a-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(state))
}

// TestRollbackUnknownUpdate verifies NOT_FOUND.
func TestRollbackUnknownUpdate(t *testing.T) {
	h := newHarness(t, nil)
	err := h.manager.Rollback("missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// =====================================================
// Retry
// =====================================================

// TestRetryTransitionsToPending verifies a failed update returns to
// Pending with its error cleared, reusing the still-queued record.
func TestRetryTransitionsToPending(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.setErr(apperrors.New(apperrors.ErrNetwork, "network request failed"))

	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"v":1}`))
	h.failUpdate(t, id)

	require.NoError(t, h.manager.Retry(id))

	update, err := h.manager.GetUpdate(id)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateStatusPending, update.Status)
	assert.Empty(t, update.Error)

	// The original record is still queued; no duplicate appears.
	depth, err := h.queue.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

// TestRetryOnlyFromFailed verifies state gating.
func TestRetryOnlyFromFailed(t *testing.T) {
	h := newHarness(t, nil)

	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"v":1}`))

	err := h.manager.Retry(id)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState))
}

// TestRetryLimitExceeded verifies the ceiling after exhausting the
// allowed attempts.
func TestRetryLimitExceeded(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.setErr(apperrors.New(apperrors.ErrNetwork, "network request failed"))

	id := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"v":1}`))

	// Fail, retry, fail, retry, fail: retry count reaches the default
	// ceiling of 3.
	h.failUpdate(t, id)
	for i := 0; i < 2; i++ {
		require.NoError(t, h.manager.Retry(id))
		h.failUpdate(t, id)
	}

	update, err := h.manager.GetUpdate(id)
	require.NoError(t, err)
	require.Equal(t, update.MaxRetries, update.RetryCount)

	err = h.manager.Retry(id)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRetryLimitExceeded))
}

// =====================================================
// Bulk rollback and stats
// =====================================================

// TestRollbackAllFailed verifies bulk rollback tolerates missing queue
// records and counts every update that reached RolledBack.
func TestRollbackAllFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.setErr(apperrors.New(apperrors.ErrNetwork, "network request failed"))

	ids := make([]string, 3)
	for i, entityID := range []string{"a-1", "a-2", "a-3"} {
		ids[i] = h.manager.Apply(models.ItemTypeAssessment, entityID, models.ActionCreate, json.RawMessage(`{"v":1}`))
		h.failUpdate(t, ids[i])
	}

	// One record vanishes out from under the manager.
	update, err := h.manager.GetUpdate(ids[0])
	require.NoError(t, err)
	require.NoError(t, h.queue.Remove(update.QueueRecordID))

	count := h.manager.RollbackAllFailed()
	assert.Equal(t, 3, count)

	for _, id := range ids {
		update, err := h.manager.GetUpdate(id)
		require.NoError(t, err)
		assert.Equal(t, models.UpdateStatusRolledBack, update.Status)
	}
}

// TestGetStats verifies the per-status summary.
func TestGetStats(t *testing.T) {
	h := newHarness(t, nil)

	pending := h.manager.Apply(models.ItemTypeAssessment, "a-1", models.ActionCreate, json.RawMessage(`{"v":1}`))
	h.waitForRecord(t, pending)

	confirmed := h.manager.Apply(models.ItemTypeAssessment, "a-2", models.ActionCreate, json.RawMessage(`{"v":1}`))
	rec := h.waitForRecord(t, confirmed)
	require.NoError(t, h.queue.Attempt(context.Background(), rec))

	h.remote.setErr(apperrors.New(apperrors.ErrNetwork, "network request failed"))
	failed := h.manager.Apply(models.ItemTypeAssessment, "a-3", models.ActionCreate, json.RawMessage(`{"v":1}`))
	h.failUpdate(t, failed)

	stats := h.manager.GetStats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 1, stats.Failed)

	assert.Len(t, h.manager.PendingUpdates(), 1)
	assert.Len(t, h.manager.FailedUpdates(), 1)
}
