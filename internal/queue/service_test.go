package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/fieldsync/internal/db"
	apperrors "github.com/relieflab/fieldsync/internal/errors"
	"github.com/relieflab/fieldsync/internal/models"
)

// fakeDispatcher answers every verb with a configurable error and
// records the calls it received.
type fakeDispatcher struct {
	mu    sync.Mutex
	err   error
	calls []dispatchCall
}

type dispatchCall struct {
	verb      string
	itemType  models.ItemType
	entityID  string
	requestID string
}

func (d *fakeDispatcher) record(verb string, itemType models.ItemType, entityID, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{verb, itemType, entityID, requestID})
	return d.err
}

func (d *fakeDispatcher) Insert(ctx context.Context, itemType models.ItemType, payload json.RawMessage, requestID string) error {
	return d.record("insert", itemType, "", requestID)
}

func (d *fakeDispatcher) Replace(ctx context.Context, itemType models.ItemType, entityID string, payload json.RawMessage, requestID string) error {
	return d.record("replace", itemType, entityID, requestID)
}

func (d *fakeDispatcher) Remove(ctx context.Context, itemType models.ItemType, entityID string, requestID string) error {
	return d.record("remove", itemType, entityID, requestID)
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDispatcher) lastCall() dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

// recordingListener captures outcome notifications.
type recordingListener struct {
	mu       sync.Mutex
	outcomes []Outcome
	records  []*models.QueueRecord
}

func (l *recordingListener) OnSyncOutcome(record *models.QueueRecord, outcome Outcome, attemptErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, outcome)
	l.records = append(l.records, record)
}

func (l *recordingListener) last() (Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.outcomes) == 0 {
		return "", false
	}
	return l.outcomes[len(l.outcomes)-1], true
}

func newTestService(t *testing.T, remote Dispatcher) *Service {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Initialize(database.DB))

	repo := db.NewQueueRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	return NewService(repo, remote, nil)
}

func queuedRecord(action models.Action, score int) *models.QueueRecord {
	return &models.QueueRecord{
		ItemType:      models.ItemTypeAssessment,
		Action:        action,
		EntityID:      "entity-1",
		Payload:       json.RawMessage(`{"name":"Test"}`),
		PriorityScore: score,
	}
}

// =====================================================
// Add
// =====================================================

// TestAddDerivesPriorityLabel verifies the label follows the score.
func TestAddDerivesPriorityLabel(t *testing.T) {
	svc := newTestService(t, &fakeDispatcher{})

	tests := []struct {
		score int
		want  models.Priority
	}{
		{95, models.PriorityHigh},
		{55, models.PriorityNormal},
		{10, models.PriorityLow},
	}

	for _, tt := range tests {
		id, err := svc.Add(queuedRecord(models.ActionCreate, tt.score))
		require.NoError(t, err)

		rec, err := svc.Get(id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.Priority)
		assert.Equal(t, models.QueueStatusPending, rec.Status())
	}
}

// =====================================================
// Attempt
// =====================================================

// TestAttemptSuccessRemovesRecord verifies a confirmed attempt destroys
// the record and notifies listeners.
func TestAttemptSuccessRemovesRecord(t *testing.T) {
	remote := &fakeDispatcher{}
	svc := newTestService(t, remote)
	listener := &recordingListener{}
	svc.Subscribe(listener)

	id, err := svc.Add(queuedRecord(models.ActionCreate, 80))
	require.NoError(t, err)

	rec, err := svc.Get(id)
	require.NoError(t, err)
	require.NoError(t, svc.Attempt(context.Background(), rec))

	// Record is gone.
	_, err = svc.Get(id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	// Listener saw the confirmation.
	outcome, ok := listener.last()
	require.True(t, ok)
	assert.Equal(t, OutcomeConfirmed, outcome)

	// The local id rode along as the idempotency key.
	assert.Equal(t, id, remote.lastCall().requestID)
	assert.Equal(t, "insert", remote.lastCall().verb)
}

// TestAttemptConflict verifies a 409-categorized failure surfaces as a
// conflict outcome and is recorded on the record.
func TestAttemptConflict(t *testing.T) {
	remote := &fakeDispatcher{err: apperrors.CategorizeTransport(409, nil)}
	svc := newTestService(t, remote)
	listener := &recordingListener{}
	svc.Subscribe(listener)

	id, err := svc.Add(queuedRecord(models.ActionUpdate, 60))
	require.NoError(t, err)

	rec, err := svc.Get(id)
	require.NoError(t, err)
	err = svc.Attempt(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	outcome, ok := listener.last()
	require.True(t, ok)
	assert.Equal(t, OutcomeConflict, outcome)

	// Attempt state persisted.
	stored, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.LastError, "CONFLICT")
	assert.Equal(t, models.QueueStatusFailed, stored.Status())
	assert.NotZero(t, stored.LastAttemptAt)
}

// TestAttemptNetworkFailure verifies transport failures keep the record
// with the categorized error.
func TestAttemptNetworkFailure(t *testing.T) {
	remote := &fakeDispatcher{err: apperrors.New(apperrors.ErrNetwork, "network request failed")}
	svc := newTestService(t, remote)
	listener := &recordingListener{}
	svc.Subscribe(listener)

	id, err := svc.Add(queuedRecord(models.ActionDelete, 30))
	require.NoError(t, err)

	rec, err := svc.Get(id)
	require.NoError(t, err)
	require.Error(t, svc.Attempt(context.Background(), rec))

	outcome, ok := listener.last()
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, outcome)

	stored, err := svc.Get(id)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "NETWORK_ERROR")
	assert.Equal(t, "remove", remote.lastCall().verb)
	assert.Equal(t, "entity-1", remote.lastCall().entityID)
}

// TestRetryIncrementsAndClears verifies retry bookkeeping across a
// failure and a subsequent success.
func TestRetryIncrementsAndClears(t *testing.T) {
	remote := &fakeDispatcher{err: apperrors.New(apperrors.ErrNetwork, "network request failed")}
	svc := newTestService(t, remote)

	id, err := svc.Add(queuedRecord(models.ActionCreate, 70))
	require.NoError(t, err)

	require.Error(t, svc.Retry(context.Background(), id))

	stored, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotEmpty(t, stored.LastError)

	// Remote recovers; the retry clears the error and removes the record.
	remote.mu.Lock()
	remote.err = nil
	remote.mu.Unlock()

	require.NoError(t, svc.Retry(context.Background(), id))
	_, err = svc.Get(id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.Equal(t, 2, remote.callCount())
}

// TestRetryMissingRecord verifies NOT_FOUND passes through.
func TestRetryMissingRecord(t *testing.T) {
	svc := newTestService(t, &fakeDispatcher{})

	err := svc.Retry(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// =====================================================
// Summary and depth
// =====================================================

// TestSummaryAndDepth verifies aggregate reads.
func TestSummaryAndDepth(t *testing.T) {
	remote := &fakeDispatcher{err: apperrors.New(apperrors.ErrNetwork, "network request failed")}
	svc := newTestService(t, remote)

	idA, err := svc.Add(queuedRecord(models.ActionCreate, 80))
	require.NoError(t, err)
	_, err = svc.Add(queuedRecord(models.ActionCreate, 50))
	require.NoError(t, err)

	require.Error(t, svc.Retry(context.Background(), idA))

	counts, err := svc.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.QueueStatusPending])
	assert.Equal(t, 1, counts[models.QueueStatusFailed])

	depth, err := svc.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

// TestEligibleThreshold verifies the pass-order read honors the score
// threshold.
func TestEligibleThreshold(t *testing.T) {
	svc := newTestService(t, &fakeDispatcher{})

	_, err := svc.Add(queuedRecord(models.ActionCreate, 90))
	require.NoError(t, err)
	_, err = svc.Add(queuedRecord(models.ActionCreate, 20))
	require.NoError(t, err)

	recs, err := svc.Eligible(50)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 90, recs[0].PriorityScore)
}
