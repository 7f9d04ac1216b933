// Package optimistic tracks the optimistic-update lifecycle and bridges
// UI-visible entity state to the durable sync queue.
package optimistic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/relieflab/fieldsync/internal/errors"
	"github.com/relieflab/fieldsync/internal/models"
	"github.com/relieflab/fieldsync/internal/priority"
	"github.com/relieflab/fieldsync/internal/queue"
	"github.com/relieflab/fieldsync/internal/uuid"
)

// entityKey identifies one visible entity.
type entityKey struct {
	Type models.ItemType
	ID   string
}

// previousState remembers what an update overwrote, for rollback.
type previousState struct {
	payload json.RawMessage
	existed bool
}

// Stats summarizes tracked updates.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Confirmed  int `json:"confirmed"`
	Failed     int `json:"failed"`
	RolledBack int `json:"rolled_back"`
}

// Manager applies mutations to visible local state immediately and
// reconciles them with remote outcomes delivered by the queue service.
// It never mutates queue records directly, only through the queue
// service's public operations.
type Manager struct {
	queue  *queue.Service
	engine *priority.RuleEngine
	logger *zap.Logger

	mu       sync.RWMutex
	updates  map[string]*models.OptimisticUpdate
	entities map[entityKey]json.RawMessage
	previous map[string]previousState // by update id
	byRecord map[string]string        // queue record id -> update id
}

// NewManager creates a Manager and subscribes it to queue outcomes.
func NewManager(q *queue.Service, engine *priority.RuleEngine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		queue:    q,
		engine:   engine,
		logger:   logger,
		updates:  make(map[string]*models.OptimisticUpdate),
		entities: make(map[entityKey]json.RawMessage),
		previous: make(map[string]previousState),
		byRecord: make(map[string]string),
	}
	q.Subscribe(m)
	return m
}

// Apply creates a Pending update, applies the payload to visible local
// state immediately, and enqueues the mutation asynchronously. The
// update id is returned synchronously even if enqueueing later fails:
// the optimistic view never blocks on durability.
func (m *Manager) Apply(entityType models.ItemType, entityID string, operation models.Action, payload json.RawMessage) string {
	now := time.Now().Unix()
	update := &models.OptimisticUpdate{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		Payload:    payload,
		Status:     models.UpdateStatusPending,
		MaxRetries: models.DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	key := entityKey{Type: entityType, ID: entityID}

	m.mu.Lock()
	prev, existed := m.entities[key]
	m.previous[update.ID] = previousState{payload: prev, existed: existed}
	if operation == models.ActionDelete {
		delete(m.entities, key)
	} else {
		m.entities[key] = payload
	}
	m.updates[update.ID] = update
	m.mu.Unlock()

	go m.enqueue(update)

	return update.ID
}

// enqueue scores the mutation and inserts the queue record. Failure is
// logged, not surfaced: a visibly-pending-but-undurable state is
// preferred over reverting user input.
func (m *Manager) enqueue(update *models.OptimisticUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	score := m.engine.ScoreMutation(ctx, update.ID, update.EntityType, update.Operation, update.Payload)

	rec := &models.QueueRecord{
		ItemType:      update.EntityType,
		Action:        update.Operation,
		EntityID:      update.EntityID,
		Payload:       update.Payload,
		Priority:      models.PriorityFromScore(score),
		PriorityScore: score,
	}

	recordID, err := m.queue.Add(rec)
	if err != nil {
		m.logger.Error("failed to enqueue optimistic update",
			zap.String("update_id", update.ID),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	update.QueueRecordID = recordID
	m.byRecord[recordID] = update.ID
	m.mu.Unlock()
}

// Rollback reverts an update's visible state and removes its queue
// record. Confirmed work is never rolled back.
func (m *Manager) Rollback(updateID string) error {
	m.mu.Lock()
	update, ok := m.updates[updateID]
	if !ok {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("optimistic update %s not found", updateID))
	}
	if update.Status.Terminal() {
		status := update.Status
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidState,
			fmt.Sprintf("cannot roll back update in %s state", status))
	}

	key := entityKey{Type: update.EntityType, ID: update.EntityID}
	if prev, ok := m.previous[updateID]; ok {
		if prev.existed {
			m.entities[key] = prev.payload
		} else {
			delete(m.entities, key)
		}
		delete(m.previous, updateID)
	}

	update.Status = models.UpdateStatusRolledBack
	update.UpdatedAt = time.Now().Unix()
	recordID := update.QueueRecordID
	m.mu.Unlock()

	if recordID != "" {
		if err := m.queue.Remove(recordID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			// The update is already rolled back locally; an orphaned
			// record will fail its next attempt and surface there.
			m.logger.Warn("failed to remove queue record during rollback",
				zap.String("update_id", updateID),
				zap.String("record_id", recordID),
				zap.Error(err))
		}
	}

	m.logger.Info("optimistic update rolled back", zap.String("update_id", updateID))
	return nil
}

// Retry transitions a Failed update back to Pending and re-submits it
// to the queue, subject to the retry ceiling.
func (m *Manager) Retry(updateID string) error {
	m.mu.Lock()
	update, ok := m.updates[updateID]
	if !ok {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("optimistic update %s not found", updateID))
	}
	if update.Status != models.UpdateStatusFailed {
		status := update.Status
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidState,
			fmt.Sprintf("cannot retry update in %s state", status))
	}
	if update.RetryCount >= update.MaxRetries {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrRetryLimitExceeded,
			fmt.Sprintf("retry limit reached (%d/%d)", update.RetryCount, update.MaxRetries))
	}

	update.Status = models.UpdateStatusPending
	update.Error = ""
	update.UpdatedAt = time.Now().Unix()
	recordID := update.QueueRecordID
	m.mu.Unlock()

	// Re-submit: the previous record may already be gone if the remote
	// accepted the work or the record was removed.
	if recordID != "" {
		if _, err := m.queue.Get(recordID); err == nil {
			return nil // still queued, remains eligible
		}
	}

	go m.enqueue(update)
	return nil
}

// RollbackAllFailed rolls back every Failed update, tolerating
// individual failures, and returns how many reached RolledBack.
func (m *Manager) RollbackAllFailed() int {
	m.mu.RLock()
	var failed []string
	for id, update := range m.updates {
		if update.Status == models.UpdateStatusFailed {
			failed = append(failed, id)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range failed {
		if err := m.Rollback(id); err != nil {
			m.logger.Warn("rollback failed for update",
				zap.String("update_id", id), zap.Error(err))
			continue
		}
		count++
	}
	return count
}

// OnSyncOutcome reconciles a remote outcome with the originating
// update. Implements queue.OutcomeListener.
func (m *Manager) OnSyncOutcome(rec *models.QueueRecord, outcome queue.Outcome, attemptErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updateID, ok := m.byRecord[rec.ID]
	if !ok {
		return // record created by a direct queue caller
	}
	update, ok := m.updates[updateID]
	if !ok || update.Status != models.UpdateStatusPending {
		return
	}

	update.UpdatedAt = time.Now().Unix()
	update.RetryCount = rec.RetryCount

	switch outcome {
	case queue.OutcomeConfirmed:
		update.Status = models.UpdateStatusConfirmed
		delete(m.previous, updateID)
		delete(m.byRecord, rec.ID)
	case queue.OutcomeConflict:
		update.Status = models.UpdateStatusFailed
		update.Error = fmt.Sprintf("%s failed: conflict", update.Operation)
	default:
		update.Status = models.UpdateStatusFailed
		update.Error = "Sync operation failed"
	}
}

// EntityState returns the current visible payload for an entity.
func (m *Manager) EntityState(entityType models.ItemType, entityID string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.entities[entityKey{Type: entityType, ID: entityID}]
	return payload, ok
}

// GetUpdate returns a copy of a tracked update.
func (m *Manager) GetUpdate(updateID string) (*models.OptimisticUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	update, ok := m.updates[updateID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("optimistic update %s not found", updateID))
	}
	cp := *update
	return &cp, nil
}

// PendingUpdates returns all updates currently in Pending state.
func (m *Manager) PendingUpdates() []*models.OptimisticUpdate {
	return m.updatesWithStatus(models.UpdateStatusPending)
}

// FailedUpdates returns all updates currently in Failed state.
func (m *Manager) FailedUpdates() []*models.OptimisticUpdate {
	return m.updatesWithStatus(models.UpdateStatusFailed)
}

func (m *Manager) updatesWithStatus(status models.UpdateStatus) []*models.OptimisticUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.OptimisticUpdate
	for _, update := range m.updates {
		if update.Status == status {
			cp := *update
			out = append(out, &cp)
		}
	}
	return out
}

// GetStats summarizes tracked updates by status.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.updates)}
	for _, update := range m.updates {
		switch update.Status {
		case models.UpdateStatusPending:
			stats.Pending++
		case models.UpdateStatusConfirmed:
			stats.Confirmed++
		case models.UpdateStatusFailed:
			stats.Failed++
		case models.UpdateStatusRolledBack:
			stats.RolledBack++
		}
	}
	return stats
}
