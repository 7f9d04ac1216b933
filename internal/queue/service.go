// Package queue provides CRUD over durable queue records and executes
// single synchronization attempts against the remote authority.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relieflab/fieldsync/internal/db"
	apperrors "github.com/relieflab/fieldsync/internal/errors"
	"github.com/relieflab/fieldsync/internal/models"
)

// Dispatcher sends one mutation to the entity-type-specific remote
// endpoint. requestID carries the originating local id so repeated
// attempts are idempotent on the remote side.
type Dispatcher interface {
	Insert(ctx context.Context, itemType models.ItemType, payload json.RawMessage, requestID string) error
	Replace(ctx context.Context, itemType models.ItemType, entityID string, payload json.RawMessage, requestID string) error
	Remove(ctx context.Context, itemType models.ItemType, entityID string, requestID string) error
}

// Outcome classifies how a sync attempt ended.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
)

// OutcomeListener observes attempt outcomes. The optimistic update
// manager subscribes to reconcile UI-facing state.
type OutcomeListener interface {
	OnSyncOutcome(record *models.QueueRecord, outcome Outcome, attemptErr error)
}

// Service is the only mutator of queue records. All queue state flows
// through its public operations.
type Service struct {
	repo   *db.QueueRepository
	remote Dispatcher
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []OutcomeListener
}

// NewService creates a queue Service.
func NewService(repo *db.QueueRepository, remote Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		remote: remote,
		logger: logger,
	}
}

// Subscribe registers an outcome listener.
func (s *Service) Subscribe(l OutcomeListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Add persists a new queue record and returns its id.
func (s *Service) Add(rec *models.QueueRecord) (string, error) {
	if rec.Priority == "" {
		rec.Priority = models.PriorityFromScore(rec.PriorityScore)
	}
	if err := s.repo.Insert(rec); err != nil {
		return "", err
	}

	s.logger.Debug("queued mutation",
		zap.String("record_id", rec.ID),
		zap.String("item_type", string(rec.ItemType)),
		zap.String("action", string(rec.Action)),
		zap.Int("priority_score", rec.PriorityScore))

	return rec.ID, nil
}

// Items returns queue records matching the filter, sorted by coarse
// priority label descending, then creation time descending.
func (s *Service) Items(f db.Filter) ([]*models.QueueRecord, error) {
	return s.repo.List(f)
}

// Eligible returns records at or above the score threshold in pass
// order (fine score descending, then recency).
func (s *Service) Eligible(minScore int) ([]*models.QueueRecord, error) {
	return s.repo.ListEligible(minScore)
}

// Get retrieves a queue record by id.
func (s *Service) Get(id string) (*models.QueueRecord, error) {
	return s.repo.Get(id)
}

// Remove deletes a queue record.
func (s *Service) Remove(id string) error {
	return s.repo.Delete(id)
}

// Summary returns record counts keyed by derived status.
func (s *Service) Summary() (map[models.QueueStatus]int, error) {
	return s.repo.CountsByStatus()
}

// Depth returns the total number of queued records.
func (s *Service) Depth() (int, error) {
	return s.repo.Count()
}

// Retry increments the record's retry count, clears its last error,
// and performs one synchronization attempt.
func (s *Service) Retry(ctx context.Context, id string) error {
	rec, err := s.repo.Get(id)
	if err != nil {
		return err
	}
	return s.Attempt(ctx, rec)
}

// Attempt performs one synchronization attempt for a record. Transport
// failures are recorded on the record and reported to listeners; they
// are never thrown past this boundary.
func (s *Service) Attempt(ctx context.Context, rec *models.QueueRecord) error {
	rec.RetryCount++
	rec.LastError = ""
	rec.LastAttemptAt = time.Now().Unix()
	if err := s.repo.Update(rec); err != nil {
		return err
	}

	err := s.dispatch(ctx, rec)
	if err == nil {
		// Confirmed remote success destroys the record.
		if err := s.repo.Delete(rec.ID); err != nil {
			s.logger.Warn("failed to remove synced record",
				zap.String("record_id", rec.ID), zap.Error(err))
		}
		s.logger.Info("record synced",
			zap.String("record_id", rec.ID),
			zap.String("item_type", string(rec.ItemType)))
		s.notify(rec, OutcomeConfirmed, nil)
		return nil
	}

	appErr := err
	rec.LastError = appErr.Error()
	if updateErr := s.repo.Update(rec); updateErr != nil {
		s.logger.Error("failed to record attempt error",
			zap.String("record_id", rec.ID), zap.Error(updateErr))
	}

	outcome := OutcomeFailed
	if apperrors.Is(appErr, apperrors.ErrConflict) {
		outcome = OutcomeConflict
	}

	s.logger.Warn("sync attempt failed",
		zap.String("record_id", rec.ID),
		zap.String("item_type", string(rec.ItemType)),
		zap.Int("retry_count", rec.RetryCount),
		zap.Error(appErr))

	s.notify(rec, outcome, appErr)
	return appErr
}

// dispatch selects the remote verb from the record's action.
func (s *Service) dispatch(ctx context.Context, rec *models.QueueRecord) error {
	switch rec.Action {
	case models.ActionCreate:
		return s.remote.Insert(ctx, rec.ItemType, rec.Payload, rec.ID)
	case models.ActionUpdate:
		return s.remote.Replace(ctx, rec.ItemType, rec.EntityID, rec.Payload, rec.ID)
	case models.ActionDelete:
		return s.remote.Remove(ctx, rec.ItemType, rec.EntityID, rec.ID)
	default:
		return apperrors.New(apperrors.ErrInvalid, "unknown queue action")
	}
}

func (s *Service) notify(rec *models.QueueRecord, outcome Outcome, attemptErr error) {
	s.mu.RLock()
	listeners := make([]OutcomeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l.OnSyncOutcome(rec, outcome, attemptErr)
	}
}
