// Package db provides CRUD repository operations for queue records.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/relieflab/fieldsync/internal/errors"
	"github.com/relieflab/fieldsync/internal/models"
	"github.com/relieflab/fieldsync/internal/uuid"
)

// QueueRepository is the single writer for queue_records. All other
// components mutate queue state through the queue service, which owns
// an instance of this repository.
type QueueRepository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewQueueRepository creates a new QueueRepository instance.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *QueueRepository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *QueueRepository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ItemType models.ItemType
	Status   models.QueueStatus
	MinScore int
}

// Insert persists a new queue record, assigning id and creation time
// when unset.
func (r *QueueRepository) Insert(rec *models.QueueRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	query := `
	INSERT INTO queue_records (id, item_type, action, entity_id, payload,
		retry_count, priority, priority_score, created_at, last_attempt_at, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, rec.ID, rec.ItemType, rec.Action, rec.EntityID,
		payloadBytes(rec), rec.RetryCount, rec.Priority, rec.PriorityScore,
		rec.CreatedAt, rec.LastAttemptAt, rec.LastError)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to insert queue record", err)
	}
	return nil
}

const queueRecordColumns = `id, item_type, action, entity_id, payload,
	retry_count, priority, priority_score, created_at, last_attempt_at, last_error`

// Get retrieves a queue record by id.
func (r *QueueRepository) Get(id string) (*models.QueueRecord, error) {
	query := `SELECT ` + queueRecordColumns + ` FROM queue_records WHERE id = ?`

	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue record %s not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get queue record", err)
	}
	return rec, nil
}

// Update persists mutable attempt state for an existing record.
func (r *QueueRepository) Update(rec *models.QueueRecord) error {
	query := `
	UPDATE queue_records
	SET retry_count = ?, priority = ?, priority_score = ?,
		last_attempt_at = ?, last_error = ?, payload = ?
	WHERE id = ?
	`
	res, err := r.db.Exec(query, rec.RetryCount, rec.Priority, rec.PriorityScore,
		rec.LastAttemptAt, rec.LastError, payloadBytes(rec), rec.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update queue record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue record %s not found", rec.ID))
	}
	return nil
}

// Delete removes a queue record. Records are destroyed on confirmed
// remote success or explicit rollback.
func (r *QueueRepository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM queue_records WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete queue record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue record %s not found", id))
	}
	return nil
}

// List returns records matching the filter, ordered by coarse priority
// label descending, then creation time descending within a label.
func (r *QueueRepository) List(f Filter) ([]*models.QueueRecord, error) {
	query := `SELECT ` + queueRecordColumns + ` FROM queue_records`
	args := []interface{}{}

	if f.ItemType != "" {
		query += " WHERE item_type = ?"
		args = append(args, f.ItemType)
	}

	query += `
	ORDER BY CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC,
		created_at DESC`

	recs, err := r.queryRecords(query, args...)
	if err != nil {
		return nil, err
	}

	// Derived status is computed, not stored, so it filters in memory.
	if f.Status != "" {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.Status() == f.Status {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	if f.MinScore > 0 {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.PriorityScore >= f.MinScore {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}

	return recs, nil
}

// ListEligible returns records at or above the score threshold, ordered
// by fine-grained score descending then recency, for orchestrator passes.
func (r *QueueRepository) ListEligible(minScore int) ([]*models.QueueRecord, error) {
	query := `SELECT ` + queueRecordColumns + ` FROM queue_records
	WHERE priority_score >= ?
	ORDER BY priority_score DESC, created_at DESC`

	return r.queryRecords(query, minScore)
}

// CountsByStatus returns record counts keyed by derived status.
func (r *QueueRepository) CountsByStatus() (map[models.QueueStatus]int, error) {
	rows, err := r.db.Query("SELECT retry_count, last_error FROM queue_records")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue records", err)
	}
	defer rows.Close()

	counts := map[models.QueueStatus]int{
		models.QueueStatusPending: 0,
		models.QueueStatusSyncing: 0,
		models.QueueStatusFailed:  0,
		models.QueueStatusSynced:  0,
	}

	for rows.Next() {
		rec := models.QueueRecord{}
		if err := rows.Scan(&rec.RetryCount, &rec.LastError); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue record", err)
		}
		counts[rec.Status()]++
	}

	return counts, rows.Err()
}

// Count returns the total number of queued records.
func (r *QueueRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM queue_records").Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue records", err)
	}
	return n, nil
}

func (r *QueueRepository) queryRecords(query string, args ...interface{}) ([]*models.QueueRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue records", err)
	}
	defer rows.Close()

	var recs []*models.QueueRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue record", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// payloadBytes binds the payload column. Delete mutations carry no
// payload; a nil slice would bind as NULL and violate the schema.
func payloadBytes(rec *models.QueueRecord) []byte {
	if rec.Payload == nil {
		return []byte{}
	}
	return rec.Payload
}

func scanRecord(row *sql.Row) (*models.QueueRecord, error) {
	var rec models.QueueRecord
	var payload []byte
	err := row.Scan(&rec.ID, &rec.ItemType, &rec.Action, &rec.EntityID, &payload,
		&rec.RetryCount, &rec.Priority, &rec.PriorityScore,
		&rec.CreatedAt, &rec.LastAttemptAt, &rec.LastError)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	return &rec, nil
}

func scanRecordRows(rows *sql.Rows) (*models.QueueRecord, error) {
	var rec models.QueueRecord
	var payload []byte
	err := rows.Scan(&rec.ID, &rec.ItemType, &rec.Action, &rec.EntityID, &payload,
		&rec.RetryCount, &rec.Priority, &rec.PriorityScore,
		&rec.CreatedAt, &rec.LastAttemptAt, &rec.LastError)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	return &rec, nil
}
