// Package db provides schema management for the local durable queue.
package db

import "database/sql"

// Initialize creates the queue schema if it does not exist. The schema
// is the explicit record layout accessed only through QueueRepository.
func Initialize(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS queue_records (
		id TEXT PRIMARY KEY,
		item_type TEXT NOT NULL CHECK(length(item_type) > 0),
		action TEXT NOT NULL CHECK(action IN ('create', 'update', 'delete')),
		entity_id TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
		priority TEXT NOT NULL CHECK(priority IN ('high', 'normal', 'low')),
		priority_score INTEGER NOT NULL CHECK(priority_score BETWEEN 0 AND 100),
		created_at INTEGER NOT NULL CHECK(created_at > 0),
		last_attempt_at INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_queue_records_score
		ON queue_records(priority_score DESC, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_queue_records_item_type
		ON queue_records(item_type);
	`
	_, err := db.Exec(query)
	return err
}
