// Package db persists motion batches to SQLite.
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection used by the motion pipeline.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the batch database at path.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL lets the ingest writer and API readers coexist; the busy timeout
	// absorbs short lock contention before retryOnBusy kicks in.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS motion_batches (
			batch_id       TEXT PRIMARY KEY,
			sensor_id      TEXT NOT NULL,
			received_at_ns BIGINT NOT NULL,
			record_count   INTEGER NOT NULL,
			payload        BLOB NOT NULL,
			timestamp      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_motion_batches_sensor_time
			ON motion_batches(sensor_id, received_at_ns);
	`); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB}, nil
}

// isSQLiteBusy reports whether err is a transient SQLITE_BUSY condition.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with backoff while it fails with
// SQLITE_BUSY. Other errors are returned immediately.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	backoff := 10 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}
