package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/motion"
)

// BatchRecord is one persisted motion batch. Payload is the encoded wire
// form; records are decoded on demand.
type BatchRecord struct {
	BatchID      string    `json:"batch_id"`
	SensorID     string    `json:"sensor_id"`
	ReceivedAtNs int64     `json:"received_at_ns"`
	RecordCount  int       `json:"record_count"`
	Payload      []byte    `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
}

// Decode reconstructs the batch's RecordSequence from the stored payload.
// The caller owns the returned sequence.
func (b *BatchRecord) Decode() (*motion.RecordSequence, error) {
	return motion.DecodeSequence(b.Payload)
}

// InsertBatch stores one encoded batch and returns its assigned ID.
func (db *DB) InsertBatch(sensorID string, receivedAtNs int64, recordCount int, payload []byte) (string, error) {
	batchID := uuid.NewString()
	err := retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO motion_batches (batch_id, sensor_id, received_at_ns, record_count, payload)
			VALUES (?, ?, ?, ?, ?)`,
			batchID, sensorID, receivedAtNs, recordCount, payload,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert batch: %w", err)
	}
	return batchID, nil
}

// GetBatch fetches one batch by ID.
func (db *DB) GetBatch(batchID string) (*BatchRecord, error) {
	var b BatchRecord
	err := db.QueryRow(`
		SELECT batch_id, sensor_id, received_at_ns, record_count, payload, timestamp
		FROM motion_batches WHERE batch_id = ?`, batchID,
	).Scan(&b.BatchID, &b.SensorID, &b.ReceivedAtNs, &b.RecordCount, &b.Payload, &b.Timestamp)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches returns up to limit batches for a sensor, newest first.
// Payloads are not loaded; use GetBatch for the records.
func (db *DB) ListBatches(sensorID string, limit int) ([]BatchRecord, error) {
	rows, err := db.Query(`
		SELECT batch_id, sensor_id, received_at_ns, record_count, timestamp
		FROM motion_batches
		WHERE sensor_id = ?
		ORDER BY received_at_ns DESC
		LIMIT ?`, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var b BatchRecord
		if err := rows.Scan(&b.BatchID, &b.SensorID, &b.ReceivedAtNs, &b.RecordCount, &b.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BatchStats summarises stored batches for one sensor.
type BatchStats struct {
	BatchCount   int64 `json:"batch_count"`
	RecordCount  int64 `json:"record_count"`
	FirstBatchNs int64 `json:"first_batch_ns"`
	LastBatchNs  int64 `json:"last_batch_ns"`
}

// GetBatchStats returns rollup statistics for a sensor.
func (db *DB) GetBatchStats(sensorID string) (*BatchStats, error) {
	var s BatchStats
	err := db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(record_count), 0),
		       COALESCE(MIN(received_at_ns), 0),
		       COALESCE(MAX(received_at_ns), 0)
		FROM motion_batches WHERE sensor_id = ?`, sensorID,
	).Scan(&s.BatchCount, &s.RecordCount, &s.FirstBatchNs, &s.LastBatchNs)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteBatchesBefore removes batches received before cutoffNs, returning
// how many were deleted. Used by retention sweeps.
func (db *DB) DeleteBatchesBefore(cutoffNs int64) (int64, error) {
	var deleted int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`DELETE FROM motion_batches WHERE received_at_ns < ?`, cutoffNs)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete batches: %w", err)
	}
	return deleted, nil
}
