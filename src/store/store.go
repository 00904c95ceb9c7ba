package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/models"
)

// TransactionStore is the durable cache of raw exchange records. Records are
// keyed by reference id with insert-or-ignore semantics, so re-saving a
// record the exchange already gave us is a no-op and safe under concurrent
// process restarts.
type TransactionStore struct {
	db *sql.DB
}

func New(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func tableFor(kind models.RecordKind) (string, error) {
	switch kind {
	case models.KindTrade:
		return "trades", nil
	case models.KindLedger:
		return "ledger", nil
	default:
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
}

// LoadRange returns all cached records of the given kind whose timestamp
// falls within [start, end], sorted by timestamp ascending. An empty range
// is not an error. Rows that no longer unmarshal are skipped with a warning.
func (s *TransactionStore) LoadRange(kind models.RecordKind, start, end int64) ([]models.RawTransactionRecord, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		"SELECT data_json FROM "+table+" WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp ASC, refid ASC",
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s cache: %w", table, err)
	}
	defer rows.Close()

	var records []models.RawTransactionRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		var rec models.RawTransactionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.L.Warn("skipping undecodable cached record", "table", table, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", table, err)
	}

	logger.L.Debug("loaded cached records", "table", table, "count", len(records), "start", start, "end", end)
	return records, nil
}

// Save inserts unseen records and silently ignores reference ids already
// present. Malformed records (missing id, non-positive timestamp) are
// skipped with a logged warning and reported in the BatchResult; they never
// abort the batch.
func (s *TransactionStore) Save(kind models.RecordKind, records []models.RawTransactionRecord) (models.BatchResult, error) {
	var result models.BatchResult
	if len(records) == 0 {
		return result, nil
	}

	table, err := tableFor(kind)
	if err != nil {
		return result, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return result, fmt.Errorf("beginning cache transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO " + table + " (refid, data_json, timestamp, fetched_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return result, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	fetchedAt := time.Now().Unix()

	for _, rec := range records {
		if rec.RefID == "" {
			logger.L.Warn("skipping record without refid", "table", table)
			result.Skipped = append(result.Skipped, models.SkippedRecord{Reason: "missing refid"})
			continue
		}
		if rec.Timestamp <= 0 {
			logger.L.Warn("skipping record with invalid timestamp", "table", table, "refid", rec.RefID, "timestamp", rec.Timestamp)
			result.Skipped = append(result.Skipped, models.SkippedRecord{RefID: rec.RefID, Reason: "non-positive timestamp"})
			continue
		}

		data, err := json.Marshal(rec)
		if err != nil {
			logger.L.Warn("skipping unserializable record", "table", table, "refid", rec.RefID, "error", err)
			result.Skipped = append(result.Skipped, models.SkippedRecord{RefID: rec.RefID, Reason: "unserializable payload"})
			continue
		}

		res, err := stmt.Exec(rec.RefID, data, rec.Timestamp, fetchedAt)
		if err != nil {
			logger.L.Warn("skipping record on insert failure", "table", table, "refid", rec.RefID, "error", err)
			result.Skipped = append(result.Skipped, models.SkippedRecord{RefID: rec.RefID, Reason: err.Error()})
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("committing cache transaction: %w", err)
	}

	logger.L.Info("saved records to cache", "table", table, "inserted", result.Inserted, "skipped", len(result.Skipped), "batch", len(records))
	return result, nil
}

// LatestTimestamp returns the newest cached timestamp for a kind, or zero
// when the table is empty.
func (s *TransactionStore) LatestTimestamp(kind models.RecordKind) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var latest int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(timestamp), 0) FROM " + table).Scan(&latest); err != nil {
		return 0, fmt.Errorf("querying latest %s timestamp: %w", table, err)
	}
	return latest, nil
}
