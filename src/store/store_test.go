package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/kryptofolio/src/database"
	"github.com/username/kryptofolio/src/models"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *TransactionStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.EnsureSchema(db))
	return New(db)
}

func ledgerRecord(refID string, ts int64, asset string) models.RawTransactionRecord {
	return models.RawTransactionRecord{
		RefID:     refID,
		Kind:      models.KindLedger,
		Type:      "staking",
		Asset:     asset,
		Quantity:  decimal.RequireFromString("0.25"),
		Timestamp: ts,
		Payload:   []byte(`{"type":"staking"}`),
	}
}

func TestSaveAndLoadRange(t *testing.T) {
	s := newTestStore(t)

	batch := []models.RawTransactionRecord{
		ledgerRecord("L1", 100, "ETH2.S"),
		ledgerRecord("L2", 200, "XXBT"),
		ledgerRecord("L3", 300, "ADA"),
	}
	result, err := s.Save(models.KindLedger, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Inserted)
	assert.Empty(t, result.Skipped)

	records, err := s.LoadRange(models.KindLedger, 100, 200)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "L1", records[0].RefID)
	assert.Equal(t, "L2", records[1].RefID)
	assert.Equal(t, "ETH2.S", records[0].Asset)
	assert.True(t, records[0].Quantity.Equal(decimal.RequireFromString("0.25")))
	assert.JSONEq(t, `{"type":"staking"}`, string(records[0].Payload))
}

func TestLoadRangeEmptyIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	records, err := s.LoadRange(models.KindTrade, 0, 1000)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSaveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	batch := []models.RawTransactionRecord{
		ledgerRecord("L1", 100, "ETH2.S"),
		ledgerRecord("L2", 200, "XXBT"),
	}

	first, err := s.Save(models.KindLedger, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	before, err := s.LoadRange(models.KindLedger, 0, 1000)
	require.NoError(t, err)

	second, err := s.Save(models.KindLedger, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)

	after, err := s.LoadRange(models.KindLedger, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaveSkipsMalformedRecords(t *testing.T) {
	s := newTestStore(t)

	batch := []models.RawTransactionRecord{
		ledgerRecord("L1", 100, "ETH2.S"),
		{Kind: models.KindLedger, Timestamp: 150},     // missing refid
		ledgerRecord("L2", 0, "XXBT"),                 // bad timestamp
		ledgerRecord("L3", 300, "ADA"),
	}
	result, err := s.Save(models.KindLedger, batch)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)
	require.Len(t, result.Skipped, 2)
	assert.Equal(t, "missing refid", result.Skipped[0].Reason)
	assert.Equal(t, "L2", result.Skipped[1].RefID)
	assert.Equal(t, "non-positive timestamp", result.Skipped[1].Reason)

	records, err := s.LoadRange(models.KindLedger, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestTradeAndLedgerTablesAreSeparate(t *testing.T) {
	s := newTestStore(t)

	trade := models.RawTransactionRecord{
		RefID:     "T1",
		Kind:      models.KindTrade,
		Type:      "buy",
		Pair:      "XXBTZEUR",
		Quantity:  decimal.RequireFromString("0.1"),
		Timestamp: 100,
	}
	_, err := s.Save(models.KindTrade, []models.RawTransactionRecord{trade})
	require.NoError(t, err)
	_, err = s.Save(models.KindLedger, []models.RawTransactionRecord{ledgerRecord("T1", 100, "XXBT")})
	require.NoError(t, err)

	trades, err := s.LoadRange(models.KindTrade, 0, 1000)
	require.NoError(t, err)
	ledger, err := s.LoadRange(models.KindLedger, 0, 1000)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	require.Len(t, ledger, 1)
	assert.Equal(t, models.KindTrade, trades[0].Kind)
	assert.Equal(t, models.KindLedger, ledger[0].Kind)
}

func TestSaveStampsFetchTime(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.EnsureSchema(db))
	s := New(db)

	_, err = s.Save(models.KindLedger, []models.RawTransactionRecord{ledgerRecord("L1", 100, "ADA")})
	require.NoError(t, err)

	var fetchedAt int64
	require.NoError(t, db.QueryRow("SELECT fetched_at FROM ledger WHERE refid = 'L1'").Scan(&fetchedAt))
	assert.Positive(t, fetchedAt, "rows record when they were fetched")
}

func TestLatestTimestamp(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.LatestTimestamp(models.KindLedger)
	require.NoError(t, err)
	assert.Zero(t, latest)

	_, err = s.Save(models.KindLedger, []models.RawTransactionRecord{
		ledgerRecord("L1", 100, "ADA"),
		ledgerRecord("L2", 500, "ADA"),
		ledgerRecord("L3", 300, "ADA"),
	})
	require.NoError(t, err)

	latest, err = s.LatestTimestamp(models.KindLedger)
	require.NoError(t, err)
	assert.Equal(t, int64(500), latest)
}
