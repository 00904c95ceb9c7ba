package services

import (
	"context"
	"time"

	"github.com/username/kryptofolio/src/models"
)

// HistoryService merges the durable cache with live exchange fetches into a
// complete, deduplicated record history.
type HistoryService interface {
	Trades(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error)
	LedgerEntries(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error)
	// ExtendHistory re-fetches both endpoints from the earliest feasible
	// date up to until and returns how many records were newly cached.
	ExtendHistory(ctx context.Context, until time.Time) (int, error)
}

// ExchangeClient is the slice of the gateway the services need.
type ExchangeClient interface {
	GetTrades(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error)
	GetLedger(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error)
}

// RecordStore is the slice of the transaction cache the services need.
type RecordStore interface {
	LoadRange(kind models.RecordKind, start, end int64) ([]models.RawTransactionRecord, error)
	Save(kind models.RecordKind, records []models.RawTransactionRecord) (models.BatchResult, error)
	LatestTimestamp(kind models.RecordKind) (int64, error)
}

// ReportService computes the annual tax report.
type ReportService interface {
	GenerateReport(ctx context.Context, year int) (*TaxReport, error)
}

// TaxReport is the full output for one tax year.
type TaxReport struct {
	RunID      string
	Year       int
	Entries    []models.TaxReportEntry
	Summary    models.AggregatedTaxSummary
	Unresolved []models.DisposalResult
	Skipped    []models.SkippedRecord
}
