package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/models"
	"github.com/username/kryptofolio/src/processors"
	"github.com/username/kryptofolio/src/tax"
)

// reportService drives the full pipeline for one tax year: fetch history,
// normalize, run the FIFO ledger, classify and aggregate.
type reportService struct {
	history    HistoryService
	normalizer *processors.Normalizer
	floor      time.Time
}

func NewReportService(history HistoryService, normalizer *processors.Normalizer, floor time.Time) ReportService {
	return &reportService{history: history, normalizer: normalizer, floor: floor}
}

// recoveryExtender adapts the history service to the ledger's recovery
// hook: widen the fetch window, then hand back the whole normalized history
// so the ledger can pick up acquisitions it has not seen.
type recoveryExtender struct {
	svc *reportService
}

func (r recoveryExtender) ExtendHistory(ctx context.Context, until time.Time) ([]models.NormalizedTransaction, error) {
	if _, err := r.svc.history.ExtendHistory(ctx, until); err != nil {
		return nil, err
	}
	txs, _, err := r.svc.loadNormalized(ctx, until)
	return txs, err
}

func (s *reportService) loadNormalized(ctx context.Context, end time.Time) ([]models.NormalizedTransaction, []models.SkippedRecord, error) {
	trades, err := s.history.Trades(ctx, s.floor, end)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := s.history.LedgerEntries(ctx, s.floor, end)
	if err != nil {
		return nil, nil, err
	}

	txs, skipped, err := s.normalizer.Normalize(ctx, append(trades, ledger...))
	if err != nil {
		return nil, nil, err
	}
	sortNormalized(txs)
	return txs, skipped, nil
}

// sortNormalized orders by time; at equal timestamps acquisitions come
// before disposals so a same-second buy-then-sell matches.
func sortNormalized(txs []models.NormalizedTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp < txs[j].Timestamp
		}
		iDisposal, jDisposal := tax.IsDisposal(txs[i].InternalType), tax.IsDisposal(txs[j].InternalType)
		if iDisposal != jDisposal {
			return !iDisposal
		}
		return txs[i].RefID < txs[j].RefID
	})
}

func (s *reportService) GenerateReport(ctx context.Context, year int) (*TaxReport, error) {
	report := &TaxReport{
		RunID: uuid.NewString(),
		Year:  year,
	}
	yearEnd := time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)
	logger.L.Info("generating tax report", "runId", report.RunID, "year", year)

	txs, skipped, err := s.loadNormalized(ctx, yearEnd)
	if err != nil {
		return nil, fmt.Errorf("loading history for %d: %w", year, err)
	}
	report.Skipped = skipped

	classifier := tax.NewClassifier(year)
	ledger := processors.NewFIFOProcessor(recoveryExtender{svc: s})

	for _, tx := range txs {
		switch {
		case tax.IsAcquisition(tx.InternalType):
			ledger.RecordAcquisition(tx)
			if tax.IsIncome(tx.InternalType) {
				report.Entries = append(report.Entries, classifier.IncomeEntry(tx))
			}
		case tax.IsDisposal(tx.InternalType):
			result, err := ledger.RecordDisposal(ctx, tx)
			if err != nil {
				return nil, fmt.Errorf("matching disposal %s: %w", tx.RefID, err)
			}
			report.Entries = append(report.Entries, classifier.DisposalEntry(result))
			if result.Unresolved {
				report.Unresolved = append(report.Unresolved, result)
			}
		case tx.InternalType == models.TypeMargin || tx.InternalType == models.TypeSettled:
			report.Entries = append(report.Entries, classifier.FlaggedEntry(tx, "margin and settlement activity is not modeled"))
		}

		// Paying a fee in kind disposes of the fee asset at market value,
		// independent of what the transaction itself was.
		if tx.FeeQuantity.IsPositive() && tx.FeeAsset != "" && !models.IsFiat(tx.FeeAsset) {
			feeTx := models.NormalizedTransaction{
				RefID:        tx.RefID + "/fee",
				Timestamp:    tx.Timestamp,
				Asset:        tx.FeeAsset,
				InternalType: models.TypeFeePayment,
				Quantity:     tx.FeeQuantity,
				AmountEUR:    tx.FeeEUR,
				Notes:        []string{fmt.Sprintf("in-kind fee of %s", tx.RefID)},
			}
			result, err := ledger.RecordDisposal(ctx, feeTx)
			if err != nil {
				return nil, fmt.Errorf("matching fee disposal %s: %w", feeTx.RefID, err)
			}
			report.Entries = append(report.Entries, classifier.DisposalEntry(result))
			if result.Unresolved {
				report.Unresolved = append(report.Unresolved, result)
			}
		}
	}

	report.Summary = classifier.Aggregate(report.Entries)

	for _, skip := range skipped {
		report.Summary.Warnings = append(report.Summary.Warnings, fmt.Sprintf("record %s excluded: %s", skip.RefID, skip.Reason))
	}
	if len(report.Unresolved) > 0 {
		report.Summary.Warnings = append(report.Summary.Warnings, fmt.Sprintf("%d disposal(s) could not be fully matched against acquisitions", len(report.Unresolved)))
	}

	logger.L.Info("tax report complete", "runId", report.RunID, "year", year,
		"entries", len(report.Entries), "unresolved", len(report.Unresolved),
		"netPrivateSales", report.Summary.NetPrivateSales.StringFixed(2),
		"otherIncome", report.Summary.TotalOtherIncome.StringFixed(2))
	return report, nil
}
