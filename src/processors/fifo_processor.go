package processors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/models"
	"github.com/username/kryptofolio/src/tax"
)

// HistoryExtender is the recovery hook the ledger calls when a disposal
// cannot be covered by known lots. It widens the fetched history and returns
// whatever transactions that uncovered; the ledger ingests the acquisitions
// it has not seen yet.
type HistoryExtender interface {
	ExtendHistory(ctx context.Context, until time.Time) ([]models.NormalizedTransaction, error)
}

// FIFOProcessor keeps per-asset acquisition lots and matches disposals
// against them oldest-first. Lots are never removed; a consumed lot stays in
// the queue with QuantityRemaining zero so the full audit trail survives.
type FIFOProcessor struct {
	lots     map[string][]*models.HoldingLot
	seen     map[string]bool
	extender HistoryExtender
}

func NewFIFOProcessor(extender HistoryExtender) *FIFOProcessor {
	return &FIFOProcessor{
		lots:     make(map[string][]*models.HoldingLot),
		seen:     make(map[string]bool),
		extender: extender,
	}
}

// Lots returns the lot queue for an asset, oldest first. Callers must not
// mutate the returned lots.
func (p *FIFOProcessor) Lots(asset string) []*models.HoldingLot {
	return p.lots[asset]
}

// RecordAcquisition appends a lot with fee-inclusive unit cost and keeps the
// queue sorted by acquisition time. Equal timestamps keep ingestion order.
func (p *FIFOProcessor) RecordAcquisition(tx models.NormalizedTransaction) {
	if p.seen[tx.RefID] {
		return
	}
	p.seen[tx.RefID] = true

	if tx.Quantity.IsZero() {
		logger.L.Warn("ignoring zero-quantity acquisition", "refid", tx.RefID, "asset", tx.Asset)
		return
	}

	unitCost := tx.AmountEUR.Add(tx.FeeEUR).Div(tx.Quantity)
	lot := &models.HoldingLot{
		Asset:             tx.Asset,
		OriginalQuantity:  tx.Quantity,
		QuantityRemaining: tx.Quantity,
		UnitCostEUR:       unitCost,
		AcquiredAt:        tx.Timestamp,
		RefID:             tx.RefID,
		Source:            string(tx.InternalType),
	}

	queue := p.lots[tx.Asset]
	// Recovery can surface acquisitions older than lots already in the
	// queue; a sorted insert keeps FIFO order correct either way.
	idx := sort.Search(len(queue), func(i int) bool {
		return queue[i].AcquiredAt > lot.AcquiredAt
	})
	queue = append(queue, nil)
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = lot
	p.lots[tx.Asset] = queue

	logger.L.Debug("recorded acquisition lot", "refid", tx.RefID, "asset", tx.Asset, "quantity", tx.Quantity.String(), "unitCostEUR", unitCost.String())
}

// RecordDisposal matches a disposal against the asset's lots front to back.
// When holdings fall short it asks the extender to widen history exactly
// once, ingests newly found acquisitions and resumes; a remaining shortfall
// marks the result unresolved with the matched portion intact.
func (p *FIFOProcessor) RecordDisposal(ctx context.Context, tx models.NormalizedTransaction) (models.DisposalResult, error) {
	result := models.DisposalResult{
		RefID:     tx.RefID,
		Asset:     tx.Asset,
		Timestamp: tx.Timestamp,
		Quantity:  tx.Quantity,
		Notes:     append([]string(nil), tx.Notes...),
	}
	if tx.Quantity.IsZero() {
		return result, nil
	}
	result.UnitPriceEUR = tx.AmountEUR.Div(tx.Quantity)

	remaining := p.consume(&result, tx, tx.Quantity)

	if remaining.IsPositive() && p.extender != nil {
		logger.L.Info("holdings short for disposal, extending history",
			"refid", tx.RefID, "asset", tx.Asset, "shortfall", remaining.String())
		recovered, err := p.extender.ExtendHistory(ctx, tx.Time())
		if err != nil {
			return result, fmt.Errorf("extending history for disposal %s: %w", tx.RefID, err)
		}
		for _, rec := range recovered {
			// The widened history replays everything, including the disposal
			// being matched right now; only unseen acquisitions may become lots.
			if rec.Asset == tx.Asset && !p.seen[rec.RefID] && tax.IsAcquisition(rec.InternalType) {
				p.RecordAcquisition(rec)
			}
		}
		remaining = p.consume(&result, tx, remaining)
	}

	if remaining.IsPositive() {
		result.Unresolved = true
		result.ShortfallQuantity = remaining
		result.Notes = append(result.Notes, fmt.Sprintf("unmatched quantity %s: no acquisition found even after history recovery", remaining.String()))
		logger.L.Warn("disposal left unresolved", "refid", tx.RefID, "asset", tx.Asset, "shortfall", remaining.String())
	}

	for _, m := range result.Matches {
		result.TotalProceedsEUR = result.TotalProceedsEUR.Add(m.ProceedsEUR)
		result.TotalCostBasisEUR = result.TotalCostBasisEUR.Add(m.CostBasisEUR)
	}
	result.GainLossEUR = result.TotalProceedsEUR.Sub(result.TotalCostBasisEUR)
	return result, nil
}

// consume matches up to needed quantity against the asset's open lots and
// appends MatchRecords to the result. Returns the still-unmatched quantity.
func (p *FIFOProcessor) consume(result *models.DisposalResult, tx models.NormalizedTransaction, needed decimal.Decimal) decimal.Decimal {
	for _, lot := range p.lots[tx.Asset] {
		if !needed.IsPositive() {
			break
		}
		if !lot.QuantityRemaining.IsPositive() {
			continue
		}

		matched := decimal.Min(needed, lot.QuantityRemaining)
		lot.QuantityRemaining = lot.QuantityRemaining.Sub(matched)
		needed = needed.Sub(matched)

		costBasis := matched.Mul(lot.UnitCostEUR)
		proceeds := matched.Mul(result.UnitPriceEUR)
		result.Matches = append(result.Matches, models.MatchRecord{
			DisposalRefID:   tx.RefID,
			LotRefID:        lot.RefID,
			QuantityMatched: matched,
			CostBasisEUR:    costBasis,
			ProceedsEUR:     proceeds,
			HoldingDays:     holdingDays(lot.AcquiredAt, tx.Timestamp),
			GainLossEUR:     proceeds.Sub(costBasis),
		})
	}
	return needed
}

// holdingDays is signed: negative when the matched lot was acquired after
// the disposal, which recovery can legitimately produce.
func holdingDays(acquiredAt, disposedAt int64) int {
	return int((disposedAt - acquiredAt) / 86400)
}
