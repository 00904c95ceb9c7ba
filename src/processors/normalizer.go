package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/models"
	"github.com/username/kryptofolio/src/tax"
)

// PriceSource resolves the EUR unit price of an asset on a date.
type PriceSource interface {
	Resolve(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error)
}

// Normalizer converts raw exchange records into the canonical transactions
// the ledger consumes: asset aliases collapsed, types mapped, every amount
// valued in EUR through the price resolver.
type Normalizer struct {
	prices PriceSource
}

func NewNormalizer(prices PriceSource) *Normalizer {
	return &Normalizer{prices: prices}
}

// Normalize converts a batch of raw records. Records whose EUR value cannot
// be resolved are skipped and reported, never zero-valued; a skipped record
// does not abort the batch. Ledger entries of type "trade" mirror the trades
// endpoint and are dropped to avoid double counting.
func (n *Normalizer) Normalize(ctx context.Context, records []models.RawTransactionRecord) ([]models.NormalizedTransaction, []models.SkippedRecord, error) {
	var txs []models.NormalizedTransaction
	var skipped []models.SkippedRecord

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return txs, skipped, err
		}

		var (
			converted []models.NormalizedTransaction
			err       error
		)
		if rec.Kind == models.KindTrade {
			converted, err = n.normalizeTrade(ctx, rec)
		} else {
			converted, err = n.normalizeLedgerEntry(ctx, rec)
		}
		if err != nil {
			logger.L.Warn("skipping record during normalization", "refid", rec.RefID, "kind", rec.Kind, "type", rec.Type, "error", err)
			skipped = append(skipped, models.SkippedRecord{RefID: rec.RefID, Reason: err.Error()})
			continue
		}
		txs = append(txs, converted...)
	}

	return txs, skipped, nil
}

// normalizeTrade values a trade in EUR and splits crypto-to-crypto trades
// into two legs: acquiring the base disposes of the quote and vice versa.
func (n *Normalizer) normalizeTrade(ctx context.Context, rec models.RawTransactionRecord) ([]models.NormalizedTransaction, error) {
	base, quote := models.SplitPair(rec.Pair)
	if base == "" || quote == "" {
		return nil, fmt.Errorf("unresolvable pair %q", rec.Pair)
	}
	if models.IsFiat(base) {
		// Fiat-to-fiat conversion (EURUSD and friends), nothing to tax.
		return nil, nil
	}

	quoteRate := decimal.NewFromInt(1)
	if quote != "EUR" {
		rate, err := n.prices.Resolve(ctx, quote, rec.Time())
		if err != nil {
			return nil, fmt.Errorf("valuing quote %s: %w", quote, err)
		}
		quoteRate = rate
	}

	costEUR := rec.Cost.Mul(quoteRate)
	feeEUR := rec.Fee.Mul(quoteRate)

	primaryType := models.TypeBuy
	if rec.Type == "sell" {
		primaryType = models.TypeSell
	}

	primary := models.NormalizedTransaction{
		RefID:        rec.RefID,
		Timestamp:    rec.Timestamp,
		Asset:        base,
		InternalType: primaryType,
		Quantity:     rec.Quantity,
		AmountEUR:    costEUR,
		FeeEUR:       feeEUR,
		FeeAsset:     quote,
		FeeQuantity:  rec.Fee,
	}
	txs := []models.NormalizedTransaction{primary}

	// A non-fiat quote means the other side of the trade is itself a crypto
	// movement: buying base spends quote, selling base acquires quote.
	if !models.IsFiat(quote) {
		counterType := models.TypeSpend
		if primaryType == models.TypeSell {
			counterType = models.TypeReceive
		}
		txs = append(txs, models.NormalizedTransaction{
			RefID:        rec.RefID + "/quote",
			Timestamp:    rec.Timestamp,
			Asset:        quote,
			InternalType: counterType,
			Quantity:     rec.Cost,
			AmountEUR:    costEUR,
			Notes:        []string{fmt.Sprintf("counter leg of %s trade %s", rec.Pair, rec.RefID)},
		})
	}

	return txs, nil
}

func (n *Normalizer) normalizeLedgerEntry(ctx context.Context, rec models.RawTransactionRecord) ([]models.NormalizedTransaction, error) {
	internalType := tax.MapExchangeType(rec.Type, rec.Subtype)
	if internalType == models.TypeTransfer || rec.Type == "trade" {
		// Transfers move nothing taxable and trade entries duplicate the
		// trades endpoint.
		return nil, nil
	}

	asset := models.CanonicalAsset(rec.Asset)
	quantity := rec.Quantity.Abs()

	tx := models.NormalizedTransaction{
		RefID:        rec.RefID,
		Timestamp:    rec.Timestamp,
		Asset:        asset,
		InternalType: internalType,
		Quantity:     quantity,
	}

	if models.IsFiat(asset) {
		switch internalType {
		case models.TypeSpend, models.TypeReceive, models.TypeBuy, models.TypeSell, models.TypeFeePayment:
			// Fiat legs of purchases and fiat-settled fees are never taxable
			// and must not reach the lot ledger; the crypto leg of the same
			// purchase carries the taxable event.
			return nil, nil
		}

		// Fiat deposits, withdrawals and their fees carry their own EUR
		// value; non-EUR fiat is converted like any other asset.
		rate := decimal.NewFromInt(1)
		if asset != "EUR" {
			r, err := n.prices.Resolve(ctx, asset, rec.Time())
			if err != nil {
				return nil, fmt.Errorf("valuing fiat %s: %w", asset, err)
			}
			rate = r
		}
		tx.AmountEUR = quantity.Mul(rate)
		tx.FeeEUR = rec.Fee.Mul(rate)
		return []models.NormalizedTransaction{tx}, nil
	}

	switch internalType {
	case models.TypeStakingReward, models.TypeLendingReward, models.TypeAirdrop,
		models.TypeSpend, models.TypeReceive, models.TypeSell, models.TypeBuy,
		models.TypeFeePayment:
		price, err := n.prices.Resolve(ctx, asset, rec.Time())
		if err != nil {
			return nil, fmt.Errorf("valuing %s: %w", asset, err)
		}
		tx.AmountEUR = quantity.Mul(price)
		if rec.Fee.IsPositive() {
			tx.FeeEUR = rec.Fee.Mul(price)
			tx.FeeAsset = asset
			tx.FeeQuantity = rec.Fee
		}
	case models.TypeWithdrawal, models.TypeDeposit:
		// The movement itself is not taxable, but an in-kind withdrawal fee
		// consumes holdings and is disposed at market value.
		if rec.Fee.IsPositive() {
			price, err := n.prices.Resolve(ctx, asset, rec.Time())
			if err != nil {
				return nil, fmt.Errorf("valuing %s withdrawal fee: %w", asset, err)
			}
			tx.FeeEUR = rec.Fee.Mul(price)
			tx.FeeAsset = asset
			tx.FeeQuantity = rec.Fee
		}
	case models.TypeMargin, models.TypeSettled:
		tx.Notes = append(tx.Notes, "margin or settlement activity")
	case models.TypeUnknown:
		tx.Notes = append(tx.Notes, fmt.Sprintf("unrecognized ledger type %q", rec.Type))
	}

	return []models.NormalizedTransaction{tx}, nil
}
