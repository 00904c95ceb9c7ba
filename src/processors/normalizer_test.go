package processors

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/kryptofolio/src/models"
	"github.com/username/kryptofolio/src/pricing"
)

type fakePrices struct {
	prices map[string]string
}

func (f *fakePrices) Resolve(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error) {
	if raw, ok := f.prices[asset]; ok {
		return decimal.RequireFromString(raw), nil
	}
	return decimal.Decimal{}, pricing.ErrUnavailable
}

func newNormalizer(prices map[string]string) *Normalizer {
	return NewNormalizer(&fakePrices{prices: prices})
}

func TestNormalizeEURTrade(t *testing.T) {
	n := newNormalizer(nil)
	rec := models.RawTransactionRecord{
		RefID:     "T1",
		Kind:      models.KindTrade,
		Type:      "buy",
		Pair:      "XXBTZEUR",
		Quantity:  decimal.RequireFromString("0.5"),
		Price:     decimal.RequireFromString("20000"),
		Cost:      decimal.RequireFromString("10000"),
		Fee:       decimal.RequireFromString("26"),
		Timestamp: 1650000000,
	}

	txs, skipped, err := n.Normalize(context.Background(), []models.RawTransactionRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "BTC", tx.Asset)
	assert.Equal(t, models.TypeBuy, tx.InternalType)
	assert.True(t, tx.AmountEUR.Equal(decimal.RequireFromString("10000")))
	assert.True(t, tx.FeeEUR.Equal(decimal.RequireFromString("26")))
	assert.Equal(t, "EUR", tx.FeeAsset)
}

func TestNormalizeCryptoToCryptoTradeEmitsBothLegs(t *testing.T) {
	n := newNormalizer(map[string]string{"ETH": "2000"})
	rec := models.RawTransactionRecord{
		RefID:     "T2",
		Kind:      models.KindTrade,
		Type:      "buy",
		Pair:      "ADAXETH", // buy ADA paying with ETH
		Quantity:  decimal.RequireFromString("1000"),
		Cost:      decimal.RequireFromString("0.25"),
		Timestamp: 1650000000,
	}

	txs, skipped, err := n.Normalize(context.Background(), []models.RawTransactionRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, txs, 2)

	assert.Equal(t, "ADA", txs[0].Asset)
	assert.Equal(t, models.TypeBuy, txs[0].InternalType)
	assert.True(t, txs[0].AmountEUR.Equal(decimal.RequireFromString("500")), "got %s", txs[0].AmountEUR)

	assert.Equal(t, "ETH", txs[1].Asset)
	assert.Equal(t, models.TypeSpend, txs[1].InternalType)
	assert.True(t, txs[1].Quantity.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, txs[1].AmountEUR.Equal(decimal.RequireFromString("500")))
}

func TestNormalizeStakingReward(t *testing.T) {
	n := newNormalizer(map[string]string{"DOT": "8"})
	rec := models.RawTransactionRecord{
		RefID:     "L1",
		Kind:      models.KindLedger,
		Type:      "staking",
		Asset:     "DOT28.S",
		Quantity:  decimal.RequireFromString("2.5"),
		Timestamp: 1650000000,
	}

	txs, skipped, err := n.Normalize(context.Background(), []models.RawTransactionRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, txs, 1)

	assert.Equal(t, "DOT", txs[0].Asset)
	assert.Equal(t, models.TypeStakingReward, txs[0].InternalType)
	assert.True(t, txs[0].AmountEUR.Equal(decimal.RequireFromString("20")))
}

func TestNormalizeDropsTransfersAndLedgerTrades(t *testing.T) {
	n := newNormalizer(nil)
	records := []models.RawTransactionRecord{
		{RefID: "L1", Kind: models.KindLedger, Type: "transfer", Subtype: "spottostaking", Asset: "DOT", Quantity: decimal.RequireFromString("5"), Timestamp: 1650000000},
		{RefID: "L2", Kind: models.KindLedger, Type: "trade", Asset: "XXBT", Quantity: decimal.RequireFromString("0.1"), Timestamp: 1650000000},
	}

	txs, skipped, err := n.Normalize(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Empty(t, txs)
}

func TestNormalizeDropsFiatSpendAndFees(t *testing.T) {
	n := newNormalizer(nil)
	records := []models.RawTransactionRecord{
		{RefID: "L1", Kind: models.KindLedger, Type: "spend", Asset: "ZEUR", Quantity: decimal.RequireFromString("-50"), Timestamp: 1650000000},
		{RefID: "L2", Kind: models.KindLedger, Type: "receive", Asset: "ZEUR", Quantity: decimal.RequireFromString("120"), Timestamp: 1650000000},
		{RefID: "L3", Kind: models.KindLedger, Type: "fee", Asset: "ZEUR", Quantity: decimal.RequireFromString("-1.5"), Timestamp: 1650000000},
	}

	txs, skipped, err := n.Normalize(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Empty(t, txs, "fiat purchase legs and fiat fees are not taxable events")
}

func TestNormalizeSkipsRecordWithoutPrice(t *testing.T) {
	n := newNormalizer(map[string]string{"DOT": "8"})
	records := []models.RawTransactionRecord{
		{RefID: "L1", Kind: models.KindLedger, Type: "staking", Asset: "OBSCURE", Quantity: decimal.RequireFromString("1"), Timestamp: 1650000000},
		{RefID: "L2", Kind: models.KindLedger, Type: "staking", Asset: "DOT", Quantity: decimal.RequireFromString("1"), Timestamp: 1650000000},
	}

	txs, skipped, err := n.Normalize(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "L1", skipped[0].RefID)
	require.Len(t, txs, 1)
	assert.Equal(t, "L2", txs[0].RefID)
}

func TestNormalizeWithdrawalKeepsInKindFee(t *testing.T) {
	n := newNormalizer(map[string]string{"BTC": "30000"})
	rec := models.RawTransactionRecord{
		RefID:     "L1",
		Kind:      models.KindLedger,
		Type:      "withdrawal",
		Asset:     "XXBT",
		Quantity:  decimal.RequireFromString("-0.5"),
		Fee:       decimal.RequireFromString("0.0005"),
		FeeAsset:  "XXBT",
		Timestamp: 1650000000,
	}

	txs, skipped, err := n.Normalize(context.Background(), []models.RawTransactionRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, models.TypeWithdrawal, tx.InternalType)
	assert.True(t, tx.AmountEUR.IsZero(), "the withdrawal itself is not valued")
	assert.True(t, tx.FeeEUR.Equal(decimal.RequireFromString("15")))
	assert.Equal(t, "BTC", tx.FeeAsset)
	assert.True(t, tx.FeeQuantity.Equal(decimal.RequireFromString("0.0005")))
}

func TestNormalizeFiatDeposit(t *testing.T) {
	n := newNormalizer(nil)
	rec := models.RawTransactionRecord{
		RefID:     "L1",
		Kind:      models.KindLedger,
		Type:      "deposit",
		Asset:     "ZEUR",
		Quantity:  decimal.RequireFromString("1000"),
		Timestamp: 1650000000,
	}

	txs, skipped, err := n.Normalize(context.Background(), []models.RawTransactionRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, txs, 1)
	assert.Equal(t, "EUR", txs[0].Asset)
	assert.Equal(t, models.TypeDeposit, txs[0].InternalType)
	assert.True(t, txs[0].AmountEUR.Equal(decimal.RequireFromString("1000")))
}
