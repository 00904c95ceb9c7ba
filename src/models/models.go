package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind separates the two Kraken history endpoints; each kind has its
// own cache table.
type RecordKind string

const (
	KindTrade  RecordKind = "trades"
	KindLedger RecordKind = "ledger"
)

// RawTransactionRecord is a single trade or ledger entry exactly as received
// from the exchange. Records are immutable once cached; re-fetching the same
// reference id is a no-op.
type RawTransactionRecord struct {
	RefID     string          `json:"refid"`
	Kind      RecordKind      `json:"kind"`
	Type      string          `json:"type"`    // exchange type string ("buy", "sell", "staking", ...)
	Subtype   string          `json:"subtype"` // exchange subtype, often empty
	Asset     string          `json:"asset"`   // exchange asset code ("XXBT", "ETH2.S", ...)
	Pair      string          `json:"pair"`    // trading pair for trades ("XXBTZEUR")
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // unit price in quote currency, trades only
	Cost      decimal.Decimal `json:"cost"`  // total in quote currency, trades only
	Fee       decimal.Decimal `json:"fee"`
	FeeAsset  string          `json:"fee_asset"`
	Timestamp int64           `json:"timestamp"`         // unix seconds, UTC
	Payload   json.RawMessage `json:"payload,omitempty"` // raw JSON as received, persisted verbatim
}

// Time returns the record timestamp as UTC time.
func (r RawTransactionRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// InternalType is the standardized transaction type the pipeline works with
// after classification.
type InternalType string

const (
	TypeBuy           InternalType = "BUY"
	TypeSell          InternalType = "SELL"
	TypeSpend         InternalType = "SPEND"
	TypeReceive       InternalType = "RECEIVE"
	TypeStakingReward InternalType = "STAKING_REWARD"
	TypeLendingReward InternalType = "LENDING_REWARD"
	TypeAirdrop       InternalType = "AIRDROP"
	TypeDeposit       InternalType = "DEPOSIT"
	TypeWithdrawal    InternalType = "WITHDRAWAL"
	TypeTransfer      InternalType = "TRANSFER_INTERNAL"
	TypeFeePayment    InternalType = "FEE_PAYMENT"
	TypeMargin        InternalType = "MARGIN"
	TypeSettled       InternalType = "SETTLED"
	TypeUnknown       InternalType = "UNKNOWN"
)

// TaxCategory is the German tax bucket an event falls into.
type TaxCategory string

const (
	CategoryPrivateSale    TaxCategory = "PRIVATE_SALE"    // §23 EStG
	CategoryOtherIncome    TaxCategory = "OTHER_INCOME"    // §22 Nr. 3 EStG
	CategoryNonTaxable     TaxCategory = "NON_TAXABLE"     // fiat movements, transfers
	CategoryCostAdjustment TaxCategory = "COST_ADJUSTMENT" // fees folded into cost basis
)

// NormalizedTransaction is the canonical view the ledger consumes: asset
// aliases collapsed, types classified, EUR values resolved.
type NormalizedTransaction struct {
	RefID        string
	Timestamp    int64
	Asset        string // canonical symbol, never an exchange alias
	InternalType InternalType
	Quantity     decimal.Decimal // always positive
	AmountEUR    decimal.Decimal // EUR value of the primary leg
	FeeEUR       decimal.Decimal
	FeeAsset     string          // canonical symbol when the fee was paid in kind
	FeeQuantity  decimal.Decimal // quantity of FeeAsset consumed by the fee
	Notes        []string
}

// Time returns the transaction timestamp as UTC time.
func (t NormalizedTransaction) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// HoldingLot is a discrete acquisition tracked by the FIFO ledger. Lots are
// never deleted; QuantityRemaining only decreases and a fully consumed lot
// stays in the queue for audit.
type HoldingLot struct {
	Asset             string
	OriginalQuantity  decimal.Decimal
	QuantityRemaining decimal.Decimal
	UnitCostEUR       decimal.Decimal // fee-inclusive cost per unit
	AcquiredAt        int64
	RefID             string
	Source            string // "trade", "staking", "recovery", ...
}

// AcquiredTime returns the acquisition timestamp as UTC time.
func (l HoldingLot) AcquiredTime() time.Time {
	return time.Unix(l.AcquiredAt, 0).UTC()
}

// MatchRecord is the result of matching part of a disposal against one lot.
type MatchRecord struct {
	DisposalRefID   string
	LotRefID        string
	QuantityMatched decimal.Decimal
	CostBasisEUR    decimal.Decimal
	ProceedsEUR     decimal.Decimal
	HoldingDays     int // signed: negative when the lot postdates the disposal
	GainLossEUR     decimal.Decimal
}

// DisposalResult groups the matches for one disposal. When the ledger cannot
// cover the full quantity even after recovery, Unresolved is set and the
// shortfall is reported; no matches are fabricated.
type DisposalResult struct {
	RefID             string
	Asset             string
	Timestamp         int64
	Quantity          decimal.Decimal
	UnitPriceEUR      decimal.Decimal
	Matches           []MatchRecord
	TotalProceedsEUR  decimal.Decimal
	TotalCostBasisEUR decimal.Decimal
	GainLossEUR       decimal.Decimal
	Unresolved        bool
	ShortfallQuantity decimal.Decimal
	Notes             []string
}

// Time returns the disposal timestamp as UTC time.
func (d DisposalResult) Time() time.Time {
	return time.Unix(d.Timestamp, 0).UTC()
}

// MatchedQuantity sums the quantity covered by the disposal's MatchRecords.
func (d DisposalResult) MatchedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, m := range d.Matches {
		total = total.Add(m.QuantityMatched)
	}
	return total
}

// TaxReportEntry is one taxable (or explicitly non-taxable) event for the
// report consumer.
type TaxReportEntry struct {
	RefID       string
	Date        time.Time
	Asset       string
	Category    TaxCategory
	Quantity    decimal.Decimal
	AmountEUR   decimal.Decimal // gain/loss for sales, received value for income
	HoldingDays int
	Taxable     bool
	TaxReason   string
	Matches     []MatchRecord
	Notes       []string
}

// AggregatedTaxSummary holds the final per-year totals and threshold
// verdicts.
type AggregatedTaxSummary struct {
	TaxYear int

	// §23 private sales
	TotalPrivateSaleGains  decimal.Decimal
	TotalPrivateSaleLosses decimal.Decimal // negative
	NetPrivateSales        decimal.Decimal
	FreigrenzePrivateSales decimal.Decimal
	PrivateSalesTaxable    bool

	// §22 Nr. 3 other income
	TotalOtherIncome      decimal.Decimal
	FreigrenzeOtherIncome decimal.Decimal
	OtherIncomeTaxable    bool

	Warnings []string
}

// SkippedRecord names a record rejected during a batch operation and why.
type SkippedRecord struct {
	RefID  string
	Reason string
}

// BatchResult reports a mixed-outcome batch: how many records were accepted
// and which were skipped. Callers decide whether a partial result is
// acceptable.
type BatchResult struct {
	Inserted int
	Skipped  []SkippedRecord
}
