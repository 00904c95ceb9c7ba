package tax

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/kryptofolio/src/models"
)

// Holding periods longer than one year are exempt under §23 EStG. Exactly
// 365 days is not "longer than one year".
const exemptionDays = 365

// Freigrenze thresholds. These are cliffs, not allowances: crossing the
// threshold makes the entire net amount taxable.
var (
	freigrenzePrivateSalesOld = decimal.NewFromInt(600)  // through 2023
	freigrenzePrivateSalesNew = decimal.NewFromInt(1000) // from 2024
	freigrenzeOtherIncome     = decimal.NewFromInt(256)
)

// FreigrenzePrivateSales returns the §23 threshold for a tax year.
func FreigrenzePrivateSales(year int) decimal.Decimal {
	if year >= 2024 {
		return freigrenzePrivateSalesNew
	}
	return freigrenzePrivateSalesOld
}

// FreigrenzeOtherIncome returns the §22 Nr. 3 threshold.
func FreigrenzeOtherIncome() decimal.Decimal {
	return freigrenzeOtherIncome
}

// IsHoldingExempt reports whether a holding period qualifies for the
// one-year exemption. Negative periods come from recovered lots acquired
// after the disposal; they are treated as a zero-day holding and stay
// taxable.
func IsHoldingExempt(holdingDays int) bool {
	return holdingDays > exemptionDays
}

// MapExchangeType converts the exchange's ledger type strings into the
// internal taxonomy.
func MapExchangeType(exchangeType, subtype string) models.InternalType {
	switch strings.ToLower(exchangeType) {
	case "buy":
		return models.TypeBuy
	case "sell":
		return models.TypeSell
	case "spend":
		return models.TypeSpend
	case "receive":
		return models.TypeReceive
	case "staking":
		return models.TypeStakingReward
	case "earn":
		// Earn ledger entries distinguish rewards from allocation moves.
		switch strings.ToLower(subtype) {
		case "reward":
			return models.TypeStakingReward
		case "migration", "allocation", "deallocation":
			return models.TypeTransfer
		default:
			return models.TypeStakingReward
		}
	case "dividend":
		return models.TypeLendingReward
	case "nfttrade", "airdrop":
		return models.TypeAirdrop
	case "deposit":
		return models.TypeDeposit
	case "withdrawal":
		return models.TypeWithdrawal
	case "transfer":
		// Covers spottostaking, stakingtospot and wallet moves alike: the
		// asset never leaves the taxpayer's control.
		return models.TypeTransfer
	case "margin", "rollover":
		return models.TypeMargin
	case "settled":
		return models.TypeSettled
	case "adjustment", "fee":
		return models.TypeFeePayment
	default:
		return models.TypeUnknown
	}
}

// IsAcquisition reports whether an internal type creates a holding lot.
func IsAcquisition(t models.InternalType) bool {
	switch t {
	case models.TypeBuy, models.TypeReceive, models.TypeStakingReward,
		models.TypeLendingReward, models.TypeAirdrop:
		return true
	}
	return false
}

// IsDisposal reports whether an internal type consumes holding lots.
func IsDisposal(t models.InternalType) bool {
	switch t {
	case models.TypeSell, models.TypeSpend, models.TypeFeePayment:
		return true
	}
	return false
}

// IsIncome reports whether an internal type is §22 Nr. 3 other income at
// receipt.
func IsIncome(t models.InternalType) bool {
	switch t {
	case models.TypeStakingReward, models.TypeLendingReward, models.TypeAirdrop:
		return true
	}
	return false
}

// Categorize routes an internal type into its tax bucket.
func Categorize(t models.InternalType) models.TaxCategory {
	switch {
	case t == models.TypeSell || t == models.TypeSpend:
		return models.CategoryPrivateSale
	case IsIncome(t):
		return models.CategoryOtherIncome
	case t == models.TypeFeePayment:
		return models.CategoryCostAdjustment
	default:
		return models.CategoryNonTaxable
	}
}
