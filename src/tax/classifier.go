package tax

import (
	"fmt"

	"github.com/username/kryptofolio/src/models"
)

// Classifier turns matched disposals and income events into report entries
// and aggregates them for one tax year.
type Classifier struct {
	year int
}

func NewClassifier(year int) *Classifier {
	return &Classifier{year: year}
}

// DisposalEntry builds the report entry for one matched disposal. Taxability
// is decided per matched lot: only lots held 365 days or less contribute to
// the taxable amount, and a lot acquired after the disposal (negative
// holding period) counts as a zero-day holding and stays taxable.
func (c *Classifier) DisposalEntry(d models.DisposalResult) models.TaxReportEntry {
	entry := models.TaxReportEntry{
		RefID:     d.RefID,
		Date:      d.Time(),
		Asset:     d.Asset,
		Category:  models.CategoryPrivateSale,
		Quantity:  d.Quantity,
		AmountEUR: d.GainLossEUR,
		Matches:   d.Matches,
		Notes:     append([]string(nil), d.Notes...),
	}

	taxableMatches, exemptMatches := 0, 0
	minDays, haveDays := 0, false
	for _, m := range d.Matches {
		if IsHoldingExempt(m.HoldingDays) {
			exemptMatches++
		} else {
			taxableMatches++
		}
		if !haveDays || m.HoldingDays < minDays {
			minDays = m.HoldingDays
			haveDays = true
		}
		if m.HoldingDays < 0 {
			entry.Notes = append(entry.Notes, fmt.Sprintf("lot %s acquired after this disposal, treated as zero-day holding; review manually", m.LotRefID))
		}
	}
	entry.HoldingDays = minDays

	switch {
	case taxableMatches == 0 && exemptMatches > 0:
		entry.Taxable = false
		entry.TaxReason = "all matched lots held longer than one year"
	case exemptMatches == 0:
		entry.Taxable = true
		entry.TaxReason = "matched lots held one year or less"
	default:
		entry.Taxable = true
		entry.TaxReason = "partially exempt: some matched lots held longer than one year"
	}

	if d.Unresolved {
		entry.Notes = append(entry.Notes, fmt.Sprintf("unresolved shortfall of %s excluded from totals", d.ShortfallQuantity.String()))
	}
	return entry
}

// IncomeEntry builds the report entry for a reward or airdrop valued at
// receipt. The Freigrenze verdict is applied during aggregation, not here.
func (c *Classifier) IncomeEntry(tx models.NormalizedTransaction) models.TaxReportEntry {
	return models.TaxReportEntry{
		RefID:     tx.RefID,
		Date:      tx.Time(),
		Asset:     tx.Asset,
		Category:  Categorize(tx.InternalType),
		Quantity:  tx.Quantity,
		AmountEUR: tx.AmountEUR,
		Taxable:   true,
		TaxReason: "reward valued at market price on receipt",
		Notes:     append([]string(nil), tx.Notes...),
	}
}

// FlaggedEntry builds a non-taxable entry for activity the calculator does
// not model (margin, settlements). Excluded from totals but visible in the
// report.
func (c *Classifier) FlaggedEntry(tx models.NormalizedTransaction, reason string) models.TaxReportEntry {
	return models.TaxReportEntry{
		RefID:     tx.RefID,
		Date:      tx.Time(),
		Asset:     tx.Asset,
		Category:  Categorize(tx.InternalType),
		Quantity:  tx.Quantity,
		Taxable:   false,
		TaxReason: reason,
		Notes:     append(append([]string(nil), tx.Notes...), "excluded from totals; review manually"),
	}
}

// Aggregate reduces the entries dated in the classifier's tax year into the
// annual summary. The Freigrenze is a cliff: a net at or under the threshold
// leaves nothing taxable, one cent above makes the entire net taxable.
func (c *Classifier) Aggregate(entries []models.TaxReportEntry) models.AggregatedTaxSummary {
	summary := models.AggregatedTaxSummary{
		TaxYear:                c.year,
		FreigrenzePrivateSales: FreigrenzePrivateSales(c.year),
		FreigrenzeOtherIncome:  FreigrenzeOtherIncome(),
	}

	for _, entry := range entries {
		if entry.Date.Year() != c.year {
			continue
		}

		switch entry.Category {
		case models.CategoryPrivateSale:
			// Only lots inside the one-year window count; exempt lots
			// contribute neither gains nor losses.
			for _, m := range entry.Matches {
				if IsHoldingExempt(m.HoldingDays) {
					continue
				}
				if m.GainLossEUR.IsNegative() {
					summary.TotalPrivateSaleLosses = summary.TotalPrivateSaleLosses.Add(m.GainLossEUR)
				} else {
					summary.TotalPrivateSaleGains = summary.TotalPrivateSaleGains.Add(m.GainLossEUR)
				}
			}
		case models.CategoryOtherIncome:
			summary.TotalOtherIncome = summary.TotalOtherIncome.Add(entry.AmountEUR)
		}
	}

	summary.NetPrivateSales = summary.TotalPrivateSaleGains.Add(summary.TotalPrivateSaleLosses)
	summary.PrivateSalesTaxable = summary.NetPrivateSales.GreaterThan(summary.FreigrenzePrivateSales)
	summary.OtherIncomeTaxable = summary.TotalOtherIncome.GreaterThan(summary.FreigrenzeOtherIncome)

	if !summary.PrivateSalesTaxable && summary.NetPrivateSales.IsPositive() {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("net private sale gains of %s EUR stay under the %s EUR Freigrenze, not taxable", summary.NetPrivateSales.StringFixed(2), summary.FreigrenzePrivateSales.StringFixed(2)))
	}
	return summary
}
