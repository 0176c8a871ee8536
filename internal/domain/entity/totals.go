package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals holds the receipt-level amounts. The grand total must equal the sum
// of the other four components exactly; NewTotals enforces this at creation
// so a Totals value in flight is always internally consistent.
type Totals struct {
	Subtotal   decimal.Decimal
	TaxTotal   decimal.Decimal
	TipTotal   decimal.Decimal
	FeesTotal  decimal.Decimal
	GrandTotal decimal.Decimal
}

// NewTotals validates and builds a Totals value. All amounts are quantized to
// 2 decimal places (half-up) before the identity check.
func NewTotals(subtotal, taxTotal, tipTotal, feesTotal, grandTotal decimal.Decimal) (Totals, error) {
	t := Totals{
		Subtotal:   subtotal.Round(2),
		TaxTotal:   taxTotal.Round(2),
		TipTotal:   tipTotal.Round(2),
		FeesTotal:  feesTotal.Round(2),
		GrandTotal: grandTotal.Round(2),
	}
	for name, v := range map[string]decimal.Decimal{
		"subtotal":    t.Subtotal,
		"tax_total":   t.TaxTotal,
		"tip_total":   t.TipTotal,
		"fees_total":  t.FeesTotal,
		"grand_total": t.GrandTotal,
	} {
		if v.Sign() < 0 {
			return Totals{}, fmt.Errorf("%s must be non-negative, got %s", name, v)
		}
	}
	expected := t.Subtotal.Add(t.TaxTotal).Add(t.TipTotal).Add(t.FeesTotal)
	if !t.GrandTotal.Equal(expected) {
		return Totals{}, fmt.Errorf("grand_total (%s) must equal subtotal + tax_total + tip_total + fees_total (%s)",
			t.GrandTotal, expected)
	}
	return t, nil
}
