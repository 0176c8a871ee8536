package entity

import "github.com/shopspring/decimal"

// ItemCost is one line of a participant's breakdown: their share of a single
// receipt item.
type ItemCost struct {
	ItemIndex       int             `json:"item_index"`
	ItemName        string          `json:"item_name"`
	ItemPrice       decimal.Decimal `json:"item_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	SharePercentage decimal.Decimal `json:"share_percentage"`
	Cost            decimal.Decimal `json:"cost"`
}

// ParticipantCost is the derived, itemized amount one participant owes.
// It is recomputed fresh on every successful allocation and never mutated.
type ParticipantCost struct {
	Participant string          `json:"participant"`
	ItemCosts   []ItemCost      `json:"item_costs"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxShare    decimal.Decimal `json:"tax_share"`
	TipShare    decimal.Decimal `json:"tip_share"`
	FeesShare   decimal.Decimal `json:"fees_share"`
	TotalOwed   decimal.Decimal `json:"total_owed"`
}
