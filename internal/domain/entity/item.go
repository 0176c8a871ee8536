package entity

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Confidence field names reported by the vision extractor.
const (
	FieldName      = "name"
	FieldQuantity  = "quantity"
	FieldUnitPrice = "unit_price"
)

// FieldsPerItem is the number of confidence-scored field slots each item
// carries (name, quantity, unit price).
const FieldsPerItem = 3

// Item is a single line item extracted from the receipt. Items are immutable
// once extraction completes; construct them through NewItem so quantization
// and range checks happen exactly once.
type Item struct {
	Name       string
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	Confidence map[string]float64
}

// NewItem validates and builds an Item. The unit price is quantized to
// currency precision (2 decimal places, half-up) to match what receipts print.
func NewItem(name string, quantity, unitPrice decimal.Decimal, confidence map[string]float64) (Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, fmt.Errorf("item name must be non-empty")
	}
	if quantity.Sign() <= 0 {
		return Item{}, fmt.Errorf("item %q: quantity must be strictly positive, got %s", name, quantity)
	}
	if unitPrice.Sign() < 0 {
		return Item{}, fmt.Errorf("item %q: unit price must be non-negative, got %s", name, unitPrice)
	}
	for field, score := range confidence {
		if score < 0 || score > 1 {
			return Item{}, fmt.Errorf("item %q: confidence for %s must be in [0,1], got %v", name, field, score)
		}
	}
	return Item{
		Name:       name,
		Quantity:   quantity,
		UnitPrice:  unitPrice.Round(2),
		Confidence: confidence,
	}, nil
}

// LineTotal is quantity x unit price at currency precision.
func (i Item) LineTotal() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice).Round(2)
}
