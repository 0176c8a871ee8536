// Package allocation implements the proportional cost-allocation engine:
// per-item fractional shares in, currency-exact per-participant totals out,
// with proportional tax/tip/fee distribution and a reconciliation check
// against the receipt's stated grand total.
package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

var (
	// ErrIncompleteAssignment is returned when an item has no shares or its
	// fractions do not sum to 1 within tolerance. Recoverable: the round
	// re-prompts for clarification.
	ErrIncompleteAssignment = errors.New("incomplete assignment")

	// ErrArithmeticMismatch is returned when the summed participant totals
	// drift from the receipt grand total beyond tolerance, or the receipt is
	// degenerate (zero subtotal with non-zero extras). When results could
	// still be computed they are returned alongside the error so the caller
	// can show them with a discrepancy flag.
	ErrArithmeticMismatch = errors.New("arithmetic mismatch")
)

// DefaultMismatchTolerance is the allowed absolute discrepancy between the
// sum of participant totals and the receipt grand total, in currency units.
// It accounts for per-participant rounding drift.
var DefaultMismatchTolerance = decimal.NewFromFloat(0.06)

// Allocator computes per-participant costs. It is stateless and safe for
// concurrent use.
type Allocator struct {
	mismatchTolerance decimal.Decimal
	logger            *zap.Logger
}

// New creates an Allocator. A non-positive tolerance falls back to the
// default.
func New(mismatchTolerance decimal.Decimal, logger *zap.Logger) *Allocator {
	if mismatchTolerance.Sign() <= 0 {
		mismatchTolerance = DefaultMismatchTolerance
	}
	return &Allocator{
		mismatchTolerance: mismatchTolerance,
		logger:            logger,
	}
}

// Allocate produces the itemized amount each participant owes.
//
// The computation is deterministic: output order follows the participant
// list, item cost lines follow item index order, and re-running on unchanged
// input yields identical results.
//
// On a reconciliation failure the computed costs are returned together with
// ErrArithmeticMismatch; every other error returns nil costs.
func (a *Allocator) Allocate(
	items []entity.Item,
	totals entity.Totals,
	assignments []entity.ItemAssignment,
	participants []string,
) ([]entity.ParticipantCost, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrIncompleteAssignment)
	}
	if err := entity.ValidateParticipants(participants); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidShare, err)
	}
	if err := entity.ValidateShares(assignments, len(items), participants); err != nil {
		return nil, err
	}
	if err := checkComplete(assignments, len(items)); err != nil {
		return nil, err
	}

	costs := a.itemCosts(items, assignments, participants)

	if err := a.distributeExtras(costs, totals); err != nil {
		return nil, err
	}

	for i := range costs {
		costs[i].TotalOwed = costs[i].Subtotal.
			Add(costs[i].TaxShare).
			Add(costs[i].TipShare).
			Add(costs[i].FeesShare).
			Round(2)
	}

	return costs, a.reconcile(costs, totals)
}

// checkComplete verifies every item carries shares summing to 1 within
// tolerance. During an in-progress interview assignments may be partial;
// allocation only runs against a completed set.
func checkComplete(assignments []entity.ItemAssignment, itemCount int) error {
	sums := make(map[int]decimal.Decimal, itemCount)
	for _, assignment := range assignments {
		sums[assignment.ItemIndex] = sums[assignment.ItemIndex].Add(assignment.FractionSum())
	}
	one := decimal.NewFromInt(1)
	for idx := 0; idx < itemCount; idx++ {
		sum, ok := sums[idx]
		if !ok {
			return fmt.Errorf("%w: item %d has no assignments", ErrIncompleteAssignment, idx)
		}
		if sum.Sub(one).Abs().GreaterThan(entity.ShareSumTolerance) {
			return fmt.Errorf("%w: item %d fractions sum to %s, want 1", ErrIncompleteAssignment, idx, sum)
		}
	}
	return nil
}

// itemCosts computes each participant's share of every assigned item.
func (a *Allocator) itemCosts(
	items []entity.Item,
	assignments []entity.ItemAssignment,
	participants []string,
) []entity.ParticipantCost {
	costs := make([]entity.ParticipantCost, len(participants))
	index := make(map[string]int, len(participants))
	for i, p := range participants {
		costs[i] = entity.ParticipantCost{
			Participant: p,
			Subtotal:    decimal.Zero,
			TaxShare:    decimal.Zero,
			TipShare:    decimal.Zero,
			FeesShare:   decimal.Zero,
			TotalOwed:   decimal.Zero,
		}
		index[p] = i
	}

	for _, assignment := range assignments {
		item := items[assignment.ItemIndex]
		lineTotal := item.LineTotal()
		for _, share := range assignment.Shares {
			i := index[share.Participant]
			cost := lineTotal.Mul(share.Fraction).Round(2)
			costs[i].ItemCosts = append(costs[i].ItemCosts, entity.ItemCost{
				ItemIndex:       assignment.ItemIndex,
				ItemName:        item.Name,
				ItemPrice:       item.UnitPrice,
				Quantity:        item.Quantity,
				SharePercentage: share.Fraction.Mul(decimal.NewFromInt(100)),
				Cost:            cost,
			})
			costs[i].Subtotal = costs[i].Subtotal.Add(cost)
		}
	}
	return costs
}

// distributeExtras spreads tax, tip, and fees across participants in
// proportion to their subtotal share of the receipt's stated subtotal, then
// absorbs the residual cents left by rounding into the participant with the
// largest subtotal so each pool sums exactly.
func (a *Allocator) distributeExtras(costs []entity.ParticipantCost, totals entity.Totals) error {
	if totals.Subtotal.Sign() == 0 {
		// Degenerate receipt: no subtotal to apportion against.
		return fmt.Errorf("%w: receipt subtotal is zero, cannot distribute tax/tip/fees proportionally",
			ErrArithmeticMismatch)
	}

	for i := range costs {
		proportion := costs[i].Subtotal.Div(totals.Subtotal)
		costs[i].TaxShare = totals.TaxTotal.Mul(proportion).Round(2)
		costs[i].TipShare = totals.TipTotal.Mul(proportion).Round(2)
		costs[i].FeesShare = totals.FeesTotal.Mul(proportion).Round(2)
	}

	largest := 0
	for i := range costs {
		if costs[i].Subtotal.GreaterThan(costs[largest].Subtotal) {
			largest = i
		}
	}

	var taxSum, tipSum, feesSum decimal.Decimal
	for i := range costs {
		taxSum = taxSum.Add(costs[i].TaxShare)
		tipSum = tipSum.Add(costs[i].TipShare)
		feesSum = feesSum.Add(costs[i].FeesShare)
	}
	costs[largest].TaxShare = costs[largest].TaxShare.Add(totals.TaxTotal.Sub(taxSum))
	costs[largest].TipShare = costs[largest].TipShare.Add(totals.TipTotal.Sub(tipSum))
	costs[largest].FeesShare = costs[largest].FeesShare.Add(totals.FeesTotal.Sub(feesSum))
	return nil
}

// reconcile checks the summed participant totals against the receipt grand
// total. Exceeding tolerance is reported, not fatal: the computed costs are
// still returned to the caller.
func (a *Allocator) reconcile(costs []entity.ParticipantCost, totals entity.Totals) error {
	sum := decimal.Zero
	for i := range costs {
		sum = sum.Add(costs[i].TotalOwed)
	}
	difference := sum.Sub(totals.GrandTotal).Abs()
	if difference.GreaterThan(a.mismatchTolerance) {
		a.logger.Warn("Allocation does not reconcile with receipt grand total",
			zap.String("calculated", sum.String()),
			zap.String("grand_total", totals.GrandTotal.String()),
			zap.String("difference", difference.String()))
		return fmt.Errorf("%w: calculated %s vs receipt %s (difference %s)",
			ErrArithmeticMismatch, sum, totals.GrandTotal, difference)
	}

	a.logger.Debug("Allocation reconciled",
		zap.String("calculated", sum.String()),
		zap.String("difference", difference.String()))
	return nil
}
