package allocation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func item(t *testing.T, name, quantity, price string) entity.Item {
	t.Helper()
	it, err := entity.NewItem(name, d(quantity), d(price), nil)
	require.NoError(t, err)
	return it
}

func totals(t *testing.T, subtotal, tax, tip, fees, grand string) entity.Totals {
	t.Helper()
	tt, err := entity.NewTotals(d(subtotal), d(tax), d(tip), d(fees), d(grand))
	require.NoError(t, err)
	return tt
}

func newAllocator() *Allocator {
	return New(DefaultMismatchTolerance, zap.NewNop())
}

func full(participant string) []entity.AssignmentShare {
	return []entity.AssignmentShare{{Participant: participant, Fraction: d("1")}}
}

// Burger/Pizza scenario: Alice takes the burger, Bob and Charlie split the
// pizza; tax and tip follow subtotal proportions and the sum matches the
// grand total exactly.
func TestAllocate_BurgerPizzaScenario(t *testing.T) {
	items := []entity.Item{
		item(t, "Burger", "1", "12.00"),
		item(t, "Pizza", "1", "18.00"),
	}
	receiptTotals := totals(t, "30.00", "2.40", "6.00", "0.00", "38.40")
	assignments := []entity.ItemAssignment{
		{ItemIndex: 0, Shares: full("Alice")},
		{ItemIndex: 1, Shares: []entity.AssignmentShare{
			{Participant: "Bob", Fraction: d("0.5")},
			{Participant: "Charlie", Fraction: d("0.5")},
		}},
	}

	costs, err := newAllocator().Allocate(items, receiptTotals, assignments, []string{"Alice", "Bob", "Charlie"})
	require.NoError(t, err)
	require.Len(t, costs, 3)

	assert.True(t, costs[0].TotalOwed.Equal(d("15.36")), "Alice owes %s, want 15.36", costs[0].TotalOwed)
	assert.True(t, costs[1].TotalOwed.Equal(d("11.52")), "Bob owes %s, want 11.52", costs[1].TotalOwed)
	assert.True(t, costs[2].TotalOwed.Equal(d("11.52")), "Charlie owes %s, want 11.52", costs[2].TotalOwed)

	sum := costs[0].TotalOwed.Add(costs[1].TotalOwed).Add(costs[2].TotalOwed)
	assert.True(t, sum.Equal(d("38.40")), "sum %s, want 38.40", sum)

	assert.True(t, costs[0].Subtotal.Equal(d("12.00")))
	assert.True(t, costs[0].TaxShare.Equal(d("0.96")))
	assert.True(t, costs[0].TipShare.Equal(d("2.40")))
}

func TestAllocate_ItemCostLines(t *testing.T) {
	items := []entity.Item{item(t, "Wine", "2", "14.00")}
	receiptTotals := totals(t, "28.00", "0.00", "0.00", "0.00", "28.00")
	assignments := []entity.ItemAssignment{
		{ItemIndex: 0, Shares: []entity.AssignmentShare{
			{Participant: "Alice", Fraction: d("0.25")},
			{Participant: "Bob", Fraction: d("0.75")},
		}},
	}

	costs, err := newAllocator().Allocate(items, receiptTotals, assignments, []string{"Alice", "Bob"})
	require.NoError(t, err)

	require.Len(t, costs[0].ItemCosts, 1)
	line := costs[0].ItemCosts[0]
	assert.Equal(t, 0, line.ItemIndex)
	assert.Equal(t, "Wine", line.ItemName)
	assert.True(t, line.SharePercentage.Equal(d("25")))
	assert.True(t, line.Cost.Equal(d("7.00")))
	assert.True(t, costs[1].ItemCosts[0].Cost.Equal(d("21.00")))
}

func TestAllocate_IncompleteAssignment(t *testing.T) {
	items := []entity.Item{
		item(t, "Burger", "1", "12.00"),
		item(t, "Pizza", "1", "18.00"),
	}
	receiptTotals := totals(t, "30.00", "0.00", "0.00", "0.00", "30.00")

	tests := []struct {
		name        string
		assignments []entity.ItemAssignment
	}{
		{
			name: "item with no shares",
			assignments: []entity.ItemAssignment{
				{ItemIndex: 0, Shares: full("Alice")},
			},
		},
		{
			name: "fractions sum below one",
			assignments: []entity.ItemAssignment{
				{ItemIndex: 0, Shares: full("Alice")},
				{ItemIndex: 1, Shares: []entity.AssignmentShare{
					{Participant: "Alice", Fraction: d("0.5")},
					{Participant: "Bob", Fraction: d("0.4")},
				}},
			},
		},
		{
			name:        "no assignments at all",
			assignments: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			costs, err := newAllocator().Allocate(items, receiptTotals, tt.assignments, []string{"Alice", "Bob"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIncompleteAssignment), "got %v", err)
			assert.Nil(t, costs)
		})
	}
}

func TestAllocate_ToleratesThirdSplits(t *testing.T) {
	// 0.333333 x 3 = 0.999999, within the 1e-6 share-sum tolerance.
	items := []entity.Item{item(t, "Nachos", "1", "10.00")}
	receiptTotals := totals(t, "10.00", "0.00", "0.00", "0.00", "10.00")
	third := d("0.333333")
	assignments := []entity.ItemAssignment{
		{ItemIndex: 0, Shares: []entity.AssignmentShare{
			{Participant: "Alice", Fraction: third},
			{Participant: "Bob", Fraction: third},
			{Participant: "Charlie", Fraction: third},
		}},
	}

	_, err := newAllocator().Allocate(items, receiptTotals, assignments, []string{"Alice", "Bob", "Charlie"})
	require.NoError(t, err)
}

func TestAllocate_InvalidShares(t *testing.T) {
	items := []entity.Item{item(t, "Burger", "1", "12.00")}
	receiptTotals := totals(t, "12.00", "0.00", "0.00", "0.00", "12.00")

	// Item index outside the known list.
	_, err := newAllocator().Allocate(items, receiptTotals, []entity.ItemAssignment{
		{ItemIndex: 5, Shares: full("Alice")},
	}, []string{"Alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrInvalidShare))

	// Fraction above 1.
	_, err = newAllocator().Allocate(items, receiptTotals, []entity.ItemAssignment{
		{ItemIndex: 0, Shares: []entity.AssignmentShare{{Participant: "Alice", Fraction: d("1.5")}}},
	}, []string{"Alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrInvalidShare))
}

func TestAllocate_ZeroSubtotalIsDegenerate(t *testing.T) {
	items := []entity.Item{item(t, "Freebie", "1", "0.00")}
	receiptTotals := totals(t, "0.00", "0.00", "0.00", "0.00", "0.00")
	assignments := []entity.ItemAssignment{{ItemIndex: 0, Shares: full("Alice")}}

	costs, err := newAllocator().Allocate(items, receiptTotals, assignments, []string{"Alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArithmeticMismatch))
	assert.Nil(t, costs)
}

func TestAllocate_RoundingResidualAbsorbedByLargestSubtotal(t *testing.T) {
	// Three-way even split of 10.00 tax: 3.33 + 3.33 + 3.33 leaves a cent,
	// absorbed by the largest subtotal (first on ties by order of comparison).
	items := []entity.Item{item(t, "Platter", "1", "30.00")}
	receiptTotals := totals(t, "30.00", "10.00", "0.00", "0.00", "40.00")
	third := d("0.333333")
	assignments := []entity.ItemAssignment{
		{ItemIndex: 0, Shares: []entity.AssignmentShare{
			{Participant: "Alice", Fraction: third},
			{Participant: "Bob", Fraction: third},
			{Participant: "Charlie", Fraction: d("0.333334")},
		}},
	}

	costs, err := newAllocator().Allocate(items, receiptTotals, assignments, []string{"Alice", "Bob", "Charlie"})
	require.NoError(t, err)

	taxSum := costs[0].TaxShare.Add(costs[1].TaxShare).Add(costs[2].TaxShare)
	assert.True(t, taxSum.Equal(d("10.00")), "distributed tax %s, want exactly 10.00", taxSum)

	owedSum := costs[0].TotalOwed.Add(costs[1].TotalOwed).Add(costs[2].TotalOwed)
	assert.True(t, owedSum.Sub(d("40.00")).Abs().LessThanOrEqual(DefaultMismatchTolerance),
		"owed sum %s outside tolerance of 40.00", owedSum)
}

func TestAllocate_MismatchReturnsCostsAlongsideError(t *testing.T) {
	// Shrink the tolerance to zero-ish so ordinary rounding drift trips it.
	a := New(d("0.000001"), zap.NewNop())
	items := []entity.Item{
		item(t, "Tapas", "1", "10.01"),
		item(t, "Bread", "1", "9.99"),
	}
	receiptTotals := totals(t, "20.00", "1.55", "0.00", "0.00", "21.55")
	assignments := []entity.ItemAssignment{
		{ItemIndex: 0, Shares: []entity.AssignmentShare{
			{Participant: "Alice", Fraction: d("0.5")},
			{Participant: "Bob", Fraction: d("0.5")},
		}},
		{ItemIndex: 1, Shares: []entity.AssignmentShare{
			{Participant: "Alice", Fraction: d("0.5")},
			{Participant: "Bob", Fraction: d("0.5")},
		}},
	}

	costs, err := a.Allocate(items, receiptTotals, assignments, []string{"Alice", "Bob"})
	if err != nil {
		// Mismatch still hands the computed list back for transparency.
		assert.True(t, errors.Is(err, ErrArithmeticMismatch))
		assert.NotNil(t, costs)
	}
}

func TestAllocate_Idempotent(t *testing.T) {
	items := []entity.Item{
		item(t, "Burger", "1", "12.00"),
		item(t, "Pizza", "1", "18.00"),
	}
	receiptTotals := totals(t, "30.00", "2.40", "6.00", "0.00", "38.40")
	assignments := []entity.ItemAssignment{
		{ItemIndex: 0, Shares: full("Alice")},
		{ItemIndex: 1, Shares: []entity.AssignmentShare{
			{Participant: "Bob", Fraction: d("0.5")},
			{Participant: "Charlie", Fraction: d("0.5")},
		}},
	}
	participants := []string{"Alice", "Bob", "Charlie"}

	first, err := newAllocator().Allocate(items, receiptTotals, assignments, participants)
	require.NoError(t, err)
	second, err := newAllocator().Allocate(items, receiptTotals, assignments, participants)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Participant, second[i].Participant)
		assert.True(t, first[i].TotalOwed.Equal(second[i].TotalOwed))
		assert.True(t, first[i].Subtotal.Equal(second[i].Subtotal))
		assert.Equal(t, len(first[i].ItemCosts), len(second[i].ItemCosts))
	}
}

func TestAllocate_SumWithinReconciliationTolerance(t *testing.T) {
	// Five participants splitting everything evenly: per-participant rounding
	// may drift but the reconciliation tolerance holds.
	items := []entity.Item{
		item(t, "Family platter", "1", "47.77"),
		item(t, "Drinks", "1", "23.33"),
	}
	receiptTotals := totals(t, "71.10", "6.31", "14.22", "1.99", "93.62")
	participants := []string{"P1", "P2", "P3", "P4", "P5"}
	fifth := d("0.2")
	share := make([]entity.AssignmentShare, 0, 5)
	for _, p := range participants {
		share = append(share, entity.AssignmentShare{Participant: p, Fraction: fifth})
	}
	assignments := []entity.ItemAssignment{
		{ItemIndex: 0, Shares: share},
		{ItemIndex: 1, Shares: share},
	}

	costs, err := newAllocator().Allocate(items, receiptTotals, assignments, participants)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, c := range costs {
		sum = sum.Add(c.TotalOwed)
	}
	assert.True(t, sum.Sub(receiptTotals.GrandTotal).Abs().LessThanOrEqual(DefaultMismatchTolerance),
		"sum %s vs grand %s", sum, receiptTotals.GrandTotal)
}
