package entity

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidShare marks a malformed share: a fraction outside [0,1], an item
// index outside the known item list, or an unknown participant. Invalid
// shares are a clarification failure, never a crash.
var ErrInvalidShare = errors.New("invalid share")

// ShareSumTolerance is the allowed deviation of a completed item's fraction
// sum from 1.
var ShareSumTolerance = decimal.New(1, -6) // 1e-6

// AssignmentShare attributes a fraction of one item's cost to a participant.
type AssignmentShare struct {
	Participant string
	Fraction    decimal.Decimal
}

// ItemAssignment is the full set of shares for one item, referenced by its
// positional index in the extracted item list.
type ItemAssignment struct {
	ItemIndex int
	Shares    []AssignmentShare
}

// FractionSum returns the sum of all share fractions for the item.
func (a ItemAssignment) FractionSum() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range a.Shares {
		sum = sum.Add(s.Fraction)
	}
	return sum
}

// ValidateShares checks that every assignment references a known item and a
// known participant, and that every fraction lies in [0,1]. Violations are
// reported as ErrInvalidShare.
func ValidateShares(assignments []ItemAssignment, itemCount int, participants []string) error {
	known := make(map[string]bool, len(participants))
	for _, p := range participants {
		known[p] = true
	}
	for _, a := range assignments {
		if a.ItemIndex < 0 || a.ItemIndex >= itemCount {
			return fmt.Errorf("%w: item index %d outside item list (0..%d)", ErrInvalidShare, a.ItemIndex, itemCount-1)
		}
		for _, s := range a.Shares {
			if s.Participant == "" {
				return fmt.Errorf("%w: empty participant name for item %d", ErrInvalidShare, a.ItemIndex)
			}
			if !known[s.Participant] {
				return fmt.Errorf("%w: participant %q not in participant list", ErrInvalidShare, s.Participant)
			}
			if s.Fraction.Sign() < 0 || s.Fraction.GreaterThan(decimal.NewFromInt(1)) {
				return fmt.Errorf("%w: fraction %s for %q on item %d outside [0,1]",
					ErrInvalidShare, s.Fraction, s.Participant, a.ItemIndex)
			}
		}
	}
	return nil
}

// ValidateParticipants checks that participant names are non-empty and unique
// within the receipt.
func ValidateParticipants(participants []string) error {
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p == "" {
			return fmt.Errorf("participant names must be non-empty")
		}
		if seen[p] {
			return fmt.Errorf("duplicate participant name %q", p)
		}
		seen[p] = true
	}
	return nil
}
