package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTotals_EnforcesGrandTotalIdentity(t *testing.T) {
	tests := []struct {
		name                                           string
		subtotal, tax, tip, fees, grand                string
		wantErr                                        bool
	}{
		{"exact identity", "30.00", "2.40", "6.00", "0.00", "38.40", false},
		{"zero receipt", "0.00", "0.00", "0.00", "0.00", "0.00", false},
		{"off by a cent", "30.00", "2.40", "6.00", "0.00", "38.41", true},
		{"negative component", "30.00", "-2.40", "6.00", "0.00", "33.60", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTotals(d(tt.subtotal), d(tt.tax), d(tt.tip), d(tt.fees), d(tt.grand))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewTotals_QuantizesBeforeIdentityCheck(t *testing.T) {
	// 10.004 and 10.004 both quantize to 10.00 before comparison.
	totals, err := NewTotals(d("10.004"), d("0"), d("0"), d("0"), d("10.004"))
	require.NoError(t, err)
	require.True(t, totals.GrandTotal.Equal(d("10.00")))
}
