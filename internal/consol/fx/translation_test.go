package fx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/shared"
)

func TestTranslationDifferenceRisingCurrency(t *testing.T) {
	diff, err := TranslationDifference(Input{
		Equity: decimal.NewFromInt(100000),
		Result: decimal.NewFromInt(10000),
		Rates: Rates{
			Closing:    decimal.RequireFromString("1.10"),
			Average:    decimal.RequireFromString("1.05"),
			Historical: decimal.RequireFromString("1.00"),
		},
	})
	require.NoError(t, err)
	// 110000*1.10 - (100000*1.00 + 10000*1.05) = 121000 - 110500
	require.True(t, diff.Equal(decimal.NewFromInt(10500)), diff.String())
}

func TestTranslationDifferenceFallingCurrencyIsNegative(t *testing.T) {
	diff, err := TranslationDifference(Input{
		Equity: decimal.NewFromInt(50000),
		Rates: Rates{
			Closing:    decimal.RequireFromString("0.90"),
			Average:    decimal.RequireFromString("0.95"),
			Historical: decimal.RequireFromString("1.00"),
		},
	})
	require.NoError(t, err)
	require.True(t, diff.Equal(decimal.NewFromInt(-5000)), diff.String())
}

func TestTranslationDifferenceRequiresRates(t *testing.T) {
	_, err := TranslationDifference(Input{Equity: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCumulative(t *testing.T) {
	got := Cumulative(decimal.NewFromInt(-200), decimal.RequireFromString("150.255"), decimal.NewFromInt(50))
	require.Equal(t, "0.26", got.StringFixed(2))
}
