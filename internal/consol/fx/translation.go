// Package fx computes the currency translation difference of a foreign
// subsidiary under the modified closing-rate method of §308a HGB.
package fx

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// Rates are units of group currency per unit of local currency.
type Rates struct {
	Closing    decimal.Decimal `json:"closing" validate:"gt=0"`
	Average    decimal.Decimal `json:"average" validate:"gt=0"`
	Historical decimal.Decimal `json:"historical" validate:"gt=0"`
}

// Input holds the local-currency figures of one subsidiary.
type Input struct {
	// Equity excludes the result of the year and is translated at the
	// historical rate.
	Equity decimal.Decimal `json:"equity"`
	// Result is the profit or loss of the year, translated at the average rate.
	Result decimal.Decimal `json:"result"`
	Rates  Rates           `json:"rates"`
}

// TranslationDifference returns the signed difference between net assets at
// the closing rate and equity plus result at their own rates. A positive
// figure increases the translation reserve.
func TranslationDifference(in Input) (decimal.Decimal, error) {
	if err := shared.Validate(in); err != nil {
		return decimal.Zero, err
	}
	netAssets := in.Equity.Add(in.Result).Mul(in.Rates.Closing)
	translated := in.Equity.Mul(in.Rates.Historical).Add(in.Result.Mul(in.Rates.Average))
	return shared.Round(netAssets.Sub(translated)), nil
}

// Cumulative adds the difference of the current year to the reserve carried
// forward from earlier years.
func Cumulative(carried decimal.Decimal, current ...decimal.Decimal) decimal.Decimal {
	total := carried
	for _, c := range current {
		total = total.Add(c)
	}
	return shared.Round(total)
}
