// Package equity derives a subsidiary's equity at a date from its capital
// components and fair-value adjustments.
package equity

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// Components are the equity positions of a single company. The four capital
// components are required; losses are carried as negative values.
type Components struct {
	SubscribedCapital decimal.NullDecimal `json:"subscribed_capital"`
	CapitalReserves   decimal.NullDecimal `json:"capital_reserves"`
	RevenueReserves   decimal.NullDecimal `json:"revenue_reserves"`
	RetainedEarnings  decimal.NullDecimal `json:"retained_earnings"`
	HiddenReserves    decimal.Decimal     `json:"hidden_reserves"`
	HiddenLiabilities decimal.Decimal     `json:"hidden_liabilities"`
}

// Result holds book and fair-value adjusted equity.
type Result struct {
	BookEquity     decimal.Decimal `json:"book_equity"`
	AdjustedEquity decimal.Decimal `json:"adjusted_equity"`
}

// Validate reports every missing or invalid component.
func (c Components) Validate() error {
	verr := &shared.ValidationError{}
	required := map[string]decimal.NullDecimal{
		"subscribed_capital": c.SubscribedCapital,
		"capital_reserves":   c.CapitalReserves,
		"revenue_reserves":   c.RevenueReserves,
		"retained_earnings":  c.RetainedEarnings,
	}
	for field, v := range required {
		if !v.Valid {
			verr.Add(field, "is required")
		}
	}
	if c.HiddenReserves.IsNegative() {
		verr.Add("hidden_reserves", "must be at least 0")
	}
	if c.HiddenLiabilities.IsNegative() {
		verr.Add("hidden_liabilities", "must be at least 0")
	}
	return verr.OrNil()
}

// Calculate returns bookEquity as the sum of the capital components and
// adjustedEquity = bookEquity + hiddenReserves - hiddenLiabilities.
func Calculate(c Components) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	book := c.SubscribedCapital.Decimal.
		Add(c.CapitalReserves.Decimal).
		Add(c.RevenueReserves.Decimal).
		Add(c.RetainedEarnings.Decimal)
	adjusted := book.Add(c.HiddenReserves).Sub(c.HiddenLiabilities)
	return Result{BookEquity: shared.Round(book), AdjustedEquity: shared.Round(adjusted)}, nil
}

// Class tags an equity balance with the component it feeds.
type Class string

const (
	ClassSubscribedCapital Class = "subscribed_capital"
	ClassCapitalReserves   Class = "capital_reserves"
	ClassRevenueReserves   Class = "revenue_reserves"
	ClassRetainedEarnings  Class = "retained_earnings"
)

// Balance is one equity account balance of a company, credit-positive.
type Balance struct {
	Class  Class
	Amount decimal.Decimal
}

// FromBalances sums balances into components. Components without any
// balance stay missing so Calculate reports them.
func FromBalances(balances []Balance, hiddenReserves, hiddenLiabilities decimal.Decimal) Components {
	sums := map[Class]decimal.NullDecimal{}
	for _, b := range balances {
		cur := sums[b.Class]
		sums[b.Class] = decimal.NewNullDecimal(cur.Decimal.Add(b.Amount))
	}
	return Components{
		SubscribedCapital: sums[ClassSubscribedCapital],
		CapitalReserves:   sums[ClassCapitalReserves],
		RevenueReserves:   sums[ClassRevenueReserves],
		RetainedEarnings:  sums[ClassRetainedEarnings],
		HiddenReserves:    hiddenReserves,
		HiddenLiabilities: hiddenLiabilities,
	}
}
