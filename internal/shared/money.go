package shared

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Hundred is the percentage base.
var Hundred = decimal.NewFromInt(100)

// Round rounds an amount to cents.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// PercentOf returns amount * pct / 100 without intermediate rounding.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(Hundred)
}

// MaxZero clamps negative values to zero.
func MaxZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

var germanPrinter = message.NewPrinter(language.German)

// FormatEUR renders an amount the way German statements print it, e.g. "60.000,00 EUR".
func FormatEUR(v decimal.Decimal) string {
	f, _ := v.Round(2).Float64()
	return germanPrinter.Sprintf("%v EUR", number.Decimal(f, number.Scale(2)))
}
