package goodwill

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// plannedAmortization is the scheduled write-down for year, capped at the
// carrying amount. The last year of the useful life takes the full rest.
func plannedAmortization(s Schedule, year int) decimal.Decimal {
	available := s.Remaining()
	if !available.IsPositive() {
		return decimal.Zero
	}
	yearsLeft := s.StartYear + s.UsefulLifeYears - year
	if yearsLeft <= 1 {
		return available
	}
	life := decimal.NewFromInt(int64(s.UsefulLifeYears))
	var amount decimal.Decimal
	switch s.Method {
	case MethodDeclining:
		degressive := available.Mul(decimal.NewFromInt(2)).Div(life)
		straight := available.Div(decimal.NewFromInt(int64(yearsLeft)))
		amount = decimal.Max(degressive, straight)
	default:
		amount = s.InitialGoodwill.Div(life)
	}
	return shared.MinDecimal(shared.Round(amount), available)
}

// nextEntry computes the amortization entry for fiscalYear without touching
// the schedule.
func nextEntry(s Schedule, fiscalYear int) (AmortizationEntry, error) {
	if s.Status == StatusReleased {
		return AmortizationEntry{}, ErrScheduleReleased
	}
	if s.LastFiscalYear == fiscalYear {
		return AmortizationEntry{}, ErrEntryExists
	}
	if fiscalYear < s.StartYear || fiscalYear < s.LastFiscalYear {
		return AmortizationEntry{}, ErrYearOutOfOrder
	}
	opening := s.opening()
	if !opening.IsPositive() {
		return AmortizationEntry{}, ErrScheduleExhausted
	}
	amort := plannedAmortization(s, fiscalYear)
	impairment := s.PendingImpairment
	return AmortizationEntry{
		ScheduleID:         s.ID,
		FiscalYear:         fiscalYear,
		OpeningBalance:     opening,
		AmortizationAmount: amort,
		ImpairmentAmount:   impairment,
		ClosingBalance:     shared.MaxZero(opening.Sub(amort).Sub(impairment)),
	}, nil
}

// advance applies an entry to the schedule.
func advance(s Schedule, e AmortizationEntry, now time.Time) Schedule {
	s.AccumulatedAmortization = s.AccumulatedAmortization.Add(e.AmortizationAmount)
	s.PendingImpairment = decimal.Zero
	s.LastFiscalYear = e.FiscalYear
	if !s.Remaining().IsPositive() && s.Status == StatusActive {
		s.Status = StatusFullyAmortized
	}
	s.UpdatedAt = now
	return s
}

// impair books an unscheduled write-down onto the schedule.
func impair(s Schedule, amount decimal.Decimal, reason string, date, now time.Time) (Schedule, error) {
	if s.Status == StatusReleased {
		return Schedule{}, ErrScheduleReleased
	}
	if reason == "" {
		return Schedule{}, shared.NewValidationError("reason", "is required")
	}
	amount = shared.Round(amount)
	if !amount.IsPositive() {
		return Schedule{}, shared.NewValidationError("amount", "must be greater than 0")
	}
	if amount.GreaterThan(s.Remaining()) {
		return Schedule{}, ErrImpairmentExceedsBalance
	}
	s.ImpairmentAmount = s.ImpairmentAmount.Add(amount)
	s.PendingImpairment = s.PendingImpairment.Add(amount)
	d := date.UTC()
	s.ImpairmentDate = &d
	s.ImpairmentReason = reason
	if !s.Remaining().IsPositive() {
		s.Status = StatusFullyAmortized
	}
	s.UpdatedAt = now
	return s, nil
}

// Project runs the schedule forward for up to years fiscal years without
// persisting anything. It stops early once the balance is exhausted.
func Project(s Schedule, years int) []ProjectionRow {
	var rows []ProjectionRow
	year := s.StartYear
	if s.LastFiscalYear >= year {
		year = s.LastFiscalYear + 1
	}
	for i := 0; i < years; i++ {
		e, err := nextEntry(s, year)
		if err != nil {
			break
		}
		rows = append(rows, ProjectionRow{
			FiscalYear:         e.FiscalYear,
			OpeningBalance:     e.OpeningBalance,
			AmortizationAmount: e.AmortizationAmount,
			ImpairmentAmount:   e.ImpairmentAmount,
			ClosingBalance:     e.ClosingBalance,
		})
		s = advance(s, e, s.UpdatedAt)
		year++
	}
	return rows
}
