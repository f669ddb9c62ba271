// Package fiscalyear evaluates deviating fiscal years of subsidiaries
// against the group reporting date (§299 Abs. 2 HGB).
package fiscalyear

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// Method is the suggested way to bridge the gap.
type Method string

const (
	MethodNone             Method = "none"
	MethodProRata          Method = "pro_rata"
	MethodInterimStatement Method = "interim_statement"
	MethodEstimate         Method = "estimate"
)

// Status tracks the review of an adjustment.
type Status string

const (
	StatusNotRequired Status = "not_required"
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

const (
	daysPerMonth = 30.44
	daysPerYear  = 365
	// MaxDeviationMonths is the largest gap allowed without an interim statement.
	MaxDeviationMonths = 3
)

var (
	ErrAdjustmentNotFound = shared.NotFound("fiscalyear: adjustment not found")
	ErrNotPending         = shared.StateMachine("fiscalyear: only pending adjustments can be decided")
	ErrSelfDecision       = shared.BusinessRule("fiscalyear: decision requires a second person")
)

// Input describes one subsidiary.
type Input struct {
	StatementID          uuid.UUID `json:"statement_id"`
	CompanyID            uuid.UUID `json:"company_id" validate:"required"`
	SubsidiaryYearEnd    time.Time `json:"subsidiary_year_end" validate:"required"`
	GroupReportingDate   time.Time `json:"group_reporting_date" validate:"required"`
	InterimDataAvailable bool      `json:"interim_data_available"`
	Immaterial           bool      `json:"immaterial"`
}

// Adjustment is the advisory result of an evaluation.
type Adjustment struct {
	ID                 uuid.UUID       `json:"id"`
	StatementID        uuid.UUID       `json:"statement_id"`
	CompanyID          uuid.UUID       `json:"company_id"`
	SubsidiaryYearEnd  time.Time       `json:"subsidiary_year_end"`
	GroupReportingDate time.Time       `json:"group_reporting_date"`
	DifferenceDays     int             `json:"difference_days"`
	DifferenceMonths   int             `json:"difference_months"`
	HGBCompliant       bool            `json:"hgb_compliant"`
	Method             Method          `json:"method"`
	ProRataFactor      decimal.Decimal `json:"pro_rata_factor"`
	Status             Status          `json:"status"`
	Notes              string          `json:"notes,omitempty"`
	CreatedBy          *uuid.UUID      `json:"created_by,omitempty"`
	DecidedBy          *uuid.UUID      `json:"decided_by,omitempty"`
	DecidedAt          *time.Time      `json:"decided_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Evaluate compares the fiscal year end with the group reporting date.
func Evaluate(in Input) (Adjustment, error) {
	if err := shared.Validate(in); err != nil {
		return Adjustment{}, err
	}
	yearEnd := civil(in.SubsidiaryYearEnd)
	reporting := civil(in.GroupReportingDate)
	days := int(reporting.Sub(yearEnd).Hours() / 24)
	months := int(math.Round(float64(days) / daysPerMonth))
	compliant := abs(months) <= MaxDeviationMonths

	adj := Adjustment{
		StatementID:        in.StatementID,
		CompanyID:          in.CompanyID,
		SubsidiaryYearEnd:  yearEnd,
		GroupReportingDate: reporting,
		DifferenceDays:     days,
		DifferenceMonths:   months,
		HGBCompliant:       compliant,
		ProRataFactor:      decimal.Zero,
	}
	switch {
	case days == 0:
		adj.Method = MethodNone
		adj.Status = StatusNotRequired
	case compliant:
		adj.Method = MethodNone
		adj.Status = StatusNotRequired
		adj.Notes = fmt.Sprintf("Abweichung von %d Monaten zulässig; wesentliche Vorgänge im Zwischenzeitraum sind zu berücksichtigen", abs(months))
	case in.InterimDataAvailable:
		adj.Method = MethodProRata
		adj.Status = StatusPending
		adj.ProRataFactor = Factor(days)
		adj.Notes = fmt.Sprintf("Zeitanteilige Anpassung für %d Tage", abs(days))
	case in.Immaterial:
		adj.Method = MethodEstimate
		adj.Status = StatusPending
		adj.Notes = "Tochterunternehmen von untergeordneter Bedeutung; Schätzung zulässig"
	default:
		adj.Method = MethodInterimStatement
		adj.Status = StatusPending
		adj.Notes = fmt.Sprintf("Abweichung von %d Monaten; Zwischenabschluss erforderlich", abs(months))
	}
	return adj, nil
}

// Factor is the signed share of the year covered by a gap of days. A
// positive factor extends the subsidiary's figures up to the group
// reporting date; a negative one cuts them back.
func Factor(days int) decimal.Decimal {
	return decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(daysPerYear)).Round(6)
}

// factor prefers the stored factor so a projection matches what the run
// recorded; adjustments without one fall back to their day count.
func (a Adjustment) factor() decimal.Decimal {
	if !a.ProRataFactor.IsZero() {
		return a.ProRataFactor
	}
	return Factor(a.DifferenceDays)
}

// Line is one income statement balance of the subsidiary.
type Line struct {
	AccountCode string          `json:"account_code"`
	Revenue     bool            `json:"revenue"`
	Amount      decimal.Decimal `json:"amount"`
}

// ProRataLine is the time-weighted correction of one account.
type ProRataLine struct {
	AccountCode      string          `json:"account_code"`
	Revenue          bool            `json:"revenue"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	AdjustmentAmount decimal.Decimal `json:"adjustment_amount"`
	AdjustedAmount   decimal.Decimal `json:"adjusted_amount"`
	Reason           string          `json:"reason"`
}

// ProRataResult is the projection of one adjustment. Revenue and Expense
// total the corrections per side.
type ProRataResult struct {
	AdjustmentID uuid.UUID       `json:"adjustment_id"`
	Factor       decimal.Decimal `json:"factor"`
	Lines        []ProRataLine   `json:"lines"`
	Revenue      decimal.Decimal `json:"revenue_adjustment"`
	Expense      decimal.Decimal `json:"expense_adjustment"`
	// ResultEffect is the change of the subsidiary's profit.
	ResultEffect decimal.Decimal `json:"result_effect"`
}

// ProRata scales revenue and expense balances by the adjustment's factor.
// Corrections below one cent are dropped.
func ProRata(lines []Line, adj Adjustment) ProRataResult {
	factor := adj.factor()
	reason := fmt.Sprintf("Zeitanteilige Anpassung für %d Tage", abs(adj.DifferenceDays))
	out := ProRataResult{
		AdjustmentID: adj.ID,
		Factor:       factor,
		Lines:        []ProRataLine{},
		Revenue:      decimal.Zero,
		Expense:      decimal.Zero,
	}
	for _, l := range lines {
		delta := shared.Round(l.Amount.Mul(factor))
		if delta.IsZero() {
			continue
		}
		out.Lines = append(out.Lines, ProRataLine{
			AccountCode:      l.AccountCode,
			Revenue:          l.Revenue,
			OriginalAmount:   l.Amount,
			AdjustmentAmount: delta,
			AdjustedAmount:   l.Amount.Add(delta),
			Reason:           reason,
		})
		if l.Revenue {
			out.Revenue = out.Revenue.Add(delta)
		} else {
			out.Expense = out.Expense.Add(delta)
		}
	}
	out.ResultEffect = out.Revenue.Sub(out.Expense)
	return out
}

// Decide approves or rejects a pending adjustment. The deciding user must
// not be the one who created it.
func Decide(adj Adjustment, approve bool, actor uuid.UUID, note string, now time.Time) (Adjustment, error) {
	if adj.Status != StatusPending {
		return Adjustment{}, ErrNotPending
	}
	if actor == uuid.Nil {
		return Adjustment{}, shared.NewValidationError("actor", "is required")
	}
	if adj.CreatedBy != nil && *adj.CreatedBy == actor {
		return Adjustment{}, ErrSelfDecision
	}
	if approve {
		adj.Status = StatusApproved
	} else {
		if note == "" {
			return Adjustment{}, shared.NewValidationError("notes", "is required")
		}
		adj.Status = StatusRejected
	}
	if note != "" {
		adj.Notes = note
	}
	adj.DecidedBy = &actor
	adj.DecidedAt = &now
	adj.UpdatedAt = now
	return adj, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
