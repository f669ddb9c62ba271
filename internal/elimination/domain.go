// Package elimination offsets intercompany balances between group companies
// (debt §303, income and expense §305, intercompany profit §304) and records
// every mismatch as a reconciliation exception.
package elimination

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// Category classifies an intercompany balance.
type Category string

const (
	CategoryReceivable       Category = "receivable"
	CategoryPayable          Category = "payable"
	CategoryRevenue          Category = "revenue"
	CategoryExpense          Category = "expense"
	CategoryUnrealizedProfit Category = "unrealized_profit"
)

// Balance is an amount one group company reports against another.
type Balance struct {
	CompanyID      uuid.UUID       `json:"company_id"`
	CounterpartyID uuid.UUID       `json:"counterparty_id"`
	AccountCode    string          `json:"account_code"`
	Category       Category        `json:"category"`
	Amount         decimal.Decimal `json:"amount"`
}

// Kind names the offset an exception belongs to.
type Kind string

const (
	KindDebt          Kind = "debt"
	KindIncomeExpense Kind = "income_expense"
)

// ExceptionStatus tracks the clarification of a difference.
type ExceptionStatus string

const (
	StatusOpen      ExceptionStatus = "open"
	StatusExplained ExceptionStatus = "explained"
	StatusCleared   ExceptionStatus = "cleared"
	StatusAccepted  ExceptionStatus = "accepted"
)

// Reason explains where a difference comes from.
type Reason string

const (
	ReasonTiming             Reason = "timing"
	ReasonCurrency           Reason = "currency"
	ReasonBookingError       Reason = "booking_error"
	ReasonMissingEntry       Reason = "missing_entry"
	ReasonDifferentValuation Reason = "different_valuation"
	ReasonOther              Reason = "other"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonTiming, ReasonCurrency, ReasonBookingError, ReasonMissingEntry, ReasonDifferentValuation, ReasonOther:
		return true
	}
	return false
}

// Exception records a pair of intercompany balances that did not match.
// Company A holds the receivable or the revenue.
type Exception struct {
	ID               uuid.UUID       `json:"id"`
	StatementID      uuid.UUID       `json:"statement_id"`
	RunID            *uuid.UUID      `json:"run_id,omitempty"`
	Kind             Kind            `json:"kind"`
	CompanyAID       uuid.UUID       `json:"company_a_id"`
	CompanyBID       uuid.UUID       `json:"company_b_id"`
	AccountA         string          `json:"account_a"`
	AccountB         string          `json:"account_b"`
	AmountA          decimal.Decimal `json:"amount_a"`
	AmountB          decimal.Decimal `json:"amount_b"`
	EliminatedAmount decimal.Decimal `json:"eliminated_amount"`
	Difference       decimal.Decimal `json:"difference"`
	Material         bool            `json:"material"`
	Status           ExceptionStatus `json:"status"`
	Reason           Reason          `json:"reason,omitempty"`
	Explanation      string          `json:"explanation,omitempty"`
	ClearingEntryID  *uuid.UUID      `json:"clearing_entry_id,omitempty"`
	ResolvedBy       *uuid.UUID      `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// key identifies the pair an exception describes.
func (e Exception) key() string {
	return string(e.Kind) + "|" + e.CompanyAID.String() + "|" + e.CompanyBID.String()
}

var (
	ErrExceptionNotFound  = shared.NotFound("elimination: reconciliation exception not found")
	ErrInvalidTransition  = shared.StateMachine("elimination: exception status cannot change that way")
	ErrNothingToClear     = shared.BusinessRule("elimination: exception has no difference to clear")
	ErrInvalidReason      = shared.Validation("elimination: unknown difference reason")
	ErrExplanationMissing = shared.Validation("elimination: explanation is required")
)

var transitions = map[ExceptionStatus][]ExceptionStatus{
	StatusOpen:      {StatusExplained, StatusCleared, StatusAccepted},
	StatusExplained: {StatusCleared, StatusAccepted},
	StatusAccepted:  {StatusExplained},
}

func canMove(from, to ExceptionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Summary counts exceptions of a statement by status.
type Summary struct {
	Total           int             `json:"total"`
	Open            int             `json:"open"`
	Explained       int             `json:"explained"`
	Cleared         int             `json:"cleared"`
	Accepted        int             `json:"accepted"`
	Material        int             `json:"material"`
	TotalDifference decimal.Decimal `json:"total_difference"`
	OpenDifference  decimal.Decimal `json:"open_difference"`
}

// Summarize aggregates exceptions.
func Summarize(exceptions []Exception) Summary {
	sum := Summary{TotalDifference: decimal.Zero, OpenDifference: decimal.Zero}
	for _, e := range exceptions {
		sum.Total++
		switch e.Status {
		case StatusOpen:
			sum.Open++
			sum.OpenDifference = sum.OpenDifference.Add(e.Difference.Abs())
		case StatusExplained:
			sum.Explained++
		case StatusCleared:
			sum.Cleared++
		case StatusAccepted:
			sum.Accepted++
		}
		if e.Material {
			sum.Material++
		}
		sum.TotalDifference = sum.TotalDifference.Add(e.Difference.Abs())
	}
	return sum
}
