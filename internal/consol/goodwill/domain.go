// Package goodwill schedules the scheduled and unscheduled write-down of
// goodwill recognised in capital consolidation (§309 in conjunction with
// §253 HGB).
package goodwill

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// Method selects the amortization pattern.
type Method string

const (
	MethodLinear    Method = "linear"
	MethodDeclining Method = "declining"
)

// Status tracks a schedule.
type Status string

const (
	StatusActive         Status = "active"
	StatusFullyAmortized Status = "fully_amortized"
	StatusReleased       Status = "released"
)

const (
	// DefaultUsefulLife is used when a schedule is created without a life.
	DefaultUsefulLife = 10
	// MaxUsefulLife bounds the useful life in years.
	MaxUsefulLife = 10
)

var (
	ErrScheduleNotFound         = shared.NotFound("goodwill: schedule not found")
	ErrAmortizationNotFound     = shared.NotFound("goodwill: amortization entry not found")
	ErrScheduleExists           = shared.Conflict("goodwill: participation already has a schedule")
	ErrScheduleExhausted        = shared.BusinessRule("goodwill: schedule has no remaining balance")
	ErrEntryExists              = shared.Conflict("goodwill: amortization entry already exists for fiscal year")
	ErrYearOutOfOrder           = shared.BusinessRule("goodwill: fiscal year must follow the last amortization entry")
	ErrImpairmentExceedsBalance = shared.BusinessRule("goodwill: impairment exceeds remaining goodwill")
	ErrAlreadyBooked            = shared.StateMachine("goodwill: amortization entry already booked")
	ErrScheduleReleased         = shared.StateMachine("goodwill: schedule was released on deconsolidation")
)

// Schedule tracks the carrying amount of one participation's goodwill.
// Accumulated amortization and impairment only ever grow.
type Schedule struct {
	ID                      uuid.UUID           `json:"id"`
	ParticipationID         uuid.UUID           `json:"participation_id"`
	InitialGoodwill         decimal.Decimal     `json:"initial_goodwill"`
	UsefulLifeYears         int                 `json:"useful_life_years"`
	Method                  Method              `json:"method"`
	StartYear               int                 `json:"start_year"`
	AccumulatedAmortization decimal.Decimal     `json:"accumulated_amortization"`
	ImpairmentAmount        decimal.Decimal     `json:"impairment_amount"`
	ImpairmentDate          *time.Time          `json:"impairment_date,omitempty"`
	ImpairmentReason        string              `json:"impairment_reason,omitempty"`
	PendingImpairment       decimal.Decimal     `json:"pending_impairment"`
	LastFiscalYear          int                 `json:"last_fiscal_year,omitempty"`
	Status                  Status              `json:"status"`
	HGBReference            ledger.HGBReference `json:"hgb_reference"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// Remaining is the carrying amount after amortization and impairment.
func (s Schedule) Remaining() decimal.Decimal {
	return shared.MaxZero(s.InitialGoodwill.Sub(s.AccumulatedAmortization).Sub(s.ImpairmentAmount))
}

// WrittenOff is the cumulative amortization plus impairment.
func (s Schedule) WrittenOff() decimal.Decimal {
	return s.AccumulatedAmortization.Add(s.ImpairmentAmount)
}

// opening is the balance the next amortization entry starts from: impairment
// not yet carried into an entry is still part of it.
func (s Schedule) opening() decimal.Decimal {
	return s.Remaining().Add(s.PendingImpairment)
}

// AmortizationEntry is one fiscal year of a schedule.
// ClosingBalance of year N equals OpeningBalance of the next entry.
type AmortizationEntry struct {
	ID                   uuid.UUID       `json:"id"`
	ScheduleID           uuid.UUID       `json:"schedule_id"`
	FiscalYear           int             `json:"fiscal_year"`
	OpeningBalance       decimal.Decimal `json:"opening_balance"`
	AmortizationAmount   decimal.Decimal `json:"amortization_amount"`
	ImpairmentAmount     decimal.Decimal `json:"impairment_amount"`
	ClosingBalance       decimal.Decimal `json:"closing_balance"`
	Booked               bool            `json:"booked"`
	ConsolidationEntryID *uuid.UUID      `json:"consolidation_entry_id,omitempty"`
	ImpairmentEntryID    *uuid.UUID      `json:"impairment_entry_id,omitempty"`
	BookedAt             *time.Time      `json:"booked_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// ScheduleInput creates a schedule. A zero UsefulLifeYears defaults to
// DefaultUsefulLife and an empty Method to linear.
type ScheduleInput struct {
	ParticipationID uuid.UUID       `json:"participation_id" validate:"required"`
	InitialGoodwill decimal.Decimal `json:"initial_goodwill" validate:"gt=0"`
	UsefulLifeYears int             `json:"useful_life_years" validate:"gte=1,lte=10"`
	Method          Method          `json:"method" validate:"oneof=linear declining"`
	StartYear       int             `json:"start_year" validate:"gte=1900,lte=2999"`
}

func (in ScheduleInput) withDefaults(defaultLife int) ScheduleInput {
	if in.UsefulLifeYears == 0 {
		in.UsefulLifeYears = defaultLife
	}
	if in.Method == "" {
		in.Method = MethodLinear
	}
	return in
}

// ProjectionRow is one projected year.
type ProjectionRow struct {
	FiscalYear         int             `json:"fiscal_year"`
	OpeningBalance     decimal.Decimal `json:"opening_balance"`
	AmortizationAmount decimal.Decimal `json:"amortization_amount"`
	ImpairmentAmount   decimal.Decimal `json:"impairment_amount"`
	ClosingBalance     decimal.Decimal `json:"closing_balance"`
}

// Summary condenses a participation's goodwill position.
type Summary struct {
	ScheduleID              uuid.UUID       `json:"schedule_id"`
	ParticipationID         uuid.UUID       `json:"participation_id"`
	InitialGoodwill         decimal.Decimal `json:"initial_goodwill"`
	AccumulatedAmortization decimal.Decimal `json:"accumulated_amortization"`
	ImpairmentAmount        decimal.Decimal `json:"impairment_amount"`
	Remaining               decimal.Decimal `json:"remaining"`
	Status                  Status          `json:"status"`
	BookedEntries           int             `json:"booked_entries"`
	UnbookedEntries         int             `json:"unbooked_entries"`
	YearsRemaining          int             `json:"years_remaining"`
}
