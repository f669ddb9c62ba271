// Package consol orchestrates the consolidation of a group: first
// consolidation and disposal of participations, minority interests and the
// consolidation run that turns a statement's balances into draft entries.
package consol

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/capital"
	"github.com/odyssey-erp/konzern/internal/consol/deconsol"
	"github.com/odyssey-erp/konzern/internal/consol/equity"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/fx"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

var (
	ErrDuplicateParticipation    = shared.Conflict("consol: active participation already exists for parent and subsidiary")
	ErrNoActiveParticipation     = shared.NotFound("consol: participation not found")
	ErrAlreadyDisposed           = shared.StateMachine("consol: participation already deconsolidated")
	ErrStatementNotFound         = shared.NotFound("consol: statement not found")
	ErrSameCompany               = shared.Validation("consol: parent and subsidiary must differ")
	ErrDisposalBeforeAcquisition = shared.Validation("consol: disposal date precedes acquisition")

	// ErrRunInProgress is returned while another run holds the statement lock.
	ErrRunInProgress = shared.ErrRunLocked
)

// Company is a group member as delivered by the trial-balance import.
type Company struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	Currency string     `json:"currency"`

	// FiscalYearEndMonth and FiscalYearEndDay give the closing date of the
	// company's own fiscal year.
	FiscalYearEndMonth   time.Month `json:"fiscal_year_end_month"`
	FiscalYearEndDay     int        `json:"fiscal_year_end_day"`
	InterimDataAvailable bool       `json:"interim_data_available"`
	Immaterial           bool       `json:"immaterial"`
}

// YearEndOnOrBefore returns the latest closing date of the company that
// does not fall after reporting. A missing month means 31 December; a day
// past the end of the month, or a missing one, means the month's last day.
func (c Company) YearEndOnOrBefore(reporting time.Time) time.Time {
	month := c.FiscalYearEndMonth
	if month < time.January || month > time.December {
		month = time.December
	}
	ref := time.Date(reporting.Year(), reporting.Month(), reporting.Day(), 0, 0, 0, 0, time.UTC)
	closing := closingDate(ref.Year(), month, c.FiscalYearEndDay)
	if closing.After(ref) {
		closing = closingDate(ref.Year()-1, month, c.FiscalYearEndDay)
	}
	return closing
}

func closingDate(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day <= 0 || day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Statement is the consolidated statement of a group for one fiscal year.
type Statement struct {
	ID             uuid.UUID `json:"id"`
	GroupCompanyID uuid.UUID `json:"group_company_id"`
	FiscalYear     int       `json:"fiscal_year"`
	ReportingDate  time.Time `json:"reporting_date"`
}

// BalanceClass classifies an account balance.
type BalanceClass string

const (
	ClassAsset     BalanceClass = "asset"
	ClassLiability BalanceClass = "liability"
	ClassEquity    BalanceClass = "equity"
	ClassRevenue   BalanceClass = "revenue"
	ClassExpense   BalanceClass = "expense"
)

// AccountBalance is one account of a company's standalone trial balance.
// Equity, liability and revenue balances are credit-positive.
type AccountBalance struct {
	CompanyID   uuid.UUID       `json:"company_id"`
	AccountCode string          `json:"account_code"`
	Class       BalanceClass    `json:"class"`
	EquityClass equity.Class    `json:"equity_class,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// Participation is the parent's holding in a subsidiary. It is never
// deleted; deconsolidation sets it inactive.
type Participation struct {
	ID                  uuid.UUID           `json:"id"`
	ParentID            uuid.UUID           `json:"parent_id"`
	SubsidiaryID        uuid.UUID           `json:"subsidiary_id"`
	Percentage          decimal.Decimal     `json:"percentage"`
	AcquisitionDate     time.Time           `json:"acquisition_date"`
	AcquisitionCost     decimal.Decimal     `json:"acquisition_cost"`
	EquityAtAcquisition decimal.Decimal     `json:"equity_at_acquisition"`
	HiddenReserves      decimal.Decimal     `json:"hidden_reserves"`
	HiddenLiabilities   decimal.Decimal     `json:"hidden_liabilities"`
	Goodwill            decimal.Decimal     `json:"goodwill"`
	NegativeGoodwill    decimal.Decimal     `json:"negative_goodwill"`
	FirstStatementID    uuid.UUID           `json:"first_statement_id"`
	Active              bool                `json:"active"`
	DisposalDate        *time.Time          `json:"disposal_date,omitempty"`
	DisposalProceeds    decimal.NullDecimal `json:"disposal_proceeds"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// FirstConsolidationInput describes an acquisition.
type FirstConsolidationInput struct {
	StatementID     uuid.UUID         `json:"statement_id" validate:"required"`
	ParentID        uuid.UUID         `json:"parent_id" validate:"required"`
	SubsidiaryID    uuid.UUID         `json:"subsidiary_id" validate:"required"`
	Percentage      decimal.Decimal   `json:"percentage" validate:"gt=0,lte=100"`
	AcquisitionDate time.Time         `json:"acquisition_date" validate:"required"`
	AcquisitionCost decimal.Decimal   `json:"acquisition_cost" validate:"gte=0"`
	Equity          equity.Components `json:"equity"`
	UsefulLifeYears int               `json:"useful_life_years" validate:"omitempty,gte=1,lte=10"`
	Method          goodwill.Method   `json:"amortization_method" validate:"omitempty,oneof=linear declining"`
	DeferredTaxRate decimal.Decimal   `json:"deferred_tax_rate" validate:"gte=0,lt=1"`
	ActorID         uuid.UUID         `json:"-"`
}

// FirstConsolidationResult reports the recognised participation.
type FirstConsolidationResult struct {
	Participation Participation      `json:"participation"`
	Equity        equity.Result      `json:"equity"`
	Capital       CapitalFigures     `json:"capital"`
	Entries       []ledger.Entry     `json:"entries"`
	Schedule      *goodwill.Schedule `json:"goodwill_schedule,omitempty"`
}

// CapitalFigures exposes the capital consolidation amounts.
type CapitalFigures struct {
	ParentShare      decimal.Decimal `json:"parent_share"`
	MinorityShare    decimal.Decimal `json:"minority_share"`
	Difference       decimal.Decimal `json:"difference"`
	Goodwill         decimal.Decimal `json:"goodwill"`
	NegativeGoodwill decimal.Decimal `json:"negative_goodwill"`
	DeferredTax      decimal.Decimal `json:"deferred_tax"`
}

func capitalFigures(r capital.Result) CapitalFigures {
	return CapitalFigures{
		ParentShare:      r.ParentShare,
		MinorityShare:    r.MinorityShare,
		Difference:       r.Difference,
		Goodwill:         r.Goodwill,
		NegativeGoodwill: r.NegativeGoodwill,
		DeferredTax:      r.DeferredTax,
	}
}

// DeconsolidationInput describes a full disposal. TranslationDifference is
// the reserve carried forward from earlier years; Translation, when given,
// adds the difference of the disposal year derived from the rates.
type DeconsolidationInput struct {
	ParticipationID       uuid.UUID       `json:"participation_id" validate:"required"`
	StatementID           uuid.UUID       `json:"statement_id" validate:"required"`
	DisposalDate          time.Time       `json:"disposal_date" validate:"required"`
	DisposalProceeds      decimal.Decimal `json:"disposal_proceeds" validate:"gte=0"`
	TranslationDifference decimal.Decimal `json:"translation_difference"`
	Translation           *fx.Input       `json:"translation,omitempty"`
	ActorID               uuid.UUID       `json:"-"`
}

// DeconsolidationResult reports the disposal.
type DeconsolidationResult struct {
	Participation Participation   `json:"participation"`
	Result        deconsol.Result `json:"result"`
	Entries       []ledger.Entry  `json:"entries"`
}

// MinorityDetail is the minority position in one subsidiary.
type MinorityDetail struct {
	ParticipationID    uuid.UUID       `json:"participation_id"`
	SubsidiaryID       uuid.UUID       `json:"subsidiary_id"`
	SubsidiaryName     string          `json:"subsidiary_name"`
	ParentPercentage   decimal.Decimal `json:"parent_percentage"`
	MinorityPercentage decimal.Decimal `json:"minority_percentage"`
	TotalEquity        decimal.Decimal `json:"total_equity"`
	TotalProfit        decimal.Decimal `json:"total_profit"`
	MinorityEquity     decimal.Decimal `json:"minority_equity"`
	MinorityProfit     decimal.Decimal `json:"minority_profit"`
}

// MinorityInterestResult aggregates the minority interests of a parent.
type MinorityInterestResult struct {
	StatementID    uuid.UUID        `json:"statement_id"`
	CompanyID      uuid.UUID        `json:"company_id"`
	MinorityEquity decimal.Decimal  `json:"minority_equity"`
	MinorityProfit decimal.Decimal  `json:"minority_profit"`
	Details        []MinorityDetail `json:"details"`
}

// RunSummary condenses the output of a run.
type RunSummary struct {
	EntryCount          int                           `json:"entry_count"`
	CountsByType        map[ledger.AdjustmentType]int `json:"counts_by_type"`
	TotalAmount         decimal.Decimal               `json:"total_amount"`
	ExceptionCount      int                           `json:"exception_count"`
	MaterialExceptions  int                           `json:"material_exceptions"`
	AmortizationEntries int                           `json:"amortization_entries"`
	FiscalYearFlags     int                           `json:"fiscal_year_flags"`
}

// RunResult is everything a run committed.
type RunResult struct {
	RunID         uuid.UUID                    `json:"run_id"`
	StatementID   uuid.UUID                    `json:"statement_id"`
	Summary       RunSummary                   `json:"summary"`
	Entries       []ledger.Entry               `json:"entries"`
	Exceptions    []elimination.Exception      `json:"exceptions"`
	Amortizations []goodwill.AmortizationEntry `json:"amortizations"`
	FiscalYear    []fiscalyear.Adjustment      `json:"fiscal_year_adjustments"`
	StartedAt     time.Time                    `json:"started_at"`
	Duration      time.Duration                `json:"duration"`
}

// StatementSummary is the cached overview of a statement's consolidation state.
type StatementSummary struct {
	StatementID   uuid.UUID           `json:"statement_id"`
	Entries       ledger.Summary      `json:"entries"`
	Exceptions    elimination.Summary `json:"exceptions"`
	PendingFiscal int                 `json:"pending_fiscal_year_adjustments"`
	GeneratedAt   time.Time           `json:"generated_at"`
}
