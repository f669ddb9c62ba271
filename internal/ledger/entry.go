// Package ledger holds consolidation entries and enforces their approval
// lifecycle. Every engine posts its adjustments through this package.
package ledger

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/konzern/internal/shared"
)

// Status enumerates entry lifecycle states.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusReversed Status = "reversed"
)

// Source tells where an entry originated.
type Source string

const (
	SourceAutomatic Source = "automatic"
	SourceManual    Source = "manual"
	SourceImport    Source = "import"
)

// AdjustmentType classifies the consolidation step an entry belongs to.
type AdjustmentType string

const (
	TypeElimination          AdjustmentType = "elimination"
	TypeReclassification     AdjustmentType = "reclassification"
	TypeCapitalConsolidation AdjustmentType = "capital_consolidation"
	TypeDebtConsolidation    AdjustmentType = "debt_consolidation"
	TypeIntercompanyProfit   AdjustmentType = "intercompany_profit"
	TypeIncomeExpense        AdjustmentType = "income_expense"
	TypeCurrencyTranslation  AdjustmentType = "currency_translation"
	TypeDeferredTax          AdjustmentType = "deferred_tax"
	TypeMinorityInterest     AdjustmentType = "minority_interest"
	TypeOther                AdjustmentType = "other"
)

// AdjustmentTypes lists every type in reporting order.
var AdjustmentTypes = []AdjustmentType{
	TypeElimination, TypeReclassification, TypeCapitalConsolidation, TypeDebtConsolidation,
	TypeIntercompanyProfit, TypeIncomeExpense, TypeCurrencyTranslation, TypeDeferredTax,
	TypeMinorityInterest, TypeOther,
}

// HGBReference names the HGB paragraph an entry is based on.
type HGBReference string

const (
	HGB301   HGBReference = "§301"
	HGB303   HGBReference = "§303"
	HGB304   HGBReference = "§304"
	HGB305   HGBReference = "§305"
	HGB306   HGBReference = "§306"
	HGB307   HGBReference = "§307"
	HGB308   HGBReference = "§308"
	HGB308a  HGBReference = "§308a"
	HGB309   HGBReference = "§309"
	HGB312   HGBReference = "§312"
	HGBOther HGBReference = "other"
)

func (t AdjustmentType) valid() bool {
	for _, known := range AdjustmentTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (r HGBReference) valid() bool {
	switch r {
	case "", HGB301, HGB303, HGB304, HGB305, HGB306, HGB307, HGB308, HGB308a, HGB309, HGB312, HGBOther:
		return true
	}
	return false
}

func (s Source) valid() bool {
	return s == SourceAutomatic || s == SourceManual || s == SourceImport
}

// Entry is a double-sided consolidation adjustment. Direction is carried by
// the account roles; Amount is always positive.
type Entry struct {
	ID                uuid.UUID       `json:"id"`
	StatementID       uuid.UUID       `json:"statement_id"`
	RunID             *uuid.UUID      `json:"run_id,omitempty"`
	DebitAccount      string          `json:"debit_account"`
	CreditAccount     string          `json:"credit_account"`
	Amount            decimal.Decimal `json:"amount"`
	AdjustmentType    AdjustmentType  `json:"adjustment_type"`
	HGBReference      HGBReference    `json:"hgb_reference,omitempty"`
	Source            Source          `json:"source"`
	Status            Status          `json:"status"`
	CompanyID         *uuid.UUID      `json:"company_id,omitempty"`
	CounterpartyID    *uuid.UUID      `json:"counterparty_id,omitempty"`
	Description       string          `json:"description"`
	SourceRef         string          `json:"source_ref,omitempty"`
	Fingerprint       string          `json:"fingerprint,omitempty"`
	ReversesEntryID   *uuid.UUID      `json:"reverses_entry_id,omitempty"`
	ReversedByEntryID *uuid.UUID      `json:"reversed_by_entry_id,omitempty"`
	CreatedBy         uuid.UUID       `json:"created_by"`
	SubmittedBy       *uuid.UUID      `json:"submitted_by,omitempty"`
	ApprovedBy        *uuid.UUID      `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	ReversalReason    string          `json:"reversal_reason,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// EntryInput carries the fields needed to create an entry.
type EntryInput struct {
	StatementID    uuid.UUID       `json:"statement_id" validate:"required"`
	RunID          *uuid.UUID      `json:"-"`
	DebitAccount   string          `json:"debit_account" validate:"required,max=32"`
	CreditAccount  string          `json:"credit_account" validate:"required,max=32,nefield=DebitAccount"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	AdjustmentType AdjustmentType  `json:"adjustment_type" validate:"required"`
	HGBReference   HGBReference    `json:"hgb_reference"`
	Source         Source          `json:"source"`
	CompanyID      *uuid.UUID      `json:"company_id"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id"`
	Description    string          `json:"description" validate:"max=500"`
	SourceRef      string          `json:"source_ref" validate:"max=200"`
	CreatedBy      uuid.UUID       `json:"created_by"`
}

// Normalize trims account codes and rounds the amount to cents.
func (in EntryInput) Normalize() EntryInput {
	in.DebitAccount = strings.TrimSpace(in.DebitAccount)
	in.CreditAccount = strings.TrimSpace(in.CreditAccount)
	in.Description = strings.TrimSpace(in.Description)
	in.Amount = shared.Round(in.Amount)
	if in.Source == "" {
		in.Source = SourceAutomatic
	}
	return in
}

// Validate checks the input before it reaches the store.
func (in EntryInput) Validate() error {
	verr := &shared.ValidationError{}
	if err := shared.Validate(in); err != nil {
		fields, ok := err.(*shared.ValidationError)
		if !ok {
			return err
		}
		verr = fields
	}
	if in.AdjustmentType != "" && !in.AdjustmentType.valid() {
		verr.Add("adjustment_type", "is unknown")
	}
	if !in.HGBReference.valid() {
		verr.Add("hgb_reference", "is unknown")
	}
	if !in.Source.valid() {
		verr.Add("source", "is unknown")
	}
	return verr.OrNil()
}

// NewEntry materialises a draft entry from a normalised input.
func NewEntry(in EntryInput, now time.Time) Entry {
	e := Entry{
		ID:             uuid.New(),
		StatementID:    in.StatementID,
		RunID:          in.RunID,
		DebitAccount:   in.DebitAccount,
		CreditAccount:  in.CreditAccount,
		Amount:         in.Amount,
		AdjustmentType: in.AdjustmentType,
		HGBReference:   in.HGBReference,
		Source:         in.Source,
		Status:         StatusDraft,
		CompanyID:      in.CompanyID,
		CounterpartyID: in.CounterpartyID,
		Description:    in.Description,
		SourceRef:      in.SourceRef,
		CreatedBy:      in.CreatedBy,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if e.Source == SourceAutomatic {
		e.Fingerprint = Fingerprint(e)
	}
	return e
}

// Fingerprint hashes the economic identity of an entry so an automatic
// adjustment cannot be booked twice for one statement.
func Fingerprint(e Entry) string {
	parts := []string{
		e.SourceRef,
		e.StatementID.String(),
		string(e.AdjustmentType),
		string(e.HGBReference),
		e.DebitAccount,
		e.CreditAccount,
		optionalID(e.CompanyID),
		optionalID(e.CounterpartyID),
		e.Amount.StringFixed(2),
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

// IDPtr returns a pointer to a copy of id; uuid.Nil yields nil.
func IDPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
