// Package capital implements the purchase-method capital consolidation of
// §301 HGB: the investment of the parent is offset against its share of the
// subsidiary's fair-value adjusted equity.
package capital

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/accounts"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// ErrInvalidPercentage is returned when the participation is outside (0, 100].
var ErrInvalidPercentage = shared.Validation("capital: participation percentage must be in (0, 100]")

// DefaultDeferredTaxRate applies to hidden reserves when no rate is configured.
var DefaultDeferredTaxRate = decimal.RequireFromString("0.30")

// Input describes one acquisition.
type Input struct {
	Percentage      decimal.Decimal `json:"percentage"`
	AcquisitionCost decimal.Decimal `json:"acquisition_cost" validate:"gte=0"`
	AdjustedEquity  decimal.Decimal `json:"adjusted_equity" validate:"gte=0"`
	HiddenReserves  decimal.Decimal `json:"hidden_reserves" validate:"gte=0"`
	// HiddenLiabilities are already deducted from AdjustedEquity; they only
	// drive the revaluation entry.
	HiddenLiabilities decimal.Decimal `json:"hidden_liabilities" validate:"gte=0"`
	DeferredTaxRate   decimal.Decimal `json:"deferred_tax_rate" validate:"gte=0,lt=1"`
}

// Result holds the offset amounts. Adjusted equity is rounded to cents
// before the split, so ParentShare + MinorityShare equals the rounded
// adjusted equity; at most one of Goodwill and NegativeGoodwill is non-zero.
type Result struct {
	ParentShare      decimal.Decimal `json:"parent_share"`
	MinorityShare    decimal.Decimal `json:"minority_share"`
	Difference       decimal.Decimal `json:"difference"`
	Goodwill         decimal.Decimal `json:"goodwill"`
	NegativeGoodwill decimal.Decimal `json:"negative_goodwill"`
	DeferredTax      decimal.Decimal `json:"deferred_tax"`

	percentage        decimal.Decimal
	hiddenReserves    decimal.Decimal
	hiddenLiabilities decimal.Decimal
	taxRate           decimal.Decimal
	acquisition       decimal.Decimal
}

// Engine computes first consolidations.
type Engine struct {
	taxRate decimal.Decimal
}

// NewEngine returns an engine using taxRate for the deferred-tax placeholder
// whenever an input carries no rate of its own. A non-positive rate falls
// back to DefaultDeferredTaxRate.
func NewEngine(taxRate decimal.Decimal) *Engine {
	if !taxRate.IsPositive() {
		taxRate = DefaultDeferredTaxRate
	}
	return &Engine{taxRate: taxRate}
}

// Consolidate runs the offset calculation.
func (e *Engine) Consolidate(in Input) (Result, error) {
	if !in.Percentage.IsPositive() || in.Percentage.GreaterThan(shared.Hundred) {
		return Result{}, ErrInvalidPercentage
	}
	if err := shared.Validate(in); err != nil {
		return Result{}, err
	}
	rate := in.DeferredTaxRate
	if rate.IsZero() {
		rate = e.taxRate
	}

	adjusted := shared.Round(in.AdjustedEquity)
	parent := shared.Round(shared.PercentOf(adjusted, in.Percentage))
	minority := adjusted.Sub(parent)
	diff := shared.Round(in.AcquisitionCost).Sub(parent)

	return Result{
		ParentShare:       parent,
		MinorityShare:     minority,
		Difference:        diff,
		Goodwill:          shared.MaxZero(diff),
		NegativeGoodwill:  shared.MaxZero(diff.Neg()),
		DeferredTax:       shared.Round(in.HiddenReserves.Mul(rate)),
		percentage:        in.Percentage,
		hiddenReserves:    shared.Round(in.HiddenReserves),
		hiddenLiabilities: shared.Round(in.HiddenLiabilities),
		taxRate:           rate,
		acquisition:       shared.Round(in.AcquisitionCost),
	}, nil
}

// EntryContext carries the identifiers stamped onto generated entries.
type EntryContext struct {
	StatementID     uuid.UUID
	ParticipationID uuid.UUID
	ParentID        uuid.UUID
	SubsidiaryID    uuid.UUID
	RunID           *uuid.UUID
	CreatedBy       uuid.UUID
	Accounts        accounts.Map
	// SkipMinority leaves the minority interest to the minority calculation
	// on current equity, as in every statement after the first.
	SkipMinority bool
}

// BuildEntries turns a result into draft entry inputs. The investment is
// credited with exactly the acquisition cost and the subsidiary equity is
// debited with the full adjusted equity.
func BuildEntries(res Result, ec EntryContext) []ledger.EntryInput {
	acc := ec.Accounts
	ref := "CAPITAL|" + ec.ParticipationID.String()
	base := func(debit, credit string, amount decimal.Decimal, typ ledger.AdjustmentType, hgb ledger.HGBReference, desc string) ledger.EntryInput {
		return ledger.EntryInput{
			StatementID:    ec.StatementID,
			RunID:          ec.RunID,
			DebitAccount:   debit,
			CreditAccount:  credit,
			Amount:         amount,
			AdjustmentType: typ,
			HGBReference:   hgb,
			Source:         ledger.SourceAutomatic,
			CompanyID:      ledger.IDPtr(ec.ParentID),
			CounterpartyID: ledger.IDPtr(ec.SubsidiaryID),
			Description:    desc,
			SourceRef:      ref,
			CreatedBy:      ec.CreatedBy,
		}
	}

	var out []ledger.EntryInput
	offset := shared.MinDecimal(res.ParentShare, res.acquisition)
	if offset.IsPositive() {
		out = append(out, base(acc.SubsidiaryEquity, acc.Investment, offset,
			ledger.TypeCapitalConsolidation, ledger.HGB301,
			fmt.Sprintf("Erstkonsolidierung: Aufrechnung Beteiligung gegen anteiliges Eigenkapital (%s %%)", res.percentage.String())))
	}
	if res.Goodwill.IsPositive() {
		out = append(out, base(acc.Goodwill, acc.Investment, res.Goodwill,
			ledger.TypeCapitalConsolidation, ledger.HGB301,
			"Erstkonsolidierung: Aktivierung Geschäfts- oder Firmenwert (Goodwill)"))
	}
	if res.NegativeGoodwill.IsPositive() {
		out = append(out, base(acc.SubsidiaryEquity, acc.NegativeGoodwill, res.NegativeGoodwill,
			ledger.TypeCapitalConsolidation, ledger.HGB301,
			"Erstkonsolidierung: Passivierung Unterschiedsbetrag aus der Kapitalkonsolidierung"))
	}
	if res.MinorityShare.IsPositive() && !ec.SkipMinority {
		minorityPct := shared.Hundred.Sub(res.percentage)
		e := base(acc.SubsidiaryEquity, acc.MinorityInterest, res.MinorityShare,
			ledger.TypeMinorityInterest, ledger.HGB307,
			fmt.Sprintf("Erstkonsolidierung: Ansatz Anteile anderer Gesellschafter (%s %%)", minorityPct.String()))
		e.CompanyID = ledger.IDPtr(ec.SubsidiaryID)
		e.CounterpartyID = nil
		out = append(out, e)
	}
	if res.hiddenReserves.IsPositive() {
		e := base(acc.HiddenReserves, acc.SubsidiaryEquity, res.hiddenReserves,
			ledger.TypeCapitalConsolidation, ledger.HGB301,
			"Erstkonsolidierung: Aufdeckung stille Reserven")
		e.CompanyID = ledger.IDPtr(ec.SubsidiaryID)
		e.CounterpartyID = nil
		out = append(out, e)
	}
	if res.hiddenLiabilities.IsPositive() {
		e := base(acc.SubsidiaryEquity, acc.HiddenLiabilities, res.hiddenLiabilities,
			ledger.TypeCapitalConsolidation, ledger.HGB301,
			"Erstkonsolidierung: Aufdeckung stille Lasten")
		e.CompanyID = ledger.IDPtr(ec.SubsidiaryID)
		e.CounterpartyID = nil
		out = append(out, e)
	}
	if res.DeferredTax.IsPositive() {
		e := base(acc.SubsidiaryEquity, acc.DeferredTaxLiability, res.DeferredTax,
			ledger.TypeDeferredTax, ledger.HGB306,
			fmt.Sprintf("Passive latente Steuern auf stille Reserven (%s %% von %s)",
				res.taxRate.Mul(shared.Hundred).String(), shared.FormatEUR(res.hiddenReserves)))
		e.CompanyID = ledger.IDPtr(ec.SubsidiaryID)
		e.CounterpartyID = nil
		out = append(out, e)
	}
	return out
}
