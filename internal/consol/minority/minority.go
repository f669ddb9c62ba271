// Package minority computes the shares of other shareholders in equity and
// result of a subsidiary (§307 HGB).
package minority

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/accounts"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// ErrInvalidPercentage is returned for a participation outside [0, 100].
var ErrInvalidPercentage = shared.Validation("minority: participation percentage must be in [0, 100]")

// Input describes one subsidiary.
type Input struct {
	// Active is false when no consolidated participation exists.
	Active      bool
	Percentage  decimal.Decimal
	TotalEquity decimal.Decimal
	TotalProfit decimal.Decimal
}

// Result holds the minority shares. Applicable is false for wholly owned or
// unconsolidated subsidiaries, in which case every amount is zero.
type Result struct {
	Applicable         bool            `json:"applicable"`
	MinorityPercentage decimal.Decimal `json:"minority_percentage"`
	Equity             decimal.Decimal `json:"equity"`
	Profit             decimal.Decimal `json:"profit"`
}

// Calculate applies the minority percentage to equity and profit.
func Calculate(in Input) (Result, error) {
	if in.Percentage.IsNegative() || in.Percentage.GreaterThan(shared.Hundred) {
		return Result{}, ErrInvalidPercentage
	}
	pct := shared.Hundred.Sub(in.Percentage)
	if !in.Active || !pct.IsPositive() {
		return Result{MinorityPercentage: decimal.Zero, Equity: decimal.Zero, Profit: decimal.Zero}, nil
	}
	return Result{
		Applicable:         true,
		MinorityPercentage: pct,
		Equity:             shared.Round(shared.PercentOf(in.TotalEquity, pct)),
		Profit:             shared.Round(shared.PercentOf(in.TotalProfit, pct)),
	}, nil
}

// EntryContext carries identifiers for generated entries.
type EntryContext struct {
	StatementID  uuid.UUID
	SubsidiaryID uuid.UUID
	RunID        *uuid.UUID
	CreatedBy    uuid.UUID
	Accounts     accounts.Map
	// SkipEquity omits the equity entry, e.g. in the statement whose first
	// consolidation already recognised the minority interest.
	SkipEquity bool
}

// BuildEntries posts the minority equity (§307 Abs. 1) and the minority share
// of the result (§307 Abs. 2). A loss share is booked in reverse.
func BuildEntries(res Result, ec EntryContext) []ledger.EntryInput {
	if !res.Applicable {
		return nil
	}
	acc := ec.Accounts
	ref := "MINORITY|" + ec.SubsidiaryID.String()
	base := ledger.EntryInput{
		StatementID:    ec.StatementID,
		RunID:          ec.RunID,
		AdjustmentType: ledger.TypeMinorityInterest,
		HGBReference:   ledger.HGB307,
		Source:         ledger.SourceAutomatic,
		CompanyID:      ledger.IDPtr(ec.SubsidiaryID),
		CreatedBy:      ec.CreatedBy,
	}

	var out []ledger.EntryInput
	if !ec.SkipEquity && res.Equity.IsPositive() {
		e := base
		e.DebitAccount = acc.SubsidiaryEquity
		e.CreditAccount = acc.MinorityInterest
		e.Amount = res.Equity
		e.Description = fmt.Sprintf("Anteile anderer Gesellschafter am Eigenkapital (%s %%)", res.MinorityPercentage.String())
		e.SourceRef = ref + "|EQUITY"
		out = append(out, e)
	}
	if !res.Profit.IsZero() {
		e := base
		e.Amount = res.Profit.Abs()
		e.SourceRef = ref + "|RESULT"
		if res.Profit.IsPositive() {
			e.DebitAccount = acc.MinorityProfitShare
			e.CreditAccount = acc.MinorityInterest
			e.Description = fmt.Sprintf("Anderen Gesellschaftern zustehender Gewinn (%s %%)", res.MinorityPercentage.String())
		} else {
			e.DebitAccount = acc.MinorityInterest
			e.CreditAccount = acc.MinorityProfitShare
			e.Description = fmt.Sprintf("Auf andere Gesellschafter entfallender Verlust (%s %%)", res.MinorityPercentage.String())
		}
		out = append(out, e)
	}
	return out
}
