// Package deconsol computes the group result of disposing of a subsidiary.
package deconsol

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/accounts"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// Input holds the figures of a full disposal.
type Input struct {
	Percentage       decimal.Decimal `json:"percentage" validate:"gt=0,lte=100"`
	AcquisitionCost  decimal.Decimal `json:"acquisition_cost" validate:"gte=0"`
	DisposalProceeds decimal.Decimal `json:"disposal_proceeds" validate:"gte=0"`
	// GoodwillWrittenOff is accumulated amortization plus impairment.
	GoodwillWrittenOff decimal.Decimal `json:"goodwill_written_off" validate:"gte=0"`
	// RemainingGoodwill is the carrying amount released with the disposal.
	RemainingGoodwill decimal.Decimal `json:"remaining_goodwill" validate:"gte=0"`
	SubsidiaryEquity  decimal.Decimal `json:"subsidiary_equity"`
	// TranslationDifference is the signed cumulative reserve recycled to profit or loss.
	TranslationDifference decimal.Decimal `json:"translation_difference"`
}

// Result is the disposal outcome.
type Result struct {
	BookValue             decimal.Decimal `json:"book_value"`
	ParentEquity          decimal.Decimal `json:"parent_equity"`
	MinorityReleased      decimal.Decimal `json:"minority_released"`
	GoodwillReleased      decimal.Decimal `json:"goodwill_released"`
	TranslationDifference decimal.Decimal `json:"translation_difference"`
	GainLoss              decimal.Decimal `json:"gain_loss"`
}

// IsGain reports a non-negative disposal result.
func (r Result) IsGain() bool { return !r.GainLoss.IsNegative() }

// Calculate returns
//
//	gainLoss = proceeds - (acquisitionCost - goodwillWrittenOff) + minorityReleased + translationDifference
func Calculate(in Input) (Result, error) {
	if err := shared.Validate(in); err != nil {
		return Result{}, err
	}
	minorityPct := shared.Hundred.Sub(in.Percentage)
	bookValue := shared.Round(in.AcquisitionCost.Sub(in.GoodwillWrittenOff))
	equity := shared.Round(in.SubsidiaryEquity)
	minority := shared.Round(shared.PercentOf(equity, minorityPct))
	ctd := shared.Round(in.TranslationDifference)
	gain := shared.Round(in.DisposalProceeds).Sub(bookValue).Add(minority).Add(ctd)
	return Result{
		BookValue:             bookValue,
		ParentEquity:          equity.Sub(minority),
		MinorityReleased:      minority,
		GoodwillReleased:      shared.Round(in.RemainingGoodwill),
		TranslationDifference: ctd,
		GainLoss:              gain,
	}, nil
}

// EntryContext carries identifiers for generated entries.
type EntryContext struct {
	StatementID     uuid.UUID
	ParticipationID uuid.UUID
	ParentID        uuid.UUID
	SubsidiaryID    uuid.UUID
	RunID           *uuid.UUID
	CreatedBy       uuid.UUID
	Accounts        accounts.Map
}

// BuildEntries derecognises the subsidiary through the disposal clearing
// account and closes the clearing into the disposal gain or loss. The
// remaining goodwill is expensed directly.
func BuildEntries(res Result, ec EntryContext) []ledger.EntryInput {
	acc := ec.Accounts
	ref := "DISPOSAL|" + ec.ParticipationID.String()
	base := ledger.EntryInput{
		StatementID:    ec.StatementID,
		RunID:          ec.RunID,
		AdjustmentType: ledger.TypeCapitalConsolidation,
		HGBReference:   ledger.HGB301,
		Source:         ledger.SourceAutomatic,
		CompanyID:      ledger.IDPtr(ec.ParentID),
		CounterpartyID: ledger.IDPtr(ec.SubsidiaryID),
		CreatedBy:      ec.CreatedBy,
	}
	entry := func(debit, credit string, amount decimal.Decimal, suffix, desc string) ledger.EntryInput {
		e := base
		e.DebitAccount = debit
		e.CreditAccount = credit
		e.Amount = amount
		e.SourceRef = ref + "|" + suffix
		e.Description = desc
		return e
	}

	var out []ledger.EntryInput
	if res.GoodwillReleased.IsPositive() {
		out = append(out, entry(acc.GoodwillDisposal, acc.Goodwill, res.GoodwillReleased, "GOODWILL",
			"Entkonsolidierung: Ausbuchung Geschäfts- oder Firmenwert"))
	}
	if res.ParentEquity.IsPositive() {
		out = append(out, entry(acc.SubsidiaryEquity, acc.DisposalClearing, res.ParentEquity, "EQUITY",
			"Entkonsolidierung: Ausbuchung anteiliges Eigenkapital"))
	}
	if res.MinorityReleased.IsPositive() {
		e := entry(acc.MinorityInterest, acc.DisposalClearing, res.MinorityReleased, "MINORITY",
			"Entkonsolidierung: Auflösung Anteile anderer Gesellschafter")
		e.AdjustmentType = ledger.TypeMinorityInterest
		e.HGBReference = ledger.HGB307
		out = append(out, e)
	}
	if !res.TranslationDifference.IsZero() {
		var e ledger.EntryInput
		if res.TranslationDifference.IsPositive() {
			e = entry(acc.TranslationReserve, acc.DisposalClearing, res.TranslationDifference, "TRANSLATION",
				"Entkonsolidierung: Erfolgswirksame Auflösung Eigenkapitaldifferenz aus Währungsumrechnung")
		} else {
			e = entry(acc.DisposalClearing, acc.TranslationReserve, res.TranslationDifference.Abs(), "TRANSLATION",
				"Entkonsolidierung: Erfolgswirksame Auflösung Eigenkapitaldifferenz aus Währungsumrechnung")
		}
		e.AdjustmentType = ledger.TypeCurrencyTranslation
		e.HGBReference = ledger.HGB308a
		out = append(out, e)
	}
	switch {
	case res.GainLoss.IsZero():
	case res.IsGain():
		out = append(out, entry(acc.DisposalClearing, acc.DisposalGain, res.GainLoss, "RESULT",
			"Entkonsolidierung: Entkonsolidierungsgewinn"))
	default:
		out = append(out, entry(acc.DisposalLoss, acc.DisposalClearing, res.GainLoss.Abs(), "RESULT",
			"Entkonsolidierung: Entkonsolidierungsverlust"))
	}
	return out
}
