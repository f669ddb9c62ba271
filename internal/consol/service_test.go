package consol_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/fx"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

func TestFirstConsolidationPostsCapitalEntriesAndSchedule(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()

	res := g.consolidate(t)

	require.True(t, res.Equity.BookEquity.Equal(d("180000")))
	require.True(t, res.Equity.AdjustedEquity.Equal(d("200000")))
	require.True(t, res.Capital.ParentShare.Equal(d("160000")))
	require.True(t, res.Capital.MinorityShare.Equal(d("40000")))
	require.True(t, res.Capital.Goodwill.Equal(d("60000")))
	require.True(t, res.Capital.NegativeGoodwill.IsZero())
	require.True(t, res.Capital.DeferredTax.Equal(d("6000")))

	p := res.Participation
	require.True(t, p.Active)
	require.Equal(t, g.stmt.ID, p.FirstStatementID)
	require.True(t, p.EquityAtAcquisition.Equal(d("200000")))
	require.True(t, p.Goodwill.Equal(d("60000")))

	require.Len(t, res.Entries, 5)
	byType := map[ledger.AdjustmentType]int{}
	for _, e := range res.Entries {
		require.Equal(t, ledger.StatusDraft, e.Status)
		require.Equal(t, ledger.SourceAutomatic, e.Source)
		require.Nil(t, e.RunID)
		byType[e.AdjustmentType]++
	}
	require.Equal(t, 3, byType[ledger.TypeCapitalConsolidation])
	require.Equal(t, 1, byType[ledger.TypeMinorityInterest])
	require.Equal(t, 1, byType[ledger.TypeDeferredTax])

	require.NotNil(t, res.Schedule)
	require.True(t, res.Schedule.InitialGoodwill.Equal(d("60000")))
	require.Equal(t, 2024, res.Schedule.StartYear)
	require.Equal(t, goodwill.DefaultUsefulLife, res.Schedule.UsefulLifeYears)

	stored, err := g.store.ListEntries(ctx, ledger.Filter{StatementID: g.stmt.ID})
	require.NoError(t, err)
	require.Len(t, stored, 5)
	require.Equal(t, []string{"first_consolidation"}, g.audit.actions())
}

func TestFirstConsolidationWithNegativeGoodwillHasNoSchedule(t *testing.T) {
	g := newGroup(t)
	in := g.firstInput()
	in.AcquisitionCost = d("150000")

	res, err := g.svc.PerformFirstConsolidation(context.Background(), in)
	require.NoError(t, err)
	require.True(t, res.Capital.NegativeGoodwill.Equal(d("10000")))
	require.Nil(t, res.Schedule)

	_, err = g.store.GetScheduleByParticipation(context.Background(), res.Participation.ID)
	require.ErrorIs(t, err, goodwill.ErrScheduleNotFound)
}

func TestFirstConsolidationRejectsDuplicateParticipation(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.consolidate(t)

	_, err := g.svc.PerformFirstConsolidation(ctx, g.firstInput())
	require.ErrorIs(t, err, consol.ErrDuplicateParticipation)
	require.Equal(t, shared.KindConflict, shared.KindOf(err))

	entries, err := g.store.ListEntries(ctx, ledger.Filter{StatementID: g.stmt.ID})
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestFirstConsolidationValidatesInput(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()

	in := g.firstInput()
	in.Percentage = d("0")
	_, err := g.svc.PerformFirstConsolidation(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	in = g.firstInput()
	in.Percentage = d("100.5")
	_, err = g.svc.PerformFirstConsolidation(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	in = g.firstInput()
	in.SubsidiaryID = in.ParentID
	_, err = g.svc.PerformFirstConsolidation(ctx, in)
	require.ErrorIs(t, err, consol.ErrSameCompany)

	in = g.firstInput()
	in.Equity.RetainedEarnings = decimal.NullDecimal{}
	_, err = g.svc.PerformFirstConsolidation(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	in = g.firstInput()
	in.StatementID = uuid.New()
	_, err = g.svc.PerformFirstConsolidation(ctx, in)
	require.ErrorIs(t, err, consol.ErrStatementNotFound)

	entries, err := g.store.ListEntries(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDeconsolidationBooksDisposalGain(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	stmt := g.addStatement(2025, reporting2025)
	other := uuid.New()
	p := consol.Participation{
		ID:                  uuid.New(),
		ParentID:            g.parent.ID,
		SubsidiaryID:        other,
		Percentage:          d("80"),
		AcquisitionDate:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		AcquisitionCost:     d("150000"),
		EquityAtAcquisition: d("100000"),
		HiddenReserves:      d("0"),
		Goodwill:            d("0"),
		NegativeGoodwill:    d("0"),
		FirstStatementID:    uuid.New(),
		Active:              true,
	}
	g.store.AddParticipation(p)

	res, err := g.svc.PerformDeconsolidation(ctx, consol.DeconsolidationInput{
		ParticipationID:  p.ID,
		StatementID:      stmt.ID,
		DisposalDate:     time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		DisposalProceeds: d("180000"),
		ActorID:          g.actor,
	})
	require.NoError(t, err)
	require.True(t, res.Result.BookValue.Equal(d("150000")))
	require.True(t, res.Result.MinorityReleased.Equal(d("20000")))
	require.True(t, res.Result.GainLoss.Equal(d("50000")))
	require.True(t, res.Result.IsGain())
	require.Len(t, res.Entries, 3)

	require.False(t, res.Participation.Active)
	require.NotNil(t, res.Participation.DisposalDate)
	require.True(t, res.Participation.DisposalProceeds.Valid)

	stored, err := g.store.GetParticipation(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, stored.Active)

	_, err = g.svc.PerformDeconsolidation(ctx, consol.DeconsolidationInput{
		ParticipationID:  p.ID,
		StatementID:      stmt.ID,
		DisposalDate:     time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC),
		DisposalProceeds: d("1"),
		ActorID:          g.actor,
	})
	require.ErrorIs(t, err, consol.ErrAlreadyDisposed)
	require.Contains(t, g.audit.actions(), "deconsolidation")
}

func TestDeconsolidationReleasesRemainingGoodwill(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	first := g.consolidate(t)
	_, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)

	stmt := g.addStatement(2025, reporting2025)
	res, err := g.svc.PerformDeconsolidation(ctx, consol.DeconsolidationInput{
		ParticipationID:  first.Participation.ID,
		StatementID:      stmt.ID,
		DisposalDate:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		DisposalProceeds: d("250000"),
		Translation: &fx.Input{
			Equity: d("200000"),
			Rates:  fx.Rates{Closing: d("1.00"), Average: d("1.05"), Historical: d("1.10")},
		},
		ActorID: g.actor,
	})
	require.NoError(t, err)
	// 6,000 amortized in 2024; the rest leaves with the subsidiary.
	require.True(t, res.Result.BookValue.Equal(d("214000")))
	require.True(t, res.Result.GoodwillReleased.Equal(d("54000")))
	require.True(t, res.Result.MinorityReleased.Equal(d("40000")))
	require.True(t, res.Result.TranslationDifference.Equal(d("-20000")))
	require.True(t, res.Result.GainLoss.Equal(d("56000")))

	sched, err := g.store.GetScheduleByParticipation(ctx, first.Participation.ID)
	require.NoError(t, err)
	require.Equal(t, goodwill.StatusReleased, sched.Status)
}

func TestDeconsolidationRejectsDisposalBeforeAcquisition(t *testing.T) {
	g := newGroup(t)
	first := g.consolidate(t)

	_, err := g.svc.PerformDeconsolidation(context.Background(), consol.DeconsolidationInput{
		ParticipationID:  first.Participation.ID,
		StatementID:      g.stmt.ID,
		DisposalDate:     time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		DisposalProceeds: d("1000"),
		ActorID:          g.actor,
	})
	require.ErrorIs(t, err, consol.ErrDisposalBeforeAcquisition)

	p, err := g.store.GetParticipation(context.Background(), first.Participation.ID)
	require.NoError(t, err)
	require.True(t, p.Active)
}

func TestDeconsolidationOfUnknownParticipation(t *testing.T) {
	g := newGroup(t)
	_, err := g.svc.PerformDeconsolidation(context.Background(), consol.DeconsolidationInput{
		ParticipationID:  uuid.New(),
		StatementID:      g.stmt.ID,
		DisposalDate:     reporting2024,
		DisposalProceeds: d("1000"),
		ActorID:          g.actor,
	})
	require.ErrorIs(t, err, consol.ErrNoActiveParticipation)
}

func TestCalculateMinorityInterests(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.consolidate(t)

	beta := consol.Participation{
		ID:                  uuid.New(),
		ParentID:            g.parent.ID,
		SubsidiaryID:        g.sister.ID,
		Percentage:          d("60"),
		AcquisitionDate:     time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		AcquisitionCost:     d("30000"),
		EquityAtAcquisition: d("50000"),
		Active:              true,
	}
	whollyOwned := consol.Participation{
		ID:                  uuid.New(),
		ParentID:            g.parent.ID,
		SubsidiaryID:        uuid.New(),
		Percentage:          d("100"),
		AcquisitionDate:     time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		EquityAtAcquisition: d("80000"),
		Active:              true,
	}
	disposed := consol.Participation{
		ID:                  uuid.New(),
		ParentID:            g.parent.ID,
		SubsidiaryID:        uuid.New(),
		Percentage:          d("50"),
		AcquisitionDate:     time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		EquityAtAcquisition: d("90000"),
	}
	g.store.AddParticipation(beta)
	g.store.AddParticipation(whollyOwned)
	g.store.AddParticipation(disposed)

	res, err := g.svc.CalculateMinorityInterests(ctx, g.stmt.ID, g.parent.ID)
	require.NoError(t, err)
	require.Len(t, res.Details, 2)

	alpha := res.Details[0]
	require.Equal(t, "Alpha GmbH", alpha.SubsidiaryName)
	require.True(t, alpha.MinorityPercentage.Equal(d("20")))
	require.True(t, alpha.TotalEquity.Equal(d("200000")))
	require.True(t, alpha.MinorityEquity.Equal(d("40000")))
	require.True(t, alpha.MinorityProfit.Equal(d("10000")))

	b := res.Details[1]
	require.Equal(t, "Beta GmbH", b.SubsidiaryName)
	require.True(t, b.TotalEquity.Equal(d("50000")))
	require.True(t, b.MinorityEquity.Equal(d("20000")))
	require.True(t, b.MinorityProfit.IsZero())

	require.True(t, res.MinorityEquity.Equal(d("60000")))
	require.True(t, res.MinorityProfit.Equal(d("10000")))

	_, err = g.svc.CalculateMinorityInterests(ctx, uuid.New(), g.parent.ID)
	require.ErrorIs(t, err, consol.ErrStatementNotFound)
}

func TestMinorityInterestsWithoutSubsidiaries(t *testing.T) {
	g := newGroup(t)
	res, err := g.svc.CalculateMinorityInterests(context.Background(), g.stmt.ID, g.sub.ID)
	require.NoError(t, err)
	require.Empty(t, res.Details)
	require.True(t, res.MinorityEquity.IsZero())
}

func TestHiddenLiabilitiesCarryThroughMinorityAndDisposal(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	in := g.firstInput()
	in.Equity.HiddenReserves = decimal.Zero
	in.Equity.HiddenLiabilities = d("10000")

	first, err := g.svc.PerformFirstConsolidation(ctx, in)
	require.NoError(t, err)
	require.True(t, first.Equity.AdjustedEquity.Equal(d("170000")))
	require.True(t, first.Participation.HiddenLiabilities.Equal(d("10000")))
	require.True(t, first.Capital.MinorityShare.Equal(d("34000")))

	acc := consol.DefaultConfig().Accounts
	var revalued bool
	for _, e := range first.Entries {
		if e.CreditAccount == acc.HiddenLiabilities {
			revalued = true
			require.Equal(t, acc.SubsidiaryEquity, e.DebitAccount)
			require.True(t, e.Amount.Equal(d("10000")))
		}
	}
	require.True(t, revalued)

	stored, err := g.store.GetParticipation(ctx, first.Participation.ID)
	require.NoError(t, err)
	require.True(t, stored.HiddenLiabilities.Equal(d("10000")))

	// Book equity of 180,000 on the statement less the hidden liabilities.
	mi, err := g.svc.CalculateMinorityInterests(ctx, g.stmt.ID, g.parent.ID)
	require.NoError(t, err)
	require.Len(t, mi.Details, 1)
	require.True(t, mi.Details[0].TotalEquity.Equal(d("170000")))
	require.True(t, mi.Details[0].MinorityEquity.Equal(d("34000")))

	run, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	require.Equal(t, 1, run.Summary.CountsByType[ledger.TypeMinorityInterest])

	next := g.addStatement(2025, reporting2025)
	res, err := g.svc.PerformDeconsolidation(ctx, consol.DeconsolidationInput{
		ParticipationID:  first.Participation.ID,
		StatementID:      next.ID,
		DisposalDate:     time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		DisposalProceeds: d("250000"),
		ActorID:          g.actor,
	})
	require.NoError(t, err)
	require.True(t, res.Result.MinorityReleased.Equal(d("34000")))
	require.True(t, res.Result.ParentEquity.Equal(d("136000")))
}

func TestDeconsolidationAddsYearlyTranslationToCarriedReserve(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	first := g.consolidate(t)

	stmt := g.addStatement(2025, reporting2025)
	res, err := g.svc.PerformDeconsolidation(ctx, consol.DeconsolidationInput{
		ParticipationID:       first.Participation.ID,
		StatementID:           stmt.ID,
		DisposalDate:          time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		DisposalProceeds:      d("250000"),
		TranslationDifference: d("5000"),
		Translation: &fx.Input{
			Equity: d("200000"),
			Rates:  fx.Rates{Closing: d("1.00"), Average: d("1.05"), Historical: d("1.10")},
		},
		ActorID: g.actor,
	})
	require.NoError(t, err)
	require.True(t, res.Result.TranslationDifference.Equal(d("-15000")))
}
