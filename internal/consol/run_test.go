package consol_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/platform/cache"
	"github.com/odyssey-erp/konzern/internal/shared"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRunConsolidationCommitsAllStages(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.consolidate(t)
	g.addICBalances(g.stmt)

	res, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.RunID)

	// Minority profit share, debt consolidation and the 2024 amortization.
	// Capital entries and minority equity came with the first consolidation.
	sum := res.Summary
	require.Equal(t, 3, sum.EntryCount)
	require.Equal(t, 1, sum.CountsByType[ledger.TypeMinorityInterest])
	require.Equal(t, 1, sum.CountsByType[ledger.TypeDebtConsolidation])
	require.Equal(t, 1, sum.CountsByType[ledger.TypeCapitalConsolidation])
	require.True(t, sum.TotalAmount.Equal(d("25500")))
	require.Equal(t, 1, sum.ExceptionCount)
	require.Equal(t, 1, sum.MaterialExceptions)
	require.Equal(t, 1, sum.AmortizationEntries)
	require.Equal(t, 1, sum.FiscalYearFlags)

	for _, e := range res.Entries {
		require.NotNil(t, e.RunID)
		require.Equal(t, res.RunID, *e.RunID)
		require.Equal(t, ledger.StatusDraft, e.Status)
	}
	require.Len(t, res.Exceptions, 1)
	require.True(t, res.Exceptions[0].Difference.Abs().Equal(d("500")))
	require.Len(t, res.Amortizations, 1)
	require.True(t, res.Amortizations[0].AmortizationAmount.Equal(d("6000")))

	require.Len(t, res.FiscalYear, 2)
	byCompany := map[uuid.UUID]fiscalyear.Adjustment{}
	for _, adj := range res.FiscalYear {
		byCompany[adj.CompanyID] = adj
	}
	require.Equal(t, fiscalyear.StatusNotRequired, byCompany[g.sub.ID].Status)
	sister := byCompany[g.sister.ID]
	require.Equal(t, fiscalyear.StatusPending, sister.Status)
	require.Equal(t, fiscalyear.MethodInterimStatement, sister.Method)
	require.Equal(t, 122, sister.DifferenceDays)
	require.False(t, sister.HGBCompliant)

	entries, err := g.store.ListEntries(ctx, ledger.Filter{StatementID: g.stmt.ID})
	require.NoError(t, err)
	require.Len(t, entries, 8)
	require.Contains(t, g.audit.actions(), "consolidation_run")
}

func TestRunConsolidationRerunReplacesDrafts(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	first := g.consolidate(t)
	g.addICBalances(g.stmt)

	r1, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	r2, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	require.NotEqual(t, r1.RunID, r2.RunID)
	require.Equal(t, r1.Summary.EntryCount, r2.Summary.EntryCount)
	require.True(t, r1.Summary.TotalAmount.Equal(r2.Summary.TotalAmount))

	entries, err := g.store.ListEntries(ctx, ledger.Filter{StatementID: g.stmt.ID})
	require.NoError(t, err)
	require.Len(t, entries, 8)
	fromRuns, err := g.store.ListEntries(ctx, ledger.Filter{StatementID: g.stmt.ID, RunID: r1.RunID})
	require.NoError(t, err)
	require.Empty(t, fromRuns)

	exceptions, err := g.store.ListExceptions(ctx, g.stmt.ID, "")
	require.NoError(t, err)
	require.Len(t, exceptions, 1)

	sched, err := g.store.GetScheduleByParticipation(ctx, first.Participation.ID)
	require.NoError(t, err)
	amortizations, err := g.store.ListAmortizations(ctx, sched.ID)
	require.NoError(t, err)
	require.Len(t, amortizations, 1)
	require.True(t, amortizations[0].Booked)
	require.True(t, sched.AccumulatedAmortization.Equal(d("6000")))

	adjustments, err := g.svc.ListFiscalYearAdjustments(ctx, g.stmt.ID)
	require.NoError(t, err)
	require.Len(t, adjustments, 2)
}

func TestRunConsolidationKeepsExplainedException(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.consolidate(t)
	g.addICBalances(g.stmt)

	r1, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	require.Len(t, r1.Exceptions, 1)

	exceptions := elimination.NewService(g.store.Elimination(), nil, nil)
	_, err = exceptions.ExplainException(ctx, r1.Exceptions[0].ID, elimination.ReasonTiming, "Rechnung erst im Januar erfasst", g.checker)
	require.NoError(t, err)

	r2, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	require.Empty(t, r2.Exceptions)
	require.Equal(t, 1, r2.Summary.ExceptionCount)

	all, err := g.store.ListExceptions(ctx, g.stmt.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, elimination.StatusExplained, all[0].Status)
}

func TestRunConsolidationRollsBackOnFailure(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	first := g.consolidate(t)
	g.addICBalances(g.stmt)

	boom := errors.New("disk full")
	g.store.FailOn(memstore.OpInsertException, boom)
	_, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.ErrorIs(t, err, boom)
	var stageErr *consol.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, consol.StageExceptions, stageErr.Stage)

	entries, err := g.store.ListEntries(ctx, ledger.Filter{StatementID: g.stmt.ID})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, e := range entries {
		require.Nil(t, e.RunID)
	}
	sched, err := g.store.GetScheduleByParticipation(ctx, first.Participation.ID)
	require.NoError(t, err)
	amortizations, err := g.store.ListAmortizations(ctx, sched.ID)
	require.NoError(t, err)
	require.Empty(t, amortizations)
	adjustments, err := g.store.ListFiscalYearAdjustments(ctx, g.stmt.ID)
	require.NoError(t, err)
	require.Empty(t, adjustments)

	g.store.FailOn(memstore.OpInsertException, nil)
	g.store.FailOn(memstore.OpSaveAdjustment, boom)
	_, err = g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, consol.StageFiscalYear, stageErr.Stage)
	exceptions, err := g.store.ListExceptions(ctx, g.stmt.ID, "")
	require.NoError(t, err)
	require.Empty(t, exceptions)

	g.store.FailOn(memstore.OpSaveAdjustment, nil)
	res, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	require.Equal(t, 3, res.Summary.EntryCount)
}

func TestRunConsolidationHonoursLock(t *testing.T) {
	client := newRedis(t)
	locker := cache.NewLocker(client)
	g := newGroup(t, consol.WithLocker(locker))
	ctx := context.Background()
	g.consolidate(t)

	release, err := locker.Acquire(ctx, shared.ConsolidationLockKey(g.stmt.ID), time.Minute)
	require.NoError(t, err)

	_, err = g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.ErrorIs(t, err, consol.ErrRunInProgress)
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
	entries, err := g.store.ListEntries(ctx, ledger.Filter{StatementID: g.stmt.ID})
	require.NoError(t, err)
	require.Len(t, entries, 5)

	require.NoError(t, release(ctx))
	_, err = g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)

	// The run released its own lock.
	again, err := locker.Acquire(ctx, shared.ConsolidationLockKey(g.stmt.ID), time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRunConsolidationFetchTimeout(t *testing.T) {
	store := memstore.New()
	parent := consol.Company{ID: uuid.New(), Name: "Muster Holding AG"}
	stmt := consol.Statement{ID: uuid.New(), GroupCompanyID: parent.ID, FiscalYear: 2024, ReportingDate: reporting2024}
	store.AddStatement(stmt, parent)
	store.SetReadDelay(time.Second)

	cfg := consol.DefaultConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	svc := consol.NewService(store, cfg, nil)

	began := time.Now()
	_, err := svc.RunConsolidation(context.Background(), stmt.ID, uuid.New())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var stageErr *consol.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, consol.StageFetch, stageErr.Stage)
	require.Less(t, time.Since(began), 500*time.Millisecond)
}

func TestRunConsolidationUnknownStatement(t *testing.T) {
	g := newGroup(t)
	_, err := g.svc.RunConsolidation(context.Background(), uuid.New(), g.actor)
	require.ErrorIs(t, err, consol.ErrStatementNotFound)
}

func TestRunConsolidationAfterSubmissionReportsDuplicate(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.consolidate(t)

	res, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)

	entries := ledger.NewService(g.store.Ledger(), nil, nil, nil)
	for _, e := range res.Entries {
		_, err := entries.SubmitForApproval(ctx, e.ID, g.actor)
		require.NoError(t, err)
	}

	_, err = g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.ErrorIs(t, err, ledger.ErrDuplicateEntry)
}

func TestRunInFollowingYearRepeatsCapitalConsolidation(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.consolidate(t)
	_, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)

	next := g.addStatement(2025, reporting2025)
	res, err := g.svc.RunConsolidation(ctx, next.ID, g.actor)
	require.NoError(t, err)

	// Offset, goodwill and hidden reserves are repeated next to the 2025
	// amortization; minority equity is booked on current equity.
	require.Equal(t, 4, res.Summary.CountsByType[ledger.TypeCapitalConsolidation])
	require.Equal(t, 1, res.Summary.CountsByType[ledger.TypeDeferredTax])
	require.Equal(t, 2, res.Summary.CountsByType[ledger.TypeMinorityInterest])
	require.Equal(t, 1, res.Summary.AmortizationEntries)
	require.Equal(t, 2025, res.Amortizations[0].FiscalYear)

	var minorityEquity bool
	for _, e := range res.Entries {
		if e.AdjustmentType == ledger.TypeMinorityInterest && e.Amount.Equal(d("40000")) {
			minorityEquity = true
		}
	}
	require.True(t, minorityEquity)
}

func TestFiscalYearDecisionSurvivesRerun(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.consolidate(t)

	res, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	var pending fiscalyear.Adjustment
	for _, adj := range res.FiscalYear {
		if adj.Status == fiscalyear.StatusPending {
			pending = adj
		}
	}
	require.Equal(t, g.sister.ID, pending.CompanyID)

	_, err = g.svc.DecideFiscalYearAdjustment(ctx, pending.ID, true, uuid.Nil, "")
	require.ErrorIs(t, err, ledger.ErrActorRequired)
	_, err = g.svc.DecideFiscalYearAdjustment(ctx, pending.ID, true, g.actor, "")
	require.ErrorIs(t, err, fiscalyear.ErrSelfDecision)
	_, err = g.svc.DecideFiscalYearAdjustment(ctx, pending.ID, false, g.checker, "")
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	approved, err := g.svc.DecideFiscalYearAdjustment(ctx, pending.ID, true, g.checker, "Zwischenabschluss liegt vor")
	require.NoError(t, err)
	require.Equal(t, fiscalyear.StatusApproved, approved.Status)
	require.Equal(t, g.checker, *approved.DecidedBy)

	_, err = g.svc.DecideFiscalYearAdjustment(ctx, pending.ID, false, g.checker, "doch nicht")
	require.ErrorIs(t, err, fiscalyear.ErrNotPending)

	_, err = g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	adjustments, err := g.svc.ListFiscalYearAdjustments(ctx, g.stmt.ID)
	require.NoError(t, err)
	require.Len(t, adjustments, 2)
	for _, adj := range adjustments {
		if adj.CompanyID == g.sister.ID {
			require.Equal(t, approved.ID, adj.ID)
			require.Equal(t, fiscalyear.StatusApproved, adj.Status)
		}
	}
	require.Contains(t, g.audit.actions(), "fiscal_year_approved")

	_, err = g.svc.DecideFiscalYearAdjustment(ctx, uuid.New(), true, g.checker, "")
	require.ErrorIs(t, err, fiscalyear.ErrAdjustmentNotFound)
}

func TestRunPostsIntercompanyIncomeAgainstExpense(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	g.store.AddICBalances(g.stmt.ID,
		elimination.Balance{CompanyID: g.parent.ID, CounterpartyID: g.sub.ID, AccountCode: "8010", Category: elimination.CategoryRevenue, Amount: d("12000")},
		elimination.Balance{CompanyID: g.sub.ID, CounterpartyID: g.parent.ID, AccountCode: "6010", Category: elimination.CategoryExpense, Amount: d("12000")},
		elimination.Balance{CompanyID: g.sub.ID, CounterpartyID: g.parent.ID, AccountCode: "1010", Category: elimination.CategoryUnrealizedProfit, Amount: d("800")},
	)

	res, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)

	var income, profit *ledger.Entry
	for i := range res.Entries {
		switch res.Entries[i].AdjustmentType {
		case ledger.TypeIncomeExpense:
			income = &res.Entries[i]
		case ledger.TypeIntercompanyProfit:
			profit = &res.Entries[i]
		}
	}
	require.NotNil(t, income)
	require.Equal(t, "8010", income.DebitAccount)
	require.Equal(t, "6010", income.CreditAccount)
	require.Equal(t, ledger.HGB305, income.HGBReference)
	require.NotNil(t, profit)
	require.Equal(t, consol.DefaultConfig().Accounts.CostOfSales, profit.DebitAccount)
	require.Equal(t, "1010", profit.CreditAccount)
	require.Equal(t, ledger.HGB304, profit.HGBReference)
}

func TestFiscalYearProRataProjectsSubsidiaryIncome(t *testing.T) {
	g := newGroup(t)
	ctx := context.Background()
	res, err := g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)
	var sister fiscalyear.Adjustment
	for _, adj := range res.FiscalYear {
		if adj.CompanyID == g.sister.ID {
			sister = adj
		}
	}
	require.Equal(t, 122, sister.DifferenceDays)

	g.store.AddBalances(g.stmt.ID,
		consol.AccountBalance{CompanyID: g.sister.ID, AccountCode: "8000", Class: consol.ClassRevenue, Amount: d("100000")},
		consol.AccountBalance{CompanyID: g.sister.ID, AccountCode: "6000", Class: consol.ClassExpense, Amount: d("50000")},
		consol.AccountBalance{CompanyID: g.sister.ID, AccountCode: "1200", Class: consol.ClassAsset, Amount: d("70000")},
	)

	proj, err := g.svc.FiscalYearProRata(ctx, sister.ID)
	require.NoError(t, err)
	require.Equal(t, sister.ID, proj.AdjustmentID)
	require.True(t, proj.Factor.Equal(fiscalyear.Factor(122)))
	require.Len(t, proj.Lines, 2)
	require.Equal(t, "6000", proj.Lines[0].AccountCode)
	require.True(t, proj.Revenue.Equal(d("33424.70")), proj.Revenue.String())
	require.True(t, proj.Expense.Equal(d("16712.35")), proj.Expense.String())
	require.True(t, proj.ResultEffect.Equal(d("16712.35")))

	_, err = g.svc.FiscalYearProRata(ctx, uuid.New())
	require.ErrorIs(t, err, fiscalyear.ErrAdjustmentNotFound)
}

func TestStatementSummaryIsCachedUntilInvalidated(t *testing.T) {
	client := newRedis(t)
	g := newGroup(t, consol.WithCache(cache.NewVersioned(client, time.Minute)))
	ctx := context.Background()
	g.consolidate(t)
	g.addICBalances(g.stmt)

	before, err := g.svc.StatementSummary(ctx, g.stmt.ID)
	require.NoError(t, err)
	require.Equal(t, 5, before.Entries.EntryCount)
	require.Zero(t, before.PendingFiscal)

	_, err = g.svc.RunConsolidation(ctx, g.stmt.ID, g.actor)
	require.NoError(t, err)

	after, err := g.svc.StatementSummary(ctx, g.stmt.ID)
	require.NoError(t, err)
	require.Equal(t, 8, after.Entries.EntryCount)
	require.Equal(t, 1, after.Exceptions.Total)
	require.Equal(t, 1, after.PendingFiscal)

	again, err := g.svc.StatementSummary(ctx, g.stmt.ID)
	require.NoError(t, err)
	require.Equal(t, after.GeneratedAt, again.GeneratedAt)
	require.Equal(t, after.Entries.EntryCount, again.Entries.EntryCount)

	_, err = g.svc.StatementSummary(ctx, uuid.New())
	require.ErrorIs(t, err, consol.ErrStatementNotFound)
}
