package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/konzern/internal/consol/capital"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/consol/minority"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/platform/cache"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// Run stages name the step a failed run stopped at.
const (
	StageLock        = "lock"
	StageFetch       = "fetch"
	StageCapital     = "capital"
	StageMinority    = "minority"
	StageElimination = "elimination"
	StageExceptions  = "exceptions"
	StageGoodwill    = "goodwill"
	StageFiscalYear  = "fiscal_year"
	StageReset       = "reset"
)

// StageError reports the run stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("consol: run stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

type runData struct {
	statement      Statement
	companies      []Company
	balances       []AccountBalance
	icBalances     []elimination.Balance
	participations []Participation
	schedules      []goodwill.Schedule
}

type runPlan struct {
	capital     []ledger.EntryInput
	minority    []ledger.EntryInput
	elimination elimination.Result
	fiscalYear  []fiscalyear.Adjustment
	schedules   []goodwill.Schedule
}

// RunConsolidation consolidates a statement: every engine runs against the
// freshly loaded figures and all output is committed in one transaction as
// drafts. Drafts of earlier runs are replaced, so a rerun is idempotent.
func (s *Service) RunConsolidation(ctx context.Context, statementID, actor uuid.UUID) (RunResult, error) {
	began := time.Now()
	res, err := s.runConsolidation(ctx, statementID, actor)
	status := "succeeded"
	switch {
	case errors.Is(err, ErrRunInProgress):
		status = "locked"
	case err != nil:
		status = "failed"
	}
	observeRun(status, time.Since(began))
	if err != nil {
		s.log().Error("consolidation run failed",
			slog.String("statement_id", statementID.String()),
			slog.Any("error", err))
		return RunResult{}, err
	}
	res.Duration = time.Since(began)
	return res, nil
}

func (s *Service) runConsolidation(ctx context.Context, statementID, actor uuid.UUID) (RunResult, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.ConsolidationLockKey(statementID), s.cfg.LockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			return RunResult{}, ErrRunInProgress
		}
		if err != nil {
			return RunResult{}, stageError(StageLock, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log().Warn("release run lock", slog.String("statement_id", statementID.String()), slog.Any("error", err))
			}
		}()
	}

	data, err := s.fetch(ctx, statementID)
	if err != nil {
		return RunResult{}, stageError(StageFetch, err)
	}

	started := s.now()
	runID := uuid.New()
	plan, err := s.plan(data, runID, actor, started)
	if err != nil {
		return RunResult{}, err
	}

	out := RunResult{RunID: runID, StatementID: statementID, StartedAt: started}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.DeleteRunDrafts(ctx, statementID); err != nil {
			return stageError(StageReset, err)
		}
		for _, stage := range []struct {
			name   string
			inputs []ledger.EntryInput
		}{
			{StageCapital, plan.capital},
			{StageMinority, plan.minority},
			{StageElimination, plan.elimination.Entries},
		} {
			posted, err := ledger.PostDrafts(ctx, tx, started, stage.inputs...)
			if err != nil {
				return stageError(stage.name, err)
			}
			out.Entries = append(out.Entries, posted...)
		}

		written, err := elimination.ReplaceRunExceptions(ctx, tx, statementID, plan.elimination.Exceptions)
		if err != nil {
			return stageError(StageExceptions, err)
		}
		out.Exceptions = written

		for _, sched := range plan.schedules {
			booked, err := s.goodwill.BookYearTx(ctx, tx, sched.ID, statementID, data.statement.FiscalYear, actor, &runID)
			switch {
			case errors.Is(err, goodwill.ErrScheduleExhausted),
				errors.Is(err, goodwill.ErrYearOutOfOrder),
				errors.Is(err, goodwill.ErrScheduleReleased):
				s.log().Debug("goodwill schedule skipped",
					slog.String("schedule_id", sched.ID.String()),
					slog.String("reason", err.Error()))
				continue
			case err != nil:
				return stageError(StageGoodwill, err)
			}
			if len(booked.Entries) > 0 {
				out.Entries = append(out.Entries, booked.Entries...)
				out.Amortizations = append(out.Amortizations, booked.Amortization)
			}
		}

		for _, adj := range plan.fiscalYear {
			saved, err := s.saveFiscalYear(ctx, tx, adj)
			if err != nil {
				return stageError(StageFiscalYear, err)
			}
			out.FiscalYear = append(out.FiscalYear, saved)
		}
		return nil
	})
	if err != nil {
		return RunResult{}, err
	}

	out.Summary = summarizeRun(out, plan)
	countPosted(typeCounts(out.Entries))
	setExceptions(out.Summary.MaterialExceptions, out.Summary.ExceptionCount-out.Summary.MaterialExceptions)
	s.invalidate(ctx)
	s.recordAudit(ctx, actor, "consolidation_run", "statement", statementID.String(), map[string]any{
		"run_id":      runID.String(),
		"entries":     out.Summary.EntryCount,
		"exceptions":  out.Summary.ExceptionCount,
		"amortized":   out.Summary.AmortizationEntries,
		"fiscal_flag": out.Summary.FiscalYearFlags,
	})
	s.log().Info("consolidation run committed",
		slog.String("statement_id", statementID.String()),
		slog.String("run_id", runID.String()),
		slog.Int("entries", out.Summary.EntryCount),
		slog.Int("exceptions", out.Summary.ExceptionCount),
		slog.Int("material_exceptions", out.Summary.MaterialExceptions))
	return out, nil
}

// fetch loads the run input concurrently. Nothing is written before it
// returns, so a timeout aborts the run cleanly.
func (s *Service) fetch(ctx context.Context, statementID uuid.UUID) (runData, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	var d runData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		d.statement, err = s.store.GetStatement(gctx, statementID)
		return err
	})
	g.Go(func() error {
		var err error
		d.companies, err = s.store.ListCompanies(gctx, statementID)
		return err
	})
	g.Go(func() error {
		var err error
		d.balances, err = s.store.ListBalances(gctx, statementID)
		return err
	})
	g.Go(func() error {
		var err error
		d.icBalances, err = s.store.ListICBalances(gctx, statementID)
		return err
	})
	if err := g.Wait(); err != nil {
		return runData{}, err
	}

	members := make(map[uuid.UUID]struct{}, len(d.companies))
	parents := make([]uuid.UUID, 0, len(d.companies))
	for _, c := range d.companies {
		members[c.ID] = struct{}{}
		parents = append(parents, c.ID)
	}
	parts, err := s.store.ListParticipations(ctx, parents, true)
	if err != nil {
		return runData{}, err
	}
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		if _, ok := members[p.SubsidiaryID]; !ok {
			continue
		}
		d.participations = append(d.participations, p)
		ids = append(ids, p.ID)
	}
	sort.Slice(d.participations, func(i, j int) bool {
		return d.participations[i].ID.String() < d.participations[j].ID.String()
	})
	if len(ids) > 0 {
		if d.schedules, err = s.store.ListSchedules(ctx, ids); err != nil {
			return runData{}, err
		}
	}
	return d, nil
}

// plan runs the pure engines. Participations consolidated for the first
// time in this statement already carry their capital entries and minority
// equity from PerformFirstConsolidation.
func (s *Service) plan(d runData, runID, actor uuid.UUID, now time.Time) (runPlan, error) {
	var plan runPlan
	rid := &runID
	stmt := d.statement
	for _, p := range d.participations {
		first := p.FirstStatementID == stmt.ID
		if !first {
			res, err := s.capital.Consolidate(capital.Input{
				Percentage:        p.Percentage,
				AcquisitionCost:   p.AcquisitionCost,
				AdjustedEquity:    p.EquityAtAcquisition,
				HiddenReserves:    p.HiddenReserves,
				HiddenLiabilities: p.HiddenLiabilities,
			})
			if err != nil {
				return runPlan{}, stageError(StageCapital, fmt.Errorf("participation %s: %w", p.ID, err))
			}
			plan.capital = append(plan.capital, capital.BuildEntries(res, capital.EntryContext{
				StatementID:     stmt.ID,
				ParticipationID: p.ID,
				ParentID:        p.ParentID,
				SubsidiaryID:    p.SubsidiaryID,
				RunID:           rid,
				CreatedBy:       actor,
				Accounts:        s.cfg.Accounts,
				SkipMinority:    true,
			})...)
		}

		res, err := minority.Calculate(minority.Input{
			Active:      p.Active,
			Percentage:  p.Percentage,
			TotalEquity: currentEquity(p, d.balances),
			TotalProfit: profitOf(d.balances, p.SubsidiaryID),
		})
		if err != nil {
			return runPlan{}, stageError(StageMinority, fmt.Errorf("participation %s: %w", p.ID, err))
		}
		plan.minority = append(plan.minority, minority.BuildEntries(res, minority.EntryContext{
			StatementID:  stmt.ID,
			SubsidiaryID: p.SubsidiaryID,
			RunID:        rid,
			CreatedBy:    actor,
			Accounts:     s.cfg.Accounts,
			SkipEquity:   first,
		})...)
	}

	plan.elimination = s.elimination.Eliminate(elimination.Context{
		StatementID: stmt.ID,
		RunID:       rid,
		CreatedBy:   actor,
		Now:         now,
	}, d.icBalances)

	for _, c := range d.companies {
		if c.ID == stmt.GroupCompanyID {
			continue
		}
		adj, err := fiscalyear.Evaluate(fiscalyear.Input{
			StatementID:          stmt.ID,
			CompanyID:            c.ID,
			SubsidiaryYearEnd:    c.YearEndOnOrBefore(stmt.ReportingDate),
			GroupReportingDate:   stmt.ReportingDate,
			InterimDataAvailable: c.InterimDataAvailable,
			Immaterial:           c.Immaterial,
		})
		if err != nil {
			return runPlan{}, stageError(StageFiscalYear, fmt.Errorf("company %s: %w", c.ID, err))
		}
		adj.CreatedBy = ledger.IDPtr(actor)
		adj.CreatedAt = now
		adj.UpdatedAt = now
		plan.fiscalYear = append(plan.fiscalYear, adj)
	}

	for _, sched := range d.schedules {
		if sched.Status != goodwill.StatusReleased && stmt.FiscalYear >= sched.StartYear {
			plan.schedules = append(plan.schedules, sched)
		}
	}
	sort.Slice(plan.schedules, func(i, j int) bool {
		return plan.schedules[i].ID.String() < plan.schedules[j].ID.String()
	})
	return plan, nil
}

// saveFiscalYear stores a fresh evaluation. A decision already taken on the
// same deviation survives the rerun.
func (s *Service) saveFiscalYear(ctx context.Context, tx Tx, adj fiscalyear.Adjustment) (fiscalyear.Adjustment, error) {
	existing, err := tx.FindFiscalYearAdjustment(ctx, adj.CompanyID, adj.GroupReportingDate)
	switch {
	case errors.Is(err, fiscalyear.ErrAdjustmentNotFound):
		adj.ID = uuid.New()
	case err != nil:
		return fiscalyear.Adjustment{}, err
	default:
		decided := existing.Status == fiscalyear.StatusApproved || existing.Status == fiscalyear.StatusRejected
		if decided && existing.DifferenceDays == adj.DifferenceDays {
			return existing, nil
		}
		adj.ID = existing.ID
		adj.CreatedAt = existing.CreatedAt
	}
	if err := tx.SaveFiscalYearAdjustment(ctx, adj); err != nil {
		return fiscalyear.Adjustment{}, err
	}
	return adj, nil
}

// summarizeRun counts the committed output. Exception figures count every
// difference found, including those already explained in an earlier run.
func summarizeRun(out RunResult, plan runPlan) RunSummary {
	ls := ledger.Summarize(out.Entries)
	sum := RunSummary{
		EntryCount:          ls.EntryCount,
		CountsByType:        ls.CountsByType,
		TotalAmount:         ls.TotalAmount,
		ExceptionCount:      len(plan.elimination.Exceptions),
		AmortizationEntries: len(out.Amortizations),
	}
	for _, e := range plan.elimination.Exceptions {
		if e.Material {
			sum.MaterialExceptions++
		}
	}
	for _, adj := range out.FiscalYear {
		if !adj.HGBCompliant {
			sum.FiscalYearFlags++
		}
	}
	return sum
}
