package goodwill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/accounts"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const impairmentSuffix = "|IMPAIRMENT"

// Scheduler creates schedules, amortization entries and impairments.
type Scheduler struct {
	store       Store
	accounts    accounts.Map
	defaultLife int
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithDefaultLife sets the useful life used when an input carries none.
func WithDefaultLife(years int) Option {
	return func(s *Scheduler) {
		if years >= 1 && years <= MaxUsefulLife {
			s.defaultLife = years
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler wires a scheduler.
func NewScheduler(store Store, acc accounts.Map, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		accounts:    acc,
		defaultLife: DefaultUsefulLife,
		logger:      logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSchedule validates in and stores a new active schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, in ScheduleInput) (Schedule, error) {
	var out Schedule
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = s.CreateScheduleTx(ctx, tx, in)
		return err
	})
	return out, err
}

// CreateScheduleTx is CreateSchedule inside a caller's transaction.
func (s *Scheduler) CreateScheduleTx(ctx context.Context, tx Tx, in ScheduleInput) (Schedule, error) {
	in = in.withDefaults(s.defaultLife)
	if err := shared.Validate(in); err != nil {
		return Schedule{}, err
	}
	if _, err := tx.GetScheduleByParticipation(ctx, in.ParticipationID); err == nil {
		return Schedule{}, ErrScheduleExists
	} else if !errors.Is(err, ErrScheduleNotFound) {
		return Schedule{}, err
	}
	now := s.now()
	sched := Schedule{
		ID:                      uuid.New(),
		ParticipationID:         in.ParticipationID,
		InitialGoodwill:         shared.Round(in.InitialGoodwill),
		UsefulLifeYears:         in.UsefulLifeYears,
		Method:                  in.Method,
		StartYear:               in.StartYear,
		AccumulatedAmortization: decimal.Zero,
		ImpairmentAmount:        decimal.Zero,
		PendingImpairment:       decimal.Zero,
		Status:                  StatusActive,
		HGBReference:            ledger.HGB309,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := tx.InsertSchedule(ctx, sched); err != nil {
		return Schedule{}, err
	}
	s.log().Info("goodwill schedule created",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("initial", sched.InitialGoodwill.StringFixed(2)),
		slog.Int("useful_life", sched.UsefulLifeYears))
	return sched, nil
}

// CreateAmortizationEntry computes and stores the entry of fiscalYear.
func (s *Scheduler) CreateAmortizationEntry(ctx context.Context, scheduleID uuid.UUID, fiscalYear int) (AmortizationEntry, error) {
	var out AmortizationEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = s.CreateAmortizationEntryTx(ctx, tx, scheduleID, fiscalYear)
		return err
	})
	return out, err
}

// CreateAmortizationEntryTx is CreateAmortizationEntry inside a caller's transaction.
func (s *Scheduler) CreateAmortizationEntryTx(ctx context.Context, tx Tx, scheduleID uuid.UUID, fiscalYear int) (AmortizationEntry, error) {
	sched, err := tx.GetSchedule(ctx, scheduleID)
	if err != nil {
		return AmortizationEntry{}, err
	}
	if _, err := tx.FindAmortization(ctx, scheduleID, fiscalYear); err == nil {
		return AmortizationEntry{}, ErrEntryExists
	} else if !errors.Is(err, ErrAmortizationNotFound) {
		return AmortizationEntry{}, err
	}
	entry, err := nextEntry(sched, fiscalYear)
	if err != nil {
		return AmortizationEntry{}, err
	}
	now := s.now()
	entry.ID = uuid.New()
	entry.CreatedAt = now
	if err := tx.InsertAmortization(ctx, entry); err != nil {
		return AmortizationEntry{}, err
	}
	if err := tx.UpdateSchedule(ctx, advance(sched, entry, now)); err != nil {
		return AmortizationEntry{}, err
	}
	return entry, nil
}

// RecordImpairment writes down the schedule immediately. The amount is
// carried into the next amortization entry.
func (s *Scheduler) RecordImpairment(ctx context.Context, scheduleID uuid.UUID, amount decimal.Decimal, reason string, date time.Time) (Schedule, error) {
	var out Schedule
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sched, err := tx.GetSchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		next, err := impair(sched, amount, reason, date, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateSchedule(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err == nil {
		s.log().Info("goodwill impairment recorded",
			slog.String("schedule_id", scheduleID.String()),
			slog.String("amount", amount.StringFixed(2)))
	}
	return out, err
}

// BookResult lists the ledger entries created for an amortization entry.
type BookResult struct {
	Amortization AmortizationEntry `json:"amortization"`
	Entries      []ledger.Entry    `json:"entries"`
}

// BookEntry posts the amortization and, when present, the impairment of an
// amortization entry to the ledger as draft entries of statementID.
func (s *Scheduler) BookEntry(ctx context.Context, entryID, statementID, actor uuid.UUID) (BookResult, error) {
	var out BookResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = s.BookEntryTx(ctx, tx, entryID, statementID, actor, nil)
		return err
	})
	return out, err
}

// BookEntryTx is BookEntry inside a caller's transaction. runID marks the
// ledger entries as output of a consolidation run.
func (s *Scheduler) BookEntryTx(ctx context.Context, tx Tx, entryID, statementID, actor uuid.UUID, runID *uuid.UUID) (BookResult, error) {
	am, err := tx.GetAmortization(ctx, entryID)
	if err != nil {
		return BookResult{}, err
	}
	if am.Booked {
		return BookResult{}, ErrAlreadyBooked
	}
	inputs := s.entryInputs(am, statementID, actor, runID)
	now := s.now()
	posted, err := ledger.PostDrafts(ctx, tx, now, inputs...)
	if err != nil {
		return BookResult{}, fmt.Errorf("goodwill: book %d: %w", am.FiscalYear, err)
	}
	for _, e := range posted {
		id := e.ID
		if strings.HasSuffix(e.SourceRef, impairmentSuffix) {
			am.ImpairmentEntryID = &id
		} else {
			am.ConsolidationEntryID = &id
		}
	}
	am.Booked = true
	am.BookedAt = &now
	if err := tx.UpdateAmortization(ctx, am); err != nil {
		return BookResult{}, err
	}
	return BookResult{Amortization: am, Entries: posted}, nil
}

// BookYearTx makes sure the fiscal year of a schedule is amortized and
// booked. An entry booked by an earlier run whose ledger entries were
// discarded is booked again; one whose entries still exist is left alone.
func (s *Scheduler) BookYearTx(ctx context.Context, tx Tx, scheduleID, statementID uuid.UUID, fiscalYear int, actor uuid.UUID, runID *uuid.UUID) (BookResult, error) {
	am, err := tx.FindAmortization(ctx, scheduleID, fiscalYear)
	switch {
	case errors.Is(err, ErrAmortizationNotFound):
		am, err = s.CreateAmortizationEntryTx(ctx, tx, scheduleID, fiscalYear)
		if err != nil {
			return BookResult{}, err
		}
	case err != nil:
		return BookResult{}, err
	case am.Booked:
		live, err := s.linkedEntriesExist(ctx, tx, am)
		if err != nil || live {
			return BookResult{Amortization: am}, err
		}
		am.Booked = false
		am.BookedAt = nil
		am.ConsolidationEntryID = nil
		am.ImpairmentEntryID = nil
		if err := tx.UpdateAmortization(ctx, am); err != nil {
			return BookResult{}, err
		}
	}
	return s.BookEntryTx(ctx, tx, am.ID, statementID, actor, runID)
}

func (s *Scheduler) linkedEntriesExist(ctx context.Context, tx Tx, am AmortizationEntry) (bool, error) {
	for _, id := range []*uuid.UUID{am.ConsolidationEntryID, am.ImpairmentEntryID} {
		if id == nil {
			continue
		}
		if _, err := tx.GetEntry(ctx, *id); err != nil {
			if errors.Is(err, ledger.ErrEntryNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

func (s *Scheduler) entryInputs(am AmortizationEntry, statementID, actor uuid.UUID, runID *uuid.UUID) []ledger.EntryInput {
	ref := fmt.Sprintf("GOODWILL|%s|%d", am.ScheduleID, am.FiscalYear)
	var inputs []ledger.EntryInput
	if am.AmortizationAmount.IsPositive() {
		inputs = append(inputs, ledger.EntryInput{
			StatementID:    statementID,
			RunID:          runID,
			DebitAccount:   s.accounts.GoodwillAmortization,
			CreditAccount:  s.accounts.Goodwill,
			Amount:         am.AmortizationAmount,
			AdjustmentType: ledger.TypeCapitalConsolidation,
			HGBReference:   ledger.HGB309,
			Source:         ledger.SourceAutomatic,
			Description:    fmt.Sprintf("Planmäßige Abschreibung Geschäfts- oder Firmenwert %d", am.FiscalYear),
			SourceRef:      ref + "|AMORTIZATION",
			CreatedBy:      actor,
		})
	}
	if am.ImpairmentAmount.IsPositive() {
		inputs = append(inputs, ledger.EntryInput{
			StatementID:    statementID,
			RunID:          runID,
			DebitAccount:   s.accounts.GoodwillImpairment,
			CreditAccount:  s.accounts.Goodwill,
			Amount:         am.ImpairmentAmount,
			AdjustmentType: ledger.TypeCapitalConsolidation,
			HGBReference:   ledger.HGB309,
			Source:         ledger.SourceAutomatic,
			Description:    fmt.Sprintf("Außerplanmäßige Abschreibung Geschäfts- oder Firmenwert %d", am.FiscalYear),
			SourceRef:      ref + impairmentSuffix,
			CreatedBy:      actor,
		})
	}
	return inputs
}

// ReleaseTx marks the schedule released on deconsolidation and returns the
// carrying amount that leaves the group with it.
func (s *Scheduler) ReleaseTx(ctx context.Context, tx Tx, scheduleID uuid.UUID) (decimal.Decimal, error) {
	sched, err := tx.GetSchedule(ctx, scheduleID)
	if err != nil {
		return decimal.Zero, err
	}
	if sched.Status == StatusReleased {
		return decimal.Zero, ErrScheduleReleased
	}
	remaining := sched.Remaining()
	sched.Status = StatusReleased
	sched.UpdatedAt = s.now()
	if err := tx.UpdateSchedule(ctx, sched); err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

// Projection forecasts the next years of a stored schedule.
func (s *Scheduler) Projection(ctx context.Context, scheduleID uuid.UUID, years int) ([]ProjectionRow, error) {
	if years <= 0 || years > 50 {
		return nil, shared.NewValidationError("years", "must be between 1 and 50")
	}
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return Project(sched, years), nil
}

// Summary reports the goodwill position of a participation.
func (s *Scheduler) Summary(ctx context.Context, participationID uuid.UUID) (Summary, error) {
	sched, err := s.store.GetScheduleByParticipation(ctx, participationID)
	if err != nil {
		return Summary{}, err
	}
	entries, err := s.store.ListAmortizations(ctx, sched.ID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		ScheduleID:              sched.ID,
		ParticipationID:         sched.ParticipationID,
		InitialGoodwill:         sched.InitialGoodwill,
		AccumulatedAmortization: sched.AccumulatedAmortization,
		ImpairmentAmount:        sched.ImpairmentAmount,
		Remaining:               sched.Remaining(),
		Status:                  sched.Status,
	}
	for _, e := range entries {
		if e.Booked {
			sum.BookedEntries++
		} else {
			sum.UnbookedEntries++
		}
	}
	if sched.Status == StatusActive {
		sum.YearsRemaining = sched.UsefulLifeYears - len(entries)
		if sum.YearsRemaining < 0 {
			sum.YearsRemaining = 0
		}
	}
	return sum, nil
}

func (s *Scheduler) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "goodwill"))
	}
	return slog.Default().With(slog.String("component", "goodwill"))
}
