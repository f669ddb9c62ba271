// Package memstore keeps consolidation state in memory. It backs the
// simulate command and the service tests; every write runs under one mutex
// and a failed unit of work restores the snapshot taken when it began.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
)

// Operation names accepted by FailOn.
const (
	OpInsertEntry         = "InsertEntry"
	OpInsertSchedule      = "InsertSchedule"
	OpUpdateSchedule      = "UpdateSchedule"
	OpInsertAmortization  = "InsertAmortization"
	OpInsertException     = "InsertException"
	OpInsertParticipation = "InsertParticipation"
	OpSaveAdjustment      = "SaveFiscalYearAdjustment"
	OpCommit              = "Commit"
)

type state struct {
	entries        map[uuid.UUID]ledger.Entry
	participations map[uuid.UUID]consol.Participation
	schedules      map[uuid.UUID]goodwill.Schedule
	amortizations  map[uuid.UUID]goodwill.AmortizationEntry
	exceptions     map[uuid.UUID]elimination.Exception
	adjustments    map[uuid.UUID]fiscalyear.Adjustment
}

func newState() state {
	return state{
		entries:        make(map[uuid.UUID]ledger.Entry),
		participations: make(map[uuid.UUID]consol.Participation),
		schedules:      make(map[uuid.UUID]goodwill.Schedule),
		amortizations:  make(map[uuid.UUID]goodwill.AmortizationEntry),
		exceptions:     make(map[uuid.UUID]elimination.Exception),
		adjustments:    make(map[uuid.UUID]fiscalyear.Adjustment),
	}
}

func (s state) clone() state {
	return state{
		entries:        copyMap(s.entries),
		participations: copyMap(s.participations),
		schedules:      copyMap(s.schedules),
		amortizations:  copyMap(s.amortizations),
		exceptions:     copyMap(s.exceptions),
		adjustments:    copyMap(s.adjustments),
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Store implements consol.Store together with the ledger, goodwill and
// elimination stores over the same state.
type Store struct {
	mu sync.Mutex

	statements map[uuid.UUID]consol.Statement
	companies  map[uuid.UUID][]consol.Company
	balances   map[uuid.UUID][]consol.AccountBalance
	icBalances map[uuid.UUID][]elimination.Balance

	data state

	failures  map[string]error
	readDelay time.Duration
}

// New returns an empty store.
func New() *Store {
	return &Store{
		statements: make(map[uuid.UUID]consol.Statement),
		companies:  make(map[uuid.UUID][]consol.Company),
		balances:   make(map[uuid.UUID][]consol.AccountBalance),
		icBalances: make(map[uuid.UUID][]elimination.Balance),
		data:       newState(),
		failures:   make(map[string]error),
	}
}

// AddStatement registers a statement and its group companies, parent first.
func (s *Store) AddStatement(st consol.Statement, companies ...consol.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements[st.ID] = st
	s.companies[st.ID] = append([]consol.Company(nil), companies...)
}

// AddBalances appends trial-balance lines to a statement.
func (s *Store) AddBalances(statementID uuid.UUID, balances ...consol.AccountBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[statementID] = append(s.balances[statementID], balances...)
}

// AddICBalances appends intercompany balances to a statement.
func (s *Store) AddICBalances(statementID uuid.UUID, balances ...elimination.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.icBalances[statementID] = append(s.icBalances[statementID], balances...)
}

// AddParticipation stores a participation outside any unit of work.
func (s *Store) AddParticipation(p consol.Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.participations[p.ID] = p
}

// FailOn makes the named operation return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// SetReadDelay slows every source read; reads give up when ctx ends first.
func (s *Store) SetReadDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDelay = d
}

func (s *Store) failure(op string) error {
	return s.failures[op]
}

func (s *Store) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.readDelay
	s.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(ctx, &tx{store: s}); err != nil {
		s.data = snapshot
		return err
	}
	if err := s.failure(OpCommit); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// WithTx runs fn as one unit of work.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, consol.Tx) error) error {
	return s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

// Ledger returns the entry store view.
func (s *Store) Ledger() ledger.Store { return ledgerView{s} }

// Goodwill returns the schedule store view.
func (s *Store) Goodwill() goodwill.Store { return goodwillView{s} }

// Elimination returns the exception store view.
func (s *Store) Elimination() elimination.Store { return eliminationView{s} }

type ledgerView struct{ *Store }

func (v ledgerView) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	return v.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

type goodwillView struct{ *Store }

func (v goodwillView) WithTx(ctx context.Context, fn func(context.Context, goodwill.Tx) error) error {
	return v.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

type eliminationView struct{ *Store }

func (v eliminationView) WithTx(ctx context.Context, fn func(context.Context, elimination.Tx) error) error {
	return v.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

func (s *Store) GetStatement(ctx context.Context, id uuid.UUID) (consol.Statement, error) {
	if err := s.wait(ctx); err != nil {
		return consol.Statement{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statements[id]
	if !ok {
		return consol.Statement{}, consol.ErrStatementNotFound
	}
	return st, nil
}

func (s *Store) ListCompanies(ctx context.Context, statementID uuid.UUID) ([]consol.Company, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]consol.Company(nil), s.companies[statementID]...), nil
}

func (s *Store) ListBalances(ctx context.Context, statementID uuid.UUID) ([]consol.AccountBalance, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]consol.AccountBalance(nil), s.balances[statementID]...), nil
}

func (s *Store) ListICBalances(ctx context.Context, statementID uuid.UUID) ([]elimination.Balance, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]elimination.Balance(nil), s.icBalances[statementID]...), nil
}

func (s *Store) GetParticipation(_ context.Context, id uuid.UUID) (consol.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.participations[id]
	if !ok {
		return consol.Participation{}, consol.ErrNoActiveParticipation
	}
	return p, nil
}

func (s *Store) ListParticipations(ctx context.Context, parentIDs []uuid.UUID, activeOnly bool) ([]consol.Participation, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	parents := make(map[uuid.UUID]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}
	var out []consol.Participation
	for _, p := range s.data.participations {
		if len(parents) > 0 && !parents[p.ParentID] {
			continue
		}
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AcquisitionDate.Equal(out[j].AcquisitionDate) {
			return out[i].AcquisitionDate.Before(out[j].AcquisitionDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListSchedules(ctx context.Context, participationIDs []uuid.UUID) ([]goodwill.Schedule, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(participationIDs))
	for _, id := range participationIDs {
		wanted[id] = true
	}
	var out []goodwill.Schedule
	for _, sch := range s.data.schedules {
		if wanted[sch.ParticipationID] {
			out = append(out, sch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, id uuid.UUID) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.entries[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (s *Store) ListEntries(_ context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range s.data.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetSchedule(_ context.Context, id uuid.UUID) (goodwill.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.data.schedules[id]
	if !ok {
		return goodwill.Schedule{}, goodwill.ErrScheduleNotFound
	}
	return sch, nil
}

func (s *Store) GetScheduleByParticipation(_ context.Context, participationID uuid.UUID) (goodwill.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.scheduleByParticipation(participationID)
}

func (s *Store) ListAmortizations(_ context.Context, scheduleID uuid.UUID) ([]goodwill.AmortizationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []goodwill.AmortizationEntry
	for _, e := range s.data.amortizations {
		if e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiscalYear < out[j].FiscalYear })
	return out, nil
}

func (s *Store) GetException(_ context.Context, id uuid.UUID) (elimination.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.exceptions[id]
	if !ok {
		return elimination.Exception{}, elimination.ErrExceptionNotFound
	}
	return e, nil
}

func (s *Store) ListExceptions(_ context.Context, statementID uuid.UUID, status elimination.ExceptionStatus) ([]elimination.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.data.statementExceptions(statementID)
	if status == "" {
		return out, nil
	}
	filtered := out[:0]
	for _, e := range out {
		if e.Status == status {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (s *Store) ListFiscalYearAdjustments(_ context.Context, statementID uuid.UUID) ([]fiscalyear.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fiscalyear.Adjustment
	for _, a := range s.data.adjustments {
		if a.StatementID == statementID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID.String() < out[j].CompanyID.String() })
	return out, nil
}

func (d state) scheduleByParticipation(participationID uuid.UUID) (goodwill.Schedule, error) {
	for _, sch := range d.schedules {
		if sch.ParticipationID == participationID {
			return sch, nil
		}
	}
	return goodwill.Schedule{}, goodwill.ErrScheduleNotFound
}

func (d state) statementExceptions(statementID uuid.UUID) []elimination.Exception {
	var out []elimination.Exception
	for _, e := range d.exceptions {
		if e.StatementID == statementID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].CompanyAID != out[j].CompanyAID {
			return out[i].CompanyAID.String() < out[j].CompanyAID.String()
		}
		return out[i].CompanyBID.String() < out[j].CompanyBID.String()
	})
	return out
}
