package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
)

// tx runs with the store mutex held by withTx.
type tx struct {
	store *Store
}

var _ consol.Tx = (*tx)(nil)

func (t *tx) data() *state { return &t.store.data }

func (t *tx) InsertEntry(_ context.Context, e ledger.Entry) error {
	if err := t.store.failure(OpInsertEntry); err != nil {
		return err
	}
	if e.Fingerprint != "" {
		for _, other := range t.data().entries {
			if other.StatementID == e.StatementID && other.Fingerprint == e.Fingerprint && live(other) {
				return ledger.ErrDuplicateEntry
			}
		}
	}
	t.data().entries[e.ID] = e
	return nil
}

func (t *tx) GetEntry(_ context.Context, id uuid.UUID) (ledger.Entry, error) {
	e, ok := t.data().entries[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (t *tx) UpdateEntry(_ context.Context, e ledger.Entry, expectedVersion int64) (ledger.Entry, error) {
	stored, ok := t.data().entries[e.ID]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	if stored.Version != expectedVersion {
		return ledger.Entry{}, ledger.ErrConcurrentModification
	}
	e.Version = expectedVersion + 1
	t.data().entries[e.ID] = e
	return e, nil
}

func (t *tx) DeleteEntry(_ context.Context, id uuid.UUID, expectedVersion int64) error {
	stored, ok := t.data().entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	if stored.Version != expectedVersion || stored.Status != ledger.StatusDraft {
		return ledger.ErrConcurrentModification
	}
	delete(t.data().entries, id)
	return nil
}

func (t *tx) FingerprintBooked(_ context.Context, statementID uuid.UUID, fingerprint string) (bool, error) {
	for _, e := range t.data().entries {
		if e.StatementID == statementID && e.Fingerprint == fingerprint && live(e) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) DeleteRunDrafts(_ context.Context, statementID uuid.UUID) (int, error) {
	n := 0
	for id, e := range t.data().entries {
		if e.StatementID == statementID && e.RunID != nil && e.Status == ledger.StatusDraft {
			delete(t.data().entries, id)
			n++
		}
	}
	return n, nil
}

func live(e ledger.Entry) bool {
	return e.Status != ledger.StatusRejected && e.Status != ledger.StatusReversed
}

func (t *tx) InsertSchedule(_ context.Context, s goodwill.Schedule) error {
	if err := t.store.failure(OpInsertSchedule); err != nil {
		return err
	}
	if _, err := t.data().scheduleByParticipation(s.ParticipationID); err == nil {
		return goodwill.ErrScheduleExists
	}
	t.data().schedules[s.ID] = s
	return nil
}

func (t *tx) GetSchedule(_ context.Context, id uuid.UUID) (goodwill.Schedule, error) {
	s, ok := t.data().schedules[id]
	if !ok {
		return goodwill.Schedule{}, goodwill.ErrScheduleNotFound
	}
	return s, nil
}

func (t *tx) GetScheduleByParticipation(_ context.Context, participationID uuid.UUID) (goodwill.Schedule, error) {
	return t.data().scheduleByParticipation(participationID)
}

func (t *tx) UpdateSchedule(_ context.Context, s goodwill.Schedule) error {
	if err := t.store.failure(OpUpdateSchedule); err != nil {
		return err
	}
	if _, ok := t.data().schedules[s.ID]; !ok {
		return goodwill.ErrScheduleNotFound
	}
	t.data().schedules[s.ID] = s
	return nil
}

func (t *tx) InsertAmortization(_ context.Context, e goodwill.AmortizationEntry) error {
	if err := t.store.failure(OpInsertAmortization); err != nil {
		return err
	}
	for _, other := range t.data().amortizations {
		if other.ScheduleID == e.ScheduleID && other.FiscalYear == e.FiscalYear {
			return goodwill.ErrEntryExists
		}
	}
	t.data().amortizations[e.ID] = e
	return nil
}

func (t *tx) GetAmortization(_ context.Context, id uuid.UUID) (goodwill.AmortizationEntry, error) {
	e, ok := t.data().amortizations[id]
	if !ok {
		return goodwill.AmortizationEntry{}, goodwill.ErrAmortizationNotFound
	}
	return e, nil
}

func (t *tx) FindAmortization(_ context.Context, scheduleID uuid.UUID, fiscalYear int) (goodwill.AmortizationEntry, error) {
	for _, e := range t.data().amortizations {
		if e.ScheduleID == scheduleID && e.FiscalYear == fiscalYear {
			return e, nil
		}
	}
	return goodwill.AmortizationEntry{}, goodwill.ErrAmortizationNotFound
}

func (t *tx) UpdateAmortization(_ context.Context, e goodwill.AmortizationEntry) error {
	if _, ok := t.data().amortizations[e.ID]; !ok {
		return goodwill.ErrAmortizationNotFound
	}
	t.data().amortizations[e.ID] = e
	return nil
}

func (t *tx) InsertException(_ context.Context, e elimination.Exception) error {
	if err := t.store.failure(OpInsertException); err != nil {
		return err
	}
	t.data().exceptions[e.ID] = e
	return nil
}

func (t *tx) GetException(_ context.Context, id uuid.UUID) (elimination.Exception, error) {
	e, ok := t.data().exceptions[id]
	if !ok {
		return elimination.Exception{}, elimination.ErrExceptionNotFound
	}
	return e, nil
}

func (t *tx) UpdateException(_ context.Context, e elimination.Exception) error {
	if _, ok := t.data().exceptions[e.ID]; !ok {
		return elimination.ErrExceptionNotFound
	}
	t.data().exceptions[e.ID] = e
	return nil
}

func (t *tx) ListStatementExceptions(_ context.Context, statementID uuid.UUID) ([]elimination.Exception, error) {
	return t.data().statementExceptions(statementID), nil
}

func (t *tx) DeleteRunExceptions(_ context.Context, statementID uuid.UUID) (int, error) {
	n := 0
	for id, e := range t.data().exceptions {
		if e.StatementID != statementID || e.RunID == nil {
			continue
		}
		if e.Status == elimination.StatusOpen || e.Status == elimination.StatusAccepted {
			delete(t.data().exceptions, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertParticipation(_ context.Context, p consol.Participation) error {
	if err := t.store.failure(OpInsertParticipation); err != nil {
		return err
	}
	for _, other := range t.data().participations {
		if other.Active && other.ParentID == p.ParentID && other.SubsidiaryID == p.SubsidiaryID {
			return consol.ErrDuplicateParticipation
		}
	}
	t.data().participations[p.ID] = p
	return nil
}

func (t *tx) GetParticipation(_ context.Context, id uuid.UUID) (consol.Participation, error) {
	p, ok := t.data().participations[id]
	if !ok {
		return consol.Participation{}, consol.ErrNoActiveParticipation
	}
	return p, nil
}

func (t *tx) FindActiveParticipation(_ context.Context, parentID, subsidiaryID uuid.UUID) (consol.Participation, error) {
	for _, p := range t.data().participations {
		if p.Active && p.ParentID == parentID && p.SubsidiaryID == subsidiaryID {
			return p, nil
		}
	}
	return consol.Participation{}, consol.ErrNoActiveParticipation
}

func (t *tx) UpdateParticipation(_ context.Context, p consol.Participation) error {
	if _, ok := t.data().participations[p.ID]; !ok {
		return consol.ErrNoActiveParticipation
	}
	t.data().participations[p.ID] = p
	return nil
}

func (t *tx) GetFiscalYearAdjustment(_ context.Context, id uuid.UUID) (fiscalyear.Adjustment, error) {
	a, ok := t.data().adjustments[id]
	if !ok {
		return fiscalyear.Adjustment{}, fiscalyear.ErrAdjustmentNotFound
	}
	return a, nil
}

func (t *tx) FindFiscalYearAdjustment(_ context.Context, companyID uuid.UUID, reportingDate time.Time) (fiscalyear.Adjustment, error) {
	for _, a := range t.data().adjustments {
		if a.CompanyID == companyID && a.GroupReportingDate.Equal(reportingDate) {
			return a, nil
		}
	}
	return fiscalyear.Adjustment{}, fiscalyear.ErrAdjustmentNotFound
}

func (t *tx) SaveFiscalYearAdjustment(_ context.Context, a fiscalyear.Adjustment) error {
	if err := t.store.failure(OpSaveAdjustment); err != nil {
		return err
	}
	t.data().adjustments[a.ID] = a
	return nil
}
