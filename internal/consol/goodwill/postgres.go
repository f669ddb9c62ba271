package goodwill

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/platform/db"
)

const scheduleColumns = `id, participation_id, initial_goodwill, useful_life_years, method, start_year,
accumulated_amortization, impairment_amount, impairment_date, impairment_reason, pending_impairment,
last_fiscal_year, status, hgb_reference, created_at, updated_at`

const amortizationColumns = `id, schedule_id, fiscal_year, opening_balance, amortization_amount,
impairment_amount, closing_balance, booked, consolidation_entry_id, impairment_entry_id, booked_at, created_at`

// PgStore persists schedules in goodwill_schedules and goodwill_amortization_entries.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore constructs the Postgres schedule store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction shared with the ledger.
func (s *PgStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTx(tx))
	})
}

func (s *PgStore) GetSchedule(ctx context.Context, id uuid.UUID) (Schedule, error) {
	return scanScheduleRow(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM goodwill_schedules WHERE id=$1`, id))
}

func (s *PgStore) GetScheduleByParticipation(ctx context.Context, participationID uuid.UUID) (Schedule, error) {
	return scanScheduleRow(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM goodwill_schedules WHERE participation_id=$1`, participationID))
}

// ListSchedules returns the schedules of the given participations.
func (s *PgStore) ListSchedules(ctx context.Context, participationIDs []uuid.UUID) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM goodwill_schedules
WHERE participation_id = ANY($1) ORDER BY id`, participationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *PgStore) ListAmortizations(ctx context.Context, scheduleID uuid.UUID) ([]AmortizationEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+amortizationColumns+` FROM goodwill_amortization_entries
WHERE schedule_id=$1 ORDER BY fiscal_year`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AmortizationEntry
	for rows.Next() {
		e, err := scanAmortization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PgTx implements Tx by extending the ledger transaction.
type PgTx struct {
	*ledger.PgTx
}

// NewPgTx wraps tx.
func NewPgTx(tx pgx.Tx) *PgTx {
	return &PgTx{PgTx: ledger.NewPgTx(tx)}
}

func (r *PgTx) InsertSchedule(ctx context.Context, s Schedule) error {
	_, err := r.Raw().Exec(ctx, `INSERT INTO goodwill_schedules (`+scheduleColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.ID, s.ParticipationID, s.InitialGoodwill, s.UsefulLifeYears, s.Method, s.StartYear,
		s.AccumulatedAmortization, s.ImpairmentAmount, s.ImpairmentDate, s.ImpairmentReason, s.PendingImpairment,
		s.LastFiscalYear, s.Status, s.HGBReference, s.CreatedAt, s.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_goodwill_schedules_participation") {
		return ErrScheduleExists
	}
	return err
}

func (r *PgTx) GetSchedule(ctx context.Context, id uuid.UUID) (Schedule, error) {
	return scanScheduleRow(r.Raw().QueryRow(ctx, `SELECT `+scheduleColumns+` FROM goodwill_schedules WHERE id=$1 FOR UPDATE`, id))
}

func (r *PgTx) GetScheduleByParticipation(ctx context.Context, participationID uuid.UUID) (Schedule, error) {
	return scanScheduleRow(r.Raw().QueryRow(ctx, `SELECT `+scheduleColumns+` FROM goodwill_schedules WHERE participation_id=$1 FOR UPDATE`, participationID))
}

func (r *PgTx) UpdateSchedule(ctx context.Context, s Schedule) error {
	cmd, err := r.Raw().Exec(ctx, `UPDATE goodwill_schedules SET
accumulated_amortization=$2, impairment_amount=$3, impairment_date=$4, impairment_reason=$5,
pending_impairment=$6, last_fiscal_year=$7, status=$8, updated_at=$9
WHERE id=$1`,
		s.ID, s.AccumulatedAmortization, s.ImpairmentAmount, s.ImpairmentDate, s.ImpairmentReason,
		s.PendingImpairment, s.LastFiscalYear, s.Status, s.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgTx) InsertAmortization(ctx context.Context, e AmortizationEntry) error {
	_, err := r.Raw().Exec(ctx, `INSERT INTO goodwill_amortization_entries (`+amortizationColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.ScheduleID, e.FiscalYear, e.OpeningBalance, e.AmortizationAmount,
		e.ImpairmentAmount, e.ClosingBalance, e.Booked, e.ConsolidationEntryID, e.ImpairmentEntryID, e.BookedAt, e.CreatedAt)
	if db.IsUniqueViolation(err, "uq_goodwill_amortization_year") {
		return ErrEntryExists
	}
	return err
}

func (r *PgTx) GetAmortization(ctx context.Context, id uuid.UUID) (AmortizationEntry, error) {
	return scanAmortizationRow(r.Raw().QueryRow(ctx, `SELECT `+amortizationColumns+` FROM goodwill_amortization_entries WHERE id=$1 FOR UPDATE`, id))
}

func (r *PgTx) FindAmortization(ctx context.Context, scheduleID uuid.UUID, fiscalYear int) (AmortizationEntry, error) {
	return scanAmortizationRow(r.Raw().QueryRow(ctx, `SELECT `+amortizationColumns+` FROM goodwill_amortization_entries
WHERE schedule_id=$1 AND fiscal_year=$2 FOR UPDATE`, scheduleID, fiscalYear))
}

func (r *PgTx) UpdateAmortization(ctx context.Context, e AmortizationEntry) error {
	cmd, err := r.Raw().Exec(ctx, `UPDATE goodwill_amortization_entries SET
booked=$2, consolidation_entry_id=$3, impairment_entry_id=$4, booked_at=$5 WHERE id=$1`,
		e.ID, e.Booked, e.ConsolidationEntryID, e.ImpairmentEntryID, e.BookedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAmortizationNotFound
	}
	return nil
}

func scanScheduleRow(row pgx.Row) (Schedule, error) {
	s, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, ErrScheduleNotFound
	}
	return s, err
}

func scanSchedule(row pgx.Row) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.ParticipationID, &s.InitialGoodwill, &s.UsefulLifeYears, &s.Method, &s.StartYear,
		&s.AccumulatedAmortization, &s.ImpairmentAmount, &s.ImpairmentDate, &s.ImpairmentReason, &s.PendingImpairment,
		&s.LastFiscalYear, &s.Status, &s.HGBReference, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanAmortizationRow(row pgx.Row) (AmortizationEntry, error) {
	e, err := scanAmortization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AmortizationEntry{}, ErrAmortizationNotFound
	}
	return e, err
}

func scanAmortization(row pgx.Row) (AmortizationEntry, error) {
	var e AmortizationEntry
	err := row.Scan(&e.ID, &e.ScheduleID, &e.FiscalYear, &e.OpeningBalance, &e.AmortizationAmount,
		&e.ImpairmentAmount, &e.ClosingBalance, &e.Booked, &e.ConsolidationEntryID, &e.ImpairmentEntryID, &e.BookedAt, &e.CreatedAt)
	return e, err
}
