package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/konzern/internal/platform/db"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const entryColumns = `id, statement_id, run_id, debit_account, credit_account, amount, adjustment_type, hgb_reference,
source, status, company_id, counterparty_id, description, source_ref, fingerprint, reverses_entry_id,
reversed_by_entry_id, created_by, submitted_by, approved_by, approved_at, rejection_reason, reversal_reason,
version, created_at, updated_at`

// PgStore persists entries in consolidation_entries.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore constructs the Postgres entry store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (s *PgStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTx(tx))
	})
}

// GetEntry loads an entry outside any transaction.
func (s *PgStore) GetEntry(ctx context.Context, id uuid.UUID) (Entry, error) {
	return getEntry(ctx, s.pool, id)
}

// ListEntries returns entries matching filter ordered by creation.
func (s *PgStore) ListEntries(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.StatementID != uuid.Nil {
		add("statement_id = $%d", filter.StatementID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("adjustment_type = $%d", filter.Type)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.RunID != uuid.Nil {
		add("run_id = $%d", filter.RunID)
	}
	query := `SELECT ` + entryColumns + ` FROM consolidation_entries`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PgTx implements Tx on a pgx transaction. Other packages embed it to share
// the transaction for their own tables.
type PgTx struct {
	tx pgx.Tx
}

// NewPgTx wraps tx.
func NewPgTx(tx pgx.Tx) *PgTx {
	return &PgTx{tx: tx}
}

// Raw exposes the underlying transaction.
func (r *PgTx) Raw() pgx.Tx {
	return r.tx
}

func (r *PgTx) InsertEntry(ctx context.Context, e Entry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO consolidation_entries (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		e.ID, e.StatementID, e.RunID, e.DebitAccount, e.CreditAccount, e.Amount, e.AdjustmentType, nullString(string(e.HGBReference)),
		e.Source, e.Status, e.CompanyID, e.CounterpartyID, e.Description, nullString(e.SourceRef), nullString(e.Fingerprint), e.ReversesEntryID,
		e.ReversedByEntryID, e.CreatedBy, e.SubmittedBy, e.ApprovedBy, e.ApprovedAt, e.RejectionReason, e.ReversalReason,
		e.Version, e.CreatedAt, e.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_consolidation_entries_fingerprint") {
		return ErrDuplicateEntry
	}
	return err
}

func (r *PgTx) GetEntry(ctx context.Context, id uuid.UUID) (Entry, error) {
	return getEntry(ctx, r.tx, id)
}

func (r *PgTx) UpdateEntry(ctx context.Context, e Entry, expectedVersion int64) (Entry, error) {
	e.Version = expectedVersion + 1
	cmd, err := r.tx.Exec(ctx, `UPDATE consolidation_entries SET
debit_account=$3, credit_account=$4, amount=$5, adjustment_type=$6, hgb_reference=$7, status=$8,
company_id=$9, counterparty_id=$10, description=$11, reversed_by_entry_id=$12, submitted_by=$13,
approved_by=$14, approved_at=$15, rejection_reason=$16, reversal_reason=$17, version=$18, updated_at=$19
WHERE id=$1 AND version=$2`,
		e.ID, expectedVersion, e.DebitAccount, e.CreditAccount, e.Amount, e.AdjustmentType, nullString(string(e.HGBReference)), e.Status,
		e.CompanyID, e.CounterpartyID, e.Description, e.ReversedByEntryID, e.SubmittedBy,
		e.ApprovedBy, e.ApprovedAt, e.RejectionReason, e.ReversalReason, e.Version, e.UpdatedAt)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return Entry{}, ErrConcurrentModification
		}
		return Entry{}, err
	}
	if cmd.RowsAffected() == 0 {
		return Entry{}, r.missingOrStale(ctx, e.ID)
	}
	return e, nil
}

func (r *PgTx) DeleteEntry(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM consolidation_entries WHERE id=$1 AND version=$2 AND status='draft'`, id, expectedVersion)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return ErrConcurrentModification
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.missingOrStale(ctx, id)
	}
	return nil
}

func (r *PgTx) FingerprintBooked(ctx context.Context, statementID uuid.UUID, fingerprint string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM consolidation_entries
WHERE statement_id=$1 AND fingerprint=$2 AND status NOT IN ('rejected','reversed'))`, statementID, fingerprint).Scan(&exists)
	return exists, err
}

func (r *PgTx) DeleteRunDrafts(ctx context.Context, statementID uuid.UUID) (int, error) {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM consolidation_entries WHERE statement_id=$1 AND run_id IS NOT NULL AND status='draft'`, statementID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *PgTx) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM consolidation_entries WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrEntryNotFound
	}
	return ErrConcurrentModification
}

func getEntry(ctx context.Context, q Querier, id uuid.UUID) (Entry, error) {
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM consolidation_entries WHERE id=$1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e           Entry
		hgb         *string
		sourceRef   *string
		fingerprint *string
	)
	err := row.Scan(&e.ID, &e.StatementID, &e.RunID, &e.DebitAccount, &e.CreditAccount, &e.Amount, &e.AdjustmentType, &hgb,
		&e.Source, &e.Status, &e.CompanyID, &e.CounterpartyID, &e.Description, &sourceRef, &fingerprint, &e.ReversesEntryID,
		&e.ReversedByEntryID, &e.CreatedBy, &e.SubmittedBy, &e.ApprovedBy, &e.ApprovedAt, &e.RejectionReason, &e.ReversalReason,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	if hgb != nil {
		e.HGBReference = HGBReference(*hgb)
	}
	if sourceRef != nil {
		e.SourceRef = *sourceRef
	}
	if fingerprint != nil {
		e.Fingerprint = *fingerprint
	}
	return e, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
