package elimination

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/platform/db"
)

const exceptionColumns = `id, statement_id, run_id, kind, company_a_id, company_b_id, account_a, account_b,
amount_a, amount_b, eliminated_amount, difference, material, status, reason, explanation,
clearing_entry_id, resolved_by, resolved_at, created_at, updated_at`

// PgStore persists exceptions in ic_reconciliation_exceptions.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore constructs the Postgres exception store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTx(tx))
	})
}

func (s *PgStore) GetException(ctx context.Context, id uuid.UUID) (Exception, error) {
	return scanExceptionRow(s.pool.QueryRow(ctx, `SELECT `+exceptionColumns+` FROM ic_reconciliation_exceptions WHERE id=$1`, id))
}

func (s *PgStore) ListExceptions(ctx context.Context, statementID uuid.UUID, status ExceptionStatus) ([]Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM ic_reconciliation_exceptions WHERE statement_id=$1`
	args := []any{statementID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY kind, company_a_id, company_b_id`
	return queryExceptions(ctx, s.pool, query, args...)
}

// PgTx implements Tx on top of the ledger transaction.
type PgTx struct {
	*ledger.PgTx
}

// NewPgTx wraps tx.
func NewPgTx(tx pgx.Tx) *PgTx {
	return &PgTx{PgTx: ledger.NewPgTx(tx)}
}

func (r *PgTx) InsertException(ctx context.Context, e Exception) error {
	_, err := r.Raw().Exec(ctx, `INSERT INTO ic_reconciliation_exceptions (`+exceptionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		e.ID, e.StatementID, e.RunID, e.Kind, e.CompanyAID, e.CompanyBID, e.AccountA, e.AccountB,
		e.AmountA, e.AmountB, e.EliminatedAmount, e.Difference, e.Material, e.Status, nullReason(e.Reason), e.Explanation,
		e.ClearingEntryID, e.ResolvedBy, e.ResolvedAt, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *PgTx) GetException(ctx context.Context, id uuid.UUID) (Exception, error) {
	return scanExceptionRow(r.Raw().QueryRow(ctx, `SELECT `+exceptionColumns+` FROM ic_reconciliation_exceptions WHERE id=$1 FOR UPDATE`, id))
}

func (r *PgTx) UpdateException(ctx context.Context, e Exception) error {
	cmd, err := r.Raw().Exec(ctx, `UPDATE ic_reconciliation_exceptions SET
status=$2, reason=$3, explanation=$4, clearing_entry_id=$5, resolved_by=$6, resolved_at=$7, updated_at=$8
WHERE id=$1`,
		e.ID, e.Status, nullReason(e.Reason), e.Explanation, e.ClearingEntryID, e.ResolvedBy, e.ResolvedAt, e.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrExceptionNotFound
	}
	return nil
}

func (r *PgTx) ListStatementExceptions(ctx context.Context, statementID uuid.UUID) ([]Exception, error) {
	return queryExceptions(ctx, r.Raw(), `SELECT `+exceptionColumns+` FROM ic_reconciliation_exceptions
WHERE statement_id=$1 ORDER BY kind, company_a_id, company_b_id`, statementID)
}

func (r *PgTx) DeleteRunExceptions(ctx context.Context, statementID uuid.UUID) (int, error) {
	cmd, err := r.Raw().Exec(ctx, `DELETE FROM ic_reconciliation_exceptions
WHERE statement_id=$1 AND run_id IS NOT NULL AND status IN ('open','accepted')`, statementID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func queryExceptions(ctx context.Context, q ledger.Querier, query string, args ...any) ([]Exception, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExceptionRow(row pgx.Row) (Exception, error) {
	e, err := scanException(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Exception{}, ErrExceptionNotFound
	}
	return e, err
}

func scanException(row pgx.Row) (Exception, error) {
	var (
		e      Exception
		reason *string
	)
	err := row.Scan(&e.ID, &e.StatementID, &e.RunID, &e.Kind, &e.CompanyAID, &e.CompanyBID, &e.AccountA, &e.AccountB,
		&e.AmountA, &e.AmountB, &e.EliminatedAmount, &e.Difference, &e.Material, &e.Status, &reason, &e.Explanation,
		&e.ClearingEntryID, &e.ResolvedBy, &e.ResolvedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Exception{}, err
	}
	if reason != nil {
		e.Reason = Reason(*reason)
	}
	return e, nil
}

func nullReason(r Reason) any {
	if r == "" {
		return nil
	}
	return string(r)
}
