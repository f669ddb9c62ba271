package consol

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/platform/db"
)

const participationColumns = `id, parent_id, subsidiary_id, percentage, acquisition_date, acquisition_cost,
equity_at_acquisition, hidden_reserves, hidden_liabilities, goodwill, negative_goodwill, first_statement_id, active,
disposal_date, disposal_proceeds, created_at, updated_at`

const adjustmentColumns = `id, statement_id, company_id, subsidiary_year_end, group_reporting_date, difference_days,
difference_months, hgb_compliant, method, pro_rata_factor, status, notes, created_by, decided_by, decided_at,
created_at, updated_at`

// PgStore reads the imported trial balances and persists participations and
// fiscal-year adjustments. Entry, schedule and exception reads go through the
// stores of their packages.
type PgStore struct {
	pool       *pgxpool.Pool
	entries    *ledger.PgStore
	schedules  *goodwill.PgStore
	exceptions *elimination.PgStore
}

// NewPgStore constructs the Postgres store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		pool:       pool,
		entries:    ledger.NewPgStore(pool),
		schedules:  goodwill.NewPgStore(pool),
		exceptions: elimination.NewPgStore(pool),
	}
}

// WithTx runs fn inside one RepeatableRead transaction shared by every table
// a consolidation writes.
func (s *PgStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTx(tx))
	})
}

func (s *PgStore) GetStatement(ctx context.Context, id uuid.UUID) (Statement, error) {
	var st Statement
	err := s.pool.QueryRow(ctx, `SELECT id, group_company_id, fiscal_year, reporting_date FROM statements WHERE id=$1`, id).
		Scan(&st.ID, &st.GroupCompanyID, &st.FiscalYear, &st.ReportingDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Statement{}, ErrStatementNotFound
	}
	return st, err
}

func (s *PgStore) ListCompanies(ctx context.Context, statementID uuid.UUID) ([]Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT c.id, c.name, c.parent_id, c.currency, c.fiscal_year_end_month,
c.fiscal_year_end_day, c.interim_data_available, c.immaterial
FROM statement_companies sc
JOIN companies c ON c.id = sc.company_id
JOIN statements st ON st.id = sc.statement_id
WHERE sc.statement_id=$1
ORDER BY (c.id = st.group_company_id) DESC, c.name`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		var (
			c     Company
			month int
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.Currency, &month, &c.FiscalYearEndDay,
			&c.InterimDataAvailable, &c.Immaterial); err != nil {
			return nil, err
		}
		c.FiscalYearEndMonth = time.Month(month)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgStore) ListBalances(ctx context.Context, statementID uuid.UUID) ([]AccountBalance, error) {
	rows, err := s.pool.Query(ctx, `SELECT company_id, account_code, class, COALESCE(equity_class, ''), amount
FROM account_balances WHERE statement_id=$1 ORDER BY company_id, account_code`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.CompanyID, &b.AccountCode, &b.Class, &b.EquityClass, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PgStore) ListICBalances(ctx context.Context, statementID uuid.UUID) ([]elimination.Balance, error) {
	rows, err := s.pool.Query(ctx, `SELECT company_id, counterparty_id, account_code, category, amount
FROM ic_balances WHERE statement_id=$1 ORDER BY company_id, counterparty_id, account_code`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []elimination.Balance
	for rows.Next() {
		var b elimination.Balance
		if err := rows.Scan(&b.CompanyID, &b.CounterpartyID, &b.AccountCode, &b.Category, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PgStore) GetParticipation(ctx context.Context, id uuid.UUID) (Participation, error) {
	return scanParticipationRow(s.pool.QueryRow(ctx, `SELECT `+participationColumns+` FROM participations WHERE id=$1`, id))
}

func (s *PgStore) ListParticipations(ctx context.Context, parentIDs []uuid.UUID, activeOnly bool) ([]Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations WHERE (cardinality($1::uuid[]) = 0 OR parent_id = ANY($1))`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY acquisition_date, id`
	if parentIDs == nil {
		parentIDs = []uuid.UUID{}
	}
	rows, err := s.pool.Query(ctx, query, parentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PgStore) ListSchedules(ctx context.Context, participationIDs []uuid.UUID) ([]goodwill.Schedule, error) {
	return s.schedules.ListSchedules(ctx, participationIDs)
}

func (s *PgStore) ListEntries(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	return s.entries.ListEntries(ctx, filter)
}

func (s *PgStore) ListExceptions(ctx context.Context, statementID uuid.UUID, status elimination.ExceptionStatus) ([]elimination.Exception, error) {
	return s.exceptions.ListExceptions(ctx, statementID, status)
}

func (s *PgStore) ListFiscalYearAdjustments(ctx context.Context, statementID uuid.UUID) ([]fiscalyear.Adjustment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+adjustmentColumns+` FROM fiscal_year_adjustments
WHERE statement_id=$1 ORDER BY company_id`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []fiscalyear.Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}

type (
	ledgerTx    = ledger.PgTx
	scheduleTx  = goodwill.PgTx
	exceptionTx = elimination.PgTx
)

// PgTx implements Tx. The ledger methods resolve to the shallower
// *ledger.PgTx, the rest to the schedule and exception transactions.
type PgTx struct {
	*ledgerTx
	*scheduleTx
	*exceptionTx
}

// NewPgTx wraps tx.
func NewPgTx(tx pgx.Tx) *PgTx {
	return &PgTx{
		ledgerTx:    ledger.NewPgTx(tx),
		scheduleTx:  goodwill.NewPgTx(tx),
		exceptionTx: elimination.NewPgTx(tx),
	}
}

func (r *PgTx) InsertParticipation(ctx context.Context, p Participation) error {
	_, err := r.Raw().Exec(ctx, `INSERT INTO participations (`+participationColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.ParentID, p.SubsidiaryID, p.Percentage, p.AcquisitionDate, p.AcquisitionCost,
		p.EquityAtAcquisition, p.HiddenReserves, p.HiddenLiabilities, p.Goodwill, p.NegativeGoodwill, p.FirstStatementID, p.Active,
		p.DisposalDate, p.DisposalProceeds, p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_participations_active_pair") {
		return ErrDuplicateParticipation
	}
	return err
}

func (r *PgTx) GetParticipation(ctx context.Context, id uuid.UUID) (Participation, error) {
	return scanParticipationRow(r.Raw().QueryRow(ctx, `SELECT `+participationColumns+` FROM participations WHERE id=$1 FOR UPDATE`, id))
}

func (r *PgTx) FindActiveParticipation(ctx context.Context, parentID, subsidiaryID uuid.UUID) (Participation, error) {
	return scanParticipationRow(r.Raw().QueryRow(ctx, `SELECT `+participationColumns+` FROM participations
WHERE parent_id=$1 AND subsidiary_id=$2 AND active FOR UPDATE`, parentID, subsidiaryID))
}

func (r *PgTx) UpdateParticipation(ctx context.Context, p Participation) error {
	cmd, err := r.Raw().Exec(ctx, `UPDATE participations SET active=$2, disposal_date=$3, disposal_proceeds=$4, updated_at=$5
WHERE id=$1`, p.ID, p.Active, p.DisposalDate, p.DisposalProceeds, p.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNoActiveParticipation
	}
	return nil
}

func (r *PgTx) GetFiscalYearAdjustment(ctx context.Context, id uuid.UUID) (fiscalyear.Adjustment, error) {
	return scanAdjustmentRow(r.Raw().QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM fiscal_year_adjustments WHERE id=$1 FOR UPDATE`, id))
}

func (r *PgTx) FindFiscalYearAdjustment(ctx context.Context, companyID uuid.UUID, reportingDate time.Time) (fiscalyear.Adjustment, error) {
	return scanAdjustmentRow(r.Raw().QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM fiscal_year_adjustments
WHERE company_id=$1 AND group_reporting_date=$2 FOR UPDATE`, companyID, reportingDate))
}

func (r *PgTx) SaveFiscalYearAdjustment(ctx context.Context, a fiscalyear.Adjustment) error {
	_, err := r.Raw().Exec(ctx, `INSERT INTO fiscal_year_adjustments (`+adjustmentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
statement_id=EXCLUDED.statement_id, subsidiary_year_end=EXCLUDED.subsidiary_year_end,
difference_days=EXCLUDED.difference_days, difference_months=EXCLUDED.difference_months,
hgb_compliant=EXCLUDED.hgb_compliant, method=EXCLUDED.method, pro_rata_factor=EXCLUDED.pro_rata_factor,
status=EXCLUDED.status, notes=EXCLUDED.notes, decided_by=EXCLUDED.decided_by, decided_at=EXCLUDED.decided_at,
updated_at=EXCLUDED.updated_at`,
		a.ID, a.StatementID, a.CompanyID, a.SubsidiaryYearEnd, a.GroupReportingDate, a.DifferenceDays,
		a.DifferenceMonths, a.HGBCompliant, a.Method, a.ProRataFactor, a.Status, a.Notes, a.CreatedBy, a.DecidedBy, a.DecidedAt,
		a.CreatedAt, a.UpdatedAt)
	return err
}

func scanParticipationRow(row pgx.Row) (Participation, error) {
	p, err := scanParticipation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participation{}, ErrNoActiveParticipation
	}
	return p, err
}

func scanParticipation(row pgx.Row) (Participation, error) {
	var p Participation
	err := row.Scan(&p.ID, &p.ParentID, &p.SubsidiaryID, &p.Percentage, &p.AcquisitionDate, &p.AcquisitionCost,
		&p.EquityAtAcquisition, &p.HiddenReserves, &p.HiddenLiabilities, &p.Goodwill, &p.NegativeGoodwill, &p.FirstStatementID, &p.Active,
		&p.DisposalDate, &p.DisposalProceeds, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanAdjustmentRow(row pgx.Row) (fiscalyear.Adjustment, error) {
	a, err := scanAdjustment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return fiscalyear.Adjustment{}, fiscalyear.ErrAdjustmentNotFound
	}
	return a, err
}

func scanAdjustment(row pgx.Row) (fiscalyear.Adjustment, error) {
	var a fiscalyear.Adjustment
	err := row.Scan(&a.ID, &a.StatementID, &a.CompanyID, &a.SubsidiaryYearEnd, &a.GroupReportingDate, &a.DifferenceDays,
		&a.DifferenceMonths, &a.HGBCompliant, &a.Method, &a.ProRataFactor, &a.Status, &a.Notes, &a.CreatedBy, &a.DecidedBy, &a.DecidedAt,
		&a.CreatedAt, &a.UpdatedAt)
	return a, err
}
