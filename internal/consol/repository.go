package consol

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
)

// SourceRepository supplies the standalone figures a run consolidates.
// Trial-balance import fills it; consol only reads.
type SourceRepository interface {
	GetStatement(ctx context.Context, id uuid.UUID) (Statement, error)
	// ListCompanies returns the group companies of the statement, parent first.
	ListCompanies(ctx context.Context, statementID uuid.UUID) ([]Company, error)
	ListBalances(ctx context.Context, statementID uuid.UUID) ([]AccountBalance, error)
	ListICBalances(ctx context.Context, statementID uuid.UUID) ([]elimination.Balance, error)
}

// Tx is the unit of work of a consolidation: ledger entries, goodwill
// schedules, reconciliation exceptions, participations and fiscal-year
// adjustments commit or roll back together.
type Tx interface {
	goodwill.Tx
	elimination.Tx

	InsertParticipation(ctx context.Context, p Participation) error
	// GetParticipation loads and locks a participation.
	GetParticipation(ctx context.Context, id uuid.UUID) (Participation, error)
	// FindActiveParticipation returns ErrNoActiveParticipation when the pair
	// has no active participation.
	FindActiveParticipation(ctx context.Context, parentID, subsidiaryID uuid.UUID) (Participation, error)
	UpdateParticipation(ctx context.Context, p Participation) error

	GetFiscalYearAdjustment(ctx context.Context, id uuid.UUID) (fiscalyear.Adjustment, error)
	FindFiscalYearAdjustment(ctx context.Context, companyID uuid.UUID, reportingDate time.Time) (fiscalyear.Adjustment, error)
	// SaveFiscalYearAdjustment inserts or replaces the adjustment by ID.
	SaveFiscalYearAdjustment(ctx context.Context, adj fiscalyear.Adjustment) error
}

// Store is the persistence boundary of the orchestration.
type Store interface {
	SourceRepository
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetParticipation(ctx context.Context, id uuid.UUID) (Participation, error)
	// ListParticipations returns participations held by any of parentIDs;
	// an empty slice matches every parent.
	ListParticipations(ctx context.Context, parentIDs []uuid.UUID, activeOnly bool) ([]Participation, error)
	ListSchedules(ctx context.Context, participationIDs []uuid.UUID) ([]goodwill.Schedule, error)
	ListEntries(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error)
	ListExceptions(ctx context.Context, statementID uuid.UUID, status elimination.ExceptionStatus) ([]elimination.Exception, error)
	ListFiscalYearAdjustments(ctx context.Context, statementID uuid.UUID) ([]fiscalyear.Adjustment, error)
}
