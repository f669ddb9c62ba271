package goodwill

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/ledger"
)

// Tx exposes schedule operations inside the same unit of work as the
// ledger, so a booked amortization and its entries commit together.
type Tx interface {
	ledger.Tx
	InsertSchedule(ctx context.Context, s Schedule) error
	// GetSchedule loads and locks a schedule for the rest of the transaction.
	GetSchedule(ctx context.Context, id uuid.UUID) (Schedule, error)
	GetScheduleByParticipation(ctx context.Context, participationID uuid.UUID) (Schedule, error)
	UpdateSchedule(ctx context.Context, s Schedule) error
	InsertAmortization(ctx context.Context, e AmortizationEntry) error
	GetAmortization(ctx context.Context, id uuid.UUID) (AmortizationEntry, error)
	FindAmortization(ctx context.Context, scheduleID uuid.UUID, fiscalYear int) (AmortizationEntry, error)
	UpdateAmortization(ctx context.Context, e AmortizationEntry) error
}

// Store is the schedule persistence boundary.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetSchedule(ctx context.Context, id uuid.UUID) (Schedule, error)
	GetScheduleByParticipation(ctx context.Context, participationID uuid.UUID) (Schedule, error)
	ListAmortizations(ctx context.Context, scheduleID uuid.UUID) ([]AmortizationEntry, error)
}
