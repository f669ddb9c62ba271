package elimination

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/ledger"
)

// Tx exposes exception operations inside the ledger unit of work. Clearing
// an exception posts an entry, so both share the transaction.
type Tx interface {
	ledger.Tx
	InsertException(ctx context.Context, e Exception) error
	GetException(ctx context.Context, id uuid.UUID) (Exception, error)
	UpdateException(ctx context.Context, e Exception) error
	ListStatementExceptions(ctx context.Context, statementID uuid.UUID) ([]Exception, error)
	// DeleteRunExceptions removes open and accepted exceptions written by
	// earlier runs of the statement. Explained and cleared ones are kept.
	DeleteRunExceptions(ctx context.Context, statementID uuid.UUID) (int, error)
}

// Store is the exception persistence boundary.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetException(ctx context.Context, id uuid.UUID) (Exception, error)
	ListExceptions(ctx context.Context, statementID uuid.UUID, status ExceptionStatus) ([]Exception, error)
}
