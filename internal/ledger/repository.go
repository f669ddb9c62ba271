package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows entry listings. Zero fields match everything.
type Filter struct {
	StatementID uuid.UUID
	Status      Status
	Type        AdjustmentType
	Source      Source
	RunID       uuid.UUID
}

// Matches reports whether e satisfies the filter.
func (f Filter) Matches(e Entry) bool {
	if f.StatementID != uuid.Nil && e.StatementID != f.StatementID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Type != "" && e.AdjustmentType != f.Type {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.RunID != uuid.Nil && (e.RunID == nil || *e.RunID != f.RunID) {
		return false
	}
	return true
}

// Tx exposes entry operations available inside a unit of work.
type Tx interface {
	InsertEntry(ctx context.Context, e Entry) error
	GetEntry(ctx context.Context, id uuid.UUID) (Entry, error)
	// UpdateEntry writes e when the stored version still equals
	// expectedVersion and bumps the version; otherwise it returns
	// ErrConcurrentModification.
	UpdateEntry(ctx context.Context, e Entry, expectedVersion int64) (Entry, error)
	DeleteEntry(ctx context.Context, id uuid.UUID, expectedVersion int64) error
	// FingerprintBooked reports whether a live (not rejected, not reversed)
	// entry of the statement carries the fingerprint.
	FingerprintBooked(ctx context.Context, statementID uuid.UUID, fingerprint string) (bool, error)
	// DeleteRunDrafts removes draft entries produced by earlier runs of the statement.
	DeleteRunDrafts(ctx context.Context, statementID uuid.UUID) (int, error)
}

// Store is the entry persistence boundary.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetEntry(ctx context.Context, id uuid.UUID) (Entry, error)
	ListEntries(ctx context.Context, filter Filter) ([]Entry, error)
}
