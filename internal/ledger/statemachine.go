package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusPending},
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusReversed},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Editable reports whether the entry may still be updated or deleted.
func (e Entry) Editable() bool {
	return e.Status == StatusDraft
}

// Mirror builds the reversing counterpart of an approved entry: accounts
// swapped, linked back to the original, approved by the reversing user.
func (e Entry) Mirror(actor uuid.UUID, reason string, now time.Time) Entry {
	originalID := e.ID
	approvedAt := now
	m := Entry{
		ID:              uuid.New(),
		StatementID:     e.StatementID,
		DebitAccount:    e.CreditAccount,
		CreditAccount:   e.DebitAccount,
		Amount:          e.Amount,
		AdjustmentType:  e.AdjustmentType,
		HGBReference:    e.HGBReference,
		Source:          SourceManual,
		Status:          StatusApproved,
		CompanyID:       e.CompanyID,
		CounterpartyID:  e.CounterpartyID,
		Description:     fmt.Sprintf("Storno: %s", e.Description),
		SourceRef:       "REVERSAL|" + originalID.String(),
		ReversesEntryID: &originalID,
		CreatedBy:       actor,
		SubmittedBy:     IDPtr(actor),
		ApprovedBy:      IDPtr(actor),
		ApprovedAt:      &approvedAt,
		ReversalReason:  reason,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return m
}
