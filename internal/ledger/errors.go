package ledger

import "github.com/odyssey-erp/konzern/internal/shared"

var (
	// ErrEntryNotFound indicates the entry does not exist.
	ErrEntryNotFound = shared.NotFound("ledger: entry not found")
	// ErrInvalidTransition indicates a lifecycle move outside the state machine.
	ErrInvalidTransition = shared.StateMachine("ledger: invalid status transition")
	// ErrNotDraft indicates an edit or delete of an entry past draft.
	ErrNotDraft = shared.StateMachine("ledger: only draft entries can be changed")
	// ErrSelfApproval indicates the approver also submitted or created the entry.
	ErrSelfApproval = shared.BusinessRule("ledger: approver must differ from submitter")
	// ErrConcurrentModification indicates the entry changed since it was read.
	ErrConcurrentModification = shared.Concurrency("ledger: entry was modified concurrently")
	// ErrReasonRequired indicates a rejection or reversal without reason.
	ErrReasonRequired = shared.Validation("ledger: reason is required")
	// ErrActorRequired indicates a transition without acting user.
	ErrActorRequired = shared.Validation("ledger: acting user is required")
	// ErrDuplicateEntry indicates an identical automatic entry is already booked.
	ErrDuplicateEntry = shared.Conflict("ledger: identical entry already booked for statement")
)
