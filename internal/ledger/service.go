package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/shared"
)

const (
	// ApprovalModule tags approval log rows written for entries.
	ApprovalModule = "consolidation_entry"
	auditEntity    = "consolidation_entry"
)

// AuditPort records audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history rows.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Service drives the entry lifecycle.
type Service struct {
	store     Store
	audit     AuditPort
	approvals ApprovalPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the ledger service. audit and approvals may be nil.
func NewService(store Store, audit AuditPort, approvals ApprovalPort, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		audit:     audit,
		approvals: approvals,
		logger:    logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// List returns entries matching filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Entry, error) {
	return s.store.ListEntries(ctx, filter)
}

// CreateManualEntry books a user-entered adjustment in draft.
func (s *Service) CreateManualEntry(ctx context.Context, in EntryInput) (Entry, error) {
	if in.Source == "" || in.Source == SourceAutomatic {
		in.Source = SourceManual
	}
	if in.CreatedBy == uuid.Nil {
		return Entry{}, ErrActorRequired
	}
	var created []Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		created, err = PostDrafts(ctx, tx, s.now(), in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	entry := created[0]
	s.recordAudit(ctx, in.CreatedBy, "entry.create", entry, nil)
	return entry, nil
}

// EntryUpdate lists the fields a draft entry may change.
type EntryUpdate struct {
	DebitAccount   *string          `json:"debit_account"`
	CreditAccount  *string          `json:"credit_account"`
	Amount         *decimal.Decimal `json:"amount"`
	AdjustmentType *AdjustmentType  `json:"adjustment_type"`
	HGBReference   *HGBReference    `json:"hgb_reference"`
	Description    *string          `json:"description"`
	Version        int64            `json:"version"`
}

// UpdateEntry changes a draft entry under optimistic concurrency.
func (s *Service) UpdateEntry(ctx context.Context, id uuid.UUID, upd EntryUpdate, actor uuid.UUID) (Entry, error) {
	if actor == uuid.Nil {
		return Entry{}, ErrActorRequired
	}
	current, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if upd.Version != 0 && upd.Version != current.Version {
		return Entry{}, ErrConcurrentModification
	}
	if !current.Editable() {
		return Entry{}, fmt.Errorf("%w: entry is %s", ErrNotDraft, current.Status)
	}
	in := EntryInput{
		StatementID:    current.StatementID,
		DebitAccount:   current.DebitAccount,
		CreditAccount:  current.CreditAccount,
		Amount:         current.Amount,
		AdjustmentType: current.AdjustmentType,
		HGBReference:   current.HGBReference,
		Source:         current.Source,
		CompanyID:      current.CompanyID,
		CounterpartyID: current.CounterpartyID,
		Description:    current.Description,
		SourceRef:      current.SourceRef,
		CreatedBy:      current.CreatedBy,
	}
	if upd.DebitAccount != nil {
		in.DebitAccount = *upd.DebitAccount
	}
	if upd.CreditAccount != nil {
		in.CreditAccount = *upd.CreditAccount
	}
	if upd.Amount != nil {
		in.Amount = *upd.Amount
	}
	if upd.AdjustmentType != nil {
		in.AdjustmentType = *upd.AdjustmentType
	}
	if upd.HGBReference != nil {
		in.HGBReference = *upd.HGBReference
	}
	if upd.Description != nil {
		in.Description = *upd.Description
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	next := current
	next.DebitAccount = in.DebitAccount
	next.CreditAccount = in.CreditAccount
	next.Amount = in.Amount
	next.AdjustmentType = in.AdjustmentType
	next.HGBReference = in.HGBReference
	next.Description = in.Description
	next.UpdatedAt = s.now()
	if next.Source == SourceAutomatic {
		next.Fingerprint = Fingerprint(next)
	}

	var saved Entry
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		saved, err = tx.UpdateEntry(ctx, next, current.Version)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, actor, "entry.update", saved, nil)
	return saved, nil
}

// DeleteEntry removes a draft entry.
func (s *Service) DeleteEntry(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	if actor == uuid.Nil {
		return ErrActorRequired
	}
	current, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if !current.Editable() {
		return fmt.Errorf("%w: entry is %s", ErrNotDraft, current.Status)
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.DeleteEntry(ctx, id, current.Version)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "entry.delete", current, nil)
	return nil
}

// TransitionCommand requests a lifecycle move. ExpectedVersion, when set,
// must match the stored version (e.g. from an If-Match header).
type TransitionCommand struct {
	EntryID         uuid.UUID
	Target          Status
	ActorID         uuid.UUID
	Reason          string
	ExpectedVersion int64
}

// TransitionResult carries the updated entry and, for reversals, the mirror entry.
type TransitionResult struct {
	Entry    Entry  `json:"entry"`
	Reversal *Entry `json:"reversal,omitempty"`
}

// SubmitForApproval moves a draft entry to pending.
func (s *Service) SubmitForApproval(ctx context.Context, id, submitter uuid.UUID) (Entry, error) {
	res, err := s.Transition(ctx, TransitionCommand{EntryID: id, Target: StatusPending, ActorID: submitter})
	return res.Entry, err
}

// Approve moves a pending entry to approved.
func (s *Service) Approve(ctx context.Context, id, approver uuid.UUID) (Entry, error) {
	res, err := s.Transition(ctx, TransitionCommand{EntryID: id, Target: StatusApproved, ActorID: approver})
	return res.Entry, err
}

// Reject moves a pending entry to rejected.
func (s *Service) Reject(ctx context.Context, id, approver uuid.UUID, reason string) (Entry, error) {
	res, err := s.Transition(ctx, TransitionCommand{EntryID: id, Target: StatusRejected, ActorID: approver, Reason: reason})
	return res.Entry, err
}

// Reverse reverses an approved manual entry by booking a mirror entry.
func (s *Service) Reverse(ctx context.Context, id, user uuid.UUID, reason string) (TransitionResult, error) {
	return s.Transition(ctx, TransitionCommand{EntryID: id, Target: StatusReversed, ActorID: user, Reason: reason})
}

// Transition applies cmd under optimistic concurrency.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	if cmd.ActorID == uuid.Nil {
		return TransitionResult{}, ErrActorRequired
	}
	cmd.Reason = strings.TrimSpace(cmd.Reason)
	current, err := s.store.GetEntry(ctx, cmd.EntryID)
	if err != nil {
		return TransitionResult{}, err
	}
	if cmd.ExpectedVersion != 0 && cmd.ExpectedVersion != current.Version {
		return TransitionResult{}, ErrConcurrentModification
	}
	next, err := s.apply(current, cmd)
	if err != nil {
		return TransitionResult{}, err
	}

	var result TransitionResult
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if cmd.Target == StatusReversed {
			mirror := current.Mirror(cmd.ActorID, cmd.Reason, next.UpdatedAt)
			next.ReversedByEntryID = &mirror.ID
			if err := tx.InsertEntry(ctx, mirror); err != nil {
				return err
			}
			result.Reversal = &mirror
		}
		saved, err := tx.UpdateEntry(ctx, next, current.Version)
		if err != nil {
			return err
		}
		result.Entry = saved
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	s.recordApproval(ctx, cmd, result.Entry)
	meta := map[string]any{"from": string(current.Status), "to": string(next.Status)}
	if cmd.Reason != "" {
		meta["reason"] = cmd.Reason
	}
	if result.Reversal != nil {
		meta["reversal_entry_id"] = result.Reversal.ID.String()
	}
	s.recordAudit(ctx, cmd.ActorID, "entry."+string(cmd.Target), result.Entry, meta)
	s.log().Info("entry transition",
		slog.String("entry_id", current.ID.String()),
		slog.String("from", string(current.Status)),
		slog.String("to", string(next.Status)))
	return result, nil
}

// apply validates cmd against the lifecycle rules and returns the next state.
func (s *Service) apply(current Entry, cmd TransitionCommand) (Entry, error) {
	if err := checkTransition(current.Status, cmd.Target); err != nil {
		return Entry{}, err
	}
	now := s.now()
	next := current
	next.Status = cmd.Target
	next.UpdatedAt = now
	switch cmd.Target {
	case StatusPending:
		if !current.Amount.IsPositive() {
			return Entry{}, shared.NewValidationError("amount", "must be greater than 0")
		}
		if current.DebitAccount == current.CreditAccount {
			return Entry{}, shared.NewValidationError("credit_account", "must differ from debit_account")
		}
		next.SubmittedBy = IDPtr(cmd.ActorID)
	case StatusApproved:
		if current.SubmittedBy != nil && *current.SubmittedBy == cmd.ActorID {
			return Entry{}, ErrSelfApproval
		}
		if current.CreatedBy != uuid.Nil && current.CreatedBy == cmd.ActorID {
			return Entry{}, ErrSelfApproval
		}
		next.ApprovedBy = IDPtr(cmd.ActorID)
		next.ApprovedAt = &now
	case StatusRejected:
		if cmd.Reason == "" {
			return Entry{}, ErrReasonRequired
		}
		next.ApprovedBy = IDPtr(cmd.ActorID)
		next.RejectionReason = cmd.Reason
	case StatusReversed:
		if current.Source != SourceManual {
			return Entry{}, fmt.Errorf("%w: only manual entries can be reversed", ErrInvalidTransition)
		}
		if cmd.Reason == "" {
			return Entry{}, ErrReasonRequired
		}
		next.ReversalReason = cmd.Reason
	}
	return next, nil
}

// PostDrafts validates and inserts inputs as draft entries inside tx. It is
// the single write path for engines so every generated entry is checked the
// same way and fingerprinted against double booking.
func PostDrafts(ctx context.Context, tx Tx, now time.Time, inputs ...EntryInput) ([]Entry, error) {
	entries := make([]Entry, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for i, raw := range inputs {
		in := raw.Normalize()
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("ledger: entry %d (%s): %w", i, in.AdjustmentType, err)
		}
		e := NewEntry(in, now)
		if e.Fingerprint != "" {
			if _, dup := seen[e.Fingerprint]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Description)
			}
			booked, err := tx.FingerprintBooked(ctx, e.StatementID, e.Fingerprint)
			if err != nil {
				return nil, err
			}
			if booked {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Description)
			}
			seen[e.Fingerprint] = struct{}{}
		}
		if err := tx.InsertEntry(ctx, e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Service) recordApproval(ctx context.Context, cmd TransitionCommand, e Entry) {
	if s.approvals == nil {
		return
	}
	var action shared.ApprovalAction
	switch cmd.Target {
	case StatusPending:
		action = shared.ApprovalSubmit
	case StatusApproved:
		action = shared.ApprovalApprove
	case StatusRejected:
		action = shared.ApprovalReject
	case StatusReversed:
		action = shared.ApprovalReverse
	default:
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  ApprovalModule,
		RefID:   e.ID,
		ActorID: cmd.ActorID,
		Action:  action,
		Note:    cmd.Reason,
		At:      e.UpdatedAt,
	}); err != nil {
		s.log().Warn("record approval", slog.String("entry_id", e.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor uuid.UUID, action string, e Entry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["statement_id"] = e.StatementID.String()
	meta["amount"] = e.Amount.StringFixed(2)
	meta["adjustment_type"] = string(e.AdjustmentType)
	meta["version"] = e.Version
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   auditEntity,
		EntityID: e.ID.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.log().Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "ledger"))
	}
	return slog.Default().With(slog.String("component", "ledger"))
}
