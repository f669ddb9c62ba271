package elimination

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const auditEntity = "ic_reconciliation_exception"

// AuditPort records audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles the clarification workflow of reconciliation exceptions.
type Service struct {
	store  Store
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the exception service. audit may be nil.
func NewService(store Store, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		audit:  audit,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// List returns the exceptions of a statement, optionally by status.
func (s *Service) List(ctx context.Context, statementID uuid.UUID, status ExceptionStatus) ([]Exception, error) {
	return s.store.ListExceptions(ctx, statementID, status)
}

// Summary aggregates the exceptions of a statement.
func (s *Service) Summary(ctx context.Context, statementID uuid.UUID) (Summary, error) {
	list, err := s.store.ListExceptions(ctx, statementID, "")
	if err != nil {
		return Summary{}, err
	}
	return Summarize(list), nil
}

// ExplainException documents the cause of a difference.
func (s *Service) ExplainException(ctx context.Context, id uuid.UUID, reason Reason, explanation string, actor uuid.UUID) (Exception, error) {
	if !reason.Valid() {
		return Exception{}, ErrInvalidReason
	}
	explanation = strings.TrimSpace(explanation)
	if explanation == "" {
		return Exception{}, ErrExplanationMissing
	}
	return s.move(ctx, id, StatusExplained, actor, func(e *Exception) {
		e.Reason = reason
		e.Explanation = explanation
	})
}

// AcceptException accepts a difference without correction.
func (s *Service) AcceptException(ctx context.Context, id uuid.UUID, actor uuid.UUID) (Exception, error) {
	return s.move(ctx, id, StatusAccepted, actor, nil)
}

// ClearException posts a manual clearing entry for the difference and marks
// the exception cleared.
func (s *Service) ClearException(ctx context.Context, id uuid.UUID, actor uuid.UUID) (Exception, ledger.Entry, error) {
	if actor == uuid.Nil {
		return Exception{}, ledger.Entry{}, ledger.ErrActorRequired
	}
	var (
		out   Exception
		entry ledger.Entry
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		exc, err := tx.GetException(ctx, id)
		if err != nil {
			return err
		}
		if !canMove(exc.Status, StatusCleared) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exc.Status, StatusCleared)
		}
		if exc.Difference.IsZero() {
			return ErrNothingToClear
		}
		debit, credit := exc.AccountB, exc.AccountA
		if exc.Difference.IsNegative() {
			debit, credit = credit, debit
		}
		desc := "IC-Differenzausgleich: Automatisch generiert"
		if exc.Explanation != "" {
			desc = "IC-Differenzausgleich: " + exc.Explanation
		}
		now := s.now()
		posted, err := ledger.PostDrafts(ctx, tx, now, ledger.EntryInput{
			StatementID:    exc.StatementID,
			DebitAccount:   debit,
			CreditAccount:  credit,
			Amount:         exc.Difference.Abs(),
			AdjustmentType: ledger.TypeDebtConsolidation,
			HGBReference:   ledger.HGB303,
			Source:         ledger.SourceManual,
			CompanyID:      ledger.IDPtr(exc.CompanyAID),
			CounterpartyID: ledger.IDPtr(exc.CompanyBID),
			Description:    desc,
			CreatedBy:      actor,
		})
		if err != nil {
			return err
		}
		entry = posted[0]
		exc.Status = StatusCleared
		exc.ClearingEntryID = &entry.ID
		exc.ResolvedBy = &actor
		exc.ResolvedAt = &now
		exc.UpdatedAt = now
		if err := tx.UpdateException(ctx, exc); err != nil {
			return err
		}
		out = exc
		return nil
	})
	if err != nil {
		return Exception{}, ledger.Entry{}, err
	}
	s.recordAudit(ctx, actor, "clear", out)
	return out, entry, nil
}

func (s *Service) move(ctx context.Context, id uuid.UUID, target ExceptionStatus, actor uuid.UUID, mutate func(*Exception)) (Exception, error) {
	if actor == uuid.Nil {
		return Exception{}, ledger.ErrActorRequired
	}
	var out Exception
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		exc, err := tx.GetException(ctx, id)
		if err != nil {
			return err
		}
		if !canMove(exc.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exc.Status, target)
		}
		if mutate != nil {
			mutate(&exc)
		}
		now := s.now()
		exc.Status = target
		exc.ResolvedBy = &actor
		exc.ResolvedAt = &now
		exc.UpdatedAt = now
		if err := tx.UpdateException(ctx, exc); err != nil {
			return err
		}
		out = exc
		return nil
	})
	if err != nil {
		return Exception{}, err
	}
	s.recordAudit(ctx, actor, string(target), out)
	return out, nil
}

// ReplaceRunExceptions writes the exceptions of a run inside tx. Output of
// earlier runs that nobody worked on is dropped first; a new exception that
// repeats an explained or cleared one with the same difference is skipped.
func ReplaceRunExceptions(ctx context.Context, tx Tx, statementID uuid.UUID, exceptions []Exception) ([]Exception, error) {
	if _, err := tx.DeleteRunExceptions(ctx, statementID); err != nil {
		return nil, err
	}
	kept, err := tx.ListStatementExceptions(ctx, statementID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]Exception, len(kept))
	for _, e := range kept {
		resolved[e.key()] = e
	}
	written := make([]Exception, 0, len(exceptions))
	for _, e := range exceptions {
		if prev, ok := resolved[e.key()]; ok && prev.Difference.Equal(e.Difference) {
			continue
		}
		if err := tx.InsertException(ctx, e); err != nil {
			return nil, err
		}
		written = append(written, e)
	}
	return written, nil
}

func (s *Service) recordAudit(ctx context.Context, actor uuid.UUID, action string, e Exception) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   "ic_exception_" + action,
		Entity:   auditEntity,
		EntityID: e.ID.String(),
		Meta: map[string]any{
			"statement_id": e.StatementID.String(),
			"difference":   e.Difference.StringFixed(2),
			"reason":       string(e.Reason),
		},
		At: s.now(),
	}); err != nil {
		s.log().Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "elimination"))
	}
	return slog.Default().With(slog.String("component", "elimination"))
}
