package elimination_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

type auditSpy struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

var testNow = time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*elimination.Service, *memstore.Store, *auditSpy) {
	t.Helper()
	store := memstore.New()
	audit := &auditSpy{}
	svc := elimination.NewService(store.Elimination(), audit, nil).WithClock(func() time.Time { return testNow })
	return svc, store, audit
}

func seedException(t *testing.T, store *memstore.Store, statementID uuid.UUID, diff string, runID *uuid.UUID) elimination.Exception {
	t.Helper()
	exc := elimination.Exception{
		ID:               uuid.New(),
		StatementID:      statementID,
		RunID:            runID,
		Kind:             elimination.KindDebt,
		CompanyAID:       uuid.New(),
		CompanyBID:       uuid.New(),
		AccountA:         "1410",
		AccountB:         "3310",
		AmountA:          decimal.NewFromInt(10000),
		AmountB:          decimal.NewFromInt(-9500),
		EliminatedAmount: decimal.NewFromInt(9500),
		Difference:       decimal.RequireFromString(diff),
		Material:         true,
		Status:           elimination.StatusOpen,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
	err := store.Elimination().WithTx(context.Background(), func(ctx context.Context, tx elimination.Tx) error {
		return tx.InsertException(ctx, exc)
	})
	require.NoError(t, err)
	return exc
}

func TestExplainThenClearPostsClearingEntry(t *testing.T) {
	svc, store, audit := newService(t)
	ctx := context.Background()
	statementID, actor := uuid.New(), uuid.New()
	exc := seedException(t, store, statementID, "500", nil)

	explained, err := svc.ExplainException(ctx, exc.ID, elimination.ReasonTiming, "  Rechnung im Januar gebucht ", actor)
	require.NoError(t, err)
	require.Equal(t, elimination.StatusExplained, explained.Status)
	require.Equal(t, "Rechnung im Januar gebucht", explained.Explanation)

	cleared, entry, err := svc.ClearException(ctx, exc.ID, actor)
	require.NoError(t, err)
	require.Equal(t, elimination.StatusCleared, cleared.Status)
	require.NotNil(t, cleared.ClearingEntryID)
	require.Equal(t, entry.ID, *cleared.ClearingEntryID)
	require.Equal(t, "3310", entry.DebitAccount)
	require.Equal(t, "1410", entry.CreditAccount)
	require.True(t, entry.Amount.Equal(decimal.NewFromInt(500)))
	require.Equal(t, ledger.SourceManual, entry.Source)
	require.Equal(t, ledger.StatusDraft, entry.Status)
	require.Equal(t, "IC-Differenzausgleich: Rechnung im Januar gebucht", entry.Description)

	stored, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, statementID, stored.StatementID)

	require.Len(t, audit.logs, 2)
	require.Equal(t, "ic_exception_explained", audit.logs[0].Action)
	require.Equal(t, "ic_exception_clear", audit.logs[1].Action)
}

func TestClearNegativeDifferenceSwapsAccounts(t *testing.T) {
	svc, store, _ := newService(t)
	exc := seedException(t, store, uuid.New(), "-120.50", nil)

	_, entry, err := svc.ClearException(context.Background(), exc.ID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, "1410", entry.DebitAccount)
	require.Equal(t, "3310", entry.CreditAccount)
	require.True(t, entry.Amount.Equal(decimal.RequireFromString("120.50")))
	require.Equal(t, "IC-Differenzausgleich: Automatisch generiert", entry.Description)
}

func TestClearRejectsZeroDifference(t *testing.T) {
	svc, store, _ := newService(t)
	exc := seedException(t, store, uuid.New(), "0", nil)

	_, _, err := svc.ClearException(context.Background(), exc.ID, uuid.New())
	require.ErrorIs(t, err, elimination.ErrNothingToClear)

	list, err := svc.List(context.Background(), exc.StatementID, elimination.StatusOpen)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestExplainValidatesInput(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	exc := seedException(t, store, uuid.New(), "500", nil)

	_, err := svc.ExplainException(ctx, exc.ID, elimination.Reason("weather"), "Regen", uuid.New())
	require.ErrorIs(t, err, elimination.ErrInvalidReason)

	_, err = svc.ExplainException(ctx, exc.ID, elimination.ReasonOther, "   ", uuid.New())
	require.ErrorIs(t, err, elimination.ErrExplanationMissing)

	_, err = svc.ExplainException(ctx, exc.ID, elimination.ReasonOther, "Sonstiges", uuid.Nil)
	require.ErrorIs(t, err, ledger.ErrActorRequired)

	_, err = svc.ExplainException(ctx, uuid.New(), elimination.ReasonOther, "Sonstiges", uuid.New())
	require.ErrorIs(t, err, elimination.ErrExceptionNotFound)
}

func TestStatusTransitions(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	actor := uuid.New()
	exc := seedException(t, store, uuid.New(), "500", nil)

	accepted, err := svc.AcceptException(ctx, exc.ID, actor)
	require.NoError(t, err)
	require.Equal(t, elimination.StatusAccepted, accepted.Status)

	_, err = svc.AcceptException(ctx, exc.ID, actor)
	require.ErrorIs(t, err, elimination.ErrInvalidTransition)
	_, _, err = svc.ClearException(ctx, exc.ID, actor)
	require.ErrorIs(t, err, elimination.ErrInvalidTransition)

	_, err = svc.ExplainException(ctx, exc.ID, elimination.ReasonCurrency, "Kursdifferenz", actor)
	require.NoError(t, err)
	_, _, err = svc.ClearException(ctx, exc.ID, actor)
	require.NoError(t, err)

	_, err = svc.AcceptException(ctx, exc.ID, actor)
	require.ErrorIs(t, err, elimination.ErrInvalidTransition)
	require.Equal(t, shared.KindStateMachine, shared.KindOf(err))
}

func TestReplaceRunExceptionsKeepsWorkedOnExceptions(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	statementID, runID := uuid.New(), uuid.New()
	stale := seedException(t, store, statementID, "200", &runID)
	explained := seedException(t, store, statementID, "500", &runID)
	_, err := svc.ExplainException(ctx, explained.ID, elimination.ReasonTiming, "Zeitversatz", uuid.New())
	require.NoError(t, err)

	repeat := explained
	repeat.ID = uuid.New()
	changed := stale
	changed.ID = uuid.New()
	changed.Difference = decimal.NewFromInt(250)

	var written []elimination.Exception
	err = store.Elimination().WithTx(ctx, func(ctx context.Context, tx elimination.Tx) error {
		var err error
		written, err = elimination.ReplaceRunExceptions(ctx, tx, statementID, []elimination.Exception{repeat, changed})
		return err
	})
	require.NoError(t, err)
	require.Len(t, written, 1)
	require.Equal(t, changed.ID, written[0].ID)

	all, err := svc.List(ctx, statementID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	ids := []uuid.UUID{all[0].ID, all[1].ID}
	require.ElementsMatch(t, []uuid.UUID{explained.ID, changed.ID}, ids)
}

func TestSummary(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	statementID := uuid.New()
	seedException(t, store, statementID, "500", nil)
	seedException(t, store, statementID, "-100", nil)
	accepted := seedException(t, store, statementID, "40", nil)
	_, err := svc.AcceptException(ctx, accepted.ID, uuid.New())
	require.NoError(t, err)

	sum, err := svc.Summary(ctx, statementID)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 2, sum.Open)
	require.Equal(t, 1, sum.Accepted)
	require.Equal(t, 3, sum.Material)
	require.True(t, sum.TotalDifference.Equal(decimal.NewFromInt(640)))
	require.True(t, sum.OpenDifference.Equal(decimal.NewFromInt(600)))
}
