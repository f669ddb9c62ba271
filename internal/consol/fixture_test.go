package consol_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/equity"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

var (
	reporting2024 = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	reporting2025 = time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
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

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

// group is a parent with one 80 % subsidiary and a sister company whose
// fiscal year ends on 31 August.
type group struct {
	store   *memstore.Store
	audit   *auditSpy
	svc     *consol.Service
	parent  consol.Company
	sub     consol.Company
	sister  consol.Company
	stmt    consol.Statement
	actor   uuid.UUID
	checker uuid.UUID
}

func newGroup(t *testing.T, opts ...consol.Option) *group {
	t.Helper()
	g := &group{
		store:   memstore.New(),
		audit:   &auditSpy{},
		parent:  consol.Company{ID: uuid.New(), Name: "Muster Holding AG", Currency: "EUR"},
		sub:     consol.Company{ID: uuid.New(), Name: "Alpha GmbH", Currency: "EUR"},
		sister:  consol.Company{ID: uuid.New(), Name: "Beta GmbH", Currency: "EUR", FiscalYearEndMonth: time.August, FiscalYearEndDay: 31},
		actor:   uuid.New(),
		checker: uuid.New(),
	}
	g.sub.ParentID = &g.parent.ID
	g.sister.ParentID = &g.parent.ID
	g.stmt = g.addStatement(2024, reporting2024)

	now := time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)
	opts = append([]consol.Option{
		consol.WithAudit(g.audit),
		consol.WithClock(func() time.Time { return now }),
	}, opts...)
	g.svc = consol.NewService(g.store, consol.DefaultConfig(), nil, opts...)
	return g
}

// addStatement registers a statement of the group with the subsidiary's
// standalone figures: adjusted equity 200,000 and a profit of 50,000.
func (g *group) addStatement(year int, reportingDate time.Time) consol.Statement {
	st := consol.Statement{ID: uuid.New(), GroupCompanyID: g.parent.ID, FiscalYear: year, ReportingDate: reportingDate}
	g.store.AddStatement(st, g.parent, g.sub, g.sister)
	g.store.AddBalances(st.ID,
		consol.AccountBalance{CompanyID: g.sub.ID, AccountCode: "2000", Class: consol.ClassEquity, EquityClass: equity.ClassSubscribedCapital, Amount: d("100000")},
		consol.AccountBalance{CompanyID: g.sub.ID, AccountCode: "2100", Class: consol.ClassEquity, EquityClass: equity.ClassCapitalReserves, Amount: d("50000")},
		consol.AccountBalance{CompanyID: g.sub.ID, AccountCode: "2200", Class: consol.ClassEquity, EquityClass: equity.ClassRevenueReserves, Amount: d("20000")},
		consol.AccountBalance{CompanyID: g.sub.ID, AccountCode: "2300", Class: consol.ClassEquity, EquityClass: equity.ClassRetainedEarnings, Amount: d("10000")},
		consol.AccountBalance{CompanyID: g.sub.ID, AccountCode: "8000", Class: consol.ClassRevenue, Amount: d("500000")},
		consol.AccountBalance{CompanyID: g.sub.ID, AccountCode: "6000", Class: consol.ClassExpense, Amount: d("450000")},
	)
	return st
}

func (g *group) addICBalances(st consol.Statement) {
	g.store.AddICBalances(st.ID,
		elimination.Balance{CompanyID: g.parent.ID, CounterpartyID: g.sub.ID, AccountCode: "1410", Category: elimination.CategoryReceivable, Amount: d("10000")},
		elimination.Balance{CompanyID: g.sub.ID, CounterpartyID: g.parent.ID, AccountCode: "3310", Category: elimination.CategoryPayable, Amount: d("-9500")},
	)
}

func (g *group) firstInput() consol.FirstConsolidationInput {
	return consol.FirstConsolidationInput{
		StatementID:     g.stmt.ID,
		ParentID:        g.parent.ID,
		SubsidiaryID:    g.sub.ID,
		Percentage:      d("80"),
		AcquisitionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		AcquisitionCost: d("220000"),
		Equity: equity.Components{
			SubscribedCapital: nd("100000"),
			CapitalReserves:   nd("50000"),
			RevenueReserves:   nd("20000"),
			RetainedEarnings:  nd("10000"),
			HiddenReserves:    d("20000"),
		},
		ActorID: g.actor,
	}
}

func (g *group) consolidate(t *testing.T) consol.FirstConsolidationResult {
	t.Helper()
	res, err := g.svc.PerformFirstConsolidation(context.Background(), g.firstInput())
	require.NoError(t, err)
	return res
}
