package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/accounts"
	"github.com/odyssey-erp/konzern/internal/consol/equity"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	consolhttp "github.com/odyssey-erp/konzern/internal/consol/http"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
)

var registry = prometheus.NewRegistry()

func init() {
	if err := consol.SetupMetrics(registry); err != nil {
		panic(err)
	}
}

type stubEnqueuer struct {
	statementID uuid.UUID
	actor       uuid.UUID
	err         error
}

func (s *stubEnqueuer) EnqueueRun(_ context.Context, statementID, actor uuid.UUID) (string, error) {
	s.statementID, s.actor = statementID, actor
	if s.err != nil {
		return "", s.err
	}
	return "task-1", nil
}

type fixture struct {
	router   http.Handler
	store    *memstore.Store
	enqueuer *stubEnqueuer
	stmt     consol.Statement
	parent   consol.Company
	sub      consol.Company
	actor    uuid.UUID
}

func newFixture(t *testing.T, withEnqueuer bool) *fixture {
	t.Helper()
	f := &fixture{
		store:  memstore.New(),
		parent: consol.Company{ID: uuid.New(), Name: "Muster Holding AG", Currency: "EUR"},
		sub:    consol.Company{ID: uuid.New(), Name: "Alpha GmbH", Currency: "EUR"},
		actor:  uuid.New(),
	}
	f.sub.ParentID = &f.parent.ID
	sister := consol.Company{ID: uuid.New(), Name: "Beta GmbH", Currency: "EUR", ParentID: &f.parent.ID, FiscalYearEndMonth: time.August, FiscalYearEndDay: 31}
	f.stmt = consol.Statement{ID: uuid.New(), GroupCompanyID: f.parent.ID, FiscalYear: 2024, ReportingDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}
	f.store.AddStatement(f.stmt, f.parent, f.sub, sister)
	f.store.AddBalances(f.stmt.ID,
		consol.AccountBalance{CompanyID: f.sub.ID, AccountCode: "2000", Class: consol.ClassEquity, EquityClass: equity.ClassSubscribedCapital, Amount: decimal.NewFromInt(100000)},
		consol.AccountBalance{CompanyID: f.sub.ID, AccountCode: "2100", Class: consol.ClassEquity, EquityClass: equity.ClassCapitalReserves, Amount: decimal.NewFromInt(50000)},
		consol.AccountBalance{CompanyID: f.sub.ID, AccountCode: "2200", Class: consol.ClassEquity, EquityClass: equity.ClassRevenueReserves, Amount: decimal.NewFromInt(20000)},
		consol.AccountBalance{CompanyID: f.sub.ID, AccountCode: "2300", Class: consol.ClassEquity, EquityClass: equity.ClassRetainedEarnings, Amount: decimal.NewFromInt(10000)},
	)

	now := time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := consol.NewService(f.store, consol.DefaultConfig(), nil, consol.WithClock(clock))
	scheduler := goodwill.NewScheduler(f.store.Goodwill(), accounts.Default(), nil, goodwill.WithClock(clock))
	var enqueuer consolhttp.RunEnqueuer
	if withEnqueuer {
		f.enqueuer = &stubEnqueuer{}
		enqueuer = f.enqueuer
	}
	r := chi.NewRouter()
	r.Use(httpx.Actor)
	consolhttp.NewHandler(nil, svc, scheduler, enqueuer).MountRoutes(r)
	f.router = r
	return f
}

func (f *fixture) call(t *testing.T, method, path string, actor uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != uuid.Nil {
		req.Header.Set(httpx.ActorHeader, actor.String())
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) firstConsolidationBody() map[string]any {
	return map[string]any{
		"statement_id":     f.stmt.ID,
		"parent_id":        f.parent.ID,
		"subsidiary_id":    f.sub.ID,
		"percentage":       "80",
		"acquisition_date": "2024-01-01T00:00:00Z",
		"acquisition_cost": "220000",
		"equity": map[string]any{
			"subscribed_capital": "100000",
			"capital_reserves":   "50000",
			"revenue_reserves":   "20000",
			"retained_earnings":  "10000",
			"hidden_reserves":    "20000",
		},
	}
}

func (f *fixture) consolidate(t *testing.T) consol.FirstConsolidationResult {
	t.Helper()
	rec := f.call(t, http.MethodPost, "/participations/first-consolidation", f.actor, f.firstConsolidationBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res consol.FirstConsolidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func counterValue(t *testing.T, name, label, value string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestFirstConsolidationEndpoint(t *testing.T) {
	f := newFixture(t, false)
	res := f.consolidate(t)
	require.True(t, res.Capital.Goodwill.Equal(decimal.NewFromInt(60000)))
	require.True(t, res.Capital.MinorityShare.Equal(decimal.NewFromInt(40000)))
	require.NotNil(t, res.Schedule)
	require.Len(t, res.Entries, 5)

	rec := f.call(t, http.MethodPost, "/participations/first-consolidation", f.actor, f.firstConsolidationBody())
	require.Equal(t, http.StatusConflict, rec.Code)

	body := f.firstConsolidationBody()
	body["percentage"] = "120"
	rec = f.call(t, http.MethodPost, "/participations/first-consolidation", f.actor, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(t, http.MethodPost, "/participations/first-consolidation", uuid.Nil, f.firstConsolidationBody())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatementSummaryEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.consolidate(t)
	before := counterValue(t, "konzern_consol_summary_requests_total", "outcome", "built")

	rec := f.call(t, http.MethodGet, "/statements/"+f.stmt.ID.String()+"/summary", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum consol.StatementSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	require.Equal(t, 5, sum.Entries.EntryCount)
	require.Equal(t, before+1, counterValue(t, "konzern_consol_summary_requests_total", "outcome", "built"))

	rec = f.call(t, http.MethodGet, "/statements/"+uuid.NewString()+"/summary", uuid.Nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.consolidate(t)

	rec := f.call(t, http.MethodPost, "/statements/"+f.stmt.ID.String()+"/runs", f.actor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res consol.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, f.stmt.ID, res.StatementID)
	require.Equal(t, 1, res.Summary.AmortizationEntries)
	require.Equal(t, 1, res.Summary.FiscalYearFlags)

	rec = f.call(t, http.MethodPost, "/statements/"+f.stmt.ID.String()+"/runs?async=1", f.actor, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAsyncRunEnqueues(t *testing.T) {
	f := newFixture(t, true)

	rec := f.call(t, http.MethodPost, "/statements/"+f.stmt.ID.String()+"/runs?async=true", f.actor, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Equal(t, f.stmt.ID, f.enqueuer.statementID)
	require.Equal(t, f.actor, f.enqueuer.actor)
	require.Contains(t, rec.Body.String(), "task-1")

	f.enqueuer.err = errors.New("redis down")
	rec = f.call(t, http.MethodPost, "/statements/"+f.stmt.ID.String()+"/runs?async=true", f.actor, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFiscalYearDecisionEndpoints(t *testing.T) {
	f := newFixture(t, false)
	rec := f.call(t, http.MethodPost, "/statements/"+f.stmt.ID.String()+"/runs", f.actor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.call(t, http.MethodGet, "/statements/"+f.stmt.ID.String()+"/fiscal-year-adjustments", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Adjustments []fiscalyear.Adjustment `json:"adjustments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	var pending fiscalyear.Adjustment
	for _, a := range listing.Adjustments {
		if a.Status == fiscalyear.StatusPending {
			pending = a
		}
	}
	require.NotEqual(t, uuid.Nil, pending.ID)

	path := "/fiscal-year-adjustments/" + pending.ID.String()
	rec = f.call(t, http.MethodGet, path+"/pro-rata", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var proj fiscalyear.ProRataResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proj))
	require.Equal(t, pending.ID, proj.AdjustmentID)
	require.True(t, proj.Factor.Equal(fiscalyear.Factor(pending.DifferenceDays)))
	require.Empty(t, proj.Lines)

	rec = f.call(t, http.MethodGet, "/fiscal-year-adjustments/"+uuid.NewString()+"/pro-rata", uuid.Nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(t, http.MethodPost, path+"/reject", uuid.New(), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(t, http.MethodPost, path+"/approve", uuid.New(), map[string]string{"note": "Zwischenabschluss liegt vor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var decided fiscalyear.Adjustment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	require.Equal(t, fiscalyear.StatusApproved, decided.Status)
}

func TestGoodwillEndpoints(t *testing.T) {
	f := newFixture(t, false)
	participationID := uuid.New()

	rec := f.call(t, http.MethodPost, "/goodwill/schedules", f.actor, map[string]any{
		"participation_id": participationID,
		"initial_goodwill": "60000",
		"start_year":       2024,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sched goodwill.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sched))
	base := "/goodwill/schedules/" + sched.ID.String()

	rec = f.call(t, http.MethodGet, base+"/projection?years=2", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var projection struct {
		Rows []goodwill.ProjectionRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projection))
	require.Len(t, projection.Rows, 2)

	rec = f.call(t, http.MethodGet, base+"/projection?years=abc", uuid.Nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(t, http.MethodPost, base+"/impairments", f.actor, map[string]any{
		"amount": "70000",
		"reason": "Markteinbruch",
		"date":   "2024-09-30T00:00:00Z",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.call(t, http.MethodPost, base+"/entries", f.actor, map[string]int{"fiscal_year": 2024})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var amort goodwill.AmortizationEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &amort))
	require.True(t, amort.AmortizationAmount.Equal(decimal.NewFromInt(6000)))

	book := "/goodwill/entries/" + amort.ID.String() + "/book"
	rec = f.call(t, http.MethodPost, book, f.actor, map[string]any{"statement_id": f.stmt.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.call(t, http.MethodPost, book, f.actor, map[string]any{"statement_id": f.stmt.ID})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.call(t, http.MethodGet, "/participations/"+participationID.String()+"/goodwill", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum goodwill.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	require.True(t, sum.Remaining.Equal(decimal.NewFromInt(54000)))
	require.Equal(t, 1, sum.BookedEntries)
}

func TestMinorityInterestsRequiresCompany(t *testing.T) {
	f := newFixture(t, false)
	f.consolidate(t)

	rec := f.call(t, http.MethodGet, "/statements/"+f.stmt.ID.String()+"/minority-interests", uuid.Nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(t, http.MethodGet, "/statements/"+f.stmt.ID.String()+"/minority-interests?company_id="+f.parent.ID.String(), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res consol.MinorityInterestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.MinorityEquity.Equal(decimal.NewFromInt(40000)))
}
