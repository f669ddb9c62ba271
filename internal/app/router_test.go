package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/ledger"
	ledgerhttp "github.com/odyssey-erp/konzern/internal/ledger/http"
	"github.com/odyssey-erp/konzern/internal/observability"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
	_ "github.com/odyssey-erp/konzern/internal/testing/guard"
)

type keyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (k *keyStore) CheckAndInsert(_ context.Context, key, _ string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	k.seen[key] = true
	return nil
}

func (k *keyStore) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.seen, key)
	return nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memstore.New()
	svc := ledger.NewService(store.Ledger(), nil, nil, nil)
	return NewRouter(RouterParams{
		Logger:        NewLogger(&Config{LogLevel: "error"}),
		Config:        &Config{AppEnv: "test"},
		LedgerHandler: ledgerhttp.NewHandler(nil, svc, nil),
		Idempotency:   &keyStore{seen: map[string]bool{}},
		Metrics:       observability.NewMetrics(),
	})
}

func entryRequest(t *testing.T, actor uuid.UUID, key string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"debit_account":   "2900",
		"credit_account":  "0500",
		"amount":          "100",
		"adjustment_type": string(ledger.TypeReclassification),
		"hgb_reference":   string(ledger.HGBOther),
		"description":     "Umgliederung",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/"+uuid.NewString()+"/entries", bytes.NewReader(body))
	if actor != uuid.Nil {
		req.Header.Set(httpx.ActorHeader, actor.String())
	}
	if key != "" {
		req.Header.Set(httpx.IdempotencyHeader, key)
	}
	return req
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `konzern_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterAPIRequiresActor(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, entryRequest(t, uuid.Nil, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, entryRequest(t, uuid.New(), ""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRouterRejectsReplayedIdempotencyKey(t *testing.T) {
	router := newTestRouter(t)
	actor := uuid.New()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, entryRequest(t, actor, "entry-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, entryRequest(t, actor, "entry-1"))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestInTestModeFromGuard(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}
