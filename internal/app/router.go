package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	consolhttp "github.com/odyssey-erp/konzern/internal/consol/http"
	eliminationhttp "github.com/odyssey-erp/konzern/internal/elimination/http"
	ledgerhttp "github.com/odyssey-erp/konzern/internal/ledger/http"
	"github.com/odyssey-erp/konzern/internal/observability"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	ConsolHandler      *consolhttp.Handler
	LedgerHandler      *ledgerhttp.Handler
	EliminationHandler *eliminationhttp.Handler
	JobHandler         *jobs.Handler
	Idempotency        httpx.IdempotencyStore
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with konzern defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpx.Actor)
		r.Use(httpx.Idempotent(params.Idempotency, "konzern", params.Logger))
		if params.ConsolHandler != nil {
			params.ConsolHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.EliminationHandler != nil {
			params.EliminationHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
