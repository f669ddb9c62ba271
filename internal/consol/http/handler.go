// Package http exposes the consolidation use cases as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// RunEnqueuer hands a run to the background worker and returns the task id.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, statementID, actor uuid.UUID) (string, error)
}

// Handler wires the consolidation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *consol.Service
	goodwill  *goodwill.Scheduler
	enqueuer  RunEnqueuer
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the consolidation handler. enqueuer may be nil, in
// which case asynchronous runs are refused.
func NewHandler(logger *slog.Logger, service *consol.Service, scheduler *goodwill.Scheduler, enqueuer RunEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if actor := shared.ActorFromContext(r.Context()); actor != uuid.Nil {
			return "actor:" + actor.String(), nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:    logger.With(slog.String("component", "consol.http")),
		service:   service,
		goodwill:  scheduler,
		enqueuer:  enqueuer,
		rateLimit: limiter,
	}
}

// MountRoutes registers consolidation routes on an API router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/participations/first-consolidation", h.handleFirstConsolidation)
	r.Post("/participations/{id}/deconsolidation", h.handleDeconsolidation)
	r.Get("/statements/{id}/minority-interests", h.handleMinorityInterests)
	r.Get("/statements/{id}/summary", h.handleStatementSummary)
	r.Get("/statements/{id}/fiscal-year-adjustments", h.handleListFiscalYear)
	r.Get("/fiscal-year-adjustments/{id}/pro-rata", h.handleProRata)
	r.Post("/fiscal-year-adjustments/{id}/approve", h.handleDecideFiscalYear(true))
	r.Post("/fiscal-year-adjustments/{id}/reject", h.handleDecideFiscalYear(false))
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/statements/{id}/runs", h.handleRun)
	})
	if h.goodwill != nil {
		r.Get("/participations/{id}/goodwill", h.handleGoodwillSummary)
		r.Route("/goodwill", func(r chi.Router) {
			r.Post("/schedules", h.handleCreateSchedule)
			r.Get("/schedules/{id}/projection", h.handleProjection)
			r.Post("/schedules/{id}/impairments", h.handleImpairment)
			r.Post("/schedules/{id}/entries", h.handleAmortization)
			r.Post("/entries/{id}/book", h.handleBook)
		})
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, field string) (uuid.UUID, bool) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), field)
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error("consolidation request failed",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
