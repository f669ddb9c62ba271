package eliminationhttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// Handler exposes the reconciliation exception workflow.
type Handler struct {
	logger  *slog.Logger
	service *elimination.Service
}

// NewHandler constructs the HTTP handler.
func NewHandler(logger *slog.Logger, service *elimination.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "elimination.http")), service: service}
}

// MountRoutes registers exception routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/statements/{id}/exceptions", h.list)
	r.Get("/statements/{id}/exceptions/summary", h.summary)
	r.Route("/exceptions/{id}", func(r chi.Router) {
		r.Post("/explain", h.explain)
		r.Post("/accept", h.accept)
		r.Post("/clear", h.clear)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	statementID, err := httpx.ParseUUID(chi.URLParam(r, "id"), "statement_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := elimination.ExceptionStatus(r.URL.Query().Get("status"))
	exceptions, err := h.service.List(r.Context(), statementID, status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if exceptions == nil {
		exceptions = []elimination.Exception{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"exceptions": exceptions})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	statementID, err := httpx.ParseUUID(chi.URLParam(r, "id"), "statement_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sum, err := h.service.Summary(r.Context(), statementID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

type explainRequest struct {
	Reason      elimination.Reason `json:"reason"`
	Explanation string             `json:"explanation"`
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body explainRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	exc, err := h.service.ExplainException(r.Context(), id, body.Reason, body.Explanation, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, exc)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	exc, err := h.service.AcceptException(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, exc)
}

type clearResponse struct {
	Exception elimination.Exception `json:"exception"`
	Entry     ledger.Entry          `json:"entry"`
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	exc, entry, err := h.service.ClearException(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, clearResponse{Exception: exc, Entry: entry})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error("exception request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
