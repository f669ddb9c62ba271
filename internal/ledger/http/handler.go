// Package ledgerhttp exposes consolidation entries and their approval
// workflow as a JSON API.
package ledgerhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// ApprovalLister reads the approval history of an entry.
type ApprovalLister interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Handler serves the entry endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *ledger.Service
	approvals ApprovalLister
}

// NewHandler constructs the handler. approvals may be nil.
func NewHandler(logger *slog.Logger, service *ledger.Service, approvals ApprovalLister) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "ledger.http")), service: service, approvals: approvals}
}

// MountRoutes registers entry routes on an API router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/statements/{id}/entries", h.list)
	r.Post("/statements/{id}/entries", h.create)
	r.Route("/entries/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.update)
		r.Delete("/", h.delete)
		r.Post("/submit", h.submit)
		r.Post("/approve", h.approve)
		r.Post("/reject", h.reject)
		r.Post("/reverse", h.reverse)
		if h.approvals != nil {
			r.Get("/approvals", h.listApprovals)
		}
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	statementID, err := httpx.ParseUUID(chi.URLParam(r, "id"), "statement_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ledger.Filter{
		StatementID: statementID,
		Status:      ledger.Status(q.Get("status")),
		Type:        ledger.AdjustmentType(q.Get("type")),
		Source:      ledger.Source(q.Get("source")),
	}
	if raw := q.Get("run_id"); raw != "" {
		if filter.RunID, err = httpx.ParseUUID(raw, "run_id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, err := queryInt(q.Get("per_page"), "per_page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pagination := shared.NewPagination(page, perPage, len(entries))
	lo, hi := pagination.Bounds()
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries[lo:hi],
		"summary":    ledger.Summarize(entries),
		"pagination": pagination,
	})
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.NewValidationError(field, "must be a number")
	}
	return n, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	statementID, err := httpx.ParseUUID(chi.URLParam(r, "id"), "statement_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ledger.EntryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.StatementID = statementID
	in.CreatedBy = shared.ActorFromContext(r.Context())
	entry, err := h.service.CreateManualEntry(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(entry.Version, 10))
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var upd ledger.EntryUpdate
	if err := httpx.DecodeJSON(r, &upd); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if upd.Version == 0 {
		if upd.Version, err = ifMatch(r); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entry, err := h.service.UpdateEntry(r.Context(), id, upd, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteEntry(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ledger.StatusPending, false)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ledger.StatusApproved, false)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ledger.StatusRejected, true)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ledger.StatusReversed, true)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, target ledger.Status, withReason bool) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cmd := ledger.TransitionCommand{
		EntryID: id,
		Target:  target,
		ActorID: shared.ActorFromContext(r.Context()),
	}
	if withReason {
		var body reasonRequest
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
		cmd.Reason = body.Reason
	}
	if cmd.ExpectedVersion, err = ifMatch(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Transition(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Reversal != nil {
		httpx.JSON(w, http.StatusOK, res)
		return
	}
	httpx.JSON(w, http.StatusOK, res.Entry)
}

func (h *Handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.approvals.List(r.Context(), ledger.ApprovalModule, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
}

// ifMatch reads the expected entry version from the If-Match header.
func ifMatch(r *http.Request) (int64, error) {
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, shared.NewValidationError("If-Match", "must be an entry version")
	}
	return v, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error("entry request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
