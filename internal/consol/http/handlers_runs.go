package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
)

type enqueuedRun struct {
	TaskID      string `json:"task_id"`
	StatementID string `json:"statement_id"`
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	statementID, ok := h.pathID(w, r, "statement_id")
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if truthy(r.URL.Query().Get("async")) {
		if h.enqueuer == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "background runs are not configured")
			return
		}
		taskID, err := h.enqueuer.EnqueueRun(r.Context(), statementID, actor)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.logger.Info("consolidation run enqueued",
			slog.String("statement_id", statementID.String()),
			slog.String("task_id", taskID))
		httpx.JSON(w, http.StatusAccepted, enqueuedRun{TaskID: taskID, StatementID: statementID.String()})
		return
	}
	res, err := h.service.RunConsolidation(r.Context(), statementID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleStatementSummary(w http.ResponseWriter, r *http.Request) {
	statementID, ok := h.pathID(w, r, "statement_id")
	if !ok {
		return
	}
	val, err, dedup := singleflightBuild(r.Context(), "statement-summary:"+statementID.String(), func(ctx context.Context) (interface{}, error) {
		return h.service.StatementSummary(ctx, statementID)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	outcome := "built"
	if dedup {
		outcome = "shared"
	}
	consol.RecordSummaryRequest(outcome)
	httpx.JSON(w, http.StatusOK, val.(consol.StatementSummary))
}

func (h *Handler) handleListFiscalYear(w http.ResponseWriter, r *http.Request) {
	statementID, ok := h.pathID(w, r, "statement_id")
	if !ok {
		return
	}
	adjustments, err := h.service.ListFiscalYearAdjustments(r.Context(), statementID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if adjustments == nil {
		adjustments = []fiscalyear.Adjustment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}

func (h *Handler) handleProRata(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.service.FiscalYearProRata(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type decisionRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleDecideFiscalYear(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, "id")
		if !ok {
			return
		}
		var body decisionRequest
		if err := httpx.DecodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			httpx.RespondError(w, err)
			return
		}
		adj, err := h.service.DecideFiscalYearAdjustment(r.Context(), id, approve, shared.ActorFromContext(r.Context()), body.Note)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, adj)
	}
}
