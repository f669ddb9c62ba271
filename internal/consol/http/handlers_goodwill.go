package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const defaultProjectionYears = 10

func (h *Handler) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var in goodwill.ScheduleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.goodwill.CreateSchedule(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sched)
}

func (h *Handler) handleProjection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "schedule_id")
	if !ok {
		return
	}
	years := defaultProjectionYears
	if raw := r.URL.Query().Get("years"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("years", "must be a number"))
			return
		}
		years = n
	}
	rows, err := h.goodwill.Projection(r.Context(), id, years)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"schedule_id": id, "rows": rows})
}

type impairmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	Date   time.Time       `json:"date"`
}

func (h *Handler) handleImpairment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "schedule_id")
	if !ok {
		return
	}
	var body impairmentRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.goodwill.RecordImpairment(r.Context(), id, body.Amount, body.Reason, body.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sched)
}

type amortizationRequest struct {
	FiscalYear int `json:"fiscal_year"`
}

func (h *Handler) handleAmortization(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "schedule_id")
	if !ok {
		return
	}
	var body amortizationRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.goodwill.CreateAmortizationEntry(r.Context(), id, body.FiscalYear)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type bookRequest struct {
	StatementID uuid.UUID `json:"statement_id"`
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "entry_id")
	if !ok {
		return
	}
	var body bookRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if body.StatementID == uuid.Nil {
		httpx.RespondError(w, shared.NewValidationError("statement_id", "is required"))
		return
	}
	res, err := h.goodwill.BookEntry(r.Context(), id, body.StatementID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGoodwillSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "participation_id")
	if !ok {
		return
	}
	sum, err := h.goodwill.Summary(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}
