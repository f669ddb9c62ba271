package http

import (
	"net/http"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
)

func (h *Handler) handleFirstConsolidation(w http.ResponseWriter, r *http.Request) {
	var in consol.FirstConsolidationInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	res, err := h.service.PerformFirstConsolidation(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleDeconsolidation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "participation_id")
	if !ok {
		return
	}
	var in consol.DeconsolidationInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.ParticipationID = id
	in.ActorID = shared.ActorFromContext(r.Context())
	res, err := h.service.PerformDeconsolidation(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleMinorityInterests(w http.ResponseWriter, r *http.Request) {
	statementID, ok := h.pathID(w, r, "statement_id")
	if !ok {
		return
	}
	companyID, err := httpx.ParseUUID(r.URL.Query().Get("company_id"), "company_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.CalculateMinorityInterests(r.Context(), statementID, companyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
