package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/service"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// GetLead returns a lead as the requesting agent may see it.
// GET /api/leads/{leadId}?agentId=
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadId")
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		h.Error(w, http.StatusBadRequest, "agentId is required")
		return
	}

	view, err := h.leadService.GetLeadForAgent(r.Context(), leadID, agentID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "Lead not found")
		return
	}
	if err != nil {
		h.log.Error("failed to get lead", zap.String("lead_id", leadID), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "Failed to get lead")
		return
	}

	h.JSON(w, http.StatusOK, view)
}

// ListClaimableLeads returns the leads an agent was offered and can still claim.
// GET /api/agents/{agentId}/claimable-leads
func (h *Handler) ListClaimableLeads(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	leads, err := h.leadService.ListClaimableLeads(r.Context(), agentID)
	if err != nil {
		h.log.Error("failed to list claimable leads", zap.String("agent_id", agentID), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "Failed to list claimable leads")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"leads": leads})
}

// FirstContactRequest is the body of a first-contact report.
type FirstContactRequest struct {
	AgentID string `json:"agentId"`
	Type    string `json:"type"`
	Notes   string `json:"notes"`
}

// RecordFirstContact records that the owning agent reached the lead, which
// stops the contact SLA watcher from flagging it.
// POST /api/leads/{leadId}/first-contact
func (h *Handler) RecordFirstContact(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadId")

	var req FirstContactRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AgentID == "" {
		h.Error(w, http.StatusBadRequest, "agentId is required")
		return
	}

	result, err := h.leadService.RecordFirstContact(r.Context(), leadID, req.AgentID, req.Type, req.Notes)
	switch {
	case errors.Is(err, service.ErrInvalidContactType):
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, "Lead not found")
		return
	case errors.Is(err, service.ErrNotLeadOwner):
		h.Error(w, http.StatusForbidden, "Only the agent who claimed the lead can record contact")
		return
	case err != nil:
		h.log.Error("failed to record first contact", zap.String("lead_id", leadID), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "Failed to record first contact")
		return
	}

	h.JSON(w, http.StatusOK, result)
}
