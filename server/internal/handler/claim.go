package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/service"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// ClaimLeadRequest is the body of POST /api/claim-lead.
type ClaimLeadRequest struct {
	LeadID  string `json:"leadId"`
	AgentID string `json:"agentId"`
}

// ClaimLeadResponse is returned when the caller now owns the lead.
type ClaimLeadResponse struct {
	Success   bool        `json:"success"`
	LeadID    string      `json:"leadId"`
	AgentID   string      `json:"agentId"`
	ClaimedAt *time.Time  `json:"claimedAt,omitempty"`
	Lead      *model.Lead `json:"lead,omitempty"`
	// Degraded lists the post-claim steps that failed. The claim stands.
	Degraded []string `json:"degraded,omitempty"`
}

// ClaimLead handles a claim attempt.
// POST /api/claim-lead
func (h *Handler) ClaimLead(w http.ResponseWriter, r *http.Request) {
	var req ClaimLeadRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, http.StatusBadRequest, string(service.OutcomeInvalidRequest), "Invalid request body")
		return
	}

	result := h.claimService.ClaimLead(r.Context(), req.LeadID, req.AgentID)
	if result.Success() {
		h.JSON(w, http.StatusOK, ClaimLeadResponse{
			Success:   true,
			LeadID:    result.Claim.LeadID,
			AgentID:   result.Claim.AgentID,
			ClaimedAt: result.Claim.ClaimedAt,
			Lead:      result.Lead,
			Degraded:  result.Degraded(),
		})
		return
	}

	code := result.Reason()
	status := claimStatus(code)
	if status == http.StatusInternalServerError {
		h.log.Error("claim failed", zap.String("lead_id", req.LeadID), zap.String("agent_id", req.AgentID),
			zap.String("detail", result.Detail))
	}
	body := errorResponse{Error: result.Message(), Code: code}
	if result.Claim != nil {
		body.ClaimedBy = result.Claim.ClaimedBy
	}
	h.JSON(w, status, body)
}

// claimStatus maps a claim failure code to its HTTP status.
func claimStatus(code string) int {
	switch code {
	case string(service.OutcomeInvalidRequest):
		return http.StatusBadRequest
	case store.ReasonLeadNotFound:
		return http.StatusNotFound
	case store.ReasonAgentInactive:
		return http.StatusForbidden
	case store.ReasonAlreadyClaimed, store.ReasonLeadUnavailable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
