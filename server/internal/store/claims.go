package store

import (
	"context"
	"errors"
	"time"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

// Reasons a claim attempt can be refused.
const (
	ReasonAlreadyClaimed  = "already_claimed"
	ReasonLeadNotFound    = "lead_not_found"
	ReasonLeadUnavailable = "lead_unavailable"
	ReasonAgentInactive   = "agent_inactive"
)

// ClaimAttempt is the structured result of the atomic claim primitive.
type ClaimAttempt struct {
	Success   bool       `json:"success"`
	LeadID    string     `json:"lead_id"`
	AgentID   string     `json:"agent_id"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	// ClaimedBy is the current owner when the lead was already claimed.
	ClaimedBy string `json:"claimed_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ClaimLead atomically transfers ownership of an unclaimed, unarchived lead to
// an active agent. The check and the write are one guarded UPDATE, so among
// concurrent callers at most one matches the row. A refused claim mutates
// nothing and is reported through the returned ClaimAttempt; only database
// failures are returned as errors.
func (s *Store) ClaimLead(ctx context.Context, leadID, agentID string, at time.Time) (*ClaimAttempt, error) {
	activeAgent := s.db.Model(&model.Agent{}).
		Select("1").
		Where("id = ? AND is_active = ?", agentID, true)

	result := s.db.WithContext(ctx).Model(&model.Lead{}).
		Where("id = ? AND claimed = ? AND archived = ?", leadID, false, false).
		Where("EXISTS (?)", activeAgent).
		Updates(map[string]interface{}{
			"assigned_agent_id": agentID,
			"claimed":           true,
			"claimed_by":        agentID,
			"assigned_at":       at,
			"assignment_method": model.AssignmentMethodClaimed,
			"updated_at":        at,
		})
	if result.Error != nil {
		return nil, describe(result.Error)
	}

	attempt := &ClaimAttempt{LeadID: leadID, AgentID: agentID}
	if result.RowsAffected == 1 {
		attempt.Success = true
		attempt.ClaimedAt = &at
		return attempt, nil
	}

	// Nothing matched. Work out why so the caller gets a precise refusal.
	if err := s.explainRefusal(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *Store) explainRefusal(ctx context.Context, attempt *ClaimAttempt) error {
	lead, err := s.GetLeadByID(ctx, attempt.LeadID)
	switch {
	case errors.Is(err, ErrNotFound):
		attempt.Reason = ReasonLeadNotFound
		attempt.Error = "Lead not found"
		return nil
	case err != nil:
		return err
	}

	if lead.Claimed {
		attempt.Reason = ReasonAlreadyClaimed
		attempt.Error = "Lead already claimed"
		if lead.AssignedAgentID != nil {
			attempt.ClaimedBy = *lead.AssignedAgentID
		}
		return nil
	}
	if lead.Archived {
		attempt.Reason = ReasonLeadUnavailable
		attempt.Error = "Lead is no longer available"
		return nil
	}

	agent, err := s.GetAgentByID(ctx, attempt.AgentID)
	switch {
	case errors.Is(err, ErrNotFound):
		attempt.Reason = ReasonAgentInactive
		attempt.Error = "Agent not found"
		return nil
	case err != nil:
		return err
	case !agent.IsActive:
		attempt.Reason = ReasonAgentInactive
		attempt.Error = "Agent is not active"
		return nil
	}

	// The lead changed between the update and this read.
	attempt.Reason = ReasonLeadUnavailable
	attempt.Error = "Lead is no longer available"
	return nil
}
