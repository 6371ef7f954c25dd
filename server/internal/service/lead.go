package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

// LeadStore is the persistence LeadService needs.
type LeadStore interface {
	GetLeadByID(ctx context.Context, id string) (*model.Lead, error)
	ListClaimableLeads(ctx context.Context, agentID string) ([]*model.Lead, error)
	RecordFirstContact(ctx context.Context, activity *model.Activity) (bool, error)
}

var (
	// ErrNotLeadOwner is returned when an agent acts on a lead it does not own.
	ErrNotLeadOwner = errors.New("lead is not owned by this agent")
	// ErrInvalidContactType is returned for an unknown first-contact channel.
	ErrInvalidContactType = errors.New("contact type must be call, email or note")
)

// FirstContactResult reports a first-contact request. Recorded is false when
// contact had already been recorded for the lead.
type FirstContactResult struct {
	Recorded bool        `json:"recorded"`
	Lead     *model.Lead `json:"lead"`
}

// LeadView is a lead as one agent may see it. Contact details are present
// only when Owned is true.
type LeadView struct {
	Owned bool        `json:"owned"`
	Lead  *model.Lead `json:"lead"`
}

// LeadService serves lead reads with contact-detail gating.
type LeadService struct {
	store LeadStore
}

// NewLeadService creates a new lead service
func NewLeadService(s LeadStore) *LeadService {
	return &LeadService{store: s}
}

// ListClaimableLeads returns the leads an agent was offered and can still
// claim, without contact details.
func (s *LeadService) ListClaimableLeads(ctx context.Context, agentID string) ([]*model.ClaimableLead, error) {
	leads, err := s.store.ListClaimableLeads(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable leads: %w", err)
	}
	out := make([]*model.ClaimableLead, len(leads))
	for i, l := range leads {
		out[i] = l.Public()
	}
	return out, nil
}

// GetLeadForAgent returns the full lead to its owner and a copy without
// contact details to anyone else.
func (s *LeadService) GetLeadForAgent(ctx context.Context, leadID, agentID string) (*LeadView, error) {
	lead, err := s.store.GetLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.OwnedBy(agentID) {
		return &LeadView{Owned: true, Lead: lead}, nil
	}
	redacted := *lead
	redacted.Email = nil
	redacted.PhoneNumber = nil
	return &LeadView{Owned: false, Lead: &redacted}, nil
}

// RecordFirstContact stops the contact SLA clock for a lead its owner has
// reached. contactType is the activity logged with it and defaults to a call.
func (s *LeadService) RecordFirstContact(ctx context.Context, leadID, agentID, contactType, notes string) (*FirstContactResult, error) {
	switch contactType {
	case "":
		contactType = model.ActivityTypeCall
	case model.ActivityTypeCall, model.ActivityTypeEmail, model.ActivityTypeNote:
	default:
		return nil, ErrInvalidContactType
	}

	lead, err := s.store.GetLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !lead.OwnedBy(agentID) {
		return nil, ErrNotLeadOwner
	}
	if notes == "" {
		notes = "First contact made by " + contactType
	}

	recorded, err := s.store.RecordFirstContact(ctx, &model.Activity{
		LeadID:       leadID,
		AgentID:      &agentID,
		ActivityType: contactType,
		Notes:        notes,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record first contact: %w", err)
	}

	lead, err = s.store.GetLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return &FirstContactResult{Recorded: recorded, Lead: lead}, nil
}
