package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// sideEffectTimeout bounds the bookkeeping that follows a committed claim.
const sideEffectTimeout = 10 * time.Second

// Outcome is the tagged result of a claim request.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeAlreadyClaimed Outcome = "already_claimed"
	OutcomeInvalidRequest Outcome = "invalid_request"
	OutcomeClaimFailed    Outcome = "claim_failed"
)

// Steps performed after a successful claim.
const (
	StepStartContactTimer = "start_contact_timer"
	StepAuditLog          = "audit_log"
	StepAckNotification   = "ack_notification"
	StepNotifyPeers       = "notify_peers"
	StepPublishEvent      = "publish_event"
	StepFetchLead         = "fetch_lead"
)

// StepOutcome records whether one post-claim step completed.
type StepOutcome struct {
	Step  string `json:"step"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ClaimResult is returned by ClaimLead. Callers branch on Outcome before
// assuming ownership. Claim is the store's verdict whenever the atomic claim
// ran; Lead is the full record after a successful claim.
type ClaimResult struct {
	Outcome Outcome             `json:"outcome"`
	Claim   *store.ClaimAttempt `json:"claim,omitempty"`
	Lead    *model.Lead         `json:"lead,omitempty"`
	Detail  string              `json:"detail,omitempty"`
	Steps   []StepOutcome       `json:"steps,omitempty"`
}

// Success reports whether the caller now owns the lead.
func (r *ClaimResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// Degraded returns the post-claim steps that failed.
func (r *ClaimResult) Degraded() []string {
	var failed []string
	for _, s := range r.Steps {
		if !s.OK {
			failed = append(failed, s.Step)
		}
	}
	return failed
}

// Reason is the machine-readable cause of a refused claim, or the outcome
// itself for the other cases.
func (r *ClaimResult) Reason() string {
	if r.Outcome == OutcomeAlreadyClaimed && r.Claim != nil && r.Claim.Reason != "" {
		return r.Claim.Reason
	}
	return string(r.Outcome)
}

// Message is a human-readable description of a failed claim.
func (r *ClaimResult) Message() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return ""
	case OutcomeAlreadyClaimed:
		if r.Claim != nil && r.Claim.Error != "" {
			return r.Claim.Error
		}
		return "Lead already claimed"
	default:
		return r.Detail
	}
}

// ClaimStore is the persistence the claim flow needs.
type ClaimStore interface {
	ClaimLead(ctx context.Context, leadID, agentID string, at time.Time) (*store.ClaimAttempt, error)
	StartContactTimer(ctx context.Context, leadID string, startedAt, expiresAt time.Time) error
	CreateActivity(ctx context.Context, activity *model.Activity) error
	MarkLeadNotificationRead(ctx context.Context, leadID, agentID string, at time.Time) (int64, error)
	NotifyLeadClaimed(ctx context.Context, leadID, claimingAgentID string, at time.Time) (int, error)
	GetLeadByID(ctx context.Context, id string) (*model.Lead, error)
}

// ClaimPublisher announces claims to realtime subscribers.
type ClaimPublisher interface {
	PublishLeadClaimed(ctx context.Context, leadID, agentID string, claimedAt time.Time) error
}

// ClaimService coordinates agents competing for the same lead.
type ClaimService struct {
	store         ClaimStore
	publisher     ClaimPublisher
	contactWindow time.Duration
	now           func() time.Time
	log           *zap.Logger
}

// NewClaimService creates a claim service. publisher may be nil.
func NewClaimService(s ClaimStore, publisher ClaimPublisher, contactWindow time.Duration, log *zap.Logger) *ClaimService {
	return &ClaimService{
		store:         s,
		publisher:     publisher,
		contactWindow: contactWindow,
		now:           time.Now,
		log:           log.With(zap.String("component", "claim")),
	}
}

// ClaimLead gives agentID exclusive ownership of leadID if the lead is free.
//
// Ownership is decided by a single atomic store operation. Once it commits,
// the contact timer, audit entry, notification acknowledgement and peer
// broadcast are each attempted and recorded in Steps; a failing step is
// logged but never undoes the claim.
func (s *ClaimService) ClaimLead(ctx context.Context, leadID, agentID string) *ClaimResult {
	leadID = strings.TrimSpace(leadID)
	agentID = strings.TrimSpace(agentID)
	if leadID == "" || agentID == "" {
		return &ClaimResult{
			Outcome: OutcomeInvalidRequest,
			Detail:  "Missing leadId or agentId",
		}
	}

	log := s.log.With(zap.String("lead_id", leadID), zap.String("agent_id", agentID))
	now := s.now().UTC()

	attempt, err := s.store.ClaimLead(ctx, leadID, agentID, now)
	if err != nil {
		log.Error("claim failed", zap.Error(err))
		return &ClaimResult{
			Outcome: OutcomeClaimFailed,
			Detail:  err.Error(),
		}
	}
	if !attempt.Success {
		log.Info("claim refused", zap.String("reason", attempt.Reason))
		return &ClaimResult{
			Outcome: OutcomeAlreadyClaimed,
			Claim:   attempt,
		}
	}
	log.Info("lead claimed")

	// The claim is committed. Finish the bookkeeping even if the caller goes away.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	result := &ClaimResult{Outcome: OutcomeSuccess, Claim: attempt}
	record := func(step string, err error) {
		outcome := StepOutcome{Step: step, OK: err == nil}
		if err != nil {
			outcome.Error = err.Error()
			log.Warn("post-claim step failed", zap.String("step", step), zap.Error(err))
		}
		result.Steps = append(result.Steps, outcome)
	}

	expiresAt := now.Add(s.contactWindow)
	record(StepStartContactTimer, s.store.StartContactTimer(sctx, leadID, now, expiresAt))

	record(StepAuditLog, s.store.CreateActivity(sctx, &model.Activity{
		LeadID:       leadID,
		AgentID:      &agentID,
		ActivityType: model.ActivityTypeNote,
		Notes: fmt.Sprintf("Lead claimed. Contact timer started, first contact due within %s (by %s).",
			formatWindow(s.contactWindow), expiresAt.Format(time.RFC3339)),
		CreatedAt: now,
	}))

	_, err = s.store.MarkLeadNotificationRead(sctx, leadID, agentID, now)
	record(StepAckNotification, err)

	notified, err := s.store.NotifyLeadClaimed(sctx, leadID, agentID, now)
	record(StepNotifyPeers, err)
	if err == nil {
		log.Debug("peers notified", zap.Int("count", notified))
	}

	if s.publisher != nil {
		record(StepPublishEvent, s.publisher.PublishLeadClaimed(sctx, leadID, agentID, now))
	}

	lead, err := s.store.GetLeadByID(sctx, leadID)
	record(StepFetchLead, err)
	result.Lead = lead

	if failed := result.Degraded(); len(failed) > 0 {
		log.Warn("lead claimed with degraded bookkeeping", zap.Strings("failed_steps", failed))
	}
	return result
}

// formatWindow renders durations like "5 minutes" or "90s".
func formatWindow(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
