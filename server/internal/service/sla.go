package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/events"
	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

const adminLeadsURL = "/crm/admin/leads"

// SweepReport summarises one SLA sweep.
type SweepReport struct {
	Window    string `json:"window"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	// Skipped counts leads another sweep or a claim handled first.
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// SLAStore is the persistence SLAService needs.
type SLAStore interface {
	ListExpiredClaimWindows(ctx context.Context, now time.Time) ([]*model.Lead, error)
	ListExpiredContactWindows(ctx context.Context, now time.Time) ([]*model.Lead, error)
	MarkClaimSLABreached(ctx context.Context, leadID string, at time.Time) (bool, error)
	MarkContactSLABreached(ctx context.Context, leadID string, at time.Time) (bool, error)
	FindFallbackAdminID(ctx context.Context, language string) (string, error)
	GetAgentByID(ctx context.Context, id string) (*model.Agent, error)
	CreateNotification(ctx context.Context, n *model.Notification) error
	CreateActivity(ctx context.Context, activity *model.Activity) error
}

// BreachPublisher announces SLA breaches to realtime subscribers.
type BreachPublisher interface {
	PublishSLABreach(ctx context.Context, data events.SLABreachData) error
}

// SLAConfig holds the windows SLAService reports against.
type SLAConfig struct {
	ClaimWindow    time.Duration
	ContactWindow  time.Duration
	DefaultAdminID string
}

// SLAService flags leads whose claim or contact window expired and alerts
// the responsible admin.
type SLAService struct {
	store     SLAStore
	publisher BreachPublisher
	cfg       SLAConfig
	now       func() time.Time
	log       *zap.Logger
}

// NewSLAService creates an SLA service. publisher may be nil.
func NewSLAService(s SLAStore, publisher BreachPublisher, cfg SLAConfig, log *zap.Logger) *SLAService {
	return &SLAService{
		store:     s,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With(zap.String("component", "sla")),
	}
}

// SweepClaimWindows flags unclaimed leads whose claim window has expired.
func (s *SLAService) SweepClaimWindows(ctx context.Context) (*SweepReport, error) {
	now := s.now().UTC()
	leads, err := s.store.ListExpiredClaimWindows(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired claim windows: %w", err)
	}

	report := &SweepReport{Window: events.WindowClaim, Total: len(leads)}
	for _, lead := range leads {
		s.tally(report, s.handleClaimBreach(ctx, lead, now))
	}
	s.logReport(report)
	return report, nil
}

// SweepContactWindows flags claimed leads whose owner made no first contact
// within the contact window. The lead stays with its agent.
func (s *SLAService) SweepContactWindows(ctx context.Context) (*SweepReport, error) {
	now := s.now().UTC()
	leads, err := s.store.ListExpiredContactWindows(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired contact windows: %w", err)
	}

	report := &SweepReport{Window: events.WindowContact, Total: len(leads)}
	for _, lead := range leads {
		s.tally(report, s.handleContactBreach(ctx, lead, now))
	}
	s.logReport(report)
	return report, nil
}

var errBreachHandled = errors.New("breach already handled")

func (s *SLAService) tally(report *SweepReport, err error) {
	switch {
	case err == nil:
		report.Processed++
	case errors.Is(err, errBreachHandled):
		report.Skipped++
	default:
		report.Errors++
	}
}

func (s *SLAService) logReport(r *SweepReport) {
	if r.Total == 0 {
		s.log.Debug("no expired windows", zap.String("window", r.Window))
		return
	}
	s.log.Info("sla sweep complete",
		zap.String("window", r.Window),
		zap.Int("total", r.Total),
		zap.Int("processed", r.Processed),
		zap.Int("skipped", r.Skipped),
		zap.Int("errors", r.Errors))
}

// fallbackAdmin finds who to alert for a lead in the given language.
func (s *SLAService) fallbackAdmin(ctx context.Context, language string) string {
	adminID, err := s.store.FindFallbackAdminID(ctx, language)
	if err != nil {
		s.log.Warn("round robin lookup failed", zap.String("language", language), zap.Error(err))
	}
	if adminID == "" {
		adminID = s.cfg.DefaultAdminID
	}
	return adminID
}

func (s *SLAService) handleClaimBreach(ctx context.Context, lead *model.Lead, now time.Time) error {
	log := s.log.With(zap.String("lead_id", lead.ID), zap.String("window", events.WindowClaim))

	marked, err := s.store.MarkClaimSLABreached(ctx, lead.ID, now)
	if err != nil {
		log.Error("failed to flag breach", zap.Error(err))
		return err
	}
	if !marked {
		return errBreachHandled
	}

	adminID := s.fallbackAdmin(ctx, lead.Language)
	window := formatWindow(s.cfg.ClaimWindow)
	lang := strings.ToUpper(lead.Language)

	s.alert(ctx, log, lead, adminID, "", &model.Notification{
		NotificationType: model.NotificationClaimSLABreach,
		Title:            "Lead unclaimed: claim window expired",
		Message: fmt.Sprintf("%s (%s) went unclaimed after %s and needs reassignment",
			lead.FullName(), lang, window),
	}, fmt.Sprintf("CLAIM SLA BREACH: claim window expired after %s with no claim. Admin notified for manual reassignment.", window),
		events.SLABreachData{Window: events.WindowClaim}, now)
	return nil
}

func (s *SLAService) handleContactBreach(ctx context.Context, lead *model.Lead, now time.Time) error {
	log := s.log.With(zap.String("lead_id", lead.ID), zap.String("window", events.WindowContact))

	marked, err := s.store.MarkContactSLABreached(ctx, lead.ID, now)
	if err != nil {
		log.Error("failed to flag breach", zap.Error(err))
		return err
	}
	if !marked {
		return errBreachHandled
	}

	agentName := "Unknown agent"
	agentID := ""
	if lead.AssignedAgentID != nil {
		agentID = *lead.AssignedAgentID
		agent, err := s.store.GetAgentByID(ctx, agentID)
		switch {
		case err == nil:
			agentName = agent.FullName()
		case !errors.Is(err, store.ErrNotFound):
			log.Warn("failed to load assigned agent", zap.Error(err))
		}
	}

	adminID := s.fallbackAdmin(ctx, lead.Language)
	window := formatWindow(s.cfg.ContactWindow)
	lang := strings.ToUpper(lead.Language)

	s.alert(ctx, log, lead, adminID, agentID, &model.Notification{
		NotificationType: model.NotificationContactSLABreach,
		Title:            "No contact made: agent SLA breach",
		Message: fmt.Sprintf("%s claimed %s (%s) but made no contact within %s",
			agentName, lead.FullName(), lang, window),
	}, fmt.Sprintf("CONTACT SLA BREACH: %s made no contact within %s of claiming. Admin notified.", agentName, window),
		events.SLABreachData{Window: events.WindowContact, AgentID: agentID}, now)
	return nil
}

// alert delivers the admin notification, audit note and realtime event for a
// flagged breach. Each delivery failure is logged on its own.
// The audit note is attributed to actorID, or to the admin when actorID is empty.
func (s *SLAService) alert(ctx context.Context, log *zap.Logger, lead *model.Lead, adminID, actorID string,
	n *model.Notification, note string, data events.SLABreachData, now time.Time) {
	leadID := lead.ID

	if adminID != "" {
		actionURL := adminLeadsURL
		n.AgentID = adminID
		n.LeadID = &leadID
		n.ActionURL = &actionURL
		n.CreatedAt = now
		if err := s.store.CreateNotification(ctx, n); err != nil {
			log.Error("failed to notify admin", zap.String("admin_id", adminID), zap.Error(err))
		}
	} else {
		log.Warn("no admin configured for breach alert", zap.String("language", lead.Language))
	}

	activity := &model.Activity{
		LeadID:       leadID,
		ActivityType: model.ActivityTypeNote,
		Notes:        note,
		CreatedAt:    now,
	}
	if actorID == "" {
		actorID = adminID
	}
	if actorID != "" {
		activity.AgentID = &actorID
	}
	if err := s.store.CreateActivity(ctx, activity); err != nil {
		log.Error("failed to record breach activity", zap.Error(err))
	}

	if s.publisher != nil {
		data.LeadID = leadID
		data.AdminID = adminID
		data.LeadName = lead.FullName()
		data.Language = lead.Language
		if err := s.publisher.PublishSLABreach(ctx, data); err != nil {
			log.Warn("failed to publish breach event", zap.Error(err))
		}
	}
}
