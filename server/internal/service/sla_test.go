package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/events"
	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

type recordingBreachPublisher struct {
	breaches []events.SLABreachData
}

func (p *recordingBreachPublisher) PublishSLABreach(_ context.Context, data events.SLABreachData) error {
	p.breaches = append(p.breaches, data)
	return nil
}

func newTestSLAService(s SLAStore, pub BreachPublisher, defaultAdmin string) *SLAService {
	return NewSLAService(s, pub, SLAConfig{
		ClaimWindow:    15 * time.Minute,
		ContactWindow:  5 * time.Minute,
		DefaultAdminID: defaultAdmin,
	}, zap.NewNop())
}

func TestSLAService_SweepClaimWindows(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	admin := createTestAgent(t, s, "admin")
	adminID := admin.ID
	if err := s.CreateRoundRobinConfig(ctx, &model.RoundRobinConfig{
		Language: "es", RoundNumber: 1, FallbackAdminID: &adminID, IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	expired := createTestLead(t, s, "es", &past)
	_ = createTestLead(t, s, "es", &future)

	pub := &recordingBreachPublisher{}
	svc := newTestSLAService(s, pub, "")

	report, err := svc.SweepClaimWindows(ctx)
	if err != nil {
		t.Fatalf("SweepClaimWindows failed: %v", err)
	}
	if report.Total != 1 || report.Processed != 1 || report.Errors != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, _ := s.GetLeadByID(ctx, expired.ID)
	if !got.ClaimSLABreached {
		t.Error("lead should be flagged")
	}
	if got.Claimed {
		t.Error("sweep must not claim the lead")
	}

	notes, _ := s.ListNotifications(ctx, admin.ID, true, 0)
	if len(notes) != 1 || notes[0].NotificationType != model.NotificationClaimSLABreach {
		t.Fatalf("admin should get one claim_sla_breach notification, got %+v", notes)
	}
	if !strings.Contains(notes[0].Message, "Ana Buyer (ES)") || !strings.Contains(notes[0].Message, "15 minutes") {
		t.Errorf("unexpected message %q", notes[0].Message)
	}

	acts, _ := s.ListActivitiesByLead(ctx, expired.ID)
	if len(acts) != 1 || !strings.HasPrefix(acts[0].Notes, "CLAIM SLA BREACH") {
		t.Errorf("expected breach activity, got %+v", acts)
	}

	if len(pub.breaches) != 1 || pub.breaches[0].AdminID != admin.ID || pub.breaches[0].Window != events.WindowClaim {
		t.Errorf("unexpected breach events %+v", pub.breaches)
	}

	// A second sweep finds nothing new.
	report, err = svc.SweepClaimWindows(ctx)
	if err != nil || report.Total != 0 {
		t.Errorf("second sweep = %+v, %v", report, err)
	}
}

func TestSLAService_SweepContactWindows(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	agent := createTestAgent(t, s, "maria")
	lead := createTestLead(t, s, "en", nil)

	claimedAt := time.Now().UTC().Add(-10 * time.Minute)
	if _, err := s.ClaimLead(ctx, lead.ID, agent.ID, claimedAt); err != nil {
		t.Fatal(err)
	}
	if err := s.StartContactTimer(ctx, lead.ID, claimedAt, claimedAt.Add(5*time.Minute)); err != nil {
		t.Fatal(err)
	}

	pub := &recordingBreachPublisher{}
	svc := newTestSLAService(s, pub, "default-admin")

	report, err := svc.SweepContactWindows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, _ := s.GetLeadByID(ctx, lead.ID)
	if !got.ContactSLABreached {
		t.Error("lead should be flagged")
	}
	if !got.OwnedBy(agent.ID) {
		t.Error("lead must stay with its agent")
	}

	notes, _ := s.ListNotifications(ctx, "default-admin", true, 0)
	if len(notes) != 1 || notes[0].NotificationType != model.NotificationContactSLABreach {
		t.Fatalf("default admin should be alerted, got %+v", notes)
	}
	if !strings.HasPrefix(notes[0].Message, "maria Agent claimed Ana Buyer") {
		t.Errorf("unexpected message %q", notes[0].Message)
	}
	if len(pub.breaches) != 1 || pub.breaches[0].AgentID != agent.ID {
		t.Errorf("unexpected breach events %+v", pub.breaches)
	}

	acts, _ := s.ListActivitiesByLead(ctx, lead.ID)
	if len(acts) != 1 || acts[0].AgentID == nil || *acts[0].AgentID != agent.ID {
		t.Errorf("breach note should be attributed to the owning agent, got %+v", acts)
	}
}

func TestSLAService_SweepContactWindows_SkipsContactedLeads(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	agent := createTestAgent(t, s, "maria")
	lead := createTestLead(t, s, "en", nil)

	claimedAt := time.Now().UTC().Add(-10 * time.Minute)
	if _, err := s.ClaimLead(ctx, lead.ID, agent.ID, claimedAt); err != nil {
		t.Fatal(err)
	}
	if err := s.StartContactTimer(ctx, lead.ID, claimedAt, claimedAt.Add(5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLeadService(s).RecordFirstContact(ctx, lead.ID, agent.ID, model.ActivityTypeEmail, ""); err != nil {
		t.Fatal(err)
	}

	report, err := newTestSLAService(s, nil, "default-admin").SweepContactWindows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 0 || report.Processed != 0 {
		t.Errorf("contacted lead should not be swept, got %+v", report)
	}
	got, _ := s.GetLeadByID(ctx, lead.ID)
	if got.ContactSLABreached {
		t.Error("contacted lead must not be flagged")
	}
}

func TestSLAService_NoAdminStillFlags(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	lead := createTestLead(t, s, "fi", &past)

	report, err := newTestSLAService(s, nil, "").SweepClaimWindows(ctx)
	if err != nil || report.Processed != 1 {
		t.Fatalf("report = %+v, %v", report, err)
	}
	acts, _ := s.ListActivitiesByLead(ctx, lead.ID)
	if len(acts) != 1 || acts[0].AgentID != nil {
		t.Errorf("expected an unattributed breach activity, got %+v", acts)
	}
}

// flakySLAStore wraps a real store and fails or loses the breach flag for chosen leads.
type flakySLAStore struct {
	*store.Store
	failLead string
	lostLead string
}

func (f *flakySLAStore) MarkClaimSLABreached(ctx context.Context, leadID string, at time.Time) (bool, error) {
	switch leadID {
	case f.failLead:
		return false, errors.New("disk I/O error")
	case f.lostLead:
		return false, nil
	}
	return f.Store.MarkClaimSLABreached(ctx, leadID, at)
}

func TestSLAService_PerLeadFailuresDoNotAbortSweep(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	failing := createTestLead(t, s, "en", &past)
	lost := createTestLead(t, s, "en", &past)
	ok := createTestLead(t, s, "en", &past)

	svc := newTestSLAService(&flakySLAStore{Store: s, failLead: failing.ID, lostLead: lost.ID}, nil, "")
	report, err := svc.SweepClaimWindows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 3 || report.Processed != 1 || report.Skipped != 1 || report.Errors != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	got, _ := s.GetLeadByID(ctx, ok.ID)
	if !got.ClaimSLABreached {
		t.Error("healthy lead should still be processed")
	}
}
