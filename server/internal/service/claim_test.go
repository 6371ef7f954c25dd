package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// fakeClaimStore implements ClaimStore with per-step failure injection.
type fakeClaimStore struct {
	mu sync.Mutex

	attempt  *store.ClaimAttempt
	claimErr error
	stepErrs map[string]error
	lead     *model.Lead

	claimCalls   int
	timerStarted *time.Time
	timerExpires *time.Time
	activities   []*model.Activity
	acked        bool
	peersCalls   int
}

func newFakeClaimStore() *fakeClaimStore {
	return &fakeClaimStore{stepErrs: map[string]error{}}
}

func (f *fakeClaimStore) ClaimLead(_ context.Context, leadID, agentID string, at time.Time) (*store.ClaimAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if f.attempt != nil {
		return f.attempt, nil
	}
	return &store.ClaimAttempt{Success: true, LeadID: leadID, AgentID: agentID, ClaimedAt: &at}, nil
}

func (f *fakeClaimStore) StartContactTimer(ctx context.Context, _ string, startedAt, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.stepErrs[StepStartContactTimer]; err != nil {
		return err
	}
	f.timerStarted, f.timerExpires = &startedAt, &expiresAt
	return nil
}

func (f *fakeClaimStore) CreateActivity(ctx context.Context, a *model.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.stepErrs[StepAuditLog]; err != nil {
		return err
	}
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeClaimStore) MarkLeadNotificationRead(context.Context, string, string, time.Time) (int64, error) {
	if err := f.stepErrs[StepAckNotification]; err != nil {
		return 0, err
	}
	f.acked = true
	return 1, nil
}

func (f *fakeClaimStore) NotifyLeadClaimed(context.Context, string, string, time.Time) (int, error) {
	f.peersCalls++
	if err := f.stepErrs[StepNotifyPeers]; err != nil {
		return 0, err
	}
	return 2, nil
}

func (f *fakeClaimStore) GetLeadByID(_ context.Context, id string) (*model.Lead, error) {
	if err := f.stepErrs[StepFetchLead]; err != nil {
		return nil, err
	}
	if f.lead != nil {
		return f.lead, nil
	}
	return &model.Lead{ID: id, Claimed: true}, nil
}

type fakePublisher struct {
	err   error
	calls int
}

func (p *fakePublisher) PublishLeadClaimed(context.Context, string, string, time.Time) error {
	p.calls++
	return p.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestClaimService_InvalidRequest(t *testing.T) {
	fs := newFakeClaimStore()
	svc := NewClaimService(fs, nil, 5*time.Minute, zap.NewNop())

	for _, tc := range []struct{ lead, agent string }{
		{"", "agent-1"},
		{"lead-1", ""},
		{"  ", "agent-1"},
		{"", ""},
	} {
		result := svc.ClaimLead(context.Background(), tc.lead, tc.agent)
		if result.Outcome != OutcomeInvalidRequest {
			t.Errorf("ClaimLead(%q, %q) outcome = %s, want invalid_request", tc.lead, tc.agent, result.Outcome)
		}
		if result.Message() == "" {
			t.Error("expected an error message")
		}
	}
	if fs.claimCalls != 0 {
		t.Errorf("store must not be touched on invalid input, got %d calls", fs.claimCalls)
	}
}

func TestClaimService_Success(t *testing.T) {
	fs := newFakeClaimStore()
	pub := &fakePublisher{}
	svc := NewClaimService(fs, pub, 5*time.Minute, zap.NewNop())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	result := svc.ClaimLead(context.Background(), "lead-1", "agent-1")
	if !result.Success() {
		t.Fatalf("expected success, got %s (%s)", result.Outcome, result.Message())
	}
	if result.Lead == nil || result.Lead.ID != "lead-1" {
		t.Errorf("expected lead in result, got %+v", result.Lead)
	}
	if len(result.Degraded()) != 0 {
		t.Errorf("expected no degraded steps, got %v", result.Degraded())
	}

	if fs.timerStarted == nil || !fs.timerStarted.Equal(now) {
		t.Errorf("timer started at %v, want %v", fs.timerStarted, now)
	}
	if fs.timerExpires == nil || !fs.timerExpires.Equal(now.Add(5*time.Minute)) {
		t.Errorf("timer expires at %v, want %v", fs.timerExpires, now.Add(5*time.Minute))
	}
	if len(fs.activities) != 1 || fs.activities[0].ActivityType != model.ActivityTypeNote {
		t.Fatalf("expected one note activity, got %+v", fs.activities)
	}
	if *fs.activities[0].AgentID != "agent-1" {
		t.Errorf("activity agent = %s", *fs.activities[0].AgentID)
	}
	if !fs.acked || fs.peersCalls != 1 || pub.calls != 1 {
		t.Errorf("expected ack, peer broadcast and event: acked=%v peers=%d events=%d", fs.acked, fs.peersCalls, pub.calls)
	}

	wantSteps := []string{StepStartContactTimer, StepAuditLog, StepAckNotification, StepNotifyPeers, StepPublishEvent, StepFetchLead}
	if len(result.Steps) != len(wantSteps) {
		t.Fatalf("expected %d steps, got %+v", len(wantSteps), result.Steps)
	}
	for i, step := range wantSteps {
		if result.Steps[i].Step != step || !result.Steps[i].OK {
			t.Errorf("step %d = %+v, want %s ok", i, result.Steps[i], step)
		}
	}
}

func TestClaimService_Refused(t *testing.T) {
	fs := newFakeClaimStore()
	fs.attempt = &store.ClaimAttempt{LeadID: "lead-1", AgentID: "agent-2", Reason: store.ReasonAlreadyClaimed, Error: "Lead already claimed"}
	pub := &fakePublisher{}
	svc := NewClaimService(fs, pub, 5*time.Minute, zap.NewNop())

	result := svc.ClaimLead(context.Background(), "lead-1", "agent-2")
	if result.Outcome != OutcomeAlreadyClaimed {
		t.Fatalf("outcome = %s, want already_claimed", result.Outcome)
	}
	if result.Claim != fs.attempt {
		t.Error("store verdict should be returned verbatim")
	}
	if result.Reason() != store.ReasonAlreadyClaimed || result.Message() != "Lead already claimed" {
		t.Errorf("reason=%q message=%q", result.Reason(), result.Message())
	}
	if fs.timerStarted != nil || len(fs.activities) != 0 || fs.acked || fs.peersCalls != 0 || pub.calls != 0 {
		t.Error("no side effects may run after a refused claim")
	}
	if len(result.Steps) != 0 {
		t.Errorf("expected no steps, got %+v", result.Steps)
	}
}

func TestClaimService_StoreError(t *testing.T) {
	fs := newFakeClaimStore()
	fs.claimErr = errors.New("connection refused")
	svc := NewClaimService(fs, nil, 5*time.Minute, zap.NewNop())

	result := svc.ClaimLead(context.Background(), "lead-1", "agent-1")
	if result.Outcome != OutcomeClaimFailed {
		t.Fatalf("outcome = %s, want claim_failed", result.Outcome)
	}
	if result.Detail != "connection refused" {
		t.Errorf("detail = %q", result.Detail)
	}
	if fs.timerStarted != nil || len(fs.activities) != 0 {
		t.Error("no side effects may run after a store error")
	}
}

func TestClaimService_BestEffortSteps(t *testing.T) {
	steps := []string{StepStartContactTimer, StepAuditLog, StepAckNotification, StepNotifyPeers, StepFetchLead}
	for _, failing := range steps {
		t.Run(failing, func(t *testing.T) {
			fs := newFakeClaimStore()
			fs.stepErrs[failing] = fmt.Errorf("%s exploded", failing)
			core, logs := observer.New(zap.WarnLevel)
			svc := NewClaimService(fs, &fakePublisher{}, 5*time.Minute, zap.New(core))

			result := svc.ClaimLead(context.Background(), "lead-1", "agent-1")
			if !result.Success() {
				t.Fatalf("a failing %s must not change the outcome, got %s", failing, result.Outcome)
			}
			degraded := result.Degraded()
			if len(degraded) != 1 || degraded[0] != failing {
				t.Errorf("degraded = %v, want [%s]", degraded, failing)
			}
			// Every other step still ran.
			if len(result.Steps) != 6 {
				t.Errorf("expected all 6 steps attempted, got %d", len(result.Steps))
			}
			if logs.FilterMessage("post-claim step failed").Len() != 1 {
				t.Errorf("expected the failure to be logged, got %v", logs.All())
			}
			if failing == StepFetchLead && result.Lead != nil {
				t.Error("lead should be nil when the final fetch fails")
			}
		})
	}
}

func TestClaimService_PublishFailureDegrades(t *testing.T) {
	fs := newFakeClaimStore()
	svc := NewClaimService(fs, &fakePublisher{err: errors.New("db locked")}, 5*time.Minute, zap.NewNop())

	result := svc.ClaimLead(context.Background(), "lead-1", "agent-1")
	if !result.Success() {
		t.Fatal("expected success")
	}
	if d := result.Degraded(); len(d) != 1 || d[0] != StepPublishEvent {
		t.Errorf("degraded = %v", d)
	}
}

func TestClaimService_StepsSurviveCancelledRequest(t *testing.T) {
	fs := newFakeClaimStore()
	svc := NewClaimService(fs, nil, 5*time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The fake ignores ctx for the claim itself, so the claim commits and the
	// bookkeeping must still see a live context.
	result := svc.ClaimLead(ctx, "lead-1", "agent-1")
	if !result.Success() || len(result.Degraded()) != 0 {
		t.Fatalf("expected clean success, got %s %v", result.Outcome, result.Degraded())
	}
}

func TestFormatWindow(t *testing.T) {
	tests := map[time.Duration]string{
		5 * time.Minute:  "5 minutes",
		time.Minute:      "1 minute",
		90 * time.Second: "1m30s",
	}
	for d, want := range tests {
		if got := formatWindow(d); got != want {
			t.Errorf("formatWindow(%v) = %q, want %q", d, got, want)
		}
	}
}

// The following tests run the service against a real SQLite store.

func TestClaimService_SQLite_EndToEndRace(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	a1 := createTestAgent(t, s, "a1")
	a2 := createTestAgent(t, s, "a2")
	peer := createTestAgent(t, s, "peer")
	lead := createTestLead(t, s, "en", nil)
	offerTestLead(t, s, lead.ID, a1, a2, peer)

	svc := NewClaimService(s, nil, 5*time.Minute, zap.NewNop())

	results := make([]*ClaimResult, 2)
	var g errgroup.Group
	for i, agent := range []*model.Agent{a1, a2} {
		g.Go(func() error {
			results[i] = svc.ClaimLead(ctx, lead.ID, agent.ID)
			return nil
		})
	}
	_ = g.Wait()

	var winner *ClaimResult
	var winnerID string
	for i, r := range results {
		if r.Success() {
			if winner != nil {
				t.Fatal("both agents claimed the lead")
			}
			winner = r
			winnerID = []*model.Agent{a1, a2}[i].ID
		} else if r.Outcome != OutcomeAlreadyClaimed {
			t.Errorf("loser outcome = %s, want already_claimed", r.Outcome)
		}
	}
	if winner == nil {
		t.Fatal("no agent claimed the free lead")
	}
	if len(winner.Degraded()) != 0 {
		t.Errorf("unexpected degraded steps %v", winner.Degraded())
	}

	got := winner.Lead
	if got == nil || !got.OwnedBy(winnerID) {
		t.Fatalf("result lead not owned by winner: %+v", got)
	}
	if got.Email == nil {
		t.Error("claimed lead should include contact details")
	}
	if got.ClaimTimerExpiresAt != nil {
		t.Error("claim timer should be cleared")
	}
	if got.ContactTimerStartedAt == nil || got.ContactTimerExpiresAt == nil ||
		got.ContactTimerExpiresAt.Sub(*got.ContactTimerStartedAt) != 5*time.Minute {
		t.Errorf("contact window wrong: %v -> %v", got.ContactTimerStartedAt, got.ContactTimerExpiresAt)
	}

	acts, _ := s.ListActivitiesByLead(ctx, lead.ID)
	if len(acts) != 1 || *acts[0].AgentID != winnerID {
		t.Errorf("expected exactly one activity by the winner, got %d", len(acts))
	}

	// Retrying as the winner is refused and changes nothing.
	retry := svc.ClaimLead(ctx, lead.ID, winnerID)
	if retry.Outcome != OutcomeAlreadyClaimed {
		t.Errorf("retry outcome = %s, want already_claimed", retry.Outcome)
	}
	if acts, _ := s.ListActivitiesByLead(ctx, lead.ID); len(acts) != 1 {
		t.Errorf("retry must not add activities, got %d", len(acts))
	}

	unread, _ := s.ListNotifications(ctx, peer.ID, true, 0)
	if len(unread) != 1 || unread[0].NotificationType != model.NotificationLeadClaimed {
		t.Errorf("peer should have one lead_claimed notification, got %+v", unread)
	}
}

func TestClaimService_SQLite_InvalidRequestHasNoSideEffects(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	agent := createTestAgent(t, s, "a1")
	lead := createTestLead(t, s, "en", nil)
	offerTestLead(t, s, lead.ID, agent)

	svc := NewClaimService(s, nil, 5*time.Minute, zap.NewNop())
	if r := svc.ClaimLead(ctx, "", agent.ID); r.Outcome != OutcomeInvalidRequest {
		t.Fatalf("outcome = %s", r.Outcome)
	}
	if r := svc.ClaimLead(ctx, lead.ID, ""); r.Outcome != OutcomeInvalidRequest {
		t.Fatalf("outcome = %s", r.Outcome)
	}

	got, _ := s.GetLeadByID(ctx, lead.ID)
	if got.Claimed || got.AssignedAgentID != nil || got.ContactTimerStartedAt != nil {
		t.Errorf("lead mutated: %+v", got)
	}
	if acts, _ := s.ListActivitiesByLead(ctx, lead.ID); len(acts) != 0 {
		t.Errorf("activities written: %d", len(acts))
	}
	if unread, _ := s.ListNotifications(ctx, agent.ID, true, 0); len(unread) != 1 {
		t.Errorf("notification changed: %d unread", len(unread))
	}
}
