package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/database"
	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// testSetup creates a test database and store
func testSetup(t *testing.T) *store.Store {
	t.Helper()

	cfg := &config.Config{
		DatabaseDSN:    fmt.Sprintf("sqlite3://%s/test.db", t.TempDir()),
		DatabaseDriver: "sqlite",
	}

	db, err := database.New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return store.New(db.DB)
}

func startPoller(t *testing.T, s *store.Store) *Poller {
	t.Helper()
	cfg := DefaultPollerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	poller := NewPoller(s, cfg, zap.NewNop())
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start poller: %v", err)
	}
	t.Cleanup(poller.Stop)
	return poller
}

type recordingRelay struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (r *recordingRelay) Relay(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub.Events:
		return e
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
		return nil
	}
}

func expectNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case e := <-sub.Events:
		t.Errorf("unexpected event %s for %s", e.Type, sub.AgentID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPoller_StartsWithMaxSeq(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := &model.LeadEvent{LeadID: "lead-1", Type: "test", Data: json.RawMessage(`{}`)}
		if err := s.CreateLeadEvent(ctx, event); err != nil {
			t.Fatalf("Failed to create event: %v", err)
		}
	}

	poller := startPoller(t, s)
	if poller.LastSeq() != 5 {
		t.Errorf("Expected last seq to be 5, got %d", poller.LastSeq())
	}
}

func TestBroker_PublishLeadClaimed_Broadcast(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()
	poller := startPoller(t, s)
	relay := &recordingRelay{}
	broker := NewBroker(s, poller, relay, zap.NewNop())

	subA := broker.Subscribe("agent-a")
	defer broker.Unsubscribe(subA)
	subB := broker.Subscribe("agent-b")
	defer broker.Unsubscribe(subB)

	claimedAt := time.Now().UTC()
	if err := broker.PublishLeadClaimed(ctx, "lead-1", "agent-a", claimedAt); err != nil {
		t.Fatalf("PublishLeadClaimed failed: %v", err)
	}

	for _, sub := range []*Subscriber{subA, subB} {
		got := receive(t, sub)
		if got.Type != EventTypeLeadClaimed || got.LeadID != "lead-1" {
			t.Errorf("unexpected event %+v", got)
		}
		var data LeadClaimedData
		if err := json.Unmarshal(got.Data, &data); err != nil {
			t.Fatalf("Failed to unmarshal data: %v", err)
		}
		if data.AgentID != "agent-a" {
			t.Errorf("expected agentId agent-a, got %q", data.AgentID)
		}
	}

	if relay.count() != 1 {
		t.Errorf("expected 1 relayed event, got %d", relay.count())
	}
	if relay.events[0].Seq == 0 {
		t.Error("relayed event should carry its sequence number")
	}
}

func TestBroker_PublishSLABreach_Targeted(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()
	poller := startPoller(t, s)
	broker := NewBroker(s, poller, nil, zap.NewNop())

	admin := broker.Subscribe("admin-1")
	defer broker.Unsubscribe(admin)
	agent := broker.Subscribe("agent-a")
	defer broker.Unsubscribe(agent)

	err := broker.PublishSLABreach(ctx, SLABreachData{
		LeadID:   "lead-1",
		Window:   WindowClaim,
		AdminID:  "admin-1",
		LeadName: "Ana Buyer",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("PublishSLABreach failed: %v", err)
	}

	got := receive(t, admin)
	if got.Type != EventTypeLeadSLABreached || got.Audience != "admin-1" {
		t.Errorf("unexpected event %+v", got)
	}
	expectNothing(t, agent)
}

func TestBroker_RelayFailureDoesNotFailPublish(t *testing.T) {
	s := testSetup(t)
	poller := startPoller(t, s)
	relay := &recordingRelay{err: errors.New("broker down")}
	broker := NewBroker(s, poller, relay, zap.NewNop())

	if err := broker.PublishLeadClaimed(context.Background(), "lead-1", "agent-a", time.Now()); err != nil {
		t.Fatalf("publish should succeed when relay fails: %v", err)
	}
	events, err := s.ListLeadEventsAfterSeq(context.Background(), 0, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected event persisted, got %d, %v", len(events), err)
	}
}

func TestBroker_Replay(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()
	poller := startPoller(t, s)
	broker := NewBroker(s, poller, nil, zap.NewNop())

	startTime := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)

	if err := broker.PublishLeadClaimed(ctx, "lead-1", "agent-a", time.Now()); err != nil {
		t.Fatal(err)
	}
	first, _ := broker.GetEventsSince(ctx, "agent-z", startTime)
	if len(first) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(first))
	}
	if err := broker.PublishSLABreach(ctx, SLABreachData{LeadID: "lead-2", Window: WindowContact, AdminID: "admin-1"}); err != nil {
		t.Fatal(err)
	}
	if err := broker.PublishLeadClaimed(ctx, "lead-3", "agent-b", time.Now()); err != nil {
		t.Fatal(err)
	}

	events, err := broker.GetEventsSince(ctx, "agent-z", startTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("agent-z should replay 2 broadcast events, got %d", len(events))
	}

	events, err = broker.GetEventsAfterID(ctx, "admin-1", first[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("admin-1 should replay 2 events after the first, got %d", len(events))
	}
}

func TestBroker_Cleanup(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()
	broker := NewBroker(s, startPoller(t, s), nil, zap.NewNop())

	if err := broker.PublishLeadClaimed(ctx, "lead-1", "agent-a", time.Now()); err != nil {
		t.Fatal(err)
	}
	if n, err := broker.Cleanup(ctx, time.Hour); err != nil || n != 0 {
		t.Errorf("fresh event should be retained, deleted %d, %v", n, err)
	}
	if n, err := broker.Cleanup(ctx, -time.Minute); err != nil || n != 1 {
		t.Errorf("expected 1 deleted, got %d, %v", n, err)
	}
}

func TestSubscriber_Close(t *testing.T) {
	s := testSetup(t)
	poller := startPoller(t, s)

	sub := poller.Subscribe("agent-a")
	if poller.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", poller.SubscriberCount())
	}
	poller.Unsubscribe(sub)
	if poller.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", poller.SubscriberCount())
	}

	select {
	case <-sub.Done():
	default:
		t.Error("Expected Done channel to be closed")
	}
	if _, ok := <-sub.Events; ok {
		t.Error("Expected Events channel to be closed")
	}

	// Closing twice is safe.
	sub.Close()
}

func TestEvent_VisibleTo(t *testing.T) {
	broadcast := &Event{}
	targeted := &Event{Audience: "admin-1"}

	if !broadcast.VisibleTo("anyone") {
		t.Error("broadcast event should be visible to everyone")
	}
	if !targeted.VisibleTo("admin-1") || targeted.VisibleTo("agent-a") {
		t.Error("targeted event should be visible only to its audience")
	}
}
