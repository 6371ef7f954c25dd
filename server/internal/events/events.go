// Package events provides realtime lead events backed by database persistence.
// Events are written to the database, then polled and fanned out to
// subscribers, and optionally forwarded to an external relay.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	// EventTypeLeadClaimed is broadcast when a lead gets an owner.
	EventTypeLeadClaimed EventType = "lead_claimed"
	// EventTypeLeadSLABreached is sent to the alerted admin when a claim or
	// contact window expires.
	EventTypeLeadSLABreached EventType = "lead_sla_breached"
)

// SLA windows named in breach events.
const (
	WindowClaim   = "claim"
	WindowContact = "contact"
)

// Event represents a server-sent event
type Event struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	LeadID    string          `json:"leadId"`
	Audience  string          `json:"audience,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// FromModel converts a model.LeadEvent to an Event
func FromModel(e *model.LeadEvent) *Event {
	return &Event{
		ID:        e.ID,
		Seq:       e.Seq,
		Type:      EventType(e.Type),
		LeadID:    e.LeadID,
		Audience:  e.AudienceAgentID,
		Timestamp: e.CreatedAt,
		Data:      e.Data,
	}
}

// VisibleTo reports whether an agent's stream should carry the event.
func (e *Event) VisibleTo(agentID string) bool {
	return e.Audience == "" || e.Audience == agentID
}

// LeadClaimedData is the payload for lead_claimed events
type LeadClaimedData struct {
	LeadID    string    `json:"leadId"`
	AgentID   string    `json:"agentId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// SLABreachData is the payload for lead_sla_breached events
type SLABreachData struct {
	LeadID   string `json:"leadId"`
	Window   string `json:"window"`
	AgentID  string `json:"agentId,omitempty"`
	AdminID  string `json:"adminId,omitempty"`
	LeadName string `json:"leadName"`
	Language string `json:"language"`
}

// Relay forwards published events to an external system.
type Relay interface {
	Relay(ctx context.Context, event *Event) error
}

// Subscriber represents a client subscribed to the events of one agent.
type Subscriber struct {
	ID       string
	AgentID  string
	Events   chan *Event
	done     chan struct{}
	isClosed bool
	mu       sync.Mutex
}

// Close closes the subscriber's event channel
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isClosed {
		s.isClosed = true
		close(s.done)
		close(s.Events)
	}
}

// Done returns a channel that's closed when the subscriber is closed
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Broker manages event publishing and subscription through the database.
type Broker struct {
	store  *store.Store
	poller *Poller
	relay  Relay
	log    *zap.Logger
}

// NewBroker creates a new event broker. relay may be nil.
// The poller should be started separately via poller.Start().
func NewBroker(s *store.Store, poller *Poller, relay Relay, log *zap.Logger) *Broker {
	return &Broker{
		store:  s,
		poller: poller,
		relay:  relay,
		log:    log.With(zap.String("component", "events")),
	}
}

// Subscribe creates a new subscription for an agent's events.
func (b *Broker) Subscribe(agentID string) *Subscriber {
	return b.poller.Subscribe(agentID)
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.poller.Unsubscribe(sub)
}

// Publish persists an event, wakes the poller and hands the event to the
// relay. Relay failures are logged and do not fail the publish.
func (b *Broker) Publish(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	modelEvent := &model.LeadEvent{
		ID:              event.ID,
		Type:            string(event.Type),
		LeadID:          event.LeadID,
		AudienceAgentID: event.Audience,
		Data:            event.Data,
	}
	if err := b.store.CreateLeadEvent(ctx, modelEvent); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	event.Seq = modelEvent.Seq
	event.Timestamp = modelEvent.CreatedAt

	b.poller.NotifyNewEvent()

	if b.relay != nil {
		if err := b.relay.Relay(ctx, event); err != nil {
			b.log.Warn("relay failed",
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}
	return nil
}

func (b *Broker) publishData(ctx context.Context, typ EventType, leadID, audience string, data interface{}) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return b.Publish(ctx, &Event{
		Type:     typ,
		LeadID:   leadID,
		Audience: audience,
		Data:     dataBytes,
	})
}

// PublishLeadClaimed broadcasts that agentID now owns leadID.
func (b *Broker) PublishLeadClaimed(ctx context.Context, leadID, agentID string, claimedAt time.Time) error {
	return b.publishData(ctx, EventTypeLeadClaimed, leadID, "", LeadClaimedData{
		LeadID:    leadID,
		AgentID:   agentID,
		ClaimedAt: claimedAt,
	})
}

// PublishSLABreach sends a breach alert to data.AdminID, or to everyone when
// no admin is known.
func (b *Broker) PublishSLABreach(ctx context.Context, data SLABreachData) error {
	return b.publishData(ctx, EventTypeLeadSLABreached, data.LeadID, data.AdminID, data)
}

// GetEventsSince returns persisted events visible to an agent since the given time.
func (b *Broker) GetEventsSince(ctx context.Context, agentID string, since time.Time) ([]*Event, error) {
	modelEvents, err := b.store.ListLeadEventsSince(ctx, agentID, since)
	if err != nil {
		return nil, err
	}
	return fromModels(modelEvents), nil
}

// GetEventsAfterID returns persisted events visible to an agent after the given event ID.
func (b *Broker) GetEventsAfterID(ctx context.Context, agentID, afterID string) ([]*Event, error) {
	modelEvents, err := b.store.ListLeadEventsAfterID(ctx, agentID, afterID)
	if err != nil {
		return nil, err
	}
	return fromModels(modelEvents), nil
}

// Cleanup deletes events older than retention.
func (b *Broker) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return b.store.DeleteOldLeadEvents(ctx, retention)
}

func fromModels(modelEvents []model.LeadEvent) []*Event {
	events := make([]*Event, len(modelEvents))
	for i := range modelEvents {
		events[i] = FromModel(&modelEvents[i])
	}
	return events
}
