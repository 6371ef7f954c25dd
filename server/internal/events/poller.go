package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// PollerConfig contains configuration for the event poller.
type PollerConfig struct {
	// PollInterval is how often to poll for new events when there are no notifications.
	PollInterval time.Duration
	// BatchSize is the maximum number of events to fetch per poll.
	BatchSize int
	// BufferSize is the per-subscriber channel capacity.
	BufferSize int
}

// DefaultPollerConfig returns the default poller configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollInterval: 100 * time.Millisecond,
		BatchSize:    100,
		BufferSize:   100,
	}
}

// Poller polls the database for new events and fans them out to subscribers.
// One poller serves every agent; delivery is filtered by event audience.
type Poller struct {
	store  *store.Store
	config PollerConfig
	log    *zap.Logger

	lastSeq   int64
	lastSeqMu sync.Mutex

	subscribers   map[string]*Subscriber
	subscribersMu sync.RWMutex

	// Notification channel for immediate polling
	notifyCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new event poller.
func NewPoller(s *store.Store, config PollerConfig, log *zap.Logger) *Poller {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultPollerConfig().BufferSize
	}
	return &Poller{
		store:       s,
		config:      config,
		log:         log.With(zap.String("component", "event_poller")),
		subscribers: make(map[string]*Subscriber),
		notifyCh:    make(chan struct{}, 100),
	}
}

// Start begins polling for events. Only events created after Start are
// delivered live; older ones are available through replay.
func (p *Poller) Start(parentCtx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(parentCtx)

	maxSeq, err := p.store.GetMaxLeadEventSeq(p.ctx)
	if err != nil {
		return err
	}
	p.lastSeq = maxSeq

	p.log.Info("event poller starting", zap.Int64("last_seq", p.lastSeq))

	p.wg.Add(1)
	go p.pollLoop()

	return nil
}

// Stop gracefully stops the poller and closes every subscriber.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("event poller stopped")
	case <-time.After(5 * time.Second):
		p.log.Warn("timeout waiting for event poller to stop")
	}

	p.subscribersMu.Lock()
	for _, sub := range p.subscribers {
		sub.Close()
	}
	p.subscribers = make(map[string]*Subscriber)
	p.subscribersMu.Unlock()
}

// NotifyNewEvent triggers an immediate poll instead of waiting for the next tick.
func (p *Poller) NotifyNewEvent() {
	select {
	case p.notifyCh <- struct{}{}:
	default:
		// Channel full, next poll will pick it up
	}
}

// Subscribe creates a subscription for the events visible to agentID.
func (p *Poller) Subscribe(agentID string) *Subscriber {
	p.subscribersMu.Lock()
	defer p.subscribersMu.Unlock()

	sub := &Subscriber{
		ID:      uuid.New().String(),
		AgentID: agentID,
		Events:  make(chan *Event, p.config.BufferSize),
		done:    make(chan struct{}),
	}
	p.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (p *Poller) Unsubscribe(sub *Subscriber) {
	p.subscribersMu.Lock()
	defer p.subscribersMu.Unlock()

	delete(p.subscribers, sub.ID)
	sub.Close()
}

// SubscriberCount returns the number of live subscriptions.
func (p *Poller) SubscriberCount() int {
	p.subscribersMu.RLock()
	defer p.subscribersMu.RUnlock()
	return len(p.subscribers)
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAndBroadcast()
		case <-p.notifyCh:
			p.pollAndBroadcast()
		}
	}
}

func (p *Poller) pollAndBroadcast() {
	p.lastSeqMu.Lock()
	afterSeq := p.lastSeq
	p.lastSeqMu.Unlock()

	events, err := p.store.ListLeadEventsAfterSeq(p.ctx, afterSeq, p.config.BatchSize)
	if err != nil {
		if p.ctx.Err() == nil {
			p.log.Error("failed to poll events", zap.Error(err))
		}
		return
	}
	if len(events) == 0 {
		return
	}

	p.lastSeqMu.Lock()
	p.lastSeq = events[len(events)-1].Seq
	p.lastSeqMu.Unlock()

	p.subscribersMu.RLock()
	defer p.subscribersMu.RUnlock()

	for i := range events {
		event := FromModel(&events[i])

		for _, sub := range p.subscribers {
			if !event.VisibleTo(sub.AgentID) {
				continue
			}

			sub.mu.Lock()
			if !sub.isClosed {
				select {
				case sub.Events <- event:
				default:
					p.log.Warn("subscriber channel full, dropping event",
						zap.String("subscriber", sub.ID),
						zap.String("event_id", event.ID))
				}
			}
			sub.mu.Unlock()
		}
	}

	// A full batch means more may be waiting.
	if len(events) == p.config.BatchSize {
		p.NotifyNewEvent()
	}
}

// LastSeq returns the last seen sequence number.
func (p *Poller) LastSeq() int64 {
	p.lastSeqMu.Lock()
	defer p.lastSeqMu.Unlock()
	return p.lastSeq
}
