package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

// --- Lead Events ---

// CreateLeadEvent persists a realtime event and fills in its sequence number.
func (s *Store) CreateLeadEvent(ctx context.Context, event *model.LeadEvent) error {
	return describe(s.db.WithContext(ctx).Create(event).Error)
}

// visibleTo restricts events to those broadcast to everyone or addressed to agentID.
func visibleTo(db *gorm.DB, agentID string) *gorm.DB {
	return db.Where("audience_agent_id = '' OR audience_agent_id = ?", agentID)
}

// ListLeadEventsSince returns events visible to an agent created after since,
// in sequence order.
func (s *Store) ListLeadEventsSince(ctx context.Context, agentID string, since time.Time) ([]model.LeadEvent, error) {
	var events []model.LeadEvent
	err := visibleTo(s.db.WithContext(ctx), agentID).
		Where("created_at > ?", since).
		Order("seq ASC").
		Find(&events).Error
	return events, describe(err)
}

// ListLeadEventsAfterID returns events visible to an agent that follow the
// event with the given ID. An unknown ID replays everything still retained.
func (s *Store) ListLeadEventsAfterID(ctx context.Context, agentID, afterID string) ([]model.LeadEvent, error) {
	var ref model.LeadEvent
	if err := s.db.WithContext(ctx).First(&ref, "id = ?", afterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.ListLeadEventsSince(ctx, agentID, time.Time{})
		}
		return nil, describe(err)
	}

	var events []model.LeadEvent
	err := visibleTo(s.db.WithContext(ctx), agentID).
		Where("seq > ?", ref.Seq).
		Order("seq ASC").
		Find(&events).Error
	return events, describe(err)
}

// ListLeadEventsAfterSeq returns all events with seq > afterSeq in ascending
// order. Used by the poller to fetch new events globally.
func (s *Store) ListLeadEventsAfterSeq(ctx context.Context, afterSeq int64, limit int) ([]model.LeadEvent, error) {
	var events []model.LeadEvent
	query := s.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, describe(err)
	}
	return events, nil
}

// GetMaxLeadEventSeq returns the highest event sequence number, or 0.
func (s *Store) GetMaxLeadEventSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.WithContext(ctx).
		Model(&model.LeadEvent{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	return maxSeq, describe(err)
}

// DeleteOldLeadEvents deletes events older than the retention period.
func (s *Store) DeleteOldLeadEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.LeadEvent{})
	return result.RowsAffected, describe(result.Error)
}
