package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	return describe(s.db.WithContext(ctx).Create(n).Error)
}

// ListNotifications returns an agent's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	query := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC")
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var notifications []*model.Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, describe(err)
	}
	return notifications, nil
}

// MarkNotificationRead marks a single notification read.
func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	if result.Error != nil {
		return describe(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkLeadNotificationRead marks the agent's unread notifications about a
// lead as read and returns how many changed.
func (s *Store) MarkLeadNotificationRead(ctx context.Context, leadID, agentID string, at time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("lead_id = ? AND agent_id = ? AND read = ?", leadID, agentID, false).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	return result.RowsAffected, describe(result.Error)
}

// NotifyLeadClaimed tells every other agent who was offered the lead that it
// is gone: their pending new_lead_available notifications are closed and each
// receives a lead_claimed notification. Returns the number of agents notified.
func (s *Store) NotifyLeadClaimed(ctx context.Context, leadID, claimingAgentID string, at time.Time) (int, error) {
	var notified int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Write first so SQLite takes the write lock before any read in this
		// transaction.
		if err := tx.Model(&model.Notification{}).
			Where("lead_id = ? AND notification_type = ? AND agent_id <> ? AND read = ?",
				leadID, model.NotificationNewLeadAvailable, claimingAgentID, false).
			Updates(map[string]interface{}{"read": true, "read_at": at}).Error; err != nil {
			return err
		}

		var recipients []string
		if err := tx.Model(&model.Notification{}).
			Where("lead_id = ? AND notification_type = ? AND agent_id <> ?",
				leadID, model.NotificationNewLeadAvailable, claimingAgentID).
			Distinct("agent_id").
			Pluck("agent_id", &recipients).Error; err != nil {
			return err
		}
		if len(recipients) == 0 {
			return nil
		}

		var lead model.Lead
		if err := tx.Select("id", "first_name", "last_name", "language").
			First(&lead, "id = ?", leadID).Error; err != nil {
			return err
		}
		claimer := "another agent"
		var agent model.Agent
		if err := tx.Select("id", "first_name", "last_name").
			First(&agent, "id = ?", claimingAgentID).Error; err == nil {
			claimer = agent.FullName()
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		lid := leadID
		rows := make([]*model.Notification, 0, len(recipients))
		for _, agentID := range recipients {
			rows = append(rows, &model.Notification{
				AgentID:          agentID,
				LeadID:           &lid,
				NotificationType: model.NotificationLeadClaimed,
				Title:            "Lead claimed",
				Message:          fmt.Sprintf("%s was claimed by %s", lead.FullName(), claimer),
				CreatedAt:        at,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		notified = len(rows)
		return nil
	})
	if err != nil {
		return 0, describe(err)
	}
	return notified, nil
}
