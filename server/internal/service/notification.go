package service

import (
	"context"
	"fmt"
	"time"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

// NotificationStore is the persistence NotificationService needs.
type NotificationStore interface {
	ListNotifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
}

// NotificationService handles an agent's notification inbox
type NotificationService struct {
	store NotificationStore
	now   func() time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(s NotificationStore) *NotificationService {
	return &NotificationService{store: s, now: time.Now}
}

// ListNotifications returns an agent's notifications, newest first. A limit
// of zero or less means the default page size.
func (s *NotificationService) ListNotifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	notifications, err := s.store.ListNotifications(ctx, agentID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead marks one notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, notificationID, s.now().UTC())
}
