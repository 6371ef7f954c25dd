// Package store provides database operations using GORM.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps GORM DB for database operations.
type Store struct {
	db *gorm.DB
}

// New creates a new Store with the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --- Agents ---

func (s *Store) GetAgentByID(ctx context.Context, id string) (*model.Agent, error) {
	var agent model.Agent
	if err := s.db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, describe(err)
	}
	return &agent, nil
}

func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent) error {
	return describe(s.db.WithContext(ctx).Create(agent).Error)
}

// SetAgentActive toggles whether an agent may claim leads.
func (s *Store) SetAgentActive(ctx context.Context, id string, active bool) error {
	result := s.db.WithContext(ctx).Model(&model.Agent{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return describe(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Leads ---

func (s *Store) GetLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	var lead model.Lead
	if err := s.db.WithContext(ctx).First(&lead, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, describe(err)
	}
	return &lead, nil
}

func (s *Store) CreateLead(ctx context.Context, lead *model.Lead) error {
	return describe(s.db.WithContext(ctx).Create(lead).Error)
}

// ListClaimableLeads returns unclaimed, unarchived leads the agent was invited
// to claim through an unread new_lead_available notification.
func (s *Store) ListClaimableLeads(ctx context.Context, agentID string) ([]*model.Lead, error) {
	invited := s.db.Model(&model.Notification{}).
		Select("lead_id").
		Where("agent_id = ? AND notification_type = ? AND read = ? AND lead_id IS NOT NULL",
			agentID, model.NotificationNewLeadAvailable, false)

	var leads []*model.Lead
	err := s.db.WithContext(ctx).
		Where("id IN (?) AND claimed = ? AND archived = ?", invited, false, false).
		Order("created_at DESC").
		Find(&leads).Error
	return leads, describe(err)
}

// StartContactTimer starts the first-contact window on a claimed lead and
// clears the pre-claim expiry.
func (s *Store) StartContactTimer(ctx context.Context, leadID string, startedAt, expiresAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Lead{}).
		Where("id = ?", leadID).
		Updates(map[string]interface{}{
			"contact_timer_started_at": startedAt,
			"contact_timer_expires_at": expiresAt,
			"contact_sla_breached":     false,
			"claim_timer_expires_at":   nil,
		})
	if result.Error != nil {
		return describe(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Activities ---

// CreateActivity appends an audit entry. Activities are never updated or deleted.
func (s *Store) CreateActivity(ctx context.Context, activity *model.Activity) error {
	return describe(s.db.WithContext(ctx).Create(activity).Error)
}

// ListActivitiesByLead returns a lead's audit trail, oldest first.
func (s *Store) ListActivitiesByLead(ctx context.Context, leadID string) ([]*model.Activity, error) {
	var activities []*model.Activity
	err := s.db.WithContext(ctx).
		Where("lead_id = ?", leadID).
		Order("created_at ASC").
		Find(&activities).Error
	return activities, describe(err)
}
