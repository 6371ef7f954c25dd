package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

// ListExpiredClaimWindows returns unclaimed leads whose claim window closed
// before now and that have not been flagged yet.
func (s *Store) ListExpiredClaimWindows(ctx context.Context, now time.Time) ([]*model.Lead, error) {
	var leads []*model.Lead
	err := s.db.WithContext(ctx).
		Where("claimed = ? AND archived = ? AND claim_sla_breached = ?", false, false, false).
		Where("claim_timer_expires_at IS NOT NULL AND claim_timer_expires_at < ?", now).
		Order("claim_timer_expires_at ASC").
		Find(&leads).Error
	return leads, describe(err)
}

// ListExpiredContactWindows returns claimed leads with no first contact whose
// contact window closed before now and that have not been flagged yet.
func (s *Store) ListExpiredContactWindows(ctx context.Context, now time.Time) ([]*model.Lead, error) {
	var leads []*model.Lead
	err := s.db.WithContext(ctx).
		Where("claimed = ? AND archived = ? AND first_action_completed = ? AND contact_sla_breached = ?",
			true, false, false, false).
		Where("contact_timer_expires_at IS NOT NULL AND contact_timer_expires_at < ?", now).
		Order("contact_timer_expires_at ASC").
		Find(&leads).Error
	return leads, describe(err)
}

// MarkClaimSLABreached flags a lead's claim window as breached. It reports
// false when the lead was claimed or already flagged in the meantime, so
// concurrent sweeps handle each breach once.
func (s *Store) MarkClaimSLABreached(ctx context.Context, leadID string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.Lead{}).
		Where("id = ? AND claimed = ? AND claim_sla_breached = ?", leadID, false, false).
		Updates(map[string]interface{}{"claim_sla_breached": true, "updated_at": at})
	if result.Error != nil {
		return false, describe(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkContactSLABreached flags a lead's contact window as breached, with the
// same first-writer-wins guard as MarkClaimSLABreached.
func (s *Store) MarkContactSLABreached(ctx context.Context, leadID string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.Lead{}).
		Where("id = ? AND claimed = ? AND archived = ? AND first_action_completed = ? AND contact_sla_breached = ?",
			leadID, true, false, false, false).
		Updates(map[string]interface{}{"contact_sla_breached": true, "updated_at": at})
	if result.Error != nil {
		return false, describe(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkFirstActionCompleted records that agentID, the lead's owner, contacted
// the lead, which stops the contact window from being flagged. It reports
// false when the lead is not owned by agentID or was already marked.
func (s *Store) MarkFirstActionCompleted(ctx context.Context, leadID, agentID string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.Lead{}).
		Where("id = ? AND assigned_agent_id = ? AND claimed = ? AND first_action_completed = ?",
			leadID, agentID, true, false).
		Updates(map[string]interface{}{"first_action_completed": true, "updated_at": at})
	if result.Error != nil {
		return false, describe(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// RecordFirstContact marks the first contact and appends activity in one
// transaction. The activity is only written when the mark succeeds, so a
// repeated call adds nothing.
func (s *Store) RecordFirstContact(ctx context.Context, activity *model.Activity) (bool, error) {
	if activity.AgentID == nil {
		return false, errors.New("first contact needs an agent")
	}
	var marked bool
	err := s.Transaction(ctx, func(tx *Store) error {
		var err error
		marked, err = tx.MarkFirstActionCompleted(ctx, activity.LeadID, *activity.AgentID, activity.CreatedAt)
		if err != nil || !marked {
			return err
		}
		return tx.CreateActivity(ctx, activity)
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}

func (s *Store) CreateRoundRobinConfig(ctx context.Context, cfg *model.RoundRobinConfig) error {
	return describe(s.db.WithContext(ctx).Create(cfg).Error)
}

// FindFallbackAdminID returns the fallback admin of the latest active round
// for a language, or "" when none is configured.
func (s *Store) FindFallbackAdminID(ctx context.Context, language string) (string, error) {
	var cfg model.RoundRobinConfig
	err := s.db.WithContext(ctx).
		Where("language = ? AND is_active = ? AND fallback_admin_id IS NOT NULL", language, true).
		Order("round_number DESC").
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", describe(err)
	}
	return *cfg.FallbackAdminID, nil
}
