package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

// --- Watcher Leader Election ---

// TryAcquireLeadership attempts to become (or stay) the watcher leader.
// A server takes the lease when it already holds it or the holder's heartbeat
// is older than heartbeatTimeout. Returns true if this server is the leader.
func (s *Store) TryAcquireLeadership(ctx context.Context, serverID string, heartbeatTimeout time.Duration) (bool, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-heartbeatTimeout)
	db := s.db.WithContext(ctx)

	// Renew or take over an existing lease in one guarded statement.
	result := db.Model(&model.WatcherLeader{}).
		Where("id = ? AND (server_id = ? OR heartbeat_at < ?)", model.WatcherLeaderSingletonID, serverID, cutoff).
		Updates(map[string]interface{}{
			"acquired_at":  gorm.Expr("CASE WHEN server_id = ? THEN acquired_at ELSE ? END", serverID, now),
			"server_id":    serverID,
			"heartbeat_at": now,
		})
	if result.Error != nil {
		return false, describe(result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	// No row matched: either nobody holds the lease yet or another server does.
	result = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.WatcherLeader{
		ID:          model.WatcherLeaderSingletonID,
		ServerID:    serverID,
		HeartbeatAt: now,
		AcquiredAt:  now,
	})
	if result.Error != nil {
		return false, describe(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseLeadership releases leadership on graceful shutdown.
func (s *Store) ReleaseLeadership(ctx context.Context, serverID string) error {
	return describe(s.db.WithContext(ctx).
		Where("id = ? AND server_id = ?", model.WatcherLeaderSingletonID, serverID).
		Delete(&model.WatcherLeader{}).Error)
}

// GetLeader returns the current lease, or ErrNotFound when nobody holds it.
func (s *Store) GetLeader(ctx context.Context) (*model.WatcherLeader, error) {
	var leader model.WatcherLeader
	err := s.db.WithContext(ctx).Limit(1).Find(&leader, "id = ?", model.WatcherLeaderSingletonID).Error
	if err != nil {
		return nil, describe(err)
	}
	if leader.ID == "" {
		return nil, ErrNotFound
	}
	return &leader, nil
}
