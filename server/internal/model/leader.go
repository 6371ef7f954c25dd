package model

import (
	"time"
)

// WatcherLeaderSingletonID is the ID used for the single leadership row.
const WatcherLeaderSingletonID = "singleton"

// WatcherLeader is the lease held by the instance that runs the SLA sweeps.
// Only one row exists, keyed by WatcherLeaderSingletonID.
type WatcherLeader struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	ServerID    string    `gorm:"column:server_id;not null;type:text" json:"server_id"`
	HeartbeatAt time.Time `gorm:"column:heartbeat_at;not null" json:"heartbeat_at"`
	AcquiredAt  time.Time `gorm:"column:acquired_at;not null" json:"acquired_at"`
}

// TableName returns the table name for WatcherLeader.
func (WatcherLeader) TableName() string { return "watcher_leaders" }
