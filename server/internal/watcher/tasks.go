package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/service"
)

// Task names.
const (
	TaskClaimSweep   = "claim_window_sweep"
	TaskContactSweep = "contact_window_sweep"
	TaskEventCleanup = "event_cleanup"
)

// Sweeper runs the SLA sweeps.
type Sweeper interface {
	SweepClaimWindows(ctx context.Context) (*service.SweepReport, error)
	SweepContactWindows(ctx context.Context) (*service.SweepReport, error)
}

// EventCleaner deletes realtime events older than a retention period.
type EventCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// RegisterTasks schedules the SLA sweeps and event cleanup. cleaner may be nil.
func RegisterTasks(w *Service, sweeper Sweeper, cleaner EventCleaner, cfg *config.Config) error {
	if err := w.AddTask(TaskClaimSweep, cfg.Watcher.ClaimSweepSchedule, func(ctx context.Context) error {
		_, err := sweeper.SweepClaimWindows(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := w.AddTask(TaskContactSweep, cfg.Watcher.ContactSweepSchedule, func(ctx context.Context) error {
		_, err := sweeper.SweepContactWindows(ctx)
		return err
	}); err != nil {
		return err
	}

	if cleaner == nil {
		return nil
	}
	retention := cfg.Events.Retention
	return w.AddTask(TaskEventCleanup, cfg.Watcher.EventCleanupSchedule, func(ctx context.Context) error {
		n, err := cleaner.Cleanup(ctx, retention)
		if err != nil {
			return err
		}
		if n > 0 {
			w.log.Info("deleted old events", zap.Int64("count", n))
		}
		return nil
	})
}
