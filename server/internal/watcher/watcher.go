// Package watcher runs the periodic SLA sweeps. Every instance competes for a
// lease in watcher_leaders and only the current leader fires tasks.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
)

// LeaderStore is the lease persistence used for leader election.
type LeaderStore interface {
	TryAcquireLeadership(ctx context.Context, serverID string, heartbeatTimeout time.Duration) (bool, error)
	ReleaseLeadership(ctx context.Context, serverID string) error
}

// TaskFunc is one scheduled unit of work.
type TaskFunc func(ctx context.Context) error

// cronParser accepts standard 5-field expressions, 6-field expressions with
// seconds, and descriptors such as "@every 1m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Service schedules tasks and elects a leader to run them.
type Service struct {
	store    LeaderStore
	cfg      config.WatcherConfig
	serverID string
	log      *zap.Logger
	cron     *cron.Cron
	tasks    []string

	isLeader   bool
	isLeaderMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a watcher with a fresh server ID.
func NewService(s LeaderStore, cfg config.WatcherConfig, log *zap.Logger) *Service {
	log = log.With(zap.String("component", "watcher"))
	cronLog := cronLogger{log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    s,
		cfg:      cfg,
		serverID: uuid.New().String(),
		log:      log,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServerID returns this instance's lease identity.
func (w *Service) ServerID() string {
	return w.serverID
}

// IsLeader returns whether this instance currently holds the lease.
func (w *Service) IsLeader() bool {
	w.isLeaderMu.RLock()
	defer w.isLeaderMu.RUnlock()
	return w.isLeader
}

// AddTask registers fn under name with a cron schedule. It must be called
// before Start.
func (w *Service) AddTask(name, schedule string, fn TaskFunc) error {
	if _, err := w.cron.AddFunc(schedule, func() {
		if !w.IsLeader() {
			return
		}
		_ = w.runTask(name, fn)
	}); err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", schedule, name, err)
	}
	w.tasks = append(w.tasks, name)
	w.log.Info("scheduled task", zap.String("task", name), zap.String("schedule", schedule))
	return nil
}

// Start begins leader election and the cron ticker.
func (w *Service) Start(parentCtx context.Context) {
	w.ctx, w.cancel = context.WithCancel(parentCtx)

	w.log.Info("watcher starting", zap.String("server_id", w.serverID), zap.Int("tasks", len(w.tasks)))

	w.wg.Add(1)
	go w.leaderElectionLoop()

	w.cron.Start()
}

// Stop halts scheduling, waits for running tasks and releases the lease.
func (w *Service) Stop() {
	w.log.Info("watcher stopping")

	w.cancel()
	cronDone := w.cron.Stop()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		<-cronDone.Done()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		w.log.Warn("timeout waiting for watcher tasks")
	}

	if w.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.store.ReleaseLeadership(ctx, w.serverID); err != nil {
			w.log.Warn("failed to release leadership", zap.Error(err))
		} else {
			w.log.Info("leadership released")
		}
		w.setLeader(false)
	}
}

func (w *Service) leaderElectionLoop() {
	defer w.wg.Done()

	w.tryAcquireLeadership()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tryAcquireLeadership()
		}
	}
}

func (w *Service) tryAcquireLeadership() {
	acquired, err := w.store.TryAcquireLeadership(w.ctx, w.serverID, w.cfg.HeartbeatTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.log.Warn("leader election error", zap.Error(err))
		// Without a confirmed lease we must not keep acting as leader.
		if w.setLeader(false) {
			w.log.Info("relinquished leadership after error", zap.String("server_id", w.serverID))
		}
		return
	}

	wasLeader := w.setLeader(acquired)
	switch {
	case acquired && !wasLeader:
		w.log.Info("became leader", zap.String("server_id", w.serverID))
	case !acquired && wasLeader:
		w.log.Info("lost leadership", zap.String("server_id", w.serverID))
	}
}

// setLeader stores the new state and returns the previous one.
func (w *Service) setLeader(leader bool) bool {
	w.isLeaderMu.Lock()
	defer w.isLeaderMu.Unlock()
	was := w.isLeader
	w.isLeader = leader
	return was
}

func (w *Service) runTask(name string, fn TaskFunc) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	log := w.log.With(zap.String("task", name), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		log.Error("task failed", zap.Error(err))
		return err
	}
	log.Debug("task completed")
	return nil
}

// cronLogger routes robfig/cron's logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
