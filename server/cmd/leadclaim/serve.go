package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/events"
	"github.com/delsolprimehomes/leadclaim/server/internal/handler"
	"github.com/delsolprimehomes/leadclaim/server/internal/relay"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
	"github.com/delsolprimehomes/leadclaim/server/internal/watcher"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream and SLA watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, a)
		},
	}
}

// newBroker wires the event broker and, when configured, the Kafka relay.
// The returned cleanup closes the relay.
func newBroker(a *app, s *store.Store, poller *events.Poller) (*events.Broker, func()) {
	if !a.cfg.KafkaEnabled() {
		return events.NewBroker(s, poller, nil, a.log), func() {}
	}
	k := relay.NewKafkaRelay(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.log)
	a.log.Info("relaying lead events to kafka",
		zap.Strings("brokers", a.cfg.Kafka.Brokers),
		zap.String("topic", a.cfg.Kafka.Topic))
	return events.NewBroker(s, poller, k, a.log), func() {
		if err := k.Close(); err != nil {
			a.log.Warn("failed to close kafka relay", zap.Error(err))
		}
	}
}

// newHTTPServer builds the API server. Requests keep their own contexts during
// shutdown so in-flight claims drain; open event streams are ended by stopping
// the poller, which closes every subscription.
func newHTTPServer(cfg *config.Config, h http.Handler, poller *events.Poller) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(poller.Stop)
	return srv
}

func serve(ctx context.Context, a *app) error {
	s := store.New(a.db.DB)

	pollerCfg := events.DefaultPollerConfig()
	pollerCfg.PollInterval = a.cfg.Events.PollInterval
	poller := events.NewPoller(s, pollerCfg, a.log)
	// The poller outlives the signal so claims drained during shutdown are
	// still delivered; the server's shutdown hook stops it.
	if err := poller.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start event poller: %w", err)
	}
	defer poller.Stop()

	broker, closeRelay := newBroker(a, s, poller)
	defer closeRelay()

	h := handler.New(s, a.cfg, broker, a.log)

	if a.cfg.Watcher.Enabled {
		w := watcher.NewService(s, a.cfg.Watcher, a.log)
		if err := watcher.RegisterTasks(w, h.SLAService(), broker, a.cfg); err != nil {
			return err
		}
		w.Start(ctx)
		defer w.Stop()
	} else {
		a.log.Info("SLA watcher disabled")
	}

	srv := newHTTPServer(a.cfg, handler.NewRouter(h, a.log), poller)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server starting", zap.Int("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server stopped")
	return err
}
