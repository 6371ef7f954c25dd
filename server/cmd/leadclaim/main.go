// Command leadclaim serves the lead claim API and runs the SLA watchers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/database"
	"github.com/delsolprimehomes/leadclaim/server/internal/logger"
	"github.com/delsolprimehomes/leadclaim/server/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "leadclaim",
		Short:         "Lead claim coordinator and SLA watcher",
		Version:       version.Get(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present
			_ = godotenv.Load()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what every subcommand needs.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *database.DB
}

// setup loads configuration, builds the logger, connects to the database and
// runs migrations.
func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("running database migrations", zap.String("driver", db.Driver))
	if err := db.Migrate(); err != nil {
		db.Close()
		_ = log.Sync()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()
			a.log.Info("migrations completed successfully")
			return nil
		},
	}
}
