package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (uses modernc.org/sqlite)
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/logger"
	"github.com/delsolprimehomes/leadclaim/server/internal/model"
)

// sqlitePragmas are applied to every pooled connection through the DSN.
// WAL lets readers run alongside the single writer, busy_timeout makes a
// blocked writer wait instead of failing with SQLITE_BUSY.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

// DB wraps the GORM DB connection with additional context
type DB struct {
	*gorm.DB
	Driver string
	log    *zap.Logger
}

// New creates a new database connection based on configuration
func New(cfg *config.Config, log *zap.Logger) (*DB, error) {
	var db *gorm.DB
	var err error

	// Only log slow queries (>1 second) and errors
	slowLogger := gormlogger.New(
		logger.NewGormWriter(log),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	gormConfig := &gorm.Config{
		Logger: slowLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	driver := cfg.DatabaseDriver
	dsn := cfg.CleanDSN()

	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		sqliteDSN, dirErr := prepareSQLiteDSN(dsn)
		if dirErr != nil {
			return nil, dirErr
		}
		db, err = gorm.Open(sqlite.Open(sqliteDSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if driver == "sqlite" {
		// WAL allows concurrent readers alongside one writer; writers queue on
		// busy_timeout.
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
	}

	return &DB{DB: db, Driver: driver, log: log.With(zap.String("component", "database"))}, nil
}

// prepareSQLiteDSN creates the parent directory of a file database and
// appends the connection pragmas.
func prepareSQLiteDSN(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "file:")
	query := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}

	if !strings.HasPrefix(path, ":memory:") {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	params := make([]string, 0, len(sqlitePragmas)+1)
	if query != "" {
		params = append(params, query)
	}
	for _, p := range sqlitePragmas {
		if !strings.Contains(query, strings.SplitN(p, "(", 2)[0]) {
			params = append(params, "_pragma="+p)
		}
	}
	return path + "?" + strings.Join(params, "&"), nil
}

// Migrate runs database migrations using GORM's AutoMigrate
func (db *DB) Migrate() error {
	db.log.Info("running AutoMigrate")
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// IsPostgres returns true if using PostgreSQL
func (db *DB) IsPostgres() bool {
	return db.Driver == "postgres"
}

// IsSQLite returns true if using SQLite
func (db *DB) IsSQLite() bool {
	return db.Driver == "sqlite"
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
