package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server
type Config struct {
	// Server settings
	Port           int           `yaml:"port"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// API key required on /api routes when set
	APIKey string `yaml:"api_key"`

	// Database
	DatabaseDSN    string `yaml:"database_dsn"`
	DatabaseDriver string `yaml:"-"` // "postgres" or "sqlite", auto-detected from DSN

	SLA     SLAConfig     `yaml:"sla"`
	Watcher WatcherConfig `yaml:"watcher"`
	Events  EventsConfig  `yaml:"events"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Logging LoggingConfig `yaml:"logging"`
}

// SLAConfig contains the response-time windows applied to leads.
type SLAConfig struct {
	// ContactWindow is how long an agent has to make first contact after claiming.
	ContactWindow time.Duration `yaml:"contact_window"`
	// ClaimWindow is how long a new lead may stay unclaimed.
	ClaimWindow time.Duration `yaml:"claim_window"`
	// DefaultAdminID receives breach alerts when no language admin is configured.
	DefaultAdminID string `yaml:"default_admin_id"`
}

// WatcherConfig contains leader election and schedule settings for the SLA watchers.
type WatcherConfig struct {
	Enabled              bool          `yaml:"enabled"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	TaskTimeout          time.Duration `yaml:"task_timeout"`
	ClaimSweepSchedule   string        `yaml:"claim_sweep_schedule"`
	ContactSweepSchedule string        `yaml:"contact_sweep_schedule"`
	EventCleanupSchedule string        `yaml:"event_cleanup_schedule"`
}

// EventsConfig contains realtime event settings.
type EventsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Retention    time.Duration `yaml:"retention"`
}

// KafkaConfig enables relaying lead events to Kafka when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a configuration populated with default values only.
func Default() *Config {
	return &Config{
		Port:           8080,
		CORSOrigins:    []string{"*"},
		RequestTimeout: 60 * time.Second,
		DatabaseDSN:    "sqlite3://./leadclaim.db",
		SLA: SLAConfig{
			ContactWindow: 5 * time.Minute,
			ClaimWindow:   15 * time.Minute,
		},
		Watcher: WatcherConfig{
			Enabled:              true,
			HeartbeatInterval:    10 * time.Second,
			HeartbeatTimeout:     30 * time.Second,
			TaskTimeout:          2 * time.Minute,
			ClaimSweepSchedule:   "@every 1m",
			ContactSweepSchedule: "@every 1m",
			EventCleanupSchedule: "@every 1h",
		},
		Events: EventsConfig{
			PollInterval: 100 * time.Millisecond,
			Retention:    24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic: "crm.lead-events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and then
// from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Server
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)

	// Database
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)

	// SLA windows
	cfg.SLA.ContactWindow = getEnvDuration("CONTACT_WINDOW", cfg.SLA.ContactWindow)
	cfg.SLA.ClaimWindow = getEnvDuration("CLAIM_WINDOW", cfg.SLA.ClaimWindow)
	cfg.SLA.DefaultAdminID = getEnv("DEFAULT_ADMIN_ID", cfg.SLA.DefaultAdminID)

	// Watcher
	cfg.Watcher.Enabled = getEnvBool("WATCHER_ENABLED", cfg.Watcher.Enabled)
	cfg.Watcher.HeartbeatInterval = getEnvDuration("WATCHER_HEARTBEAT_INTERVAL", cfg.Watcher.HeartbeatInterval)
	cfg.Watcher.HeartbeatTimeout = getEnvDuration("WATCHER_HEARTBEAT_TIMEOUT", cfg.Watcher.HeartbeatTimeout)
	cfg.Watcher.TaskTimeout = getEnvDuration("WATCHER_TASK_TIMEOUT", cfg.Watcher.TaskTimeout)
	cfg.Watcher.ClaimSweepSchedule = getEnv("CLAIM_SWEEP_SCHEDULE", cfg.Watcher.ClaimSweepSchedule)
	cfg.Watcher.ContactSweepSchedule = getEnv("CONTACT_SWEEP_SCHEDULE", cfg.Watcher.ContactSweepSchedule)
	cfg.Watcher.EventCleanupSchedule = getEnv("EVENT_CLEANUP_SCHEDULE", cfg.Watcher.EventCleanupSchedule)

	// Events
	cfg.Events.PollInterval = getEnvDuration("EVENT_POLL_INTERVAL", cfg.Events.PollInterval)
	cfg.Events.Retention = getEnvDuration("EVENT_RETENTION", cfg.Events.Retention)

	// Kafka relay
	cfg.Kafka.Brokers = getEnvList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	// Logging
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays values from a YAML file onto the config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.SLA.ContactWindow <= 0 {
		errs = append(errs, errors.New("sla.contact_window must be positive"))
	}
	if c.SLA.ClaimWindow <= 0 {
		errs = append(errs, errors.New("sla.claim_window must be positive"))
	}
	if c.Watcher.Enabled && c.Watcher.HeartbeatTimeout <= c.Watcher.HeartbeatInterval {
		errs = append(errs, errors.New("watcher.heartbeat_timeout must exceed watcher.heartbeat_interval"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether lead events should be relayed to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for database/sql
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	// For postgres, add the prefix back
	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
