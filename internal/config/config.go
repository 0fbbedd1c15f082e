package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the admin sync service.
// Environment variables are parsed with the ADMIN_SYNC_ prefix.
type Config struct {
	// Build target selects high-level environment: local, cloud-dev, cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"cloud-dev"`

	// postgres | sqlite | memory; "auto" derives from BuildTarget
	DBDriver string `envconfig:"DB_DRIVER" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Postgres
	PostgresDSN   string `envconfig:"POSTGRES_DSN" default:""`
	NotifyChannel string `envconfig:"NOTIFY_CHANNEL" default:"admin_changes"`

	// SQLite (local build target)
	SQLitePath string `envconfig:"SQLITE_PATH" default:""`

	// Sync / projection
	OpTimeoutSeconds int `envconfig:"OP_TIMEOUT_SECONDS" default:"10"`
	ActivityFeedSize int `envconfig:"ACTIVITY_FEED_SIZE" default:"10"`

	// Auth: jwt | dev
	AuthMode  string `envconfig:"AUTH_MODE" default:"jwt"`
	JWTSecret string `envconfig:"JWT_SECRET" default:""`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"admin-sync"`
	DevActor  string `envconfig:"DEV_ACTOR" default:"dev-admin"`

	// Health checks
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates BuildTarget and derives DBDriver, SQLitePath and AuthMode defaults.
func (c *Config) ResolveDefaults() error {
	var defaultDB string

	switch c.BuildTarget {
	case "cloud-dev", "cloud":
		defaultDB = "postgres"
	case "local":
		defaultDB = "sqlite"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}

	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			c.SQLitePath = "data/admin.db"
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	switch c.AuthMode {
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case "dev":
		if c.Environment == EnvProduction {
			return fmt.Errorf("AUTH_MODE=dev is not allowed in production")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE: %s", c.AuthMode)
	}

	if c.OpTimeoutSeconds <= 0 {
		c.OpTimeoutSeconds = 10
	}
	if c.ActivityFeedSize <= 0 {
		c.ActivityFeedSize = 10
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Example: ADMIN_SYNC_DB_DRIVER, ADMIN_SYNC_HTTP_PORT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("ADMIN_SYNC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("auth_mode", cfg.AuthMode).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Str("sqlite_path", cfg.SQLitePath).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		BuildTarget:               "local",
		DBDriver:                  "memory",
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		NotifyChannel:             "admin_changes",
		OpTimeoutSeconds:          2,
		ActivityFeedSize:          10,
		AuthMode:                  "dev",
		JWTIssuer:                 "admin-sync",
		DevActor:                  "dev-admin",
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// OpTimeout is the per-call store deadline used by the sync client.
func (c *Config) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSeconds) * time.Second
}
