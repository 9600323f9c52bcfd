// Package container provides dependency injection and lifecycle management
// for the print shop workflow server.
package container

import (
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/printshop-workflow/pkg/database"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Workflow   WorkflowConfig
	Estimation EstimationConfig
	Relay      RelayConfig
	Metrics    MetricsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or ":memory:"
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WorkflowConfig selects the role policy.
type WorkflowConfig struct {
	// PolicyFile overrides the built-in role policy when set
	PolicyFile string
}

// EstimationConfig holds live estimate settings.
type EstimationConfig struct {
	Debounce time.Duration
	Timeout  time.Duration

	// CacheSize of zero disables the result cache
	CacheSize int
	CacheTTL  time.Duration

	// PricingFile overrides the built-in price table when set
	PricingFile string
}

// RelayConfig holds notification outbox relay settings.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/printflow.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Estimation: EstimationConfig{
			Debounce:  300 * time.Millisecond,
			Timeout:   5 * time.Second,
			CacheSize: 512,
			CacheTTL:  10 * time.Minute,
		},
		Relay: RelayConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    50,
			MaxAttempts:  5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive"))
	}
	if c.Estimation.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("estimation.timeout must be positive"))
	}
	if c.Relay.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("relay.poll_interval must be positive"))
	}

	return errors.Join(errs...)
}

func (c DatabaseConfig) toDatabase() database.Config {
	return database.Config{
		Path:            c.Path,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		BusyTimeout:     c.BusyTimeout,
	}
}
