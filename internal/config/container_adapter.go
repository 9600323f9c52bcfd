package config

import (
	"github.com/garyjia/printshop-workflow/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Workflow: container.WorkflowConfig{
			PolicyFile: c.Workflow.PolicyFile,
		},
		Estimation: container.EstimationConfig{
			Debounce:    c.Estimation.Debounce,
			Timeout:     c.Estimation.Timeout,
			CacheSize:   c.Estimation.CacheSize,
			CacheTTL:    c.Estimation.CacheTTL,
			PricingFile: c.Estimation.PricingFile,
		},
		Relay: container.RelayConfig{
			PollInterval: c.Relay.PollInterval,
			BatchSize:    c.Relay.BatchSize,
			MaxAttempts:  c.Relay.MaxAttempts,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
			Path:    c.Metrics.Path,
		},
	}
}
