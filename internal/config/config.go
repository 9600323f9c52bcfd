package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. PRINTFLOW_SERVER_PORT
const EnvPrefix = "PRINTFLOW"

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Estimation EstimationConfig `mapstructure:"estimation"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig points at an optional role policy override file
type WorkflowConfig struct {
	PolicyFile string `mapstructure:"policy_file"`
}

// EstimationConfig tunes the live price estimation pipeline
type EstimationConfig struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	PricingFile string        `mapstructure:"pricing_file"`
}

// RelayConfig tunes the notification outbox relay
type RelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the YAML file at configPath, then applies
// variables from an optional .env file and the environment. An empty path
// loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/printflow.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("workflow.policy_file", "")

	// Estimation defaults
	v.SetDefault("estimation.debounce", 300*time.Millisecond)
	v.SetDefault("estimation.timeout", 5*time.Second)
	v.SetDefault("estimation.cache_size", 512)
	v.SetDefault("estimation.cache_ttl", 10*time.Minute)
	v.SetDefault("estimation.pricing_file", "")

	// Relay defaults
	v.SetDefault("relay.poll_interval", 2*time.Second)
	v.SetDefault("relay.batch_size", 50)
	v.SetDefault("relay.max_attempts", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// bindEnvVars maps every key to PRINTFLOW_<SECTION>_<KEY>
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows; make Unmarshal see
	// overrides for keys that have no default too.
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("database.max_open_conns must be at least 1"))
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format))
	}

	if c.Estimation.Debounce < 0 {
		errs = append(errs, fmt.Errorf("estimation.debounce must not be negative"))
	}
	if c.Estimation.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("estimation.timeout must be positive"))
	}
	if c.Estimation.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("estimation.cache_size must not be negative"))
	}

	if c.Relay.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("relay.poll_interval must be positive"))
	}
	if c.Relay.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("relay.batch_size must be at least 1"))
	}
	if c.Relay.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("relay.max_attempts must be at least 1"))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
