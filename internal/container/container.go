package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/estimation"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/worker"
	httpapi "github.com/garyjia/printshop-workflow/internal/interfaces/http"
	"github.com/garyjia/printshop-workflow/internal/metrics"
	"github.com/garyjia/printshop-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Application
	metrics    *metrics.Collector
	engine     workflow.Engine
	dispatcher dispatcher.Dispatcher
	estimator  estimation.Estimator
	service    service.DossierService

	// Workers
	workers *worker.WorkerManager

	// Interfaces
	server *httpapi.Server

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Dossier      port.DossierRepository
	History      port.HistoryRepository
	Notification port.NotificationRepository
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and starts the workers.
// Components are initialized in dependency order:
// 1. Database, migrations and repositories
// 2. Metrics
// 3. Workflow engine and dispatcher
// 4. Estimator and dossier service
// 5. Workers
// 6. HTTP server (built, served by Serve)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"metrics", c.initMetrics},
		{"workflow", c.initWorkflow},
		{"services", c.initServices},
		{"workers", c.initWorkers},
		{"server", c.initServer},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.releaseLocked()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Component initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Serve runs the HTTP server until ctx is cancelled.
func (c *Container) Serve(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if !c.ready.Load() || server == nil {
		return fmt.Errorf("container not started")
	}
	return server.Start(ctx)
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	// in-flight health checks take the read lock, so drain HTTP first
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		_ = server.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.releaseLocked()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// releaseLocked tears down whatever Start managed to build
func (c *Container) releaseLocked() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
		c.server = nil
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.conn = nil
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.conn == nil:
		set("database", false, "not initialized")
	default:
		if err := c.conn.Ping(); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		msg := fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount())
		for _, s := range c.workers.Statuses() {
			if s.LastError != "" {
				msg += fmt.Sprintf("; %s: %s", s.Name, s.LastError)
			}
		}
		set("workers", c.workers.IsRunning(), msg)
	}

	set("dispatcher", c.dispatcher != nil, "")

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initMetrics() error {
	if c.config.Metrics.Enabled {
		c.metrics = metrics.NewCollector()
	}
	return nil
}

func (c *Container) initWorkflow() error {
	engine, err := ProvideEngine(&c.config.Workflow, c.logger)
	if err != nil {
		return err
	}
	c.engine = engine
	c.dispatcher = ProvideDispatcher(c.logger)
	return nil
}

func (c *Container) initServices() error {
	estimator, err := ProvideEstimator(&c.config.Estimation, c.logger)
	if err != nil {
		return err
	}
	c.estimator = estimator

	deps := &ServiceDeps{
		Engine:     c.engine,
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	}
	if c.metrics != nil {
		deps.Recorder = c.metrics
	}
	svc, err := ProvideDossierService(deps)
	if err != nil {
		return err
	}
	c.service = svc
	return nil
}

func (c *Container) initWorkers() error {
	var observer worker.RelayObserver
	if c.metrics != nil {
		observer = c.metrics
	}
	c.workers = ProvideWorkers(&c.config.Relay, c.repositories, c.dispatcher, observer, c.logger)

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

func (c *Container) initServer() error {
	c.server = ProvideHTTPServer(&ServerDeps{
		Config:    c.config,
		Service:   c.service,
		Engine:    c.engine,
		Estimator: c.estimator,
		Metrics:   c.metrics,
		Health: func() (bool, interface{}) {
			h := c.Health()
			return h.Overall, h
		},
		Logger: c.logger,
	})
	return nil
}

// Service returns the dossier service.
func (c *Container) Service() service.DossierService {
	return c.service
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Estimator returns the price estimator.
func (c *Container) Estimator() estimation.Estimator {
	return c.estimator
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Server returns the HTTP server.
func (c *Container) Server() *httpapi.Server {
	return c.server
}

// Metrics returns the metrics collector, nil when disabled.
func (c *Container) Metrics() *metrics.Collector {
	return c.metrics
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the Logger interfaces of the
// application and interface layers.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
