package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/estimation"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/worker"
	httpapi "github.com/garyjia/printshop-workflow/internal/interfaces/http"
	"github.com/garyjia/printshop-workflow/internal/interfaces/websocket"
	"github.com/garyjia/printshop-workflow/internal/metrics"
	"github.com/garyjia/printshop-workflow/internal/report"
	"github.com/garyjia/printshop-workflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(cfg.toDatabase(), logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(conn, logger).RunMigrations()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations applied", zap.Int("count", applied))

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories on the transaction-aware DB.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Dossier:      repository.NewDossierRepository(db, logger),
		History:      repository.NewHistoryRepository(db, logger),
		Notification: repository.NewNotificationRepository(db, logger),
	}, nil
}

// ProvideEngine loads the role policy and builds the workflow engine.
func ProvideEngine(cfg *WorkflowConfig, logger *zap.Logger) (workflow.Engine, error) {
	policy, err := domainwf.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	if cfg.PolicyFile != "" {
		logger.Info("Role policy loaded", zap.String("file", cfg.PolicyFile))
	}
	return workflow.NewEngine(policy), nil
}

// ProvideDispatcher creates the dispatcher and registers one inbox handler
// per role plus a journal for committed events.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}))

	for _, role := range domainwf.AllRoles() {
		role := role
		d.SubscribeRole(role.String(), "inbox-"+role.String(), func(ctx context.Context, evt *event.Event) error {
			logger.Info("Notification delivered",
				zap.String("recipient_role", role.String()),
				zap.String("event_id", evt.ID),
				zap.String("event_type", evt.Type.String()),
				zap.Int64("dossier_id", evt.DossierID),
				zap.String("new_status", evt.GetPayloadString(event.KeyNewStatus)))
			return nil
		})
	}

	journal := func(ctx context.Context, evt *event.Event) error {
		logger.Info("Dossier event",
			zap.String("event_type", evt.Type.String()),
			zap.Int64("dossier_id", evt.DossierID),
			zap.String("reference", evt.GetPayloadString(event.KeyReference)),
			zap.String("actor_role", evt.GetPayloadString(event.KeyActorRole)),
			zap.String("previous_status", evt.GetPayloadString(event.KeyPreviousStatus)),
			zap.String("new_status", evt.GetPayloadString(event.KeyNewStatus)))
		return nil
	}
	d.SubscribeNamed(event.TypeDossierCreated, "journal", journal)
	d.SubscribeNamed(event.TypeDossierStatusChanged, "journal", journal)
	d.SubscribeNamed(event.TypeDossierDeleted, "journal", journal)

	return d
}

// ProvideEstimator builds the calculator over the configured price table,
// behind the result cache when enabled.
func ProvideEstimator(cfg *EstimationConfig, logger *zap.Logger) (estimation.Estimator, error) {
	prices, err := estimation.LoadPriceTable(cfg.PricingFile)
	if err != nil {
		return nil, err
	}

	var est estimation.Estimator = estimation.NewCalculator(prices)
	if cfg.CacheSize > 0 {
		est = estimation.NewCachedEstimator(est, cfg.CacheSize, cfg.CacheTTL)
	}

	logger.Info("Estimator ready",
		zap.String("pricing_file", cfg.PricingFile),
		zap.Int("cache_size", cfg.CacheSize),
		zap.Duration("cache_ttl", cfg.CacheTTL))
	return est, nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Engine     workflow.Engine
	Repos      *RepositoryBundle
	TxManager  *sqlite.DB
	Dispatcher dispatcher.Dispatcher
	Recorder   service.TransitionRecorder
	Logger     *zap.Logger
}

// ProvideDossierService creates the dossier service.
func ProvideDossierService(deps *ServiceDeps) (service.DossierService, error) {
	if deps == nil || deps.Repos == nil || deps.TxManager == nil || deps.Engine == nil {
		return nil, fmt.Errorf("engine, repositories and transaction manager are required")
	}

	opts := []service.DossierServiceOption{service.WithDispatcher(deps.Dispatcher)}
	if deps.Recorder != nil {
		opts = append(opts, service.WithTransitionRecorder(deps.Recorder))
	}

	return service.NewDossierService(
		deps.Engine,
		deps.Repos.Dossier,
		deps.Repos.History,
		deps.Repos.Notification,
		deps.TxManager,
		&zapLoggerAdapter{logger: deps.Logger},
		opts...,
	), nil
}

// ProvideWorkers registers the notification relay.
func ProvideWorkers(cfg *RelayConfig, repos *RepositoryBundle, d dispatcher.Dispatcher, observer worker.RelayObserver, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger)
	manager.Register(worker.NewNotificationRelay(worker.RelayConfig{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		MaxAttempts:  cfg.MaxAttempts,
	}, repos.Notification, d, observer, logger))
	return manager
}

// ServerDeps holds dependencies required for the HTTP server.
type ServerDeps struct {
	Config    *Config
	Service   service.DossierService
	Engine    workflow.Engine
	Estimator estimation.Estimator
	Metrics   *metrics.Collector
	Health    httpapi.HealthFunc
	Logger    *zap.Logger
}

// ProvideHTTPServer creates the HTTP server with the estimate stream and,
// when enabled, the metrics endpoint.
func ProvideHTTPServer(deps *ServerDeps) *httpapi.Server {
	cfg := deps.Config

	streamCfg := websocket.DefaultStreamConfig()
	streamCfg.Debounce = cfg.Estimation.Debounce
	streamCfg.Timeout = cfg.Estimation.Timeout

	var observer estimation.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	stream := websocket.NewEstimateStream(deps.Estimator, streamCfg, observer, deps.Logger)

	opts := []httpapi.ServerOption{httpapi.WithEstimateStream(stream)}
	if deps.Metrics != nil {
		opts = append(opts, httpapi.WithMetrics(deps.Metrics.Handler()))
	}
	if deps.Health != nil {
		opts = append(opts, httpapi.WithHealth(deps.Health))
	}

	return httpapi.NewServer(
		httpapi.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			MetricsPath:  cfg.Metrics.Path,
		},
		deps.Service,
		deps.Engine.Policy(),
		deps.Estimator,
		report.NewViewExporter(deps.Logger),
		&zapLoggerAdapter{logger: deps.Logger},
		opts...,
	)
}
