// Package http is the thin gin adapter in front of the dossier service, the
// role policy and the estimator.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/printshop-workflow/internal/application/estimation"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ViewExporter renders a role view as a spreadsheet
type ViewExporter interface {
	Export(w io.Writer, view workflow.View) error
}

// HealthFunc reports component health; the detail is returned as-is
type HealthFunc func() (healthy bool, detail interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MetricsPath:  "/metrics",
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	mu         sync.Mutex
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers

	metrics http.Handler
	stream  http.Handler
	logger  Logger
}

// ServerOption configures optional endpoints
type ServerOption func(*Server)

// WithMetrics mounts the metrics handler at ServerConfig.MetricsPath
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithEstimateStream mounts the WebSocket estimate stream
func WithEstimateStream(h http.Handler) ServerOption {
	return func(s *Server) {
		s.stream = h
	}
}

// WithHealth replaces the static health check
func WithHealth(fn HealthFunc) ServerOption {
	return func(s *Server) {
		s.handlers.health = fn
	}
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	dossiers service.DossierService,
	policy *domainwf.Policy,
	estimator estimation.Estimator,
	exporter ViewExporter,
	logger Logger,
	opts ...ServerOption,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(dossiers, policy, estimator, exporter, logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"actor_role", c.GetHeader(HeaderActorRole),
		)
	}
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)
	if s.metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api")
	{
		api.GET("/statuses", h.ListStatuses)
		api.GET("/statuses/normalize", h.NormalizeStatus)
		api.GET("/policy/:role", h.GetPolicy)

		api.GET("/dossiers", h.ListDossiers)
		api.POST("/dossiers", h.CreateDossier)
		api.GET("/dossiers/:id", h.GetDossier)
		api.DELETE("/dossiers/:id", h.DeleteDossier)
		api.POST("/dossiers/:id/transitions", h.TransitionDossier)
		api.GET("/dossiers/:id/transitions", h.AvailableTransitions)
		api.GET("/dossiers/:id/history", h.DossierHistory)

		api.GET("/views/:role/export", h.ExportView)

		api.POST("/estimates", h.Estimate)
		if s.stream != nil {
			api.GET("/estimates/stream", gin.WrapH(s.stream))
		}
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server. Later calls are no-ops.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
