// Package http provides the HTTP adapter exposing the workflow engine to
// collaborators. It is a thin layer translating requests into engine calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/workflow"
	"github.com/nyimbi/stateflow/internal/engine"
	"github.com/nyimbi/stateflow/internal/history"
	"github.com/nyimbi/stateflow/internal/notification"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	engine     *engine.Engine
	registry   *workflow.Registry
	store      *history.Store
	flash      *notification.FlashChannel
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithFlashChannel exposes queued UI messages over the API
func WithFlashChannel(flash *notification.FlashChannel) ServerOption {
	return func(s *Server) { s.flash = flash }
}

// WithMetricsGatherer serves the /metrics endpoint from the given gatherer
func WithMetricsGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates the HTTP adapter
func NewServer(
	cfg ServerConfig,
	eng *engine.Engine,
	registry *workflow.Registry,
	store *history.Store,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:   cfg,
		router:   gin.New(),
		engine:   eng,
		registry: registry,
		store:    store,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(gin.Recovery())
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api/v1")
	{
		api.POST("/instances", s.handleCreateInstance)
		api.POST("/instances/:id/trigger", s.handleTrigger)
		api.POST("/instances/:id/revert", s.handleRevert)
		api.GET("/instances/:id/transitions", s.handleTransitions)
		api.GET("/instances/:id/history", s.handleHistory)
		api.GET("/instances/:id/history/report", s.handleHistoryReport)

		api.GET("/workflows", s.handleListWorkflows)
		api.GET("/workflows/:name/export", s.handleExport)
		api.GET("/workflows/:name/diagram", s.handleDiagram)

		if s.flash != nil {
			api.GET("/flash/:recipient", s.handleFlash)
		}
	}
}

// Start begins serving requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}
