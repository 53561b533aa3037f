// Package server exposes the orchestrator and agent metrics over HTTP and
// websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/ensemble/internal/logging"
	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/internal/version"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Orchestrator is the turn engine the server fronts.
type Orchestrator interface {
	Dispatch(ctx context.Context, req orchestrator.DispatchRequest) (*orchestrator.TurnResult, error)
	Control(ctx context.Context, sessionID, userID, action string) (*orchestrator.Ack, error)
	State(ctx context.Context, sessionID string) (*orchestrator.OrchestratorState, error)
	Events(ctx context.Context, sessionID string) ([]models.GraphEvent, error)
	Subscribe(sessionID string) (<-chan models.GraphEvent, func())
}

// MetricsService records and ranks agent performance.
type MetricsService interface {
	Record(ctx context.Context, m models.AgentMetric) error
	GetStats(ctx context.Context, agentID string, windowDays int) (*models.AgentStats, error)
	GetTopPerformers(ctx context.Context, limit, windowDays int) ([]models.AgentRanking, error)
	GetTrendingAgents(ctx context.Context, limit int) ([]models.AgentTrend, error)
}

// AgentDirectory lists registered agents.
type AgentDirectory interface {
	ListCapabilities() []models.AgentCapability
	Get(agentID string) (models.AgentCapability, bool)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Orchestrator Orchestrator
	Metrics      MetricsService
	Agents       AgentDirectory
	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *logging.DebugLogger
}

// Config holds HTTP server settings.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	CORSOrigins  []string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DefaultWindowDays applies when a stats request names no window.
	DefaultWindowDays int
}

// DefaultConfig returns the standard server settings.
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              8080,
		EnableCORS:        true,
		ReadTimeout:       30 * time.Second,
		DefaultWindowDays: 7,
	}
}

// Server serves the ensemble API.
type Server struct {
	deps       Deps
	cfg        Config
	engine     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	startTime  time.Time
	logger     *logging.DebugLogger
}

// New creates a Server and registers its routes.
func New(deps Deps, cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.DefaultWindowDays <= 0 {
		cfg.DefaultWindowDays = 7
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Debug {
		engine.Use(gin.Logger())
	}

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = cfg.CORSOrigins
		}
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		deps:   deps,
		cfg:    cfg,
		engine: engine,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		logger:    deps.Logger,
	}
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     engine,
		ReadTimeout: cfg.ReadTimeout,
		// Turns can run for minutes, so writes are not bounded by default.
		WriteTimeout: cfg.WriteTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.Use(jsonMiddleware())

	sessions := api.Group("/sessions")
	{
		sessions.POST("/:id/turns", s.handleTurn)
		sessions.POST("/:id/control", s.handleControl)
		sessions.GET("/:id", s.handleState)
		sessions.GET("/:id/events", s.handleEvents)
	}
	// The stream route sits outside the JSON middleware.
	s.engine.GET("/api/sessions/:id/stream", s.handleStream)

	agents := api.Group("/agents")
	{
		agents.GET("", s.handleListAgents)
		agents.GET("/top", s.handleTopPerformers)
		agents.GET("/trending", s.handleTrending)
		agents.GET("/:id/stats", s.handleAgentStats)
	}

	api.POST("/metrics", s.handleRecordMetric)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("Starting ensemble server on %s", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
		return err
	}
	log.Println("ensemble server stopped")
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	agents := 0
	if s.deps.Agents != nil {
		agents = len(s.deps.Agents.ListCapabilities())
	}
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:    "ok",
			Version:   version.Get(),
			Timestamp: time.Now(),
			Uptime:    time.Since(s.startTime).Round(time.Second).String(),
			Agents:    agents,
		},
	})
}
