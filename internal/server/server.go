// Package server assembles the HTTP surface over the assessment
// pipeline: the middleware chain, routing, and process lifecycle.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/repopulse/repopulse/internal/adapters"
	"github.com/repopulse/repopulse/internal/config"
	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/history"
	"github.com/repopulse/repopulse/internal/middleware"
	"github.com/repopulse/repopulse/internal/monitoring"
	"github.com/repopulse/repopulse/internal/pipeline"
	"github.com/repopulse/repopulse/internal/ratelimit"
	"github.com/repopulse/repopulse/internal/resilience"
)

// Deps bundles the collaborators the HTTP layer exposes. History may be
// nil when persistence is disabled; the rest are required.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	History      *history.Store
	Limiter      *ratelimit.RateLimiter
	Metrics      *monitoring.Metrics
	Breakers     *resilience.CircuitBreakerRegistry
	Degradation  *resilience.DegradationManager
	Registry     *adapters.NPMAdapter
}

// Server owns the gin engine and the net/http server wrapped around it.
type Server struct {
	cfg    *config.Config
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

// New builds the routing tree and middleware chain. Compression sits
// outside the recovery handler so a panic response still reaches the
// client as a well-formed gzip stream.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(monitoring.RequestMetrics(deps.Metrics))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	engine.Use(middleware.Compression())
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryHandler())
	if deps.Limiter != nil {
		engine.Use(deps.Limiter.IPRateLimit())
	}

	s := &Server{cfg: cfg, deps: deps, engine: engine}
	s.registerRoutes()

	s.http = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
		// The write timeout must outlive the slowest assessment, which
		// is bounded by the collector deadline plus aggregation.
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   cfg.CollectorTimeout + 30*time.Second,
		IdleTimeout:    90 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", s.handleMetrics)
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := s.engine.Group("/api/v1")
	if s.deps.Limiter != nil {
		api.POST("/assess", s.deps.Limiter.AssessmentRateLimit(), s.handleAssess)
	} else {
		api.POST("/assess", s.handleAssess)
	}
	api.GET("/assessments/recent", s.handleRecent)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}
	cfg.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}
	cfg.MaxAge = 12 * time.Hour

	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
