// Binary server runs the repopulse assessment API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repopulse/repopulse/internal/adapters"
	"github.com/repopulse/repopulse/internal/collectors"
	"github.com/repopulse/repopulse/internal/config"
	"github.com/repopulse/repopulse/internal/history"
	"github.com/repopulse/repopulse/internal/monitoring"
	"github.com/repopulse/repopulse/internal/pipeline"
	"github.com/repopulse/repopulse/internal/ratelimit"
	"github.com/repopulse/repopulse/internal/report"
	"github.com/repopulse/repopulse/internal/resilience"
	"github.com/repopulse/repopulse/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(monitoring.NewLogger(os.Stdout, cfg.LogLevel))
	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := monitoring.NewMetrics()

	// Resilience stack shared by every upstream adapter
	breakers := resilience.NewCircuitBreakerRegistry()
	degradation := resilience.NewDegradationManager(resilience.DefaultDegradationConfig())

	clientCfg := resilience.DefaultClientConfig()
	clientCfg.Timeout = cfg.HTTPTimeout
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.OnRetry = metrics.IncrementRetry
	httpClient := resilience.NewClient(clientCfg, breakers, degradation)

	// Upstream adapters
	github := adapters.NewGitHubAdapter(cfg.GitHubBaseURL, cfg.GitHubToken, httpClient)
	registry, err := adapters.NewNPMAdapter(cfg.RegistryBaseURL, httpClient)
	if err != nil {
		slog.Error("Failed to initialize registry adapter", "error", err)
		os.Exit(1)
	}

	// Assessment pipeline
	estimator := collectors.NewFallbackEstimator()
	extractor := collectors.NewHeuristicExtractor()
	signalSet := []collectors.Collector{
		collectors.NewMetadataCollector(github, estimator),
		collectors.NewDocumentationCollector(github, estimator),
		collectors.NewDependencyCollector(github, registry, estimator, cfg),
		collectors.NewCodeQualityCollector(github, estimator, extractor, cfg),
	}
	orchestrator := pipeline.New(signalSet, estimator, report.NewAssembler(), metrics, cfg.Weights, cfg.CollectorTimeout)

	// History store; the API runs without it when disabled or unavailable
	var store *history.Store
	if cfg.HistoryDisabled {
		slog.Info("Assessment history disabled by configuration")
	} else {
		store, err = history.Open(cfg.DataDir)
		if err != nil {
			slog.Warn("History store unavailable, continuing without persistence", "error", err)
			store = nil
		}
	}

	// Inbound rate limiting, redis-backed when configured
	redisClient := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), metrics)

	srv := server.New(cfg, server.Deps{
		Orchestrator: orchestrator,
		History:      store,
		Limiter:      limiter,
		Metrics:      metrics,
		Breakers:     breakers,
		Degradation:  degradation,
		Registry:     registry,
	})

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	limiter.Close()
	if err := redisClient.Close(); err != nil {
		slog.Warn("Failed to close redis connection", "error", err)
	}
	if store != nil {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close history store", "error", err)
		}
	}

	slog.Info("Server exited")
}
