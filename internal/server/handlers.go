package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/resilience"
	"github.com/repopulse/repopulse/internal/types"
)

const historyWriteTimeout = 5 * time.Second

// handleAssess runs the full pipeline for one repository. Malformed
// input is the only 400 path; data availability problems always come
// back as a 200 with estimates and limitations inside the report.
func (s *Server) handleAssess(c *gin.Context) {
	var body assessRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		appErr := errors.NewValidationError("request body must be valid JSON")
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	req, err := body.resolve()
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	slog.Info("assessment requested", "repository", req.Slug(), "ip", c.ClientIP())

	rep, err := s.deps.Orchestrator.Assess(c.Request.Context(), req)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, rep)

	if s.deps.History != nil {
		go s.persist(rep)
	}
}

// persist hands the finished report to the history store off the
// request path. Failures are counted and logged, never surfaced to the
// caller.
func (s *Server) persist(rep *types.AssessmentReport) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	err := s.deps.History.Save(ctx, rep)
	s.deps.Metrics.RecordHistoryWrite(err == nil)
	if err != nil {
		slog.Error("history write failed", "assessment_id", rep.ID, "error", err)
	}
}

func (s *Server) handleRecent(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "assessment history is disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			appErr := errors.NewValidationError("limit must be an integer")
			errors.LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		limit = parsed
	}

	entries, err := s.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessments": entries,
		"count":       len(entries),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	services := s.deps.Degradation.GetAllServiceHealth()

	response := gin.H{
		"status":           "ok",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"version":          "1.0.0",
		"services":         services,
		"circuit_breakers": s.deps.Breakers.GetStats(),
		"history_enabled":  s.deps.History != nil,
	}

	for _, service := range services {
		if service.Level == resilience.LevelEmergency {
			response["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleMetrics(c *gin.Context) {
	stats := s.deps.Metrics.GetStats()

	if s.deps.Registry != nil {
		hits, misses := s.deps.Registry.CacheStats()
		stats["registry_cache"] = gin.H{"hits": hits, "misses": misses}
	}
	if s.deps.Limiter != nil {
		stats["rate_limiter"] = s.deps.Limiter.GetStats()
	}
	if s.deps.History != nil {
		stats["history"] = s.deps.History.Stats()
	}

	c.JSON(http.StatusOK, stats)
}
