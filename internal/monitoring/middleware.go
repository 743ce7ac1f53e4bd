package monitoring

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// slowRequestThreshold marks requests worth a dedicated warning
const slowRequestThreshold = 5 * time.Second

// RequestMetrics returns gin middleware that feeds the request counters
// and writes one structured access log line per request.
func RequestMetrics(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.RequestStarted()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		metrics.RequestFinished(status, duration)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if id := c.GetString("request_id"); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		for _, err := range c.Errors {
			attrs = append(attrs, "error", err.Error())
		}

		switch {
		case status >= 500:
			slog.Error("request completed", attrs...)
		case status >= 400:
			slog.Warn("request completed", attrs...)
		default:
			slog.Info("request completed", attrs...)
		}

		if duration > slowRequestThreshold {
			slog.Warn("slow request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"duration_ms", duration.Milliseconds())
		}
	}
}
