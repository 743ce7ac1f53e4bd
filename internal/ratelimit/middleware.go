package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IPRateLimit enforces the global per-IP budget. A limiter failure never
// blocks the request; the check is skipped and logged instead.
func (rl *RateLimiter) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowIP(c.Request.Context(), ip)
		if err != nil {
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		writeLimitHeaders(c, result)

		if !result.Allowed {
			rl.reject(c, result, fmt.Sprintf(
				"request rate limit of %d per minute exceeded", result.Limit))
			return
		}

		c.Next()
	}
}

// AssessmentRateLimit enforces the tighter per-IP budget on the assessment
// endpoint, which fans out into many upstream calls per request.
func (rl *RateLimiter) AssessmentRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowAssessment(c.Request.Context(), ip)
		if err != nil {
			slog.Error("Assessment rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		writeLimitHeaders(c, result)

		if !result.Allowed {
			rl.reject(c, result, fmt.Sprintf(
				"assessment rate limit of %d per minute exceeded", result.Limit))
			return
		}

		c.Next()
	}
}

// reject writes the 429 response and counts the block
func (rl *RateLimiter) reject(c *gin.Context, result *Result, message string) {
	if rl.metrics != nil {
		rl.metrics.IncrementRateLimited()
	}

	retryAfter := int(result.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))

	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "rate limit exceeded",
		"message":     message,
		"retry_after": retryAfter,
		"reset_at":    result.ResetAt.Unix(),
	})
}

func writeLimitHeaders(c *gin.Context, result *Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
