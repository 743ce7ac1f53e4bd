// Package ratelimit throttles inbound requests per client IP. Counting is
// distributed through Redis when configured and falls back to in-process
// token buckets when it is not, so the API stays protected either way.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/repopulse/repopulse/internal/monitoring"
)

// fallbackLimiterCap bounds the in-memory limiter map before cleanup clears it
const fallbackLimiterCap = 1000

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin     int           // Requests per minute per IP across all endpoints
	AssessLimitPerMin int           // Assessments per minute per IP
	BurstMultiplier   int           // Burst capacity multiplier for the in-memory fallback
	CleanupInterval   time.Duration // How often the fallback limiter map is swept
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:     60,
		AssessLimitPerMin: 10,
		BurstMultiplier:   2,
		CleanupInterval:   time.Hour,
	}
}

// Rate is one limit bucket definition
type Rate struct {
	Limit  int
	Period time.Duration
}

// Result represents the outcome of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter provides distributed rate limiting with Redis and an
// in-memory fallback that keeps working when Redis is down.
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	config       Config
	metrics      *monitoring.Metrics

	fallbackLimiters map[string]*rate.Limiter
	fallbackMutex    sync.RWMutex

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter. Zero config fields get defaults.
func NewRateLimiter(redisClient *RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	defaults := DefaultConfig()
	if config.IPLimitPerMin <= 0 {
		config.IPLimitPerMin = defaults.IPLimitPerMin
	}
	if config.AssessLimitPerMin <= 0 {
		config.AssessLimitPerMin = defaults.AssessLimitPerMin
	}
	if config.BurstMultiplier < 1 {
		config.BurstMultiplier = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		fallbackLimiters: make(map[string]*rate.Limiter),
		stopCleanup:      make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupLoop()

	return rl
}

// AllowIP checks the global per-minute budget for one client IP
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	key := fmt.Sprintf("ratelimit:ip:%s", ip)
	return rl.Allow(ctx, key, Rate{Limit: rl.config.IPLimitPerMin, Period: time.Minute})
}

// AllowAssessment checks the tighter per-minute budget the assessment
// endpoint gets, since one assessment fans out into many upstream calls.
func (rl *RateLimiter) AllowAssessment(ctx context.Context, ip string) (*Result, error) {
	key := fmt.Sprintf("ratelimit:assess:%s", ip)
	return rl.Allow(ctx, key, Rate{Limit: rl.config.AssessLimitPerMin, Period: time.Minute})
}

// Allow performs a rate limit check for one key, preferring the Redis
// sliding window and degrading to the in-memory bucket on any Redis error.
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, r)
		if err != nil {
			slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
			return rl.allowFallback(key, r), nil
		}
		return result, nil
	}

	return rl.allowFallback(key, r), nil
}

// allowRedis checks the limit against the Redis sliding window counter
func (rl *RateLimiter) allowRedis(ctx context.Context, key string, r Rate) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   r.Limit,
		Burst:  r.Limit,
		Period: r.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

// allowFallback checks the limit against a per-key in-process token bucket
func (rl *RateLimiter) allowFallback(key string, r Rate) *Result {
	rl.fallbackMutex.Lock()
	limiter, exists := rl.fallbackLimiters[key]
	if !exists {
		rps := rate.Limit(float64(r.Limit) / r.Period.Seconds())
		burst := r.Limit * rl.config.BurstMultiplier
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rps, burst)
		rl.fallbackLimiters[key] = limiter
	}
	rl.fallbackMutex.Unlock()

	allowed := limiter.Allow()

	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     r.Limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(r.Period),
	}
	if !allowed {
		result.RetryAfter = time.Until(result.ResetAt)
	}

	return result
}

// cleanupLoop sweeps the fallback limiter map until Close is called
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops the fallback limiters once the map grows past its cap.
// Buckets refill within one period, so losing counters is acceptable.
func (rl *RateLimiter) cleanup() {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	if len(rl.fallbackLimiters) > fallbackLimiterCap {
		slog.Info("Cleaning up fallback rate limiters", "count", len(rl.fallbackLimiters))
		rl.fallbackLimiters = make(map[string]*rate.Limiter)
	}
}

// Close stops the cleanup goroutine. The limiter stays usable afterwards.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// GetStats returns rate limiter statistics for the metrics endpoint
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.RLock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.RUnlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_limiters": fallbackCount,
		"config": map[string]interface{}{
			"ip_limit_per_min":     rl.config.IPLimitPerMin,
			"assess_limit_per_min": rl.config.AssessLimitPerMin,
		},
	}

	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}

	return stats
}
