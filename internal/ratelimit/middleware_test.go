package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repopulse/repopulse/internal/monitoring"
)

func newLimitedRouter(t *testing.T, config Config, m *monitoring.Metrics) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(&RedisClient{}, config, m)
	t.Cleanup(limiter.Close)

	router := gin.New()
	router.GET("/ping", limiter.IPRateLimit(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/assess", limiter.AssessmentRateLimit(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "assessed"})
	})
	return router
}

func doRequest(router *gin.Engine, method, path, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

func TestIPRateLimitMiddleware(t *testing.T) {
	m := monitoring.NewMetrics()
	router := newLimitedRouter(t, Config{IPLimitPerMin: 2, BurstMultiplier: 1}, m)

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodGet, "/ping", "198.51.100.7:4000")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doRequest(router, http.MethodGet, "/ping", "198.51.100.7:4000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, int64(0))

	assert.Equal(t, int64(1), m.GetStats()["rate_limited"])
}

func TestAssessmentRateLimitMiddleware(t *testing.T) {
	m := monitoring.NewMetrics()
	router := newLimitedRouter(t, Config{IPLimitPerMin: 10, AssessLimitPerMin: 1, BurstMultiplier: 1}, m)

	first := doRequest(router, http.MethodPost, "/assess", "198.51.100.8:4000")
	assert.Equal(t, http.StatusOK, first.Code)

	second := doRequest(router, http.MethodPost, "/assess", "198.51.100.8:4000")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "assessment rate limit")

	// The general endpoint still serves this client
	ping := doRequest(router, http.MethodGet, "/ping", "198.51.100.8:4000")
	assert.Equal(t, http.StatusOK, ping.Code)
}

func TestRateLimitIsPerClient(t *testing.T) {
	router := newLimitedRouter(t, Config{IPLimitPerMin: 1, BurstMultiplier: 1}, monitoring.NewMetrics())

	first := doRequest(router, http.MethodGet, "/ping", "203.0.113.1:1111")
	second := doRequest(router, http.MethodGet, "/ping", "203.0.113.2:2222")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
}
