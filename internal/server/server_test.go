package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repopulse/repopulse/internal/collectors"
	"github.com/repopulse/repopulse/internal/config"
	"github.com/repopulse/repopulse/internal/history"
	"github.com/repopulse/repopulse/internal/monitoring"
	"github.com/repopulse/repopulse/internal/pipeline"
	"github.com/repopulse/repopulse/internal/ratelimit"
	"github.com/repopulse/repopulse/internal/report"
	"github.com/repopulse/repopulse/internal/resilience"
	"github.com/repopulse/repopulse/internal/types"
)

type stubCollector struct {
	name string
	fn   func(ctx context.Context, req types.AssessmentRequest) types.SignalResult
}

func (s stubCollector) Name() string { return s.name }

func (s stubCollector) Collect(ctx context.Context, req types.AssessmentRequest) types.SignalResult {
	return s.fn(ctx, req)
}

func healthySet() []collectors.Collector {
	cs := make([]collectors.Collector, 0, len(types.AllSignals))
	for i, name := range types.AllSignals {
		score := 70 + float64(i*5)
		n := name
		cs = append(cs, stubCollector{name: n, fn: func(context.Context, types.AssessmentRequest) types.SignalResult {
			return types.SignalResult{
				SignalName: n,
				Succeeded:  true,
				Score:      score,
				Confidence: 0.9,
				Metrics:    map[string]any{},
			}
		}})
	}
	return cs
}

func testWeights() map[string]float64 {
	w := make(map[string]float64, len(types.AllSignals))
	for _, name := range types.AllSignals {
		w[name] = 0.25
	}
	return w
}

type serverOptions struct {
	store   *history.Store
	limiter *ratelimit.RateLimiter
	cs      []collectors.Collector
}

func newTestServer(t *testing.T, opts serverOptions) (*Server, *monitoring.Metrics, *resilience.DegradationManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	m := monitoring.NewMetrics()
	degradation := resilience.NewDegradationManager(resilience.DefaultDegradationConfig())

	cs := opts.cs
	if cs == nil {
		cs = healthySet()
	}
	orch := pipeline.New(cs, collectors.NewFallbackEstimator(), report.NewAssembler(), m, testWeights(), time.Second)

	srv := New(cfg, Deps{
		Orchestrator: orch,
		History:      opts.store,
		Limiter:      opts.limiter,
		Metrics:      m,
		Breakers:     resilience.NewCircuitBreakerRegistry(),
		Degradation:  degradation,
	})
	return srv, m, degradation
}

func postJSON(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func getPath(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestAssessEndpointReturnsReport(t *testing.T) {
	srv, m, _ := newTestServer(t, serverOptions{})

	w := postJSON(srv, "/api/v1/assess", `{"owner":"gin-gonic","repo":"gin"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rep types.AssessmentReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))

	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, "gin-gonic", rep.Request.Owner)
	assert.Len(t, rep.Signals, len(types.AllSignals))
	// 70/75/80/85 at equal weights plus the full completeness bonus
	assert.InDelta(t, 87.5, rep.Scores.Overall, 0.01)
	assert.Empty(t, rep.Limitations)

	assert.EqualValues(t, 1, m.GetStats()["assessments_completed"])
}

func TestAssessEndpointAcceptsRepositoryURL(t *testing.T) {
	srv, _, _ := newTestServer(t, serverOptions{})

	w := postJSON(srv, "/api/v1/assess", `{"repositoryUrl":"https://github.com/gin-gonic/gin.git"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rep types.AssessmentReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, "gin-gonic", rep.Request.Owner)
	assert.Equal(t, "gin", rep.Request.Repo)
}

func TestAssessEndpointRejectsMalformedInput(t *testing.T) {
	srv, m, _ := newTestServer(t, serverOptions{})

	cases := []struct {
		name string
		body string
	}{
		{"not json", `this is not json`},
		{"empty object", `{}`},
		{"foreign host", `{"repositoryUrl":"https://gitlab.com/a/b"}`},
		{"bad owner charset", `{"owner":"bad!","repo":"ok"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(srv, "/api/v1/assess", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "category")
		})
	}

	assert.EqualValues(t, 0, m.GetStats()["assessments_completed"])
}

func TestAssessEndpointStill200WhenSignalsFail(t *testing.T) {
	cs := healthySet()
	cs[0] = stubCollector{name: types.AllSignals[0], fn: func(context.Context, types.AssessmentRequest) types.SignalResult {
		return types.SignalResult{
			SignalName:    types.AllSignals[0],
			Succeeded:     false,
			Score:         40,
			Confidence:    0.2,
			Metrics:       map[string]any{"estimated": true},
			FailureReason: "source_metadata collection failed: upstream error 503",
		}
	}}
	srv, _, _ := newTestServer(t, serverOptions{cs: cs})

	w := postJSON(srv, "/api/v1/assess", `{"owner":"acme","repo":"svc"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rep types.AssessmentReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	require.Len(t, rep.Limitations, 1)
	assert.Contains(t, rep.Limitations[0], "source_metadata")
}

func TestAssessEndpointPersistsHistory(t *testing.T) {
	store, err := history.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, m, _ := newTestServer(t, serverOptions{store: store})

	w := postJSON(srv, "/api/v1/assess", `{"owner":"vercel","repo":"next.js"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		entries, err := store.Recent(context.Background(), 5)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 20*time.Millisecond, "report should land in history after the response")

	entries, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "vercel", entries[0].Owner)
	assert.Equal(t, "next.js", entries[0].Repo)

	require.Eventually(t, func() bool {
		return m.GetStats()["history_writes"] == int64(1)
	}, 2*time.Second, 20*time.Millisecond)
}

func sampleStoredReport(i int) *types.AssessmentReport {
	return &types.AssessmentReport{
		ID:      fmt.Sprintf("stored-%d", i),
		Request: types.AssessmentRequest{Owner: "acme", Repo: fmt.Sprintf("svc-%d", i)},
		Scores: types.ScoreBreakdown{
			Overall:         float64(60 + i),
			ConfidenceLabel: types.ConfidenceHigh,
		},
		ProcessingTimeMs: 120,
		GeneratedAt:      time.Now().UTC().Add(time.Duration(i) * time.Second),
	}
}

func TestRecentEndpointListsAssessments(t *testing.T) {
	store, err := history.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(context.Background(), sampleStoredReport(i)))
	}

	srv, _, _ := newTestServer(t, serverOptions{store: store})

	w := getPath(srv, "/api/v1/assessments/recent?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Assessments []history.Entry `json:"assessments"`
		Count       int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Count)
	require.Len(t, out.Assessments, 2)
	assert.Equal(t, "svc-2", out.Assessments[0].Repo)
}

func TestRecentEndpointWhenHistoryDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t, serverOptions{})

	w := getPath(srv, "/api/v1/assessments/recent")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "history is disabled")
}

func TestRecentEndpointRejectsBadLimit(t *testing.T) {
	store, err := history.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, _, _ := newTestServer(t, serverOptions{store: store})

	w := getPath(srv, "/api/v1/assessments/recent?limit=abc")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, degradation := newTestServer(t, serverOptions{})
	degradation.RecordRequest("github-api", true)

	w := getPath(srv, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, false, out["history_enabled"])
	assert.Contains(t, out, "services")
	assert.Contains(t, out, "circuit_breakers")
}

func TestHealthEndpointDegraded(t *testing.T) {
	srv, _, degradation := newTestServer(t, serverOptions{})
	degradation.RecordRequest("github-api", false)
	degradation.RecordRequest("github-api", false)

	w := getPath(srv, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, serverOptions{})

	w := postJSON(srv, "/api/v1/assess", `{"owner":"acme","repo":"svc"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = getPath(srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out["assessments_completed"])
	assert.Contains(t, out, "total_requests")
	assert.NotContains(t, out, "rate_limiter")
}

func TestMetricsEndpointIncludesLimiterStats(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(&ratelimit.RedisClient{}, ratelimit.Config{
		IPLimitPerMin: 100,
	}, nil)
	t.Cleanup(limiter.Close)

	srv, _, _ := newTestServer(t, serverOptions{limiter: limiter})

	w := getPath(srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limiter")
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}

func TestCORSPreflightAllowsAnyOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/assess", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	srv, _, _ := newTestServer(t, serverOptions{})

	w := getPath(srv, "/nope")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "route not found")
}
