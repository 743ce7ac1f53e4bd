package collectors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repopulse/repopulse/internal/adapters"
	"github.com/repopulse/repopulse/internal/resilience"
)

// newTestAdapters wires both adapters against one httptest server with
// retries disabled so failures surface on the first attempt.
func newTestAdapters(t *testing.T, handler http.Handler) (*adapters.GitHubAdapter, *adapters.NPMAdapter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := resilience.NewClient(resilience.ClientConfig{
		Timeout:      2 * time.Second,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, resilience.NewCircuitBreakerRegistry(), resilience.NewDegradationManager(resilience.DefaultDegradationConfig()))

	gh := adapters.NewGitHubAdapter(srv.URL, "", client)
	registry, err := adapters.NewNPMAdapter(srv.URL, client)
	require.NoError(t, err)
	return gh, registry
}

// contentJSON renders a contents-API response body for the given file.
func contentJSON(t *testing.T, name, body string) []byte {
	t.Helper()
	payload := map[string]any{
		"name":     name,
		"path":     name,
		"type":     "file",
		"size":     len(body),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(body)),
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func TestBandsGradeBuckets(t *testing.T) {
	b := bands{5000, 1000, 200, 50}

	assert.Equal(t, 100.0, b.grade(12000))
	assert.Equal(t, 100.0, b.grade(5000))
	assert.Equal(t, 80.0, b.grade(1000))
	assert.Equal(t, 60.0, b.grade(200))
	assert.Equal(t, 40.0, b.grade(50))
	assert.Equal(t, 0.0, b.grade(0))
	assert.Equal(t, 0.0, b.grade(-3))

	// Below the poor band the grade ramps linearly toward zero.
	assert.InDelta(t, 20.0, b.grade(25), 1e-9)
	assert.InDelta(t, 8.0, b.grade(10), 1e-9)
}

func TestBandsGradeInverse(t *testing.T) {
	b := bands{7, 30, 90, 180}

	assert.Equal(t, 100.0, b.gradeInverse(2))
	assert.Equal(t, 100.0, b.gradeInverse(7))
	assert.Equal(t, 80.0, b.gradeInverse(20))
	assert.Equal(t, 60.0, b.gradeInverse(60))
	assert.Equal(t, 40.0, b.gradeInverse(180))

	// Past the poor band the grade decays linearly, hitting zero at
	// twice the poor threshold.
	assert.InDelta(t, 20.0, b.gradeInverse(270), 1e-9)
	assert.Equal(t, 0.0, b.gradeInverse(360))
	assert.Equal(t, 0.0, b.gradeInverse(900))
}

func TestForEachBatchVisitsEverything(t *testing.T) {
	var visited []string
	done := forEachBatch(context.Background(), []string{"a", "b", "c"}, 2, 0, func(s string) {
		visited = append(visited, s)
	})

	assert.True(t, done)
	assert.Equal(t, []string{"a", "b", "c"}, visited)
}

func TestForEachBatchStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var visited []int
	done := forEachBatch(ctx, []int{1, 2, 3, 4}, 2, 50*time.Millisecond, func(v int) {
		visited = append(visited, v)
		cancel()
	})

	assert.False(t, done)
	assert.Equal(t, []int{1, 2}, visited)
}

func TestForEachBatchHandlesOversizedBatch(t *testing.T) {
	count := 0
	done := forEachBatch(context.Background(), []int{1, 2}, 10, time.Hour, func(int) {
		count++
	})

	assert.True(t, done)
	assert.Equal(t, 2, count)
}
