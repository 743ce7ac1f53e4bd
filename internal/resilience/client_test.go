package resilience

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repopulse/repopulse/internal/errors"
)

func newTestClient(maxRetries int) *Client {
	cfg := ClientConfig{
		Timeout:      2 * time.Second,
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
	return NewClient(cfg, NewCircuitBreakerRegistry(), NewDegradationManager(DefaultDegradationConfig()))
}

func TestFetchReturnsBody(t *testing.T) {
	var gotUserAgent, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(0)
	body, err := client.Fetch(context.Background(), server.URL, &FetchOptions{
		Headers: map[string]string{"Accept": "application/vnd.github+json"},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, "repopulse/1.0", gotUserAgent)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
}

func TestFetchRetriesTransientServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	client := newTestClient(2)
	body, err := client.Fetch(context.Background(), server.URL, nil)

	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchFailsFastOnNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(2)
	_, err := client.Fetch(context.Background(), server.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "missing resources must not be retried")
}

func TestFetchFailsFastOnAuthFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(2)
	_, err := client.Fetch(context.Background(), server.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.IsAuthFailed(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchRetriesRateLimitsAndSurfacesThem(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(1)
	_, err := client.Fetch(context.Background(), server.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchTreatsExhaustedGitHubQuotaAsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(0)
	_, err := client.Fetch(context.Background(), server.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
}

func TestFetchClassifiesSlowUpstreamAsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(0)
	_, err := client.Fetch(context.Background(), server.URL, &FetchOptions{Timeout: 20 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	client := newTestClient(0)

	_, err := client.Fetch(context.Background(), "://not-a-url", nil)

	require.Error(t, err)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
}

func TestFetchJSONDecodesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"hono","stars":42}`))
	}))
	defer server.Close()

	var payload struct {
		Name  string `json:"name"`
		Stars int    `json:"stars"`
	}

	client := newTestClient(0)
	require.NoError(t, client.FetchJSON(context.Background(), server.URL, nil, &payload))
	assert.Equal(t, "hono", payload.Name)
	assert.Equal(t, 42, payload.Stars)
}

func TestFetchJSONSurfacesParseErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"name": truncated`))
	}))
	defer server.Close()

	var payload map[string]interface{}

	client := newTestClient(2)
	err := client.FetchJSON(context.Background(), server.URL, nil, &payload)

	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "malformed payloads must not be retried")
}

func TestFetchOpensCircuitAfterRepeatedFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(0)

	for i := 0; i < 5; i++ {
		_, err := client.Fetch(context.Background(), server.URL, nil)
		require.Error(t, err)
	}
	require.Equal(t, int32(5), atomic.LoadInt32(&calls))

	_, err := client.Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls), "open circuit must short-circuit the call")
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
}
