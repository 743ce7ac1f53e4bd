package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/repopulse/repopulse/internal/errors"
)

// ClientConfig holds configuration for the resilient HTTP client
type ClientConfig struct {
	Timeout       time.Duration // Per-attempt deadline
	MaxRetries    int           // Retries after the first attempt
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	UserAgent     string
	MaxBodyBytes  int64
	OnRetry       func() // Invoked before each retry attempt, for counters
}

// DefaultClientConfig returns sensible defaults for upstream API calls
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:       12 * time.Second,
		MaxRetries:    2,
		InitialDelay:  300 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		UserAgent:     "repopulse/1.0",
		MaxBodyBytes:  10 << 20,
	}
}

// FetchOptions carries per-call overrides for Fetch
type FetchOptions struct {
	Headers map[string]string
	Timeout time.Duration // Overrides the client's per-attempt deadline
}

// Client is an HTTP client for upstream APIs. Every fetch runs behind a
// per-host circuit breaker, retries transient failures with exponential
// backoff, and returns categorized errors so callers can distinguish
// missing resources from degraded upstreams.
type Client struct {
	httpClient  *http.Client
	config      ClientConfig
	breakers    *CircuitBreakerRegistry
	degradation *DegradationManager
}

// NewClient creates a resilient client. The breaker registry and degradation
// manager are shared so every caller sees the same upstream state.
func NewClient(config ClientConfig, breakers *CircuitBreakerRegistry, degradation *DegradationManager) *Client {
	defaults := DefaultClientConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffFactor <= 1 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxConnsPerHost:       20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		// The per-attempt deadline comes from the request context, so the
		// http.Client itself carries no timeout.
		httpClient:  &http.Client{Transport: transport},
		config:      config,
		breakers:    breakers,
		degradation: degradation,
	}
}

// Fetch performs a GET against the URL and returns the response body.
// Transient failures (connection errors, timeouts, 5xx, 408, 429) are
// retried; definitive answers (404, 401/403, 422) fail immediately with
// a categorized error.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts *FetchOptions) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid fetch url: %q", rawURL))
	}
	host := parsed.Host

	timeout := c.config.Timeout
	var headers map[string]string
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		headers = opts.Headers
	}

	retryConfig := RetryConfig{
		MaxAttempts:   c.config.MaxRetries + 1,
		InitialDelay:  c.config.InitialDelay,
		MaxDelay:      c.config.MaxDelay,
		BackoffFactor: c.config.BackoffFactor,
		JitterEnabled: true,
		RetryableErrors: func(err error) bool {
			return errors.IsRetryableError(err)
		},
		OnRetry: c.config.OnRetry,
	}

	breaker := c.breakers.GetOrCreate(host, CircuitBreakerConfig{})

	var body []byte
	err = breaker.Call(func() error {
		return RetryWithConfig(ctx, retryConfig, func() error {
			data, attemptErr := c.doAttempt(ctx, rawURL, host, timeout, headers)
			if attemptErr != nil {
				return attemptErr
			}
			body = data
			return nil
		})
	})
	if err != nil {
		if cbErr, ok := err.(*CircuitBreakerError); ok {
			slog.Warn("Skipping upstream call, circuit open", "host", host)
			return nil, errors.NewExternalAPIError(host, cbErr)
		}
		return nil, errors.ToAppError(err)
	}

	return body, nil
}

// FetchJSON fetches the URL and decodes the body into v. Malformed payloads
// surface as parse errors, which are never retried.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, opts *FetchOptions, v interface{}) error {
	data, err := c.Fetch(ctx, rawURL, opts)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewParseError(fmt.Sprintf("decoding response from %s", rawURL), err)
	}

	return nil
}

// doAttempt executes a single request attempt with its own deadline and
// records the outcome for upstream health tracking.
func (c *Client) doAttempt(ctx context.Context, rawURL, host string, timeout time.Duration, headers map[string]string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("building request for %s: %v", rawURL, err))
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		appErr := errors.ToAppError(err)
		c.degradation.RecordError(host, appErr)
		slog.Warn("Upstream request failed",
			"url", rawURL, "error", err, "duration_ms", duration.Milliseconds())
		return nil, appErr
	}
	defer errors.SafeClose(resp.Body, "response body")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
		if readErr != nil {
			appErr := errors.ToAppError(readErr)
			c.degradation.RecordError(host, appErr)
			return nil, appErr
		}
		c.degradation.RecordRequest(host, true)
		slog.Debug("Upstream request completed",
			"url", rawURL, "status", resp.StatusCode, "bytes", len(data), "duration_ms", duration.Milliseconds())
		return data, nil
	}

	// Drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	appErr := c.statusToError(resp, rawURL, host)
	if errors.IsRetryableError(appErr) {
		// The upstream itself is struggling
		c.degradation.RecordError(host, appErr)
	} else {
		// A definitive answer still counts as a healthy upstream
		c.degradation.RecordRequest(host, true)
	}

	slog.Debug("Upstream returned error status",
		"url", rawURL, "status", resp.StatusCode, "category", string(appErr.Category), "duration_ms", duration.Milliseconds())
	return nil, appErr
}

// statusToError maps an HTTP error status to the error taxonomy
func (c *Client) statusToError(resp *http.Response, rawURL, host string) *errors.AppError {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.NewNotFoundError(rawURL)

	case http.StatusUnauthorized:
		return errors.NewAuthError(fmt.Sprintf("%s rejected credentials", host))

	case http.StatusForbidden:
		// GitHub reports exhausted quotas as 403 with a zeroed remaining count
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return errors.NewRateLimitError(retryAfterHint(resp))
		}
		return errors.NewAuthError(fmt.Sprintf("%s denied access", host))

	case http.StatusUnprocessableEntity:
		return errors.NewValidationError(fmt.Sprintf("%s rejected the request: %s", host, resp.Status))

	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(retryAfterHint(resp))

	case http.StatusRequestTimeout:
		return errors.NewTimeoutError(fmt.Sprintf("%s timed out serving %s", host, rawURL), nil)
	}

	if resp.StatusCode >= 500 {
		return errors.NewNetworkError(fmt.Sprintf("upstream error %d from %s", resp.StatusCode, host), nil)
	}

	return errors.NewValidationError(fmt.Sprintf("unexpected status %s from %s", resp.Status, host))
}

// retryAfterHint extracts the upstream's retry hint, falling back to the
// GitHub-style reset timestamp when Retry-After is absent.
func retryAfterHint(resp *http.Response) string {
	if after := resp.Header.Get("Retry-After"); after != "" {
		return after
	}

	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if ts, err := strconv.ParseInt(reset, 10, 64); err == nil {
			wait := time.Until(time.Unix(ts, 0))
			if wait > 0 {
				return strconv.Itoa(int(wait.Seconds()) + 1)
			}
		}
	}

	return "60"
}
