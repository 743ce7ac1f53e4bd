package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func failingCalls(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Call(func() error { return errUpstream })
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
	})

	failingCalls(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	failingCalls(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Call(func() error {
		calls++
		return nil
	})

	require.Error(t, err)
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, 0, calls, "open breaker must not invoke the function")
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 2,
	})

	failingCalls(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerReopensOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 1,
	})

	failingCalls(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	err := cb.Call(func() error { return errUpstream })
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerResetClosesCircuit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	failingCalls(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreakerStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}

func TestRegistryReusesBreakerPerName(t *testing.T) {
	registry := NewCircuitBreakerRegistry()

	first := registry.GetOrCreate("api.github.com", CircuitBreakerConfig{})
	second := registry.GetOrCreate("api.github.com", CircuitBreakerConfig{})
	other := registry.GetOrCreate("registry.npmjs.org", CircuitBreakerConfig{})

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)

	got, ok := registry.Get("api.github.com")
	require.True(t, ok)
	assert.Same(t, first, got)

	_, ok = registry.Get("unknown.example")
	assert.False(t, ok)
}

func TestRegistryStatsAndResetAll(t *testing.T) {
	registry := NewCircuitBreakerRegistry()

	cb := registry.GetOrCreate("api.github.com", CircuitBreakerConfig{FailureThreshold: 1})
	failingCalls(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	stats := registry.GetStats()
	require.Contains(t, stats, "api.github.com")
	entry := stats["api.github.com"].(map[string]interface{})
	assert.Equal(t, "open", entry["state"])

	registry.ResetAll()
	assert.Equal(t, StateClosed, cb.State())
}
