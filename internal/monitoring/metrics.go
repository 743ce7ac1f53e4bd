package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// responseTimeWindow bounds the samples kept for percentile estimates
const responseTimeWindow = 1000

// Metrics holds the process-wide counters exposed on /metrics. Scalar
// counters are updated atomically; keyed counters sit behind mutexes.
type Metrics struct {
	RequestCount         int64
	InFlight             int64
	ErrorCount           int64
	AssessmentsCompleted int64
	AssessmentsFailed    int64
	FallbacksUsed        int64
	RetryAttempts        int64
	RateLimitedCount     int64
	HistoryWrites        int64
	HistoryWriteFailures int64
	AverageResponseTime  int64 // nanoseconds
	StartTime            time.Time

	collectorFailures map[string]int64
	collectorMu       sync.RWMutex

	requestsByStatus map[int]int64
	statusMu         sync.RWMutex

	responseTimes []time.Duration
	responseMu    sync.RWMutex
}

// NewMetrics creates a zeroed metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:         time.Now(),
		collectorFailures: make(map[string]int64),
		requestsByStatus:  make(map[int]int64),
		responseTimes:     make([]time.Duration, 0, responseTimeWindow),
	}
}

// RequestStarted counts an inbound request entering the handler chain
func (m *Metrics) RequestStarted() {
	atomic.AddInt64(&m.RequestCount, 1)
	atomic.AddInt64(&m.InFlight, 1)
}

// RequestFinished records the outcome of a completed inbound request
func (m *Metrics) RequestFinished(statusCode int, duration time.Duration) {
	atomic.AddInt64(&m.InFlight, -1)
	if statusCode >= 400 {
		atomic.AddInt64(&m.ErrorCount, 1)
	}

	m.recordResponseTime(duration)

	m.statusMu.Lock()
	m.requestsByStatus[statusCode]++
	m.statusMu.Unlock()
}

// RecordAssessment counts a finished assessment run
func (m *Metrics) RecordAssessment(succeeded bool) {
	if succeeded {
		atomic.AddInt64(&m.AssessmentsCompleted, 1)
	} else {
		atomic.AddInt64(&m.AssessmentsFailed, 1)
	}
}

// RecordCollectorFailure counts a signal slot that did not collect real data
func (m *Metrics) RecordCollectorFailure(signal string) {
	m.collectorMu.Lock()
	m.collectorFailures[signal]++
	m.collectorMu.Unlock()
}

// IncrementFallback counts a slot filled by the fallback estimator
func (m *Metrics) IncrementFallback() {
	atomic.AddInt64(&m.FallbacksUsed, 1)
}

// IncrementRetry counts one retried outbound attempt
func (m *Metrics) IncrementRetry() {
	atomic.AddInt64(&m.RetryAttempts, 1)
}

// IncrementRateLimited counts an inbound request rejected by the limiter
func (m *Metrics) IncrementRateLimited() {
	atomic.AddInt64(&m.RateLimitedCount, 1)
}

// RecordHistoryWrite counts an attempt to persist an assessment summary
func (m *Metrics) RecordHistoryWrite(succeeded bool) {
	atomic.AddInt64(&m.HistoryWrites, 1)
	if !succeeded {
		atomic.AddInt64(&m.HistoryWriteFailures, 1)
	}
}

// recordResponseTime keeps a bounded sample window for percentiles and
// a crude running average for the headline stat.
func (m *Metrics) recordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	atomic.StoreInt64(&m.AverageResponseTime, (current+duration.Nanoseconds())/2)

	m.responseMu.Lock()
	m.responseTimes = append(m.responseTimes, duration)
	if len(m.responseTimes) > responseTimeWindow {
		m.responseTimes = m.responseTimes[1:]
	}
	m.responseMu.Unlock()
}

// GetPercentileResponseTime returns the given percentile over the
// retained sample window
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.responseMu.RLock()
	defer m.responseMu.RUnlock()

	if len(m.responseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.responseTimes))
	copy(times, m.responseTimes)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// CollectorFailureCounts returns a copy of the per-signal failure counters
func (m *Metrics) CollectorFailureCounts() map[string]int64 {
	m.collectorMu.RLock()
	defer m.collectorMu.RUnlock()

	counts := make(map[string]int64, len(m.collectorFailures))
	for signal, count := range m.collectorFailures {
		counts[signal] = count
	}
	return counts
}

// StatusCodeDistribution returns a copy of the per-status request counters
func (m *Metrics) StatusCodeDistribution() map[int]int64 {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()

	distribution := make(map[int]int64, len(m.requestsByStatus))
	for code, count := range m.requestsByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetStats returns the current counters as a flat snapshot
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":           time.Since(m.StartTime).Seconds(),
		"start_time":               m.StartTime.Format(time.RFC3339),
		"total_requests":           requests,
		"in_flight":                atomic.LoadInt64(&m.InFlight),
		"error_count":              errors,
		"error_rate_percent":       errorRate,
		"assessments_completed":    atomic.LoadInt64(&m.AssessmentsCompleted),
		"assessments_failed":       atomic.LoadInt64(&m.AssessmentsFailed),
		"fallbacks_used":           atomic.LoadInt64(&m.FallbacksUsed),
		"retry_attempts":           atomic.LoadInt64(&m.RetryAttempts),
		"rate_limited":             atomic.LoadInt64(&m.RateLimitedCount),
		"history_writes":           atomic.LoadInt64(&m.HistoryWrites),
		"history_write_failures":   atomic.LoadInt64(&m.HistoryWriteFailures),
		"collector_failures":       m.CollectorFailureCounts(),
		"status_code_distribution": m.StatusCodeDistribution(),
		"avg_response_time_ms":     float64(atomic.LoadInt64(&m.AverageResponseTime)) / 1e6,
		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1e6,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1e6,
		"p99_response_time_ms":     float64(m.GetPercentileResponseTime(99)) / 1e6,
	}
}

// Reset zeroes every counter. Useful for tests.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.RequestCount, 0)
	atomic.StoreInt64(&m.InFlight, 0)
	atomic.StoreInt64(&m.ErrorCount, 0)
	atomic.StoreInt64(&m.AssessmentsCompleted, 0)
	atomic.StoreInt64(&m.AssessmentsFailed, 0)
	atomic.StoreInt64(&m.FallbacksUsed, 0)
	atomic.StoreInt64(&m.RetryAttempts, 0)
	atomic.StoreInt64(&m.RateLimitedCount, 0)
	atomic.StoreInt64(&m.HistoryWrites, 0)
	atomic.StoreInt64(&m.HistoryWriteFailures, 0)
	atomic.StoreInt64(&m.AverageResponseTime, 0)

	m.collectorMu.Lock()
	m.collectorFailures = make(map[string]int64)
	m.collectorMu.Unlock()

	m.statusMu.Lock()
	m.requestsByStatus = make(map[int]int64)
	m.statusMu.Unlock()

	m.responseMu.Lock()
	m.responseTimes = m.responseTimes[:0]
	m.responseMu.Unlock()

	m.StartTime = time.Now()
}
