package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repopulse/repopulse/internal/collectors"
	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/monitoring"
	"github.com/repopulse/repopulse/internal/report"
	"github.com/repopulse/repopulse/internal/types"
)

type stubCollector struct {
	name string
	fn   func(ctx context.Context, req types.AssessmentRequest) types.SignalResult
}

func (s *stubCollector) Name() string { return s.name }

func (s *stubCollector) Collect(ctx context.Context, req types.AssessmentRequest) types.SignalResult {
	return s.fn(ctx, req)
}

func healthyCollector(name string, score float64) collectors.Collector {
	return &stubCollector{name: name, fn: func(context.Context, types.AssessmentRequest) types.SignalResult {
		return types.SignalResult{
			SignalName: name,
			Succeeded:  true,
			Score:      score,
			Confidence: 0.9,
			Metrics:    map[string]any{},
		}
	}}
}

func equalWeights() map[string]float64 {
	return map[string]float64{
		types.SignalSourceMetadata: 0.25,
		types.SignalDocumentation:  0.25,
		types.SignalDependencies:   0.25,
		types.SignalCodeQuality:    0.25,
	}
}

func newTestOrchestrator(cs []collectors.Collector, timeout time.Duration, m *monitoring.Metrics) *Orchestrator {
	return New(cs, collectors.NewFallbackEstimator(), report.NewAssembler(), m, equalWeights(), timeout)
}

func TestAssessFillsEverySlot(t *testing.T) {
	m := monitoring.NewMetrics()
	o := newTestOrchestrator([]collectors.Collector{
		healthyCollector(types.SignalSourceMetadata, 90),
		healthyCollector(types.SignalDocumentation, 85),
		healthyCollector(types.SignalDependencies, 70),
		healthyCollector(types.SignalCodeQuality, 95),
	}, time.Second, m)

	var phases []Phase
	o.PhaseHook = func(p Phase) { phases = append(phases, p) }

	rep, err := o.Assess(context.Background(), types.AssessmentRequest{Owner: "acme", Repo: "rocket"})

	require.NoError(t, err)
	require.Len(t, rep.Signals, 4)
	assert.InDelta(t, 95.0, rep.Scores.Overall, 0.001)
	assert.Equal(t, types.ConfidenceHigh, rep.Scores.ConfidenceLabel)
	assert.Empty(t, rep.Limitations)
	assert.Equal(t, []Phase{PhasePending, PhaseCollecting, PhaseAggregating, PhaseDone}, phases)

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats["assessments_completed"])
	assert.Equal(t, int64(0), stats["fallbacks_used"])
}

func TestAssessEstimatesSlotWhenCollectorOverrunsDeadline(t *testing.T) {
	m := monitoring.NewMetrics()
	stuck := &stubCollector{name: types.SignalDependencies, fn: func(context.Context, types.AssessmentRequest) types.SignalResult {
		time.Sleep(300 * time.Millisecond)
		return types.SignalResult{SignalName: types.SignalDependencies, Succeeded: true, Score: 100}
	}}
	o := newTestOrchestrator([]collectors.Collector{
		healthyCollector(types.SignalSourceMetadata, 90),
		healthyCollector(types.SignalDocumentation, 85),
		stuck,
		healthyCollector(types.SignalCodeQuality, 75),
	}, 40*time.Millisecond, m)

	start := time.Now()
	rep, err := o.Assess(context.Background(), types.AssessmentRequest{Owner: "acme", Repo: "rocket"})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "the barrier must not wait for the straggler")
	require.Len(t, rep.Signals, 4)

	deps := rep.SignalByName(types.SignalDependencies)
	require.NotNil(t, deps)
	assert.False(t, deps.Succeeded)
	assert.Equal(t, true, deps.Metrics["estimated"])
	assert.LessOrEqual(t, deps.Confidence, 0.3)
	assert.Contains(t, deps.FailureReason, "deadline")

	assert.Equal(t, types.ConfidenceMedium, rep.Scores.ConfidenceLabel)
	require.Len(t, rep.Limitations, 1)
	assert.Contains(t, rep.Limitations[0], types.SignalDependencies)

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats["fallbacks_used"])
	assert.Equal(t, int64(1), m.CollectorFailureCounts()[types.SignalDependencies])
}

func TestAssessContainsCollectorPanic(t *testing.T) {
	m := monitoring.NewMetrics()
	exploding := &stubCollector{name: types.SignalCodeQuality, fn: func(context.Context, types.AssessmentRequest) types.SignalResult {
		panic("nil map write")
	}}
	o := newTestOrchestrator([]collectors.Collector{
		healthyCollector(types.SignalSourceMetadata, 90),
		healthyCollector(types.SignalDocumentation, 85),
		healthyCollector(types.SignalDependencies, 70),
		exploding,
	}, time.Second, m)

	rep, err := o.Assess(context.Background(), types.AssessmentRequest{Owner: "acme", Repo: "rocket"})

	require.NoError(t, err)
	require.Len(t, rep.Signals, 4)

	quality := rep.SignalByName(types.SignalCodeQuality)
	require.NotNil(t, quality)
	assert.False(t, quality.Succeeded)
	assert.Contains(t, quality.FailureReason, "collector panicked: nil map write")

	// Both structural signals still succeeded
	assert.Equal(t, types.ConfidenceHigh, rep.Scores.ConfidenceLabel)
	assert.Equal(t, int64(1), m.CollectorFailureCounts()[types.SignalCodeQuality])
}

func TestAssessRunsCollectorsConcurrently(t *testing.T) {
	slow := func(name string) collectors.Collector {
		return &stubCollector{name: name, fn: func(context.Context, types.AssessmentRequest) types.SignalResult {
			time.Sleep(60 * time.Millisecond)
			return types.SignalResult{SignalName: name, Succeeded: true, Score: 80, Confidence: 0.9}
		}}
	}
	o := newTestOrchestrator([]collectors.Collector{
		slow(types.SignalSourceMetadata),
		slow(types.SignalDocumentation),
		slow(types.SignalDependencies),
		slow(types.SignalCodeQuality),
	}, time.Second, monitoring.NewMetrics())

	start := time.Now()
	rep, err := o.Assess(context.Background(), types.AssessmentRequest{Owner: "acme", Repo: "rocket"})

	require.NoError(t, err)
	assert.Empty(t, rep.Limitations)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "collectors must fan out, not run in sequence")
}

func TestAssessRejectsIncompleteRequest(t *testing.T) {
	m := monitoring.NewMetrics()
	o := newTestOrchestrator(nil, time.Second, m)

	for _, req := range []types.AssessmentRequest{
		{Owner: "", Repo: "rocket"},
		{Owner: "acme", Repo: ""},
		{},
	} {
		rep, err := o.Assess(context.Background(), req)
		require.Error(t, err)
		assert.Nil(t, rep)
		assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
	}

	assert.Equal(t, int64(3), m.GetStats()["assessments_failed"])
}

func TestNewAppliesDefaults(t *testing.T) {
	o := New(nil, collectors.NewFallbackEstimator(), report.NewAssembler(), nil, equalWeights(), 0)

	assert.Equal(t, defaultCollectorTimeout, o.timeout)
	assert.NotNil(t, o.metrics)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "pending", PhasePending.String())
	assert.Equal(t, "collecting", PhaseCollecting.String())
	assert.Equal(t, "aggregating", PhaseAggregating.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
