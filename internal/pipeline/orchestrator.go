// Package pipeline coordinates one assessment pass: the signal collectors
// fan out concurrently, every slot is filled by a hard deadline, and the
// scoring stages run on whatever came back.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/repopulse/repopulse/internal/collectors"
	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/monitoring"
	"github.com/repopulse/repopulse/internal/report"
	"github.com/repopulse/repopulse/internal/scoring"
	"github.com/repopulse/repopulse/internal/types"
)

// defaultCollectorTimeout bounds one collector when no limit is configured
const defaultCollectorTimeout = 30 * time.Second

// Phase names the orchestrator's position within one assessment pass
type Phase int

const (
	PhasePending Phase = iota
	PhaseCollecting
	PhaseAggregating
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCollecting:
		return "collecting"
	case PhaseAggregating:
		return "aggregating"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Orchestrator fans assessment requests out to the signal collectors and
// folds the results into a report. One collector stalling, failing or
// panicking never affects the others; its slot is filled by the fallback
// estimator instead.
type Orchestrator struct {
	collectors []collectors.Collector
	estimator  *collectors.FallbackEstimator
	assembler  *report.Assembler
	metrics    *monitoring.Metrics
	weights    map[string]float64
	timeout    time.Duration

	// PhaseHook, when set, observes every phase transition
	PhaseHook func(Phase)
}

// New builds an orchestrator over the given collector set. The weights map
// is the validated scoring configuration; timeout is the per-collector wall
// clock budget.
func New(
	cs []collectors.Collector,
	estimator *collectors.FallbackEstimator,
	assembler *report.Assembler,
	metrics *monitoring.Metrics,
	weights map[string]float64,
	timeout time.Duration,
) *Orchestrator {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if timeout <= 0 {
		timeout = defaultCollectorTimeout
	}
	return &Orchestrator{
		collectors: cs,
		estimator:  estimator,
		assembler:  assembler,
		metrics:    metrics,
		weights:    weights,
		timeout:    timeout,
	}
}

// Assess runs the full pipeline for one repository. The only error it can
// return is a validation error for an incomplete request; data availability
// problems surface inside the report, never as errors.
func (o *Orchestrator) Assess(ctx context.Context, req types.AssessmentRequest) (*types.AssessmentReport, error) {
	if req.Owner == "" || req.Repo == "" {
		o.metrics.RecordAssessment(false)
		return nil, errors.NewValidationError("assessment request requires both owner and repo")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	startedAt := time.Now()
	o.enterPhase(PhasePending, req)

	o.enterPhase(PhaseCollecting, req)
	signals := o.collect(ctx, req)

	o.enterPhase(PhaseAggregating, req)
	breakdown := scoring.Aggregate(signals, o.weights)
	recommendations := scoring.Recommend(signals, breakdown)

	rep := o.assembler.Assemble(req, signals, breakdown, recommendations, startedAt)
	o.enterPhase(PhaseDone, req)

	o.metrics.RecordAssessment(true)
	slog.Info("assessment completed",
		"repository", req.Slug(),
		"overall", breakdown.Overall,
		"confidence_label", string(breakdown.ConfidenceLabel),
		"mean_confidence", scoring.MeanConfidence(signals),
		"limitations", len(rep.Limitations),
		"duration_ms", rep.ProcessingTimeMs)

	return rep, nil
}

// collect launches every collector with its own deadline and joins the
// results. A slot whose collector overruns the wall clock is filled with
// estimator output and the straggler's context is cancelled; a late result
// lands in an abandoned buffer and is discarded.
func (o *Orchestrator) collect(ctx context.Context, req types.AssessmentRequest) []types.SignalResult {
	type slot struct {
		name   string
		ch     chan types.SignalResult
		cancel context.CancelFunc
		timer  *time.Timer
	}

	slots := make([]slot, 0, len(o.collectors))
	for _, c := range o.collectors {
		collectCtx, cancel := context.WithTimeout(ctx, o.timeout)
		s := slot{
			name:   c.Name(),
			ch:     make(chan types.SignalResult, 1),
			cancel: cancel,
			timer:  time.NewTimer(o.timeout),
		}
		go o.runCollector(collectCtx, c, req, s.ch)
		slots = append(slots, s)
	}

	results := make([]types.SignalResult, 0, len(slots))
	for _, s := range slots {
		select {
		case res := <-s.ch:
			results = append(results, res)
		case <-s.timer.C:
			slog.Warn("collector overran deadline, estimating",
				"signal", s.name, "repository", req.Slug(), "timeout", o.timeout.String())
			cause := errors.NewTimeoutError(fmt.Sprintf("collector exceeded the %s deadline", o.timeout), nil)
			results = append(results, o.estimator.Estimate(ctx, s.name, req, cause))
		}
		s.timer.Stop()
		s.cancel()
	}

	for _, res := range results {
		if !res.Succeeded {
			o.metrics.RecordCollectorFailure(res.SignalName)
		}
		if estimated, ok := res.Metrics["estimated"].(bool); ok && estimated {
			o.metrics.IncrementFallback()
		}
	}

	return results
}

// runCollector executes one collector, converting a panic into an estimated
// slot so a single bad collector cannot take down the request.
func (o *Orchestrator) runCollector(ctx context.Context, c collectors.Collector, req types.AssessmentRequest, ch chan<- types.SignalResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("collector panicked",
				"signal", c.Name(), "repository", req.Slug(), "panic", r)
			ch <- o.estimator.Estimate(ctx, c.Name(), req, fmt.Errorf("collector panicked: %v", r))
		}
	}()

	ch <- c.Collect(ctx, req)
}

func (o *Orchestrator) enterPhase(phase Phase, req types.AssessmentRequest) {
	if o.PhaseHook != nil {
		o.PhaseHook(phase)
	}
	slog.Debug("pipeline phase", "repository", req.Slug(), "phase", phase.String())
}
