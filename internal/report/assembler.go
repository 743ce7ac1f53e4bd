// Package report builds the final assessment payload handed to callers.
package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/repopulse/repopulse/internal/types"
)

// genericLimitation is used when a degraded signal carries no reason of its own
const genericLimitation = "primary data source unavailable, values are estimates"

// Assembler composes AssessmentReports from pipeline outputs. Each report is
// built once, owned by the caller, and never mutated afterwards.
type Assembler struct{}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble builds the report for one request. Signals are reordered into the
// canonical presentation order, every degraded signal contributes one
// limitation line, and the processing time is measured from startedAt.
func (a *Assembler) Assemble(
	req types.AssessmentRequest,
	signals []types.SignalResult,
	breakdown types.ScoreBreakdown,
	recommendations []types.Recommendation,
	startedAt time.Time,
) *types.AssessmentReport {
	ordered := orderSignals(signals)

	return &types.AssessmentReport{
		ID:               uuid.NewString(),
		Request:          req,
		Signals:          ordered,
		Scores:           breakdown,
		Recommendations:  recommendations,
		Limitations:      limitations(ordered),
		ProcessingTimeMs: time.Since(startedAt).Milliseconds(),
		GeneratedAt:      time.Now().UTC(),
	}
}

// orderSignals arranges results into AllSignals order. Results with names
// outside the known slots are kept at the tail rather than dropped.
func orderSignals(signals []types.SignalResult) []types.SignalResult {
	ordered := make([]types.SignalResult, 0, len(signals))
	seen := make(map[string]bool, len(signals))

	for _, name := range types.AllSignals {
		for _, s := range signals {
			if s.SignalName == name {
				ordered = append(ordered, s)
				seen[name] = true
				break
			}
		}
	}
	for _, s := range signals {
		if !seen[s.SignalName] {
			ordered = append(ordered, s)
		}
	}

	return ordered
}

// limitations lists every signal that could not be collected first-hand
func limitations(signals []types.SignalResult) []string {
	var out []string
	for _, s := range signals {
		if s.Succeeded {
			continue
		}
		reason := s.FailureReason
		if reason == "" {
			reason = genericLimitation
		}
		out = append(out, fmt.Sprintf("%s: %s", s.SignalName, reason))
	}
	return out
}
