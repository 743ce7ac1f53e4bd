package scoring

import (
	"math"

	"github.com/repopulse/repopulse/internal/types"
)

// completenessBonusMax is awarded in full when every signal slot was
// filled by real collection rather than an estimate.
const completenessBonusMax = 10.0

// structuralSignals are backed by authoritative structured sources.
// Both must succeed before the aggregate confidence is labeled High.
var structuralSignals = []string{
	types.SignalSourceMetadata,
	types.SignalDependencies,
}

// Aggregate folds a set of signal results into a ScoreBreakdown. The
// overall score is the weight-normalized sum of the per-signal scores
// plus the completeness bonus, capped at 100. Pure function: identical
// inputs yield identical breakdowns.
func Aggregate(signals []types.SignalResult, weights map[string]float64) types.ScoreBreakdown {
	bySignal := make(map[string]float64, len(signals))
	used := make(map[string]float64, len(signals))

	weightSum := 0.0
	weighted := 0.0
	for _, s := range signals {
		score := clamp(s.Score, 0, 100)
		bySignal[s.SignalName] = score

		w := weights[s.SignalName]
		if w <= 0 {
			continue
		}
		used[s.SignalName] = w
		weightSum += w
		weighted += score * w
	}

	overall := 0.0
	switch {
	case weightSum > 0:
		// Dividing by the sum renormalizes when a slot is missing or
		// the configured weights do not add up to exactly 1.
		overall = weighted / weightSum
	case len(signals) > 0:
		for _, s := range signals {
			overall += clamp(s.Score, 0, 100)
		}
		overall /= float64(len(signals))
	}

	bonus := completenessBonus(signals)
	overall = clamp(overall+bonus, 0, 100)

	return types.ScoreBreakdown{
		Overall:           round1(overall),
		BySignal:          bySignal,
		Weights:           used,
		CompletenessBonus: bonus,
		ConfidenceLabel:   Label(signals),
	}
}

// completenessBonus rewards the fraction of expected signals collected
// from real data.
func completenessBonus(signals []types.SignalResult) float64 {
	succeeded := 0
	for _, s := range signals {
		if s.Succeeded {
			succeeded++
		}
	}
	return completenessBonusMax * float64(succeeded) / float64(len(types.AllSignals))
}

// Label buckets the result set's trustworthiness. High requires both
// structural signals to have real data; Medium needs at least one real
// collection of any kind; Low means the report is fully estimated.
func Label(signals []types.SignalResult) types.ConfidenceLabel {
	succeededBy := make(map[string]bool, len(signals))
	total := 0
	for _, s := range signals {
		if s.Succeeded {
			succeededBy[s.SignalName] = true
			total++
		}
	}

	structural := 0
	for _, name := range structuralSignals {
		if succeededBy[name] {
			structural++
		}
	}

	switch {
	case structural == len(structuralSignals):
		return types.ConfidenceHigh
	case total > 0:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

// MeanConfidence averages the per-signal confidences. It feeds logs and
// history rows; the weighted score formula deliberately ignores it.
func MeanConfidence(signals []types.SignalResult) float64 {
	if len(signals) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range signals {
		total += clamp(s.Confidence, 0, 1)
	}
	return total / float64(len(signals))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
