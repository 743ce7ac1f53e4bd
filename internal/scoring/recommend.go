package scoring

import (
	"sort"

	"github.com/repopulse/repopulse/internal/types"
)

const (
	criticalThreshold  = 40.0
	mediumThreshold    = 70.0
	maxPerSignal       = 3
	maxRecommendations = 8
)

// advice is the generated guidance for one signal at one severity
type advice struct {
	message string
	action  string
}

var criticalAdvice = map[string]advice{
	types.SignalSourceMetadata: {
		message: "Repository activity and community signals are critically weak",
		action:  "Revive maintenance with regular commits and releases, or mark the project as archived",
	},
	types.SignalDocumentation: {
		message: "Documentation is critically sparse",
		action:  "Write a README covering installation, usage and licensing",
	},
	types.SignalDependencies: {
		message: "The dependency tree is in critical condition",
		action:  "Update the most outdated packages and add test and lint scripts",
	},
	types.SignalCodeQuality: {
		message: "Code quality metrics are critically poor",
		action:  "Break up the largest functions and resolve the flagged smells",
	},
}

var mediumAdvice = map[string]advice{
	types.SignalSourceMetadata: {
		message: "Repository activity and community signals are below par",
		action:  "Increase release cadence and respond to open issues to rebuild momentum",
	},
	types.SignalDocumentation: {
		message: "Documentation covers only part of what newcomers need",
		action:  "Extend the README with the missing sections and a few usage examples",
	},
	types.SignalDependencies: {
		message: "Parts of the dependency tree are aging",
		action:  "Schedule regular dependency updates before the gaps grow",
	},
	types.SignalCodeQuality: {
		message: "Code quality metrics show room for improvement",
		action:  "Refactor the files with the lowest scores first",
	},
}

// Recommend merges rule-derived and collector-emitted recommendations.
// Each signal contributes at most maxPerSignal entries, the rule entry
// first; the merged list is ordered by priority with stable origin
// order inside each priority and capped globally.
func Recommend(signals []types.SignalResult, breakdown types.ScoreBreakdown) []types.Recommendation {
	merged := make([]types.Recommendation, 0, maxRecommendations)
	for _, s := range signals {
		score := s.Score
		if v, ok := breakdown.BySignal[s.SignalName]; ok {
			score = v
		}

		perSignal := make([]types.Recommendation, 0, maxPerSignal)
		if rec, ok := thresholdRecommendation(s.SignalName, score); ok {
			perSignal = append(perSignal, rec)
		}
		perSignal = append(perSignal, s.Recommendations...)
		if len(perSignal) > maxPerSignal {
			perSignal = perSignal[:maxPerSignal]
		}
		merged = append(merged, perSignal...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority.Rank() < merged[j].Priority.Rank()
	})

	if len(merged) > maxRecommendations {
		merged = merged[:maxRecommendations]
	}
	return merged
}

// thresholdRecommendation applies the score rule table: below 40 the
// signal draws a critical entry, up to 70 a medium one.
func thresholdRecommendation(signal string, score float64) (types.Recommendation, bool) {
	switch {
	case score < criticalThreshold:
		if a, ok := criticalAdvice[signal]; ok {
			return types.Recommendation{
				Category:        signal,
				Priority:        types.PriorityCritical,
				Message:         a.message,
				SuggestedAction: a.action,
			}, true
		}
	case score <= mediumThreshold:
		if a, ok := mediumAdvice[signal]; ok {
			return types.Recommendation{
				Category:        signal,
				Priority:        types.PriorityMedium,
				Message:         a.message,
				SuggestedAction: a.action,
			}, true
		}
	}
	return types.Recommendation{}, false
}
