package collectors

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/repopulse/repopulse/internal/types"
)

// Owners whose repositories can be assumed to have real traction even
// when the hosting API is unreachable.
var knownOwners = map[string]struct{}{
	"angular":         {},
	"apache":          {},
	"aws":             {},
	"dotnet":          {},
	"facebook":        {},
	"golang":          {},
	"google":          {},
	"hashicorp":       {},
	"kubernetes":      {},
	"microsoft":       {},
	"mozilla":         {},
	"netflix":         {},
	"nodejs":          {},
	"openai":          {},
	"rails":           {},
	"rust-lang":       {},
	"spring-projects": {},
	"sveltejs":        {},
	"torvalds":        {},
	"vercel":          {},
	"vuejs":           {},
}

// Conservative defaults per signal when nothing can be measured.
var defaultEstimates = map[string]float64{
	types.SignalSourceMetadata: 40,
	types.SignalDocumentation:  30,
	types.SignalDependencies:   50,
	types.SignalCodeQuality:    40,
}

// Repository name fragments that hint at the implementation language.
// Framework names come first so "django-helpers" is not read as Go.
var languageHints = []struct {
	marker   string
	language string
}{
	{"react", "JavaScript"},
	{"vue", "JavaScript"},
	{"svelte", "JavaScript"},
	{"node", "JavaScript"},
	{"django", "Python"},
	{"flask", "Python"},
	{"rails", "Ruby"},
	{"spring", "Java"},
	{"python-", "Python"},
	{"-py", "Python"},
	{"go-", "Go"},
	{"-go", "Go"},
	{"rust-", "Rust"},
	{"-rs", "Rust"},
	{"-js", "JavaScript"},
	{"-ts", "TypeScript"},
	{"-rb", "Ruby"},
	{"-java", "Java"},
}

const (
	estimateConfidence        = 0.2
	trustedEstimateConfidence = 0.3
)

// FallbackEstimator fills a signal slot with a conservative guess when
// the primary data source is unreachable. Estimates are deterministic
// for a given request so repeated assessments of the same repository
// degrade the same way.
type FallbackEstimator struct{}

func NewFallbackEstimator() *FallbackEstimator { return &FallbackEstimator{} }

// Estimate produces a degraded-confidence substitute result. The cause
// is surfaced verbatim in the failure reason so callers can tell an
// exhausted rate limit from a missing repository.
func (e *FallbackEstimator) Estimate(ctx context.Context, signalName string, req types.AssessmentRequest, cause error) types.SignalResult {
	score, ok := defaultEstimates[signalName]
	if !ok {
		score = 40
	}
	confidence := estimateConfidence

	_, trusted := knownOwners[strings.ToLower(req.Owner)]
	if trusted && signalName == types.SignalSourceMetadata {
		score = 60
		confidence = trustedEstimateConfidence
	}

	// Deterministic wobble per repository name so distinct repositories
	// do not all collapse onto one value.
	rng := rand.New(rand.NewSource(int64(len(req.Owner)*31 + len(req.Repo))))
	score = clamp(score+float64(rng.Intn(7)-3), 0, 100)

	reason := fmt.Sprintf("%s collection failed: primary data source unavailable", signalName)
	if cause != nil {
		reason = fmt.Sprintf("%s collection failed: %v", signalName, cause)
	}

	metrics := map[string]any{
		"estimated":   true,
		"known_owner": trusted,
	}
	if lang := guessLanguage(req.Repo); lang != "" {
		metrics["language_guess"] = lang
	}

	return types.SignalResult{
		SignalName:    signalName,
		Succeeded:     false,
		Score:         score,
		Confidence:    confidence,
		Metrics:       metrics,
		FailureReason: reason,
		Recommendations: []types.Recommendation{{
			Category:        signalName,
			Priority:        types.PriorityLow,
			Message:         fmt.Sprintf("The %s signal was estimated, not measured", signalName),
			SuggestedAction: "Re-run the assessment once the data source is reachable, or configure an API token",
		}},
	}
}

func guessLanguage(repo string) string {
	name := strings.ToLower(repo)
	for _, hint := range languageHints {
		if strings.Contains(name, hint.marker) {
			return hint.language
		}
	}
	return ""
}
