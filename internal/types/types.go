package types

import "time"

// Signal names used as stable keys in weights, breakdowns and metrics
const (
	SignalSourceMetadata = "source_metadata"
	SignalDocumentation  = "documentation"
	SignalDependencies   = "dependencies"
	SignalCodeQuality    = "code_quality"
)

// AllSignals lists every signal slot the orchestrator must fill, in
// presentation order.
var AllSignals = []string{
	SignalSourceMetadata,
	SignalDocumentation,
	SignalDependencies,
	SignalCodeQuality,
}

// Priority classifies how urgently a recommendation should be acted on
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank of a priority, lower is more urgent
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// ConfidenceLabel buckets the aggregate confidence for presentation
type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "High"
	ConfidenceMedium ConfidenceLabel = "Medium"
	ConfidenceLow    ConfidenceLabel = "Low"
)

// Rank returns the ordering of a confidence label, higher is better
func (l ConfidenceLabel) Rank() int {
	switch l {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// RiskLevel is the severity tier derived from dependency version-age divergence
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// AssessmentRequest identifies the repository to assess. Immutable, one per call.
type AssessmentRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// Slug returns the owner/repo form used in logs and messages
func (r AssessmentRequest) Slug() string {
	return r.Owner + "/" + r.Repo
}

// Recommendation is one actionable suggestion derived from a signal
type Recommendation struct {
	Category        string   `json:"category"`
	Priority        Priority `json:"priority"`
	Message         string   `json:"message"`
	SuggestedAction string   `json:"suggestedAction"`
}

// SignalResult is the typed outcome of one signal's collection attempt.
// It is always present, even on failure, and never mutated after creation.
type SignalResult struct {
	SignalName      string           `json:"signalName"`
	Succeeded       bool             `json:"succeeded"`
	Score           float64          `json:"score"`
	Confidence      float64          `json:"confidence"`
	Metrics         map[string]any   `json:"metrics"`
	Recommendations []Recommendation `json:"recommendations"`
	FailureReason   string           `json:"failureReason,omitempty"`
}

// ScoreBreakdown is the fully derived scoring output, recomputed per request
type ScoreBreakdown struct {
	Overall           float64            `json:"overall"`
	BySignal          map[string]float64 `json:"bySignal"`
	Weights           map[string]float64 `json:"weights"`
	CompletenessBonus float64            `json:"completenessBonus"`
	ConfidenceLabel   ConfidenceLabel    `json:"confidenceLabel"`
}

// AssessmentReport is the complete result handed to the caller. It is owned
// by the assembler for the lifetime of one request and discarded afterwards.
type AssessmentReport struct {
	ID               string            `json:"id"`
	Request          AssessmentRequest `json:"request"`
	Signals          []SignalResult    `json:"signals"`
	Scores           ScoreBreakdown    `json:"scores"`
	Recommendations  []Recommendation  `json:"recommendations"`
	Limitations      []string          `json:"limitations"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
	GeneratedAt      time.Time         `json:"generatedAt"`
}

// SignalByName returns the result filling the named slot, or nil
func (r *AssessmentReport) SignalByName(name string) *SignalResult {
	for i := range r.Signals {
		if r.Signals[i].SignalName == name {
			return &r.Signals[i]
		}
	}
	return nil
}
