package collectors

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/repopulse/repopulse/internal/adapters"
	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/types"
)

// sectionRule describes one canonical README section: its name, its
// share of the completeness weight and the pattern that detects it.
type sectionRule struct {
	name    string
	weight  float64
	pattern *regexp.Regexp
}

// Section weights sum to 1.0; completeness is the weight sum of the
// sections actually found.
var readmeSections = []sectionRule{
	{"title", 0.15, regexp.MustCompile(`(?m)^(?:#{1,2}[ \t]+\S|={3,}[ \t]*$)`)},
	{"description", 0.15, regexp.MustCompile(`(?m)^[A-Za-z][^\n]{59,}$`)},
	{"installation", 0.20, regexp.MustCompile(`(?im)^#{1,6}[^\n]*\b(?:install(?:ation)?|getting started|setup)\b|\b(?:npm (?:i|install)|yarn add|pnpm add|pip install|go get|cargo add|gem install)\b`)},
	{"usage", 0.20, regexp.MustCompile(`(?im)^#{1,6}[^\n]*\b(?:usage|how to use|quick\s?start)\b`)},
	{"license", 0.10, regexp.MustCompile(`(?im)^#{1,6}[^\n]*\blicen[cs]e\b|\blicensed under\b|\[licen[cs]e[^\]]*\]`)},
	{"contributing", 0.10, regexp.MustCompile(`(?im)^#{1,6}[^\n]*\bcontribut(?:e|ing|ions?)\b|contributing\.md`)},
	{"examples", 0.05, regexp.MustCompile(`(?im)^#{1,6}[^\n]*\bexamples?\b|\bexamples?/`)},
	{"reference", 0.05, regexp.MustCompile(`(?im)https?://[^\s)>"]*(?:docs|documentation|wiki|reference)[^\s)>"]*|^#{1,6}[^\n]*\bdocumentation\b`)},
}

var (
	badgePattern = regexp.MustCompile(`(?i)!\[[^\]]*\]\([^)]*(?:shields\.io|badge|travis-ci|circleci|codecov|coveralls|appveyor|actions)[^)]*\)|<img[^>]*(?:shields\.io|badge)[^>]*>`)
	linkPattern  = regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`)
)

const (
	maxCountedBadges  = 4
	docsConfidence    = 0.9
	missingConfidence = 0.6
)

// DocumentationCollector fetches the repository README and scores it on
// section completeness, badge coverage and content quality.
type DocumentationCollector struct {
	github    *adapters.GitHubAdapter
	estimator *FallbackEstimator
}

func NewDocumentationCollector(github *adapters.GitHubAdapter, estimator *FallbackEstimator) *DocumentationCollector {
	return &DocumentationCollector{github: github, estimator: estimator}
}

func (c *DocumentationCollector) Name() string { return types.SignalDocumentation }

func (c *DocumentationCollector) Collect(ctx context.Context, req types.AssessmentRequest) types.SignalResult {
	content, err := c.github.GetReadme(ctx, req.Owner, req.Repo)
	if err != nil {
		if errors.IsNotFound(err) {
			// A missing README is a finding about the repository, not a
			// data-source failure, so it is scored here and not estimated.
			return missingDocumentation(false, "no README found in the repository")
		}
		return c.estimator.Estimate(ctx, types.SignalDocumentation, req, err)
	}

	raw, err := content.Decode()
	if err != nil {
		return missingDocumentation(true, "README could not be decoded")
	}
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return missingDocumentation(true, "README is empty")
	}

	completeness := 0.0
	found := make([]string, 0, len(readmeSections))
	for _, rule := range readmeSections {
		if rule.pattern.MatchString(text) {
			completeness += rule.weight
			found = append(found, rule.name)
		}
	}

	badges := len(badgePattern.FindAllString(text, -1))
	badgeCoverage := math.Min(float64(badges), maxCountedBadges) / maxCountedBadges

	words := len(strings.Fields(text))
	codeBlocks := strings.Count(text, "```") / 2
	links := len(linkPattern.FindAllString(text, -1))
	quality := 0.4*clamp(float64(words)/300, 0, 1) +
		0.3*clamp(float64(codeBlocks)/3, 0, 1) +
		0.3*clamp(float64(links)/5, 0, 1)

	score := 60*completeness + 20*badgeCoverage + 20*quality

	metrics := map[string]any{
		"readme_found":         true,
		"word_count":           words,
		"sections_found":       found,
		"section_completeness": round2(completeness),
		"badge_count":          badges,
		"code_blocks":          codeBlocks,
		"link_count":           links,
		"quality_score":        round2(quality),
	}

	return types.SignalResult{
		SignalName:      types.SignalDocumentation,
		Succeeded:       true,
		Score:           round1(score),
		Confidence:      docsConfidence,
		Metrics:         metrics,
		Recommendations: documentationRecommendations(found, words, badges),
	}
}

func missingDocumentation(readmeFound bool, reason string) types.SignalResult {
	return types.SignalResult{
		SignalName:    types.SignalDocumentation,
		Succeeded:     false,
		Score:         0,
		Confidence:    missingConfidence,
		Metrics:       map[string]any{"readme_found": readmeFound},
		FailureReason: reason,
		Recommendations: []types.Recommendation{{
			Category:        types.SignalDocumentation,
			Priority:        types.PriorityCritical,
			Message:         "Repository has no usable README",
			SuggestedAction: "Create project documentation covering installation, usage and licensing",
		}},
	}
}

func documentationRecommendations(found []string, words, badges int) []types.Recommendation {
	have := make(map[string]bool, len(found))
	for _, name := range found {
		have[name] = true
	}

	var recs []types.Recommendation
	if !have["installation"] {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalDocumentation,
			Priority:        types.PriorityMedium,
			Message:         "README has no installation instructions",
			SuggestedAction: "Document how to install the project, including the package manager command",
		})
	}
	if !have["usage"] {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalDocumentation,
			Priority:        types.PriorityMedium,
			Message:         "README has no usage section",
			SuggestedAction: "Add a usage section with a minimal working example",
		})
	}
	if !have["license"] {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalDocumentation,
			Priority:        types.PriorityMedium,
			Message:         "README does not mention a license",
			SuggestedAction: "State the project license so consumers know the usage terms",
		})
	}
	if words < 100 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalDocumentation,
			Priority:        types.PriorityMedium,
			Message:         "README is very short",
			SuggestedAction: "Expand the documentation with a project description and examples",
		})
	}
	if badges == 0 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalDocumentation,
			Priority:        types.PriorityLow,
			Message:         "README has no status badges",
			SuggestedAction: "Add build and coverage badges to surface project health at a glance",
		})
	}
	return recs
}
