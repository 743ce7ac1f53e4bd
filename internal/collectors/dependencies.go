package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/repopulse/repopulse/internal/adapters"
	"github.com/repopulse/repopulse/internal/config"
	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/types"
)

// packageManifest is the subset of package.json the collector reads.
type packageManifest struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

type declaredDep struct {
	name string
	spec string
}

// dependencyStatus is the staleness verdict for one declared dependency.
type dependencyStatus struct {
	Name      string
	Declared  string
	Installed string
	Latest    string
	GapDays   int
	Risk      types.RiskLevel
}

// Risk weights accumulate into the health penalty; the accumulation is
// capped so one giant dependency tree cannot zero the score on its own.
var riskWeights = map[types.RiskLevel]float64{
	types.RiskLow:      2,
	types.RiskMedium:   5,
	types.RiskHigh:     10,
	types.RiskCritical: 15,
}

const (
	outdatedRatioPenalty = 55
	maxRiskPenalty       = 40
	maxDependencyRecs    = 3
	depsConfidence       = 0.85
)

// DependencyCollector reads the repository's package.json, resolves each
// declared dependency against the registry and derives a health score
// from how far behind the latest releases the pinned versions are.
type DependencyCollector struct {
	github     *adapters.GitHubAdapter
	registry   *adapters.NPMAdapter
	estimator  *FallbackEstimator
	thresholds config.RiskThresholds
	batchSize  int
	batchDelay time.Duration
	maxLookups int
}

func NewDependencyCollector(github *adapters.GitHubAdapter, registry *adapters.NPMAdapter, estimator *FallbackEstimator, cfg *config.Config) *DependencyCollector {
	c := &DependencyCollector{
		github:     github,
		registry:   registry,
		estimator:  estimator,
		thresholds: cfg.RiskThresholds,
		batchSize:  cfg.DependencyBatchSize,
		batchDelay: cfg.DependencyBatchDelay,
		maxLookups: cfg.DependencyLimit,
	}
	if c.batchSize <= 0 {
		c.batchSize = 5
	}
	if c.maxLookups <= 0 {
		c.maxLookups = 30
	}
	if c.thresholds.LowDays <= 0 {
		c.thresholds = config.Default().RiskThresholds
	}
	return c
}

func (c *DependencyCollector) Name() string { return types.SignalDependencies }

func (c *DependencyCollector) Collect(ctx context.Context, req types.AssessmentRequest) types.SignalResult {
	file, err := c.github.GetFile(ctx, req.Owner, req.Repo, "package.json")
	if err != nil {
		if errors.IsNotFound(err) {
			return noManifestResult()
		}
		return c.estimator.Estimate(ctx, types.SignalDependencies, req, err)
	}

	raw, err := file.Decode()
	if err != nil {
		return malformedManifestResult()
	}
	var manifest packageManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return malformedManifestResult()
	}

	declared := declaredDependencies(manifest)
	statuses, failures := c.lookupStatuses(ctx, declared)
	summary := summarize(statuses)

	score := 100 - outdatedRatioPenalty*summary.ratio - summary.riskPenalty
	score += scriptBonus(manifest.Scripts)
	score = clamp(score, 0, 100)

	confidence := depsConfidence
	if attempted := len(statuses) + failures; failures > 0 && attempted > 0 {
		confidence -= 0.15 * float64(failures) / float64(attempted)
	}
	confidence = clamp(confidence, 0.7, 1)

	metrics := map[string]any{
		"manifest_found":  true,
		"ecosystem":       "npm",
		"total_declared":  len(declared),
		"checked":         len(statuses),
		"lookup_failures": failures,
		"outdated":        summary.outdated,
		"outdated_ratio":  round2(summary.ratio),
		"risk_counts":     summary.riskCounts,
		"scripts":         declaredScripts(manifest.Scripts),
	}

	return types.SignalResult{
		SignalName:      types.SignalDependencies,
		Succeeded:       true,
		Score:           round1(score),
		Confidence:      confidence,
		Metrics:         metrics,
		Recommendations: dependencyRecommendations(statuses, summary),
	}
}

// lookupStatuses resolves declared dependencies against the registry in
// small batches, skipping entries the registry cannot answer for.
func (c *DependencyCollector) lookupStatuses(ctx context.Context, declared []declaredDep) ([]dependencyStatus, int) {
	if len(declared) > c.maxLookups {
		declared = declared[:c.maxLookups]
	}

	statuses := make([]dependencyStatus, 0, len(declared))
	failures := 0
	forEachBatch(ctx, declared, c.batchSize, c.batchDelay, func(dep declaredDep) {
		status, err := c.resolve(ctx, dep)
		if err != nil {
			failures++
			slog.Debug("dependency lookup failed", "package", dep.name, "error", err)
			return
		}
		statuses = append(statuses, status)
	})
	return statuses, failures
}

func (c *DependencyCollector) resolve(ctx context.Context, dep declaredDep) (dependencyStatus, error) {
	pkg, err := c.registry.GetPackage(ctx, dep.name)
	if err != nil {
		return dependencyStatus{}, err
	}

	status := dependencyStatus{
		Name:     dep.name,
		Declared: dep.spec,
		Latest:   pkg.LatestVersion(),
		Risk:     types.RiskSafe,
	}

	installed, ok := pinnedVersion(dep.spec)
	if !ok {
		// Floating ranges like "*" or "latest" carry no staleness signal.
		return status, nil
	}
	status.Installed = installed

	installedAt, okInstalled := pkg.PublishedAt(installed)
	latestAt, okLatest := pkg.PublishedAt(status.Latest)
	if !okInstalled || !okLatest {
		return status, nil
	}
	if gap := latestAt.Sub(installedAt); gap > 0 {
		status.GapDays = int(gap.Hours() / 24)
	}
	status.Risk = c.riskFor(status.GapDays)
	return status, nil
}

// riskFor escalates the risk tier as the publish-date gap between the
// installed and latest versions crosses each configured threshold.
func (c *DependencyCollector) riskFor(gapDays int) types.RiskLevel {
	t := c.thresholds
	switch {
	case gapDays >= t.CriticalDays:
		return types.RiskCritical
	case gapDays >= t.HighDays:
		return types.RiskHigh
	case gapDays >= t.MediumDays:
		return types.RiskMedium
	case gapDays >= t.LowDays:
		return types.RiskLow
	default:
		return types.RiskSafe
	}
}

// pinnedVersion extracts the concrete base version from an npm range
// spec. Ranges that pin no lower bound ("*", "latest", tags, workspace
// and file references) yield no version.
func pinnedVersion(spec string) (string, bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" || spec == "latest" {
		return "", false
	}
	for _, prefix := range []string{"workspace:", "file:", "link:", "git+", "git:", "github:", "npm:", "http:", "https:"} {
		if strings.HasPrefix(spec, prefix) {
			return "", false
		}
	}

	// The first clause of a range set wins: ">=1.2.3 <2" or "1.2.3 || 2.x".
	if i := strings.IndexAny(spec, " |"); i >= 0 {
		spec = spec[:i]
	}
	spec = strings.TrimLeft(spec, "^~><=v")
	if spec == "" || spec[0] < '0' || spec[0] > '9' {
		return "", false
	}

	// Normalize partial and x-ranges like "1.2" or "1.2.x" so the
	// registry's time map has a chance of knowing them.
	parts := strings.SplitN(spec, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	for i, p := range parts {
		if p == "x" || p == "X" || p == "*" || p == "" {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, "."), true
}

func declaredDependencies(m packageManifest) []declaredDep {
	return append(sortedDeps(m.Dependencies), sortedDeps(m.DevDependencies)...)
}

func sortedDeps(m map[string]string) []declaredDep {
	deps := make([]declaredDep, 0, len(m))
	for name, spec := range m {
		deps = append(deps, declaredDep{name: name, spec: spec})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].name < deps[j].name })
	return deps
}

type dependencySummary struct {
	outdated    int
	ratio       float64
	riskPenalty float64
	riskCounts  map[string]int
}

func summarize(statuses []dependencyStatus) dependencySummary {
	s := dependencySummary{riskCounts: map[string]int{}}
	for _, st := range statuses {
		s.riskCounts[string(st.Risk)]++
		if st.Risk != types.RiskSafe {
			s.outdated++
			s.riskPenalty += riskWeights[st.Risk]
		}
	}
	if s.riskPenalty > maxRiskPenalty {
		s.riskPenalty = maxRiskPenalty
	}
	if len(statuses) > 0 {
		s.ratio = float64(s.outdated) / float64(len(statuses))
	}
	return s
}

func scriptBonus(scripts map[string]string) float64 {
	bonus := 0.0
	if hasScript(scripts, "test") {
		bonus += 5
	}
	if hasScript(scripts, "lint") {
		bonus += 3
	}
	if hasScript(scripts, "build") {
		bonus += 2
	}
	return bonus
}

// hasScript ignores npm's scaffolded "no test specified" placeholder.
func hasScript(scripts map[string]string, name string) bool {
	cmd, ok := scripts[name]
	return ok && strings.TrimSpace(cmd) != "" && !strings.Contains(cmd, "no test specified")
}

func declaredScripts(scripts map[string]string) []string {
	present := []string{}
	for _, name := range []string{"build", "lint", "test"} {
		if hasScript(scripts, name) {
			present = append(present, name)
		}
	}
	return present
}

func dependencyRecommendations(statuses []dependencyStatus, summary dependencySummary) []types.Recommendation {
	var recs []types.Recommendation
	for _, s := range statuses {
		var priority types.Priority
		switch s.Risk {
		case types.RiskCritical:
			priority = types.PriorityCritical
		case types.RiskHigh:
			priority = types.PriorityHigh
		default:
			continue
		}
		recs = append(recs, types.Recommendation{
			Category:        types.SignalDependencies,
			Priority:        priority,
			Message:         fmt.Sprintf("%s is %d days behind the latest release", s.Name, s.GapDays),
			SuggestedAction: fmt.Sprintf("Update %s from %s to %s", s.Name, s.Installed, s.Latest),
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority.Rank() < recs[j].Priority.Rank() })
	if len(recs) > maxDependencyRecs {
		recs = recs[:maxDependencyRecs]
	}

	if len(recs) == 0 && summary.ratio > 0.5 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalDependencies,
			Priority:        types.PriorityMedium,
			Message:         "More than half of the checked dependencies are behind their latest release",
			SuggestedAction: "Schedule a dependency upgrade pass",
		})
	}
	return recs
}

func noManifestResult() types.SignalResult {
	return types.SignalResult{
		SignalName:    types.SignalDependencies,
		Succeeded:     false,
		Score:         50,
		Confidence:    0.5,
		Metrics:       map[string]any{"manifest_found": false, "ecosystem": "npm"},
		FailureReason: "no package.json manifest found",
		Recommendations: []types.Recommendation{{
			Category:        types.SignalDependencies,
			Priority:        types.PriorityLow,
			Message:         "No supported dependency manifest was found",
			SuggestedAction: "Declare dependencies in a package.json to enable dependency health checks",
		}},
	}
}

func malformedManifestResult() types.SignalResult {
	return types.SignalResult{
		SignalName:    types.SignalDependencies,
		Succeeded:     false,
		Score:         40,
		Confidence:    0.5,
		Metrics:       map[string]any{"manifest_found": true, "ecosystem": "npm"},
		FailureReason: "package.json could not be parsed",
		Recommendations: []types.Recommendation{{
			Category:        types.SignalDependencies,
			Priority:        types.PriorityMedium,
			Message:         "The dependency manifest is not valid JSON",
			SuggestedAction: "Fix the syntax errors in package.json",
		}},
	}
}
