package collectors

import (
	"context"
	"log/slog"
	"time"

	"github.com/repopulse/repopulse/internal/adapters"
	"github.com/repopulse/repopulse/internal/types"
)

// Grading tables for the four metadata sub-scores.
var (
	starBands        = bands{5000, 1000, 200, 50}
	forkBands        = bands{1000, 200, 50, 10}
	pushRecencyBands = bands{7, 30, 90, 180} // days since last push, lower is better
	commitBands      = bands{100, 50, 20, 5} // commits in the recent window
	contributorBands = bands{50, 20, 8, 3}
	issueRatioBands  = bands{0.02, 0.05, 0.15, 0.5} // open issues per star, lower is better
	releaseAgeBands  = bands{30, 90, 180, 365}      // days since last release, lower is better
)

const (
	commitWindow           = 90 * 24 * time.Hour
	metadataConfidence     = 0.95
	endpointFailurePenalty = 0.05
	archivedPenalty        = 40
)

// MetadataCollector scores popularity, activity, community and overall
// repository health from the hosting API's metadata endpoints. The
// repository record itself is required; contributor, commit, release
// and language listings are optional and only lower confidence when
// they fail.
type MetadataCollector struct {
	github    *adapters.GitHubAdapter
	estimator *FallbackEstimator
}

func NewMetadataCollector(github *adapters.GitHubAdapter, estimator *FallbackEstimator) *MetadataCollector {
	return &MetadataCollector{github: github, estimator: estimator}
}

func (c *MetadataCollector) Name() string { return types.SignalSourceMetadata }

func (c *MetadataCollector) Collect(ctx context.Context, req types.AssessmentRequest) types.SignalResult {
	repo, err := c.github.GetRepository(ctx, req.Owner, req.Repo)
	if err != nil {
		return c.estimator.Estimate(ctx, types.SignalSourceMetadata, req, err)
	}

	optionalFailures := 0
	contributors, err := c.github.ListContributors(ctx, req.Owner, req.Repo, 100)
	if err != nil {
		optionalFailures++
		slog.Debug("contributor listing failed", "repo", req.Slug(), "error", err)
	}
	commits, err := c.github.ListCommits(ctx, req.Owner, req.Repo, time.Now().Add(-commitWindow), 100)
	if err != nil {
		optionalFailures++
		slog.Debug("commit listing failed", "repo", req.Slug(), "error", err)
	}
	releases, err := c.github.ListReleases(ctx, req.Owner, req.Repo, 20)
	if err != nil {
		optionalFailures++
		slog.Debug("release listing failed", "repo", req.Slug(), "error", err)
	}
	languages, err := c.github.GetLanguages(ctx, req.Owner, req.Repo)
	if err != nil {
		optionalFailures++
		slog.Debug("language listing failed", "repo", req.Slug(), "error", err)
	}

	popularity := 0.7*starBands.grade(float64(repo.StargazersCount)) +
		0.3*forkBands.grade(float64(repo.ForksCount))

	daysSincePush := time.Since(repo.PushedAt).Hours() / 24
	activity := 0.6*pushRecencyBands.gradeInverse(daysSincePush) +
		0.4*commitBands.grade(float64(len(commits)))

	community := contributorBands.grade(float64(len(contributors)))

	health := healthScore(repo, releases)

	score := 0.25 * (popularity + activity + community + health)
	confidence := clamp(metadataConfidence-endpointFailurePenalty*float64(optionalFailures), 0.7, 1)

	metrics := map[string]any{
		"stars":            repo.StargazersCount,
		"forks":            repo.ForksCount,
		"open_issues":      repo.OpenIssuesCount,
		"contributors":     len(contributors),
		"recent_commits":   len(commits),
		"releases":         len(releases),
		"days_since_push":  round1(daysSincePush),
		"archived":         repo.Archived,
		"popularity_score": round1(popularity),
		"activity_score":   round1(activity),
		"community_score":  round1(community),
		"health_score":     round1(health),
	}
	if lang := primaryLanguage(repo, languages); lang != "" {
		metrics["primary_language"] = lang
	}

	return types.SignalResult{
		SignalName:      types.SignalSourceMetadata,
		Succeeded:       true,
		Score:           round1(score),
		Confidence:      confidence,
		Metrics:         metrics,
		Recommendations: metadataRecommendations(repo, daysSincePush, len(contributors)),
	}
}

func healthScore(repo *adapters.GitHubRepo, releases []adapters.GitHubRelease) float64 {
	stars := float64(repo.StargazersCount)
	if stars < 1 {
		stars = 1
	}
	issueScore := issueRatioBands.gradeInverse(float64(repo.OpenIssuesCount) / stars)

	// Projects that never tag releases get a neutral recency score.
	releaseScore := 50.0
	if last, ok := latestRelease(releases); ok {
		releaseScore = releaseAgeBands.gradeInverse(time.Since(last.PublishedAt).Hours() / 24)
	}

	health := 0.5*issueScore + 0.5*releaseScore
	if repo.Archived {
		health -= archivedPenalty
	}
	return clamp(health, 0, 100)
}

func latestRelease(releases []adapters.GitHubRelease) (adapters.GitHubRelease, bool) {
	for _, r := range releases {
		if r.Draft || r.PublishedAt.IsZero() {
			continue
		}
		return r, true
	}
	return adapters.GitHubRelease{}, false
}

func primaryLanguage(repo *adapters.GitHubRepo, languages map[string]int64) string {
	if repo.Language != "" {
		return repo.Language
	}
	best, bestBytes := "", int64(0)
	for name, size := range languages {
		if size > bestBytes {
			best, bestBytes = name, size
		}
	}
	return best
}

func metadataRecommendations(repo *adapters.GitHubRepo, daysSincePush float64, contributors int) []types.Recommendation {
	var recs []types.Recommendation
	if repo.Archived {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalSourceMetadata,
			Priority:        types.PriorityHigh,
			Message:         "Repository is archived and no longer maintained",
			SuggestedAction: "Look for an actively maintained fork or successor project",
		})
	}
	if daysSincePush > 180 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalSourceMetadata,
			Priority:        types.PriorityMedium,
			Message:         "No commits pushed in the last six months",
			SuggestedAction: "Check whether the project is still maintained before depending on it",
		})
	}
	if contributors > 0 && contributors < 3 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalSourceMetadata,
			Priority:        types.PriorityLow,
			Message:         "Very small contributor base",
			SuggestedAction: "Factor in the continuity risk of a project with a single maintainer",
		})
	}
	return recs
}
