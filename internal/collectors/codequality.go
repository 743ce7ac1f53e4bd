package collectors

import (
	"context"
	"log/slog"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/repopulse/repopulse/internal/adapters"
	"github.com/repopulse/repopulse/internal/config"
	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/types"
)

// sourceExtensions maps analyzable file extensions to the language hint
// handed to the metric extractor.
var sourceExtensions = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".rb":    "ruby",
	".java":  "java",
	".kt":    "kotlin",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
}

// Path fragments that mark vendored, generated or build output files.
var ignoredPathParts = []string{
	"node_modules/",
	"vendor/",
	"third_party/",
	"dist/",
	"build/",
	"out/",
	"target/",
	"bin/",
	"obj/",
	"__pycache__/",
	"testdata/",
	"fixtures/",
	"generated/",
	".min.",
	".bundle.",
	".pb.go",
}

const codeQualityConfidence = 0.8

// CodeQualityCollector samples the largest source files in the
// repository tree and scores them with a pluggable metric extractor.
type CodeQualityCollector struct {
	github     *adapters.GitHubAdapter
	estimator  *FallbackEstimator
	extractor  MetricExtractor
	batchSize  int
	batchDelay time.Duration
	sampleSize int
	maxBytes   int64
}

func NewCodeQualityCollector(github *adapters.GitHubAdapter, estimator *FallbackEstimator, extractor MetricExtractor, cfg *config.Config) *CodeQualityCollector {
	c := &CodeQualityCollector{
		github:     github,
		estimator:  estimator,
		extractor:  extractor,
		batchSize:  cfg.FileBatchSize,
		batchDelay: cfg.FileBatchDelay,
		sampleSize: cfg.FileSampleSize,
		maxBytes:   cfg.MaxFileBytes,
	}
	if c.extractor == nil {
		c.extractor = NewHeuristicExtractor()
	}
	if c.batchSize <= 0 {
		c.batchSize = 5
	}
	if c.sampleSize <= 0 {
		c.sampleSize = 30
	}
	if c.maxBytes <= 0 {
		c.maxBytes = 256 * 1024
	}
	return c
}

func (c *CodeQualityCollector) Name() string { return types.SignalCodeQuality }

func (c *CodeQualityCollector) Collect(ctx context.Context, req types.AssessmentRequest) types.SignalResult {
	tree, err := c.github.GetTree(ctx, req.Owner, req.Repo, "")
	if err != nil {
		if errors.IsNotFound(err) {
			return noSourcesResult("repository tree is empty or unavailable")
		}
		return c.estimator.Estimate(ctx, types.SignalCodeQuality, req, err)
	}

	candidates := c.selectFiles(tree.Tree)
	if len(candidates) == 0 {
		return noSourcesResult("no analyzable source files found")
	}

	var (
		scores       []float64
		fetchErr     error
		failures     int
		languages    = map[string]int{}
		smellTotals  = map[string]int{}
		complexity   float64
		commentRatio float64
		worstFile    string
		worstScore   = math.MaxFloat64
	)
	forEachBatch(ctx, candidates, c.batchSize, c.batchDelay, func(entry adapters.GitHubTreeEntry) {
		file, err := c.github.GetFile(ctx, req.Owner, req.Repo, entry.Path)
		if err != nil {
			failures++
			fetchErr = err
			slog.Debug("source fetch failed", "path", entry.Path, "error", err)
			return
		}
		raw, err := file.Decode()
		if err != nil {
			failures++
			fetchErr = err
			return
		}

		hint := sourceExtensions[strings.ToLower(path.Ext(entry.Path))]
		metrics := c.extractor.ExtractMetrics(string(raw), hint)
		score := fileScore(metrics)

		scores = append(scores, score)
		languages[hint]++
		for smell, count := range metrics.Smells {
			smellTotals[smell] += count
		}
		complexity += averageComplexity(metrics)
		commentRatio += metrics.CommentRatio
		if score < worstScore {
			worstScore = score
			worstFile = entry.Path
		}
	})

	if len(scores) == 0 {
		return c.estimator.Estimate(ctx, types.SignalCodeQuality, req, fetchErr)
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}
	repoScore := total / float64(len(scores))
	avgComplexity := complexity / float64(len(scores))
	avgCommentRatio := commentRatio / float64(len(scores))

	confidence := codeQualityConfidence
	if tree.Truncated {
		confidence -= 0.1
	}
	if attempted := len(scores) + failures; failures > 0 {
		confidence -= 0.15 * float64(failures) / float64(attempted)
	}
	if len(scores) < 5 {
		confidence -= 0.05
	}
	confidence = clamp(confidence, 0.6, 1)

	metrics := map[string]any{
		"candidate_files":   len(candidates),
		"files_analyzed":    len(scores),
		"fetch_failures":    failures,
		"avg_file_score":    round1(repoScore),
		"avg_complexity":    round1(avgComplexity),
		"avg_comment_ratio": round2(avgCommentRatio),
		"smell_counts":      smellTotals,
		"languages":         languages,
		"tree_truncated":    tree.Truncated,
	}

	return types.SignalResult{
		SignalName:      types.SignalCodeQuality,
		Succeeded:       true,
		Score:           round1(repoScore),
		Confidence:      confidence,
		Metrics:         metrics,
		Recommendations: qualityRecommendations(smellTotals, avgComplexity, worstFile),
	}
}

// selectFiles filters the tree down to analyzable sources and keeps the
// largest ones, where structural problems are most likely to live.
func (c *CodeQualityCollector) selectFiles(entries []adapters.GitHubTreeEntry) []adapters.GitHubTreeEntry {
	picked := make([]adapters.GitHubTreeEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsFile() || e.Size <= 0 || e.Size > c.maxBytes {
			continue
		}
		if _, ok := sourceExtensions[strings.ToLower(path.Ext(e.Path))]; !ok {
			continue
		}
		if ignoredPath(e.Path) {
			continue
		}
		picked = append(picked, e)
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Size != picked[j].Size {
			return picked[i].Size > picked[j].Size
		}
		return picked[i].Path < picked[j].Path
	})
	if len(picked) > c.sampleSize {
		picked = picked[:c.sampleSize]
	}
	return picked
}

func ignoredPath(p string) bool {
	lower := strings.ToLower(p)
	for _, part := range ignoredPathParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func averageComplexity(m FileMetrics) float64 {
	functions := m.FunctionCount
	if functions == 0 {
		functions = 1
	}
	return float64(m.Complexity)/float64(functions) + 1
}

// fileScore starts every file at 100 and subtracts per finding, with
// each penalty class capped so a single pathology cannot zero the file.
func fileScore(m FileMetrics) float64 {
	score := 100.0

	score -= math.Min(float64(m.LongFunctions)*3, 15)
	score -= math.Min(float64(m.VeryLongFunctions)*7, 21)

	if avg := averageComplexity(m); avg > 10 {
		score -= math.Min((avg-10)*1.5, 20)
	}

	score -= math.Min(float64(m.Smells[smellLongParams])*4, 12)
	score -= math.Min(float64(m.Smells[smellDeepNesting])*5, 15)
	score -= math.Min(float64(m.Smells[smellMagicNumbers]), 8)
	score -= math.Min(float64(m.Smells[smellTodos])*2, 10)
	score -= math.Min(float64(m.Smells[smellDuplicateCode])*3, 12)

	if m.CommentRatio >= 0.08 && m.CommentRatio <= 0.4 {
		score += 5
	}
	return clamp(score, 0, 100)
}

func qualityRecommendations(smells map[string]int, avgComplexity float64, worstFile string) []types.Recommendation {
	var recs []types.Recommendation
	if avgComplexity > 15 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalCodeQuality,
			Priority:        types.PriorityMedium,
			Message:         "Functions carry high cyclomatic complexity on average",
			SuggestedAction: "Refactor the most complex functions, starting with " + worstFile,
		})
	}
	if smells[smellDeepNesting] >= 3 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalCodeQuality,
			Priority:        types.PriorityMedium,
			Message:         "Deeply nested control flow found in several files",
			SuggestedAction: "Flatten nested branches with early returns or extracted helpers",
		})
	}
	if smells[smellDuplicateCode] >= 3 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalCodeQuality,
			Priority:        types.PriorityMedium,
			Message:         "Repeated code blocks detected across the sampled files",
			SuggestedAction: "Extract the duplicated logic into shared functions",
		})
	}
	if smells[smellTodos] > 10 {
		recs = append(recs, types.Recommendation{
			Category:        types.SignalCodeQuality,
			Priority:        types.PriorityLow,
			Message:         "A large number of TODO and FIXME markers remain in the code",
			SuggestedAction: "Triage the outstanding markers into tracked issues",
		})
	}
	if len(recs) > 3 {
		recs = recs[:3]
	}
	return recs
}

func noSourcesResult(reason string) types.SignalResult {
	return types.SignalResult{
		SignalName:    types.SignalCodeQuality,
		Succeeded:     false,
		Score:         50,
		Confidence:    0.5,
		Metrics:       map[string]any{"files_analyzed": 0},
		FailureReason: reason,
	}
}
