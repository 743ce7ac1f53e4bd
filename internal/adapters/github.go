package adapters

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/resilience"
)

const defaultGitHubBaseURL = "https://api.github.com"

// GitHubRepo represents GitHub repository data
type GitHubRepo struct {
	Name             string         `json:"name"`
	FullName         string         `json:"full_name"`
	Description      string         `json:"description"`
	Homepage         string         `json:"homepage"`
	StargazersCount  int            `json:"stargazers_count"`
	ForksCount       int            `json:"forks_count"`
	SubscribersCount int            `json:"subscribers_count"`
	OpenIssuesCount  int            `json:"open_issues_count"`
	Language         string         `json:"language"`
	License          *GitHubLicense `json:"license"`
	Topics           []string       `json:"topics"`
	DefaultBranch    string         `json:"default_branch"`
	Archived         bool           `json:"archived"`
	Fork             bool           `json:"fork"`
	HasIssues        bool           `json:"has_issues"`
	HasWiki          bool           `json:"has_wiki"`
	HasPages         bool           `json:"has_pages"`
	Size             int            `json:"size"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	PushedAt         time.Time      `json:"pushed_at"`
}

// GitHubLicense represents a repository license
type GitHubLicense struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	SPDXID string `json:"spdx_id"`
}

// GitHubContributor represents a repository contributor
type GitHubContributor struct {
	Login         string `json:"login"`
	Type          string `json:"type"`
	Contributions int    `json:"contributions"`
}

// GitHubCommit represents a commit from the list API
type GitHubCommit struct {
	SHA    string           `json:"sha"`
	Commit GitHubCommitInfo `json:"commit"`
}

// GitHubCommitInfo carries the commit metadata GitHub nests under "commit"
type GitHubCommitInfo struct {
	Message string             `json:"message"`
	Author  GitHubCommitAuthor `json:"author"`
}

// GitHubCommitAuthor represents the author of a commit
type GitHubCommitAuthor struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// GitHubRelease represents a published release
type GitHubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// GitHubContent represents a file fetched through the contents API
type GitHubContent struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Decode returns the file body. GitHub delivers contents base64 encoded
// with embedded newlines.
func (c *GitHubContent) Decode() ([]byte, error) {
	if c.Encoding != "base64" {
		return []byte(c.Content), nil
	}

	cleaned := strings.ReplaceAll(c.Content, "\n", "")
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, errors.NewParseError(fmt.Sprintf("decoding contents of %s", c.Path), err)
	}
	return data, nil
}

// GitHubTree represents a git tree listing
type GitHubTree struct {
	SHA       string            `json:"sha"`
	Tree      []GitHubTreeEntry `json:"tree"`
	Truncated bool              `json:"truncated"`
}

// GitHubTreeEntry is one path in a git tree
type GitHubTreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	SHA  string `json:"sha"`
}

// IsFile reports whether the entry is a blob rather than a subtree
func (e *GitHubTreeEntry) IsFile() bool {
	return e.Type == "blob"
}

// GitHubAdapter fetches data from the GitHub REST API
type GitHubAdapter struct {
	baseURL string
	token   string
	client  *resilience.Client
}

// NewGitHubAdapter creates a new GitHub adapter. An empty baseURL targets
// the public API; the token is optional and raises the rate limit ceiling.
func NewGitHubAdapter(baseURL, token string, client *resilience.Client) *GitHubAdapter {
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}

	return &GitHubAdapter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// GetRepository fetches repository metadata
func (g *GitHubAdapter) GetRepository(ctx context.Context, owner, repo string) (*GitHubRepo, error) {
	var out GitHubRepo
	if err := g.getJSON(ctx, fmt.Sprintf("/repos/%s/%s", pathSegment(owner), pathSegment(repo)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListContributors fetches up to limit contributors ordered by commit count
func (g *GitHubAdapter) ListContributors(ctx context.Context, owner, repo string, limit int) ([]GitHubContributor, error) {
	var out []GitHubContributor
	path := fmt.Sprintf("/repos/%s/%s/contributors?per_page=%d", pathSegment(owner), pathSegment(repo), perPage(limit))
	if err := g.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCommits fetches recent commits, optionally bounded by a since time
func (g *GitHubAdapter) ListCommits(ctx context.Context, owner, repo string, since time.Time, limit int) ([]GitHubCommit, error) {
	path := fmt.Sprintf("/repos/%s/%s/commits?per_page=%d", pathSegment(owner), pathSegment(repo), perPage(limit))
	if !since.IsZero() {
		path += "&since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var out []GitHubCommit
	if err := g.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListReleases fetches the most recent releases
func (g *GitHubAdapter) ListReleases(ctx context.Context, owner, repo string, limit int) ([]GitHubRelease, error) {
	var out []GitHubRelease
	path := fmt.Sprintf("/repos/%s/%s/releases?per_page=%d", pathSegment(owner), pathSegment(repo), perPage(limit))
	if err := g.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLanguages fetches the byte counts per language
func (g *GitHubAdapter) GetLanguages(ctx context.Context, owner, repo string) (map[string]int64, error) {
	out := make(map[string]int64)
	if err := g.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/languages", pathSegment(owner), pathSegment(repo)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetReadme fetches the repository README regardless of its filename
func (g *GitHubAdapter) GetReadme(ctx context.Context, owner, repo string) (*GitHubContent, error) {
	var out GitHubContent
	if err := g.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/readme", pathSegment(owner), pathSegment(repo)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFile fetches a single file through the contents API
func (g *GitHubAdapter) GetFile(ctx context.Context, owner, repo, filePath string) (*GitHubContent, error) {
	var out GitHubContent
	path := fmt.Sprintf("/repos/%s/%s/contents/%s", pathSegment(owner), pathSegment(repo), escapePath(filePath))
	if err := g.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTree fetches the full recursive tree for a ref
func (g *GitHubAdapter) GetTree(ctx context.Context, owner, repo, ref string) (*GitHubTree, error) {
	if ref == "" {
		ref = "HEAD"
	}

	var out GitHubTree
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", pathSegment(owner), pathSegment(repo), pathSegment(ref))
	if err := g.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON performs an authenticated GET against the API
func (g *GitHubAdapter) getJSON(ctx context.Context, path string, v interface{}) error {
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if g.token != "" {
		headers["Authorization"] = "Bearer " + g.token
	}

	return g.client.FetchJSON(ctx, g.baseURL+path, &resilience.FetchOptions{Headers: headers}, v)
}

// perPage clamps a page size to what the API accepts
func perPage(limit int) int {
	if limit <= 0 {
		return 30
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func pathSegment(s string) string {
	return url.PathEscape(s)
}

// escapePath escapes a repository-relative path segment by segment so the
// separators survive.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
