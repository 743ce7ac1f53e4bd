package server

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/types"
)

// assessRequest is the POST /api/v1/assess body. Callers send either a
// full repository URL or an explicit owner/repo pair; the URL wins when
// both are present.
type assessRequest struct {
	RepositoryURL string `json:"repositoryUrl"`
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
}

var (
	ownerPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)
	repoPattern  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

// resolve normalizes and validates the body into an AssessmentRequest.
// Every failure here is a validation error; nothing downstream should
// ever see a malformed owner or repo.
func (r assessRequest) resolve() (types.AssessmentRequest, error) {
	owner := strings.TrimSpace(r.Owner)
	repo := strings.TrimSpace(r.Repo)

	if raw := strings.TrimSpace(r.RepositoryURL); raw != "" {
		var err error
		owner, repo, err = splitRepositoryURL(raw)
		if err != nil {
			return types.AssessmentRequest{}, err
		}
	}

	if owner == "" || repo == "" {
		return types.AssessmentRequest{}, errors.NewValidationError("provide repositoryUrl or both owner and repo")
	}

	repo = strings.TrimSuffix(repo, ".git")

	if !ownerPattern.MatchString(owner) {
		return types.AssessmentRequest{}, errors.NewValidationError("owner contains invalid characters")
	}
	if repo == "." || repo == ".." || !repoPattern.MatchString(repo) {
		return types.AssessmentRequest{}, errors.NewValidationError("repo contains invalid characters")
	}

	return types.AssessmentRequest{Owner: owner, Repo: repo}, nil
}

// splitRepositoryURL extracts owner and repo from the github.com forms
// users paste: https links, scheme-less links, git clone addresses, and
// deep links into a tree or blob view.
func splitRepositoryURL(raw string) (string, string, error) {
	cleaned := raw
	if strings.HasPrefix(cleaned, "git@github.com:") {
		cleaned = "https://github.com/" + strings.TrimPrefix(cleaned, "git@github.com:")
	}
	if !strings.Contains(cleaned, "://") {
		cleaned = "https://" + cleaned
	}

	u, err := url.Parse(cleaned)
	if err != nil {
		return "", "", errors.NewValidationError("repositoryUrl is not a valid URL")
	}

	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", errors.NewValidationError("only github.com repositories are supported")
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.NewValidationError("repositoryUrl must include owner and repository")
	}

	return parts[0], parts[1], nil
}
