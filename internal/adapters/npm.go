package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/resilience"
)

const (
	defaultRegistryBaseURL = "https://registry.npmjs.org"
	packageCacheSize       = 1024
)

// NPMPackage represents a package document from the npm registry. Only the
// fields the staleness analysis needs are decoded.
type NPMPackage struct {
	Name     string            `json:"name"`
	DistTags map[string]string `json:"dist-tags"`
	Time     map[string]string `json:"time"`
}

// LatestVersion returns the version behind the latest dist-tag
func (p *NPMPackage) LatestVersion() string {
	return p.DistTags["latest"]
}

// PublishedAt returns the publish time of a version
func (p *NPMPackage) PublishedAt(version string) (time.Time, bool) {
	return p.timeEntry(version)
}

// LastPublish returns the publish time of the latest version, falling back
// to the registry's modified stamp.
func (p *NPMPackage) LastPublish() (time.Time, bool) {
	if ts, ok := p.timeEntry(p.LatestVersion()); ok {
		return ts, true
	}
	return p.timeEntry("modified")
}

func (p *NPMPackage) timeEntry(key string) (time.Time, bool) {
	if key == "" {
		return time.Time{}, false
	}
	raw, ok := p.Time[key]
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// NPMAdapter fetches package documents from an npm-compatible registry.
// Documents are cached because dependency lists across assessments overlap
// heavily, and lookups are throttled to stay polite to the registry.
type NPMAdapter struct {
	baseURL string
	client  *resilience.Client
	limiter *rate.Limiter
	cache   *lru.Cache[string, *NPMPackage]

	cacheHits   uint64
	cacheMisses uint64
}

// NewNPMAdapter creates a new registry adapter. An empty baseURL targets
// the public npm registry.
func NewNPMAdapter(baseURL string, client *resilience.Client) (*NPMAdapter, error) {
	if baseURL == "" {
		baseURL = defaultRegistryBaseURL
	}

	cache, err := lru.New[string, *NPMPackage](packageCacheSize)
	if err != nil {
		return nil, errors.NewConfigurationError("creating package cache", err)
	}

	return &NPMAdapter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		cache:   cache,
	}, nil
}

// GetPackage fetches one package document, serving repeats from the cache
func (n *NPMAdapter) GetPackage(ctx context.Context, name string) (*NPMPackage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("package name is empty")
	}

	if pkg, ok := n.cache.Get(name); ok {
		atomic.AddUint64(&n.cacheHits, 1)
		return pkg, nil
	}
	atomic.AddUint64(&n.cacheMisses, 1)

	if err := n.limiter.Wait(ctx); err != nil {
		return nil, errors.ToAppError(err)
	}

	var pkg NPMPackage
	opts := &resilience.FetchOptions{Headers: map[string]string{"Accept": "application/json"}}
	if err := n.client.FetchJSON(ctx, n.packageURL(name), opts, &pkg); err != nil {
		return nil, err
	}
	if pkg.Name == "" {
		pkg.Name = name
	}

	n.cache.Add(name, &pkg)
	return &pkg, nil
}

// CacheStats returns cache hit/miss counters for the ops surface
func (n *NPMAdapter) CacheStats() (hits, misses uint64) {
	return atomic.LoadUint64(&n.cacheHits), atomic.LoadUint64(&n.cacheMisses)
}

// packageURL builds the document URL, keeping the scope marker readable
// while escaping the scoped separator as the registry expects.
func (n *NPMAdapter) packageURL(name string) string {
	escaped := url.PathEscape(name)
	escaped = strings.ReplaceAll(escaped, "%40", "@")
	return fmt.Sprintf("%s/%s", n.baseURL, escaped)
}
