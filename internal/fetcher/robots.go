package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Default cache TTL for robots.txt entries.
const defaultRobotsCacheTTL = 24 * time.Hour

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024 // 512 KB

// RobotsAllower decides whether a URL may be fetched.
type RobotsAllower interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
}

// CrawlDelayer reports a host's robots.txt crawl-delay once its robots.txt
// has been fetched.
type CrawlDelayer interface {
	CrawlDelay(scheme, host string) time.Duration
}

// AllowAll is a RobotsAllower that permits everything.
type AllowAll struct{}

// IsAllowed always returns true.
func (AllowAll) IsAllowed(context.Context, string) (bool, error) { return true, nil }

// RobotsChecker checks and caches robots.txt rules per origin. Concurrent
// lookups for an origin that is not cached yet share one fetch.
type RobotsChecker struct {
	httpClient *http.Client
	userAgent  string
	cacheTTL   time.Duration
	log        *zap.Logger

	mu    sync.RWMutex
	cache map[string]*robotsCacheEntry // keyed by scheme://host
	group singleflight.Group

	now func() time.Time
}

// robotsCacheEntry stores the parsed robots.txt data and metadata for a host.
type robotsCacheEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	allowAll  bool // true if robots.txt was missing/404 or errored (allow all)
}

// NewRobotsChecker creates a new RobotsChecker.
func NewRobotsChecker(httpClient *http.Client, userAgent string, cacheTTL time.Duration, log *zap.Logger) *RobotsChecker {
	if cacheTTL <= 0 {
		cacheTTL = defaultRobotsCacheTTL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RobotsChecker{
		httpClient: httpClient,
		userAgent:  userAgent,
		cacheTTL:   cacheTTL,
		log:        log,
		cache:      make(map[string]*robotsCacheEntry),
		now:        time.Now,
	}
}

// IsAllowed checks if the given URL is allowed by the host's robots.txt.
// Missing or errored robots.txt results in allow all.
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}

	entry, err := r.entry(ctx, scheme, host)
	if err != nil {
		return false, err
	}
	if entry.allowAll {
		return true, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return entry.data.TestAgent(path, r.userAgent), nil
}

// CrawlDelay returns the crawl-delay for the host, if specified in robots.txt.
// Returns 0 if no crawl-delay is set or robots.txt is not cached.
func (r *RobotsChecker) CrawlDelay(scheme, host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[scheme+"://"+strings.ToLower(host)]
	if !ok || entry.allowAll || entry.data == nil {
		return 0
	}
	group := entry.data.FindGroup(r.userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (r *RobotsChecker) entry(ctx context.Context, scheme, host string) (*robotsCacheEntry, error) {
	key := scheme + "://" + host
	if e, ok := r.cached(key); ok {
		return e, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if e, ok := r.cached(key); ok {
			return e, nil
		}
		e := r.fetch(ctx, key+robotsTxtPath)
		if ctx.Err() != nil {
			// Do not remember an allow-all caused by our own cancellation.
			return e, nil
		}
		r.mu.Lock()
		r.cache[key] = e
		r.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotsCacheEntry), nil
}

// cached returns a cached entry if it exists and is not stale.
func (r *RobotsChecker) cached(key string) (*robotsCacheEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[key]
	if !ok || r.now().Sub(e.fetchedAt) > r.cacheTTL {
		return nil, false
	}
	return e, true
}

// fetch retrieves and parses robots.txt. Only 2xx responses are parsed;
// everything else, including transport errors, allows all.
func (r *RobotsChecker) fetch(ctx context.Context, robotsURL string) *robotsCacheEntry {
	allowAll := &robotsCacheEntry{fetchedAt: r.now(), allowAll: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return allowAll
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Debug("robots.txt fetch failed, allowing all",
			zap.String("url", robotsURL), zap.Error(err))
		return allowAll
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return allowAll
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return allowAll
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		r.log.Debug("robots.txt unparseable, allowing all", zap.String("url", robotsURL), zap.Error(err))
		return allowAll
	}
	return &robotsCacheEntry{data: data, fetchedAt: r.now()}
}
