// Package fetcher wraps net/http for the download engine: one GET per
// attempt, optional byte-range resume, a shared cookie jar and typed errors
// for non-2xx responses.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Common errors.
var (
	ErrRobotsDisallowed = errors.New("fetch: disallowed by robots.txt")
	ErrTooManyRedirects = errors.New("fetch: too many redirects")
)

const (
	defaultTimeout      = 60 * time.Second
	defaultUserAgent    = "citefetch/1.0"
	defaultMaxRedirects = 10
	// maxErrorBodyBytes is how much of a non-2xx body is kept for the error message.
	maxErrorBodyBytes = 512
)

// Request describes one fetch attempt.
type Request struct {
	URL string
	// RangeStart asks for the body from this byte offset on. Zero fetches
	// the whole resource.
	RangeStart int64
	Header     http.Header
}

// Response is a successful (2xx) fetch. The caller must close Body.
type Response struct {
	StatusCode int
	FinalURL   string
	Header     http.Header
	// ContentLength is the length of Body, or -1 when unknown.
	ContentLength int64
	ContentType   string
	// Partial is true when the server honoured RangeStart with 206.
	Partial bool
	Body    io.ReadCloser
}

// Client performs fetch attempts.
type Client interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Options configures HTTPClient.
type Options struct {
	// Timeout bounds one whole attempt including reading the body.
	Timeout      time.Duration
	UserAgent    string
	Jar          http.CookieJar
	MaxRedirects int
	// Transport overrides the default transport, mostly for tests.
	Transport http.RoundTripper
}

// HTTPClient is the net/http implementation of Client.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	log       *zap.Logger
}

// NewHTTPClient creates a new HTTP client with the given options.
func NewHTTPClient(opts Options, log *zap.Logger) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if log == nil {
		log = zap.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 15 * time.Second,
		}
	}
	maxRedirects := opts.MaxRedirects
	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			Jar:       opts.Jar,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
		log:       log,
	}
}

// HTTP exposes the underlying client so collaborators such as the robots
// checker and resolvers share its jar and timeouts.
func (c *HTTPClient) HTTP() *http.Client {
	return c.client
}

// UserAgent returns the User-Agent sent with every request.
func (c *HTTPClient) UserAgent() string {
	return c.userAgent
}

// Fetch issues one GET. Any non-2xx status comes back as *StatusError with
// the body already closed.
func (c *HTTPClient) Fetch(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.8")
	}
	if req.RangeStart > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.RangeStart))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        finalURL,
			Body:       strings.TrimSpace(string(snippet)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		c.log.Debug("Non-success response",
			zap.String("url", finalURL), zap.Int("status", resp.StatusCode))
		return nil, statusErr
	}

	return &Response{
		StatusCode:    resp.StatusCode,
		FinalURL:      finalURL,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		Partial:       resp.StatusCode == http.StatusPartialContent,
		Body:          resp.Body,
	}, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("HTTP %s for %s", status, e.URL)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// RetryAfterDelay returns the server's Retry-After hint, zero when absent.
func (e *StatusError) RetryAfterDelay() time.Duration {
	return e.RetryAfter
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// StatusCodeOf extracts the HTTP status from err, or 0.
func StatusCodeOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
