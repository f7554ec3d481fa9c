// Package arxiv resolves arXiv identifiers and abstract pages to PDF links.
package arxiv

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/resolver"
)

const defaultBaseURL = "https://arxiv.org"

var (
	// 1706.03762, 1706.03762v5 and old-style hep-th/9901001v1.
	idPattern   = `(\d{4}\.\d{4,5}(?:v\d+)?|[a-z][a-z\-]*(?:\.[A-Z]{2})?/\d{7}(?:v\d+)?)`
	bareID      = regexp.MustCompile(`^(?i:arxiv:)?\s*` + idPattern + `$`)
	pathID      = regexp.MustCompile(`^/(?:abs|pdf)/` + idPattern + `(?:\.pdf)?/?$`)
	arxivDomain = regexp.MustCompile(`(^|\.)arxiv\.org$`)
)

// Resolver handles arXiv inputs.
type Resolver struct {
	baseURL string
}

// New creates a resolver that links to arxiv.org.
func New() *Resolver {
	return &Resolver{baseURL: defaultBaseURL}
}

// NewWithBaseURL points PDF links at a mirror or test server.
func NewWithBaseURL(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (r *Resolver) Name() string                { return "arxiv" }
func (r *Resolver) Priority() resolver.Priority { return resolver.Specialized }

func (r *Resolver) CanResolve(input string) bool {
	return extractID(input) != ""
}

func (r *Resolver) Resolve(_ context.Context, input string) (*resolver.Resolved, error) {
	id := extractID(input)
	if id == "" {
		return nil, &resolver.ResolveError{Kind: resolver.ParseError, Resolver: r.Name(), Input: input}
	}
	return &resolver.Resolved{
		URL:        r.baseURL + "/pdf/" + id,
		SourceType: models.SourceArxiv,
		Metadata: models.ItemMetadata{
			SuggestedFilename: "arXiv-" + strings.ReplaceAll(id, "/", "_") + ".pdf",
			OriginalInput:     input,
		},
	}, nil
}

// extractID returns the arXiv identifier in input, or "".
func extractID(input string) string {
	input = strings.TrimSpace(input)
	if m := bareID.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return ""
	}
	if !arxivDomain.MatchString(strings.ToLower(u.Hostname())) {
		return ""
	}
	if m := pathID.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}
