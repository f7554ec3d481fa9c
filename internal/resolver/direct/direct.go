// Package direct passes http(s) URLs through unchanged. It is the resolver
// of last resort.
package direct

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/resolver"
)

type Resolver struct{}

func New() *Resolver {
	return &Resolver{}
}

func (r *Resolver) Name() string                { return "direct" }
func (r *Resolver) Priority() resolver.Priority { return resolver.Fallback }

func (r *Resolver) CanResolve(input string) bool {
	u, err := url.Parse(strings.TrimSpace(input))
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (r *Resolver) Resolve(_ context.Context, input string) (*resolver.Resolved, error) {
	input = strings.TrimSpace(input)
	u, err := url.Parse(input)
	if err != nil || !r.CanResolve(input) {
		return nil, &resolver.ResolveError{Kind: resolver.ParseError, Resolver: r.Name(), Input: input, Err: err}
	}
	meta := models.ItemMetadata{OriginalInput: input}
	if base := path.Base(u.Path); strings.EqualFold(path.Ext(base), ".pdf") {
		meta.SuggestedFilename = base
	}
	return &resolver.Resolved{
		URL:        input,
		SourceType: models.SourceDirectURL,
		Metadata:   meta,
	}, nil
}
