// Package doi resolves DOIs by following the doi.org redirect to the
// publisher landing page and reading its citation_* meta tags.
package doi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/fetcher"
	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/resolver"
)

const (
	defaultBaseURL = "https://doi.org"
	// maxLandingPageBytes caps how much HTML is parsed per landing page.
	maxLandingPageBytes = 4 << 20
)

var (
	doiPattern  = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
	yearPattern = regexp.MustCompile(`\b(\d{4})\b`)
)

// Resolver handles DOI inputs.
type Resolver struct {
	client  fetcher.Client
	baseURL string
	log     *zap.Logger
}

// New creates a DOI resolver that fetches landing pages through client.
func New(client fetcher.Client, log *zap.Logger) *Resolver {
	return NewWithBaseURL(client, defaultBaseURL, log)
}

// NewWithBaseURL points DOI lookups at a proxy or test server.
func NewWithBaseURL(client fetcher.Client, baseURL string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), log: log}
}

func (r *Resolver) Name() string                { return "doi" }
func (r *Resolver) Priority() resolver.Priority { return resolver.General }

func (r *Resolver) CanResolve(input string) bool {
	return Extract(input) != ""
}

// Extract returns the bare DOI in input, accepting "doi:" prefixes and
// doi.org URLs. It returns "" when input is not a DOI.
func Extract(input string) string {
	s := strings.TrimSpace(input)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "doi:"):
		s = strings.TrimSpace(s[len("doi:"):])
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		host := strings.ToLower(u.Hostname())
		if host != "doi.org" && host != "dx.doi.org" && host != "www.doi.org" {
			return ""
		}
		s = strings.TrimPrefix(u.Path, "/")
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
	}
	s = strings.TrimRight(s, ".,;")
	if !doiPattern.MatchString(s) {
		return ""
	}
	return s
}

func (r *Resolver) Resolve(ctx context.Context, input string) (*resolver.Resolved, error) {
	doi := Extract(input)
	if doi == "" {
		return nil, r.fail(resolver.ParseError, input, errors.New("not a DOI"))
	}

	resp, err := r.client.Fetch(ctx, &fetcher.Request{
		URL:    r.baseURL + "/" + doi,
		Header: http.Header{"Accept": []string{"text/html,application/xhtml+xml,application/pdf;q=0.9"}},
	})
	if err != nil {
		switch fetcher.StatusCodeOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired:
			return nil, r.fail(resolver.NeedsAuth, input, err)
		case http.StatusNotFound, http.StatusGone:
			return nil, r.fail(resolver.NotFound, input, err)
		}
		return nil, fmt.Errorf("doi: fetch landing page for %s: %w", doi, err)
	}
	defer resp.Body.Close()

	meta := models.ItemMetadata{DOI: doi, OriginalInput: input}
	if isPDF(resp.ContentType) {
		r.log.Debug("DOI resolved directly to PDF", zap.String("doi", doi), zap.String("url", resp.FinalURL))
		return &resolver.Resolved{URL: resp.FinalURL, SourceType: models.SourceDOI, Metadata: meta}, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxLandingPageBytes))
	if err != nil {
		return nil, r.fail(resolver.ParseError, input, fmt.Errorf("parse landing page: %w", err))
	}
	page := extractCitationMeta(doc)
	meta = meta.Merge(page.metadata)
	if page.pdfURL == "" {
		return nil, r.fail(resolver.NotFound, input, fmt.Errorf("no citation_pdf_url on %s", resp.FinalURL))
	}
	pdfURL, err := absoluteURL(resp.FinalURL, page.pdfURL)
	if err != nil {
		return nil, r.fail(resolver.ParseError, input, err)
	}
	r.log.Debug("DOI resolved via landing page",
		zap.String("doi", doi), zap.String("landing", resp.FinalURL), zap.String("url", pdfURL))
	return &resolver.Resolved{URL: pdfURL, SourceType: models.SourceDOI, Metadata: meta}, nil
}

func (r *Resolver) fail(kind resolver.ErrorKind, input string, err error) error {
	return &resolver.ResolveError{Kind: kind, Resolver: r.Name(), Input: input, Err: err}
}

type citationMeta struct {
	pdfURL   string
	metadata models.ItemMetadata
}

// extractCitationMeta reads the Highwire-style citation_* tags publishers
// emit for indexers.
func extractCitationMeta(doc *goquery.Document) citationMeta {
	var out citationMeta
	content := func(name string) string {
		v, _ := doc.Find(fmt.Sprintf("meta[name='%s']", name)).First().Attr("content")
		return strings.TrimSpace(v)
	}

	out.pdfURL = content("citation_pdf_url")
	out.metadata.Title = content("citation_title")
	if out.metadata.Title == "" {
		out.metadata.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	out.metadata.DOI = content("citation_doi")

	doc.Find("meta[name='citation_author']").Each(func(_ int, s *goquery.Selection) {
		if name := strings.TrimSpace(s.AttrOr("content", "")); name != "" {
			out.metadata.Authors = append(out.metadata.Authors, name)
		}
	})

	for _, name := range []string{"citation_publication_date", "citation_date", "citation_online_date"} {
		if m := yearPattern.FindStringSubmatch(content(name)); m != nil {
			if year, err := strconv.Atoi(m[1]); err == nil {
				out.metadata.Year = &year
				break
			}
		}
	}
	return out
}

func isPDF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/pdf"
}

func absoluteURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse landing url: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse citation_pdf_url: %w", err)
	}
	return b.ResolveReference(u).String(), nil
}
