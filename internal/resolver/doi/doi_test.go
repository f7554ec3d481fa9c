package doi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/citefetch/internal/fetcher"
	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/resolver"
)

const landingPage = `<!doctype html>
<html><head>
<title>Fallback Title</title>
<meta name="citation_title" content="Attention Is All You Need">
<meta name="citation_author" content="Vaswani, Ashish">
<meta name="citation_author" content="Shazeer, Noam">
<meta name="citation_publication_date" content="2017/06/12">
<meta name="citation_doi" content="10.5555/3295222.3295349">
<meta name="citation_pdf_url" content="/papers/attention.pdf">
</head><body></body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/10.5555/landing", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/article/landing", http.StatusFound)
	})
	mux.HandleFunc("/article/landing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, landingPage)
	})
	mux.HandleFunc("/10.5555/pdf", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/direct.pdf", http.StatusFound)
	})
	mux.HandleFunc("/files/direct.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4")
	})
	mux.HandleFunc("/10.5555/nopdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><meta name="citation_title" content="Paywalled"></head></html>`)
	})
	mux.HandleFunc("/10.5555/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "login required", http.StatusForbidden)
	})
	mux.HandleFunc("/10.5555/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "oops", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newResolver(t *testing.T) (*Resolver, *httptest.Server) {
	srv := newTestServer(t)
	client := fetcher.NewHTTPClient(fetcher.Options{}, nil)
	return NewWithBaseURL(client, srv.URL, nil), srv
}

func TestExtract(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.1000/xyz123", "10.1000/xyz123"},
		{"doi:10.1000/xyz123", "10.1000/xyz123"},
		{"DOI: 10.1000/xyz123.", "10.1000/xyz123"},
		{"https://doi.org/10.1000/xyz123", "10.1000/xyz123"},
		{"http://dx.doi.org/10.1000/a%2Fb", "10.1000/a/b"},
		{"https://example.org/10.1000/xyz123", ""},
		{"10.10/short", ""},
		{"arXiv:1706.03762", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extract(tt.in), tt.in)
	}
}

func TestResolveLandingPage(t *testing.T) {
	r, srv := newResolver(t)
	assert.Equal(t, resolver.General, r.Priority())

	res, err := r.Resolve(context.Background(), "doi:10.5555/landing")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/papers/attention.pdf", res.URL)
	assert.Equal(t, models.SourceDOI, res.SourceType)
	assert.Equal(t, "Attention Is All You Need", res.Metadata.Title)
	assert.Equal(t, []string{"Vaswani, Ashish", "Shazeer, Noam"}, res.Metadata.Authors)
	require.NotNil(t, res.Metadata.Year)
	assert.Equal(t, 2017, *res.Metadata.Year)
	assert.Equal(t, "10.5555/landing", res.Metadata.DOI)
}

func TestResolveDirectPDF(t *testing.T) {
	r, srv := newResolver(t)
	res, err := r.Resolve(context.Background(), "10.5555/pdf")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/files/direct.pdf", res.URL)
	assert.Empty(t, res.Metadata.Title)
}

func TestResolveFailures(t *testing.T) {
	r, _ := newResolver(t)
	tests := []struct {
		input string
		kind  resolver.ErrorKind
	}{
		{"10.5555/nopdf", resolver.NotFound},
		{"10.5555/missing", resolver.NotFound},
		{"10.5555/forbidden", resolver.NeedsAuth},
		{"not a doi", resolver.ParseError},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.input)
			var re *resolver.ResolveError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, "doi", re.Resolver)
		})
	}

	_, err := r.Resolve(context.Background(), "10.5555/broken")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, fetcher.StatusCodeOf(err))
	assert.Equal(t, models.ErrorNetwork, resolver.ErrorTypeOf(err))
}

func TestCanResolveDOIURLs(t *testing.T) {
	r, _ := newResolver(t)
	assert.True(t, r.CanResolve("https://doi.org/10.5555/landing"))
	assert.False(t, r.CanResolve("https://example.org/paper.pdf"))
}
