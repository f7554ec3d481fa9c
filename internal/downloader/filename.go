package downloader

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/util"
)

// Extensions for content types that mime.ExtensionsByType gets wrong or
// lists ambiguously.
var knownExtensions = map[string]string{
	"application/pdf":        ".pdf",
	"application/postscript": ".ps",
	"application/zip":        ".zip",
	"application/epub+zip":   ".epub",
	"application/x-bibtex":   ".bib",
	"text/html":              ".html",
	"text/plain":             ".txt",
}

// chooseFilename picks the on-disk name for a download, in order of
// preference: suggested filename, title, Content-Disposition, the last
// segment of the final URL, then a name derived from the queue id. A
// missing extension is filled in from the content type.
func chooseFilename(item *models.QueueItem, finalURL, contentDisposition, contentType string) string {
	ext := extensionFor(contentType)

	var name string
	switch {
	case strings.TrimSpace(item.Metadata.SuggestedFilename) != "":
		name = item.Metadata.SuggestedFilename
	case strings.TrimSpace(item.Metadata.Title) != "":
		name = item.Metadata.Title
		if ext == "" {
			ext = ".pdf"
		}
		name += ext
	default:
		name = dispositionFilename(contentDisposition)
		if name == "" {
			name = urlFilename(finalURL)
		}
		if name == "" {
			name = urlFilename(item.URL)
		}
		if name == "" {
			name = fmt.Sprintf("download-%d", item.ID)
		}
	}

	name = util.SanitizeFilename(name)
	if filepath.Ext(name) == "" && ext != "" {
		name += ext
	}
	return name
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	// ParseMediaType decodes RFC 2231 filename* into "filename".
	name := strings.TrimSpace(strings.ReplaceAll(params["filename"], "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func urlFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	return base
}
