package downloader

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vrsandeep/citefetch/internal/models"
)

// SidecarWriter renders a metadata file next to a completed download.
type SidecarWriter interface {
	WriteSidecar(filePath string, item *models.QueueItem, rec *models.DownloadAttemptRecord) error
}

// JSONSidecar writes "<file>.json" describing where a download came from.
type JSONSidecar struct{}

type sidecarDocument struct {
	URL          string              `json:"url"`
	FinalURL     string              `json:"final_url,omitempty"`
	SourceType   string              `json:"source_type"`
	ContentType  string              `json:"content_type,omitempty"`
	FileSize     int64               `json:"file_size"`
	DownloadedAt time.Time           `json:"downloaded_at"`
	Metadata     models.ItemMetadata `json:"metadata"`
}

func (JSONSidecar) WriteSidecar(filePath string, item *models.QueueItem, rec *models.DownloadAttemptRecord) error {
	doc := sidecarDocument{
		URL:         item.URL,
		SourceType:  item.SourceType,
		Metadata:    item.Metadata,
		FileSize:    rec.FileSize,
		ContentType: rec.ContentType,
		FinalURL:    rec.FinalURL,
	}
	if rec.CompletedAt != nil {
		doc.DownloadedAt = rec.CompletedAt.UTC()
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := os.WriteFile(filePath+".json", append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
