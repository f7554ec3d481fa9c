package models

import "time"

// QueueStatus is the lifecycle state of a queue row.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusInProgress QueueStatus = "in_progress"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
	StatusSkipped    QueueStatus = "skipped"
)

// AllQueueStatuses lists every status in lifecycle order.
var AllQueueStatuses = []QueueStatus{
	StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped,
}

// Valid reports whether s is a known status.
func (s QueueStatus) Valid() bool {
	for _, known := range AllQueueStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions happen from s.
func (s QueueStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Source types recorded with each queue row.
const (
	SourceDirectURL = "direct_url"
	SourceDOI       = "doi"
	SourceArxiv     = "arxiv"
)

// ItemMetadata is the optional bag carried by a queue item from resolution
// through to the history log and sidecar files.
type ItemMetadata struct {
	SuggestedFilename string   `json:"suggested_filename,omitempty"`
	Title             string   `json:"title,omitempty"`
	Authors           []string `json:"authors,omitempty"`
	Year              *int     `json:"year,omitempty"`
	DOI               string   `json:"doi,omitempty"`
	Topics            []string `json:"topics,omitempty"`
	ParseConfidence   *float64 `json:"parse_confidence,omitempty"`
	OriginalInput     string   `json:"original_input,omitempty"`
}

// Merge fills empty fields of m from other. Fields already set on m win.
func (m ItemMetadata) Merge(other ItemMetadata) ItemMetadata {
	if m.SuggestedFilename == "" {
		m.SuggestedFilename = other.SuggestedFilename
	}
	if m.Title == "" {
		m.Title = other.Title
	}
	if len(m.Authors) == 0 {
		m.Authors = other.Authors
	}
	if m.Year == nil {
		m.Year = other.Year
	}
	if m.DOI == "" {
		m.DOI = other.DOI
	}
	if len(m.Topics) == 0 {
		m.Topics = other.Topics
	}
	if m.ParseConfidence == nil {
		m.ParseConfidence = other.ParseConfidence
	}
	if m.OriginalInput == "" {
		m.OriginalInput = other.OriginalInput
	}
	return m
}

// QueueItem is one URL-fetch unit of work.
type QueueItem struct {
	ID              int64        `json:"id"`
	URL             string       `json:"url"`
	NormalizedURL   string       `json:"normalized_url"`
	SourceType      string       `json:"source_type"`
	Status          QueueStatus  `json:"status"`
	Priority        int          `json:"priority"`
	RetryCount      int          `json:"retry_count"`
	ClaimCount      int          `json:"claim_count"`
	LastError       *string      `json:"last_error,omitempty"`
	BytesDownloaded int64        `json:"bytes_downloaded"`
	ContentLength   *int64       `json:"content_length,omitempty"`
	SavedPath       *string      `json:"saved_path,omitempty"`
	Metadata        ItemMetadata `json:"metadata"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
