package models

import "time"

// AttemptStatus is the outcome recorded in the download log.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
	AttemptSkipped AttemptStatus = "skipped"
)

// ErrorType buckets failures for reporting.
type ErrorType string

const (
	ErrorNetwork    ErrorType = "network"
	ErrorAuth       ErrorType = "auth"
	ErrorNotFound   ErrorType = "not_found"
	ErrorParse      ErrorType = "parse_error"
	ErrorIO         ErrorType = "io"
	ErrorRobots     ErrorType = "robots"
	ErrorNoResolver ErrorType = "no_resolver"
)

// DownloadAttemptRecord is an append-only history row written once per
// terminal transition of a queue item.
type DownloadAttemptRecord struct {
	ID           int64         `json:"id"`
	QueueID      *int64        `json:"queue_id,omitempty"`
	ClaimSeq     int           `json:"claim_seq"`
	RunID        string        `json:"run_id,omitempty"`
	Project      string        `json:"project,omitempty"`
	URL          string        `json:"url"`
	FinalURL     string        `json:"final_url,omitempty"`
	Status       AttemptStatus `json:"status"`
	FilePath     string        `json:"file_path,omitempty"`
	FileSize     int64         `json:"file_size,omitempty"`
	ContentType  string        `json:"content_type,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	DurationMS   int64         `json:"duration_ms"`
	HTTPStatus   int           `json:"http_status,omitempty"`
	ErrorType    ErrorType     `json:"error_type,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RetryCount   int           `json:"retry_count"`
	Title        string        `json:"title,omitempty"`
	Authors      []string      `json:"authors,omitempty"`
	DOI          string        `json:"doi,omitempty"`
}

// AttemptFilter narrows QueryDownloadAttempts. Zero values match everything.
type AttemptFilter struct {
	Since   *time.Time
	Until   *time.Time
	Status  AttemptStatus
	Project string
	Limit   int
}
