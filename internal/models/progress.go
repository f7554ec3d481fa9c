package models

// ProgressUpdate is emitted by the download engine as jobs move through
// their lifecycle.
type ProgressUpdate struct {
	RunID    string  `json:"run_id"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	ItemID   int64   `json:"item_id"`
	URL      string  `json:"url"`
	Status   string  `json:"status"` // e.g. "in_progress", "completed", "failed"
	Attempt  int     `json:"attempt,omitempty"`
	Done     bool    `json:"done"`
}
