package downloader

import (
	"sync/atomic"
	"time"
)

// Stats aggregates one ProcessQueue run. Every dequeued job ends up counted
// exactly once as completed, failed or released, so
// Completed()+Failed() == Processed() == Dequeued()-Released().
type Stats struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	dequeued    atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	released    atomic.Int64
	interrupted atomic.Bool
}

func newStats(runID string, started time.Time) *Stats {
	return &Stats{RunID: runID, StartedAt: started}
}

func (s *Stats) Completed() int    { return int(s.completed.Load()) }
func (s *Stats) Failed() int       { return int(s.failed.Load()) }
func (s *Stats) Dequeued() int     { return int(s.dequeued.Load()) }
func (s *Stats) Released() int     { return int(s.released.Load()) }
func (s *Stats) Interrupted() bool { return s.interrupted.Load() }

// Processed is the number of jobs that reached a terminal state.
func (s *Stats) Processed() int {
	return s.Completed() + s.Failed()
}

// StatsSnapshot is a JSON-friendly copy of Stats.
type StatsSnapshot struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Dequeued    int       `json:"dequeued"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Released    int       `json:"released"`
	Interrupted bool      `json:"interrupted"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		RunID:       s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Dequeued:    s.Dequeued(),
		Completed:   s.Completed(),
		Failed:      s.Failed(),
		Released:    s.Released(),
		Interrupted: s.Interrupted(),
	}
}
