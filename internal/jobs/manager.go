package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/downloader"
)

// ErrAlreadyRunning is returned by Start while a run is in flight.
var ErrAlreadyRunning = errors.New("a download run is already in progress")

// Triggers recorded on RunStatus.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// RunFunc drains the queue once.
type RunFunc func(ctx context.Context, interrupted *downloader.InterruptFlag) (*downloader.Stats, error)

type RunStatus struct {
	Status    string                    `json:"status"` // "idle", "running", "success", "failed"
	Trigger   string                    `json:"trigger,omitempty"`
	Message   string                    `json:"message"`
	StartTime time.Time                 `json:"start_time,omitempty"`
	EndTime   time.Time                 `json:"end_time,omitempty"`
	Stats     *downloader.StatsSnapshot `json:"stats,omitempty"`
}

// Manager runs at most one queue drain at a time, whether started by hand
// or by the scheduler.
type Manager struct {
	mu      sync.Mutex
	ctx     context.Context
	run     RunFunc
	log     *zap.Logger
	status  RunStatus
	running bool
	flag    *downloader.InterruptFlag
	done    chan struct{}
}

// NewManager creates a manager whose runs are cancelled when ctx ends.
func NewManager(ctx context.Context, run RunFunc, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		ctx:    ctx,
		run:    run,
		log:    log,
		status: RunStatus{Status: "idle"},
	}
}

// Start launches a run in the background.
func (m *Manager) Start(trigger string) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := m.ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	flag := downloader.NewInterruptFlag()
	done := make(chan struct{})
	m.running = true
	m.flag = flag
	m.done = done
	m.status = RunStatus{
		Status:    "running",
		Trigger:   trigger,
		Message:   "Run started...",
		StartTime: time.Now(),
	}
	m.mu.Unlock()

	m.log.Info("Starting download run", zap.String("trigger", trigger))
	go func() {
		var (
			stats *downloader.Stats
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("Download run panicked", zap.Any("panic", r))
				err = fmt.Errorf("run panicked: %v", r)
			}
			m.finish(stats, err)
			close(done)
		}()
		stats, err = m.run(m.ctx, flag)
	}()
	return nil
}

func (m *Manager) finish(stats *downloader.Stats, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.EndTime = time.Now()
	if stats != nil {
		snap := stats.Snapshot()
		m.status.Stats = &snap
	}
	if err != nil {
		m.status.Status = "failed"
		m.status.Message = err.Error()
		m.log.Warn("Download run failed", zap.Error(err))
	} else {
		m.status.Status = "success"
		m.status.Message = "Run completed successfully."
		m.log.Info("Finished download run")
	}
	m.running = false
	m.flag = nil
}

// Interrupt asks the current run to stop claiming jobs. It reports whether
// a run was in flight.
func (m *Manager) Interrupt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.flag.Set()
	return true
}

// Status returns a copy of the current or most recent run status.
func (m *Manager) Status() RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Wait blocks until the current run, if any, has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}
