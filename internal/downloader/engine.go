// Package downloader drains the download queue with a bounded pool of
// workers. Each job is paced per domain, checked against robots.txt,
// fetched with retries and streamed to disk, and its terminal state and
// history row are written before the worker claims the next job.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/citefetch/internal/fetcher"
	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/ratelimit"
	"github.com/vrsandeep/citefetch/internal/retry"
	"github.com/vrsandeep/citefetch/internal/util"
)

// ErrInvalidConfig is returned by NewEngine for unusable options.
var ErrInvalidConfig = errors.New("downloader: invalid configuration")

const defaultCheckpointBytes = 1 << 20

// Store is the part of the queue store the engine drives.
type Store interface {
	Dequeue(ctx context.Context) (*models.QueueItem, error)
	MarkCompleted(ctx context.Context, id int64, savedPath string, meta models.ItemMetadata) error
	MarkFailed(ctx context.Context, id int64, summary string, retryCount int) error
	Release(ctx context.Context, id int64) error
	UpdateProgress(ctx context.Context, id int64, bytesDownloaded int64, contentLength *int64) error
	LogDownloadAttempt(ctx context.Context, rec *models.DownloadAttemptRecord)
}

// Options configures an Engine.
type Options struct {
	// Concurrency is the number of jobs in flight at once. Zero is invalid.
	Concurrency int
	Policy      retry.Policy
	// Limiter paces requests per domain. Nil disables pacing.
	Limiter *ratelimit.Limiter
	// Robots is consulted before the first attempt of each job. Nil allows
	// everything.
	Robots fetcher.RobotsAllower
	// AbandonRetriesOnInterrupt ends claimed jobs after their current
	// attempt once the interrupt flag is set, instead of finishing their
	// retry budget.
	AbandonRetriesOnInterrupt bool
	// History enables download_log rows.
	History bool
	// Sidecar, when set, writes a metadata file next to each download.
	Sidecar SidecarWriter
	Project string
	// RunID tags history rows. A random one is generated when empty.
	RunID string
	// CheckpointBytes is how often streamed progress is persisted.
	CheckpointBytes int64
	ProgressFunc    func(models.ProgressUpdate)
	Logger          *zap.Logger
}

// Option adjusts engine internals, mostly for tests.
type Option func(*Engine)

// WithClock sets the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleep replaces the retry backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// Engine processes queued jobs.
type Engine struct {
	store  Store
	client fetcher.Client
	opts   Options
	robots fetcher.RobotsAllower
	log    *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEngine validates opts and returns an engine. It fails with
// ErrInvalidConfig when Concurrency is not positive.
func NewEngine(store Store, client fetcher.Client, opts Options, options ...Option) (*Engine, error) {
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfig, opts.Concurrency)
	}
	if store == nil || client == nil {
		return nil, fmt.Errorf("%w: store and client are required", ErrInvalidConfig)
	}
	if opts.CheckpointBytes <= 0 {
		opts.CheckpointBytes = defaultCheckpointBytes
	}
	e := &Engine{
		store:  store,
		client: client,
		opts:   opts,
		robots: opts.Robots,
		log:    opts.Logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
	if e.robots == nil {
		e.robots = fetcher.AllowAll{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

// ProcessQueue runs workers until no pending job is left or interrupted is
// set. Jobs claimed before the interrupt still reach a terminal state.
//
// Cancelling ctx is a hard abort: jobs in flight are handed back to the
// queue as pending and counted as released, and ctx's error is returned
// along with the stats. A store failure on a terminal transition stops the
// run and is returned.
func (e *Engine) ProcessQueue(ctx context.Context, outputDir string, interrupted *InterruptFlag) (*Stats, error) {
	if err := util.ValidateOutputDir(outputDir); err != nil {
		return nil, err
	}
	runID := e.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	stats := newStats(runID, e.now())
	log := e.log.With(zap.String("run_id", runID))
	log.Info("Starting download run",
		zap.Int("concurrency", e.opts.Concurrency),
		zap.Int("max_attempts", e.opts.Policy.Attempts()),
		zap.String("output_dir", outputDir))

	run := &run{
		engine:      e,
		id:          runID,
		outputDir:   outputDir,
		interrupted: interrupted,
		stats:       stats,
		log:         log,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range e.opts.Concurrency {
		g.Go(func() error {
			return run.worker(gctx, i+1)
		})
	}
	err := g.Wait()
	stats.FinishedAt = e.now()
	if err == nil {
		err = ctx.Err()
	}

	log.Info("Download run finished",
		zap.Int("dequeued", stats.Dequeued()),
		zap.Int("completed", stats.Completed()),
		zap.Int("failed", stats.Failed()),
		zap.Int("released", stats.Released()),
		zap.Bool("interrupted", stats.Interrupted()),
		zap.Duration("elapsed", stats.FinishedAt.Sub(stats.StartedAt)),
		zap.Error(err))
	return stats, err
}

// run is the state shared by the workers of one ProcessQueue call.
type run struct {
	engine      *Engine
	id          string
	outputDir   string
	interrupted *InterruptFlag
	stats       *Stats
	log         *zap.Logger

	// placeMu serializes picking a free file name and renaming into it.
	placeMu sync.Mutex
}

func (r *run) worker(ctx context.Context, n int) error {
	log := r.log.With(zap.Int("worker", n))
	log.Debug("Worker started")
	defer log.Debug("Worker stopped")

	for {
		if r.interrupted.IsSet() {
			r.stats.interrupted.Store(true)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		item, err := r.engine.store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		if item == nil {
			return nil
		}
		r.stats.dequeued.Add(1)
		if err := r.process(ctx, item); err != nil {
			return err
		}
	}
}

func (e *Engine) emit(update models.ProgressUpdate) {
	if e.opts.ProgressFunc != nil {
		e.opts.ProgressFunc(update)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
