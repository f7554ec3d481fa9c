package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/fetcher"
	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/ratelimit"
	"github.com/vrsandeep/citefetch/internal/retry"
	"github.com/vrsandeep/citefetch/internal/util"
)

const maxErrorSummary = 1000

var errInterrupted = errors.New("interrupted while waiting to retry")

// job carries one claimed queue item through its attempts.
type job struct {
	run      *run
	item     *models.QueueItem
	domain   string
	log      *zap.Logger
	started  time.Time
	partPath string
	// offset is the number of bytes already in partPath.
	offset int64
}

// applyCrawlDelay raises the domain's spacing to the host's robots.txt
// crawl-delay when the robots checker knows one.
func (j *job) applyCrawlDelay() {
	e := j.run.engine
	cd, ok := e.robots.(fetcher.CrawlDelayer)
	if !ok || !e.opts.Limiter.Enabled() {
		return
	}
	u, err := url.Parse(j.item.URL)
	if err != nil {
		return
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	if d := cd.CrawlDelay(scheme, u.Host); d > 0 {
		e.opts.Limiter.SetDomainDelay(j.domain, d)
	}
}

type jobResult struct {
	path        string
	size        int64
	finalURL    string
	contentType string
	httpStatus  int
}

// process drives item to a terminal state, or hands it back to the queue
// on a hard abort. Only store failures are returned.
func (r *run) process(ctx context.Context, item *models.QueueItem) error {
	e := r.engine
	j := &job{
		run:     r,
		item:    item,
		domain:  ratelimit.DomainKey(item.URL),
		started: e.now(),
	}
	j.log = r.log.With(zap.Int64("queue_id", item.ID), zap.String("url", item.URL), zap.String("domain", j.domain))
	j.prepareResume()
	j.log.Debug("Job claimed", zap.Int("claim", item.ClaimCount))
	j.emit("in_progress", "Starting download", 0, 0, false)

	allowed, err := e.robots.IsAllowed(ctx, item.URL)
	if err != nil {
		if ctx.Err() != nil {
			return j.release(ctx)
		}
		j.log.Warn("Robots check failed, allowing request", zap.Error(err))
		allowed = true
	}
	if !allowed {
		err := retry.MarkPermanent(models.ErrorRobots, fmt.Errorf("%w: %s", fetcher.ErrRobotsDisallowed, item.URL))
		return j.fail(ctx, err, retry.Classify(err), 0)
	}
	j.applyCrawlDelay()

	policy := e.opts.Policy
	for attempt := 1; ; attempt++ {
		if err := e.opts.Limiter.Acquire(ctx, j.domain); err != nil {
			return j.release(ctx)
		}
		res, err := j.attempt(ctx, attempt)
		if err == nil {
			return j.complete(ctx, res, attempt-1)
		}
		if ctx.Err() != nil {
			return j.release(ctx)
		}

		class := retry.Classify(err)
		if !policy.ShouldRetry(class, attempt) {
			return j.fail(ctx, err, class, attempt-1)
		}
		if e.opts.AbandonRetriesOnInterrupt && r.interrupted.IsSet() {
			j.log.Info("Interrupted, abandoning remaining retries", zap.Int("attempt", attempt))
			return j.fail(ctx, err, class, attempt-1)
		}

		delay := policy.NextDelay(attempt, class) + policy.CalculateJitter()
		j.log.Warn("Attempt failed, will retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.Attempts()),
			zap.Duration("delay", delay),
			zap.String("error_type", string(class.ErrorType)),
			zap.Error(err))
		j.emit("retrying", fmt.Sprintf("Attempt %d failed, retrying in %s", attempt, delay.Round(time.Millisecond)), 0, attempt, false)
		if e.opts.Limiter.Enabled() {
			e.opts.Limiter.AddCumulativeDelay(j.domain, delay)
		}
		if werr := j.waitRetry(ctx, delay); werr != nil {
			if ctx.Err() != nil {
				return j.release(ctx)
			}
			j.log.Info("Interrupted during backoff, abandoning remaining retries", zap.Int("attempt", attempt))
			return j.fail(ctx, err, class, attempt-1)
		}
	}
}

// PartFilePath is where the in-flight download of queue item id is
// streamed before it is renamed into place.
func PartFilePath(outputDir string, id int64) string {
	return filepath.Join(outputDir, fmt.Sprintf(".citefetch-%d.part", id))
}

// prepareResume keeps a partial file from an earlier claim when its size
// covers the recorded progress, and discards it otherwise.
func (j *job) prepareResume() {
	j.partPath = PartFilePath(j.run.outputDir, j.item.ID)
	info, err := os.Stat(j.partPath)
	if err != nil {
		return
	}
	want := j.item.BytesDownloaded
	if want > 0 && info.Size() >= want {
		if info.Size() == want || os.Truncate(j.partPath, want) == nil {
			j.offset = want
			j.log.Info("Resuming partial download", zap.Int64("offset", want))
			return
		}
	}
	_ = os.Remove(j.partPath)
}

// attempt performs one fetch and, on success, moves the file into place.
func (j *job) attempt(ctx context.Context, attempt int) (*jobResult, error) {
	e := j.run.engine
	resp, err := e.client.Fetch(ctx, &fetcher.Request{URL: j.item.URL, RangeStart: j.offset})
	if err != nil {
		return nil, err
	}
	if j.offset > 0 && resp.Partial && contentRangeStart(resp.Header.Get("Content-Range")) != j.offset {
		// Unusable range; start over without one.
		resp.Body.Close()
		j.discardPart()
		resp, err = e.client.Fetch(ctx, &fetcher.Request{URL: j.item.URL})
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if j.offset > 0 && !resp.Partial {
		j.log.Info("Server ignored range request, restarting from zero", zap.Int64("offset", j.offset))
		j.offset = 0
	}
	j.log.Debug("Fetching",
		zap.Int("attempt", attempt),
		zap.Int("status", resp.StatusCode),
		zap.Int64("offset", j.offset))

	var total *int64
	if resp.ContentLength >= 0 {
		t := j.offset + resp.ContentLength
		total = &t
	}

	written, err := j.stream(ctx, resp.Body, total)
	if err != nil {
		return nil, err
	}
	if total != nil && written < *total {
		return nil, fmt.Errorf("body ended at %d of %d bytes: %w", written, *total, io.ErrUnexpectedEOF)
	}
	if written == 0 {
		j.discardPart()
		return nil, retry.MarkPermanent(models.ErrorParse, errors.New("empty response body"))
	}

	dest, err := j.place(resp)
	if err != nil {
		return nil, err
	}
	return &jobResult{
		path:        dest,
		size:        written,
		finalURL:    resp.FinalURL,
		contentType: resp.ContentType,
		httpStatus:  resp.StatusCode,
	}, nil
}

// stream appends body to the part file, checkpointing progress every
// CheckpointBytes. It returns the part file's total size.
func (j *job) stream(ctx context.Context, body io.Reader, total *int64) (int64, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if j.offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(j.partPath, flags, 0o644)
	if err != nil {
		return 0, retry.MarkPermanent(models.ErrorIO, err)
	}

	pw := &progressWriter{
		job:      j,
		ctx:      ctx,
		f:        f,
		written:  j.offset,
		lastSave: j.offset,
		total:    total,
	}
	_, copyErr := io.Copy(pw, body)
	closeErr := f.Close()
	j.offset = pw.written
	// Recorded even on cancellation so the next claim can resume.
	j.checkpoint(context.WithoutCancel(ctx), pw.written, total)

	if copyErr != nil {
		return pw.written, copyErr
	}
	if closeErr != nil {
		return pw.written, retry.MarkPermanent(models.ErrorIO, closeErr)
	}
	return pw.written, nil
}

// place renames the part file to its final, collision-free name.
func (j *job) place(resp *fetcher.Response) (string, error) {
	r := j.run
	name := chooseFilename(j.item, resp.FinalURL, resp.Header.Get("Content-Disposition"), resp.ContentType)

	r.placeMu.Lock()
	defer r.placeMu.Unlock()
	dest := util.UniquePath(filepath.Join(r.outputDir, name))
	if err := os.Rename(j.partPath, dest); err != nil {
		return "", retry.MarkPermanent(models.ErrorIO, fmt.Errorf("move download into place: %w", err))
	}
	j.offset = 0
	return dest, nil
}

func (j *job) discardPart() {
	_ = os.Remove(j.partPath)
	j.offset = 0
}

func (j *job) checkpoint(ctx context.Context, written int64, total *int64) {
	if err := j.run.engine.store.UpdateProgress(ctx, j.item.ID, written, total); err != nil && ctx.Err() == nil {
		j.log.Warn("Failed to record download progress", zap.Error(err))
	}
	var pct float64
	if total != nil && *total > 0 {
		pct = float64(written) / float64(*total) * 100
	}
	j.emit("in_progress", fmt.Sprintf("Downloaded %d bytes", written), pct, 0, false)
}

// waitRetry sleeps before the next attempt. With AbandonRetriesOnInterrupt
// the sleep also ends when the interrupt flag is raised.
func (j *job) waitRetry(ctx context.Context, d time.Duration) error {
	e := j.run.engine
	if !e.opts.AbandonRetriesOnInterrupt {
		return e.sleep(ctx, d)
	}
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-j.run.interrupted.Done():
			cancel()
		case <-sctx.Done():
		}
	}()
	if err := e.sleep(sctx, d); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errInterrupted
	}
	return nil
}

func (j *job) complete(ctx context.Context, res *jobResult, retryCount int) error {
	r := j.run
	e := r.engine
	// The file is already in place; finish the bookkeeping even if the
	// run is being cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := e.store.MarkCompleted(ctx, j.item.ID, res.path, j.item.Metadata); err != nil {
		return fmt.Errorf("mark job %d completed: %w", j.item.ID, err)
	}
	r.stats.completed.Add(1)

	rec := j.record(models.AttemptSuccess, retryCount)
	rec.FinalURL = res.finalURL
	rec.FilePath = res.path
	rec.FileSize = res.size
	rec.ContentType = res.contentType
	rec.HTTPStatus = res.httpStatus

	if e.opts.Sidecar != nil {
		if err := e.opts.Sidecar.WriteSidecar(res.path, j.item, rec); err != nil {
			j.log.Warn("Failed to write sidecar", zap.String("path", res.path), zap.Error(err))
		}
	}
	if e.opts.History {
		e.store.LogDownloadAttempt(ctx, rec)
	}

	j.log.Info("Download completed",
		zap.String("path", res.path),
		zap.Int64("bytes", res.size),
		zap.Int("retries", retryCount),
		zap.Duration("elapsed", e.now().Sub(j.started)))
	j.emit("completed", "Download finished", 100, retryCount+1, true)
	return nil
}

func (j *job) fail(ctx context.Context, cause error, class retry.Classification, retryCount int) error {
	r := j.run
	e := r.engine
	ctx = context.WithoutCancel(ctx)
	summary := cause.Error()
	if len(summary) > maxErrorSummary {
		summary = summary[:maxErrorSummary]
	}
	if err := e.store.MarkFailed(ctx, j.item.ID, summary, retryCount); err != nil {
		return fmt.Errorf("mark job %d failed: %w", j.item.ID, err)
	}
	r.stats.failed.Add(1)

	if e.opts.History {
		rec := j.record(models.AttemptFailed, retryCount)
		rec.HTTPStatus = fetcher.StatusCodeOf(cause)
		rec.ErrorType = class.ErrorType
		rec.ErrorMessage = summary
		e.store.LogDownloadAttempt(ctx, rec)
	}

	j.log.Warn("Download failed",
		zap.String("failure", class.Type.String()),
		zap.String("error_type", string(class.ErrorType)),
		zap.Int("retries", retryCount),
		zap.Error(cause))
	j.emit("failed", summary, 0, retryCount+1, true)
	return nil
}

// release hands the job back to the queue after a hard abort. Its partial
// file and recorded progress stay behind for the next claim.
func (j *job) release(ctx context.Context) error {
	r := j.run
	if err := r.engine.store.Release(context.WithoutCancel(ctx), j.item.ID); err != nil {
		return fmt.Errorf("release job %d: %w", j.item.ID, err)
	}
	r.stats.released.Add(1)
	j.log.Info("Job released back to queue", zap.Int64("bytes_downloaded", j.offset))
	j.emit("pending", "Run aborted, job returned to queue", 0, 0, true)
	return nil
}

func (j *job) record(status models.AttemptStatus, retryCount int) *models.DownloadAttemptRecord {
	r := j.run
	completed := r.engine.now()
	id := j.item.ID
	return &models.DownloadAttemptRecord{
		QueueID:     &id,
		ClaimSeq:    j.item.ClaimCount,
		RunID:       r.id,
		Project:     r.engine.opts.Project,
		URL:         j.item.URL,
		Status:      status,
		StartedAt:   j.started,
		CompletedAt: &completed,
		DurationMS:  completed.Sub(j.started).Milliseconds(),
		RetryCount:  retryCount,
		Title:       j.item.Metadata.Title,
		Authors:     j.item.Metadata.Authors,
		DOI:         j.item.Metadata.DOI,
	}
}

func (j *job) emit(status, message string, progress float64, attempt int, done bool) {
	j.run.engine.emit(models.ProgressUpdate{
		RunID:    j.run.id,
		Message:  message,
		Progress: progress,
		ItemID:   j.item.ID,
		URL:      j.item.URL,
		Status:   status,
		Attempt:  attempt,
		Done:     done,
	})
}

// progressWriter writes to the part file and persists progress as it goes.
// Write errors are local I/O failures and are marked permanent.
type progressWriter struct {
	job      *job
	ctx      context.Context
	f        *os.File
	written  int64
	lastSave int64
	total    *int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, retry.MarkPermanent(models.ErrorIO, err)
	}
	if w.written-w.lastSave >= w.job.run.engine.opts.CheckpointBytes {
		w.lastSave = w.written
		w.job.checkpoint(w.ctx, w.written, w.total)
	}
	return n, nil
}

// contentRangeStart parses the first byte position of a Content-Range
// header such as "bytes 100-199/200". It returns -1 when absent or invalid.
func contentRangeStart(header string) int64 {
	rangeSpec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return -1
	}
	first, _, ok := strings.Cut(rangeSpec, "-")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
