// Package intake turns raw reference lines into queue rows. Inputs that a
// resolver accepts are enqueued; inputs that fail resolution are recorded
// as skipped, with a history row explaining why.
package intake

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/resolver"
	"github.com/vrsandeep/citefetch/internal/store"
)

// Outcome is what happened to one input.
type Outcome string

const (
	Queued    Outcome = "queued"
	Duplicate Outcome = "duplicate"
	Skipped   Outcome = "skipped"
)

// Queue is the subset of the store intake writes to.
type Queue interface {
	EnqueueWithPriority(ctx context.Context, rawURL, sourceType string, meta models.ItemMetadata, priority int) (int64, error)
	RecordSkipped(ctx context.Context, input, sourceType string, meta models.ItemMetadata, reason string) (int64, error)
	LogDownloadAttempt(ctx context.Context, rec *models.DownloadAttemptRecord)
}

// Result reports the fate of one input.
type Result struct {
	Input     string           `json:"input"`
	Outcome   Outcome          `json:"outcome"`
	QueueID   int64            `json:"queue_id"`
	URL       string           `json:"url,omitempty"`
	Resolver  string           `json:"resolver,omitempty"`
	ErrorType models.ErrorType `json:"error_type,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Options configures a Service.
type Options struct {
	// History controls whether skipped inputs get a download_log row.
	History bool
	Project string
	Logger  *zap.Logger
	Now     func() time.Time
}

// Service resolves and enqueues inputs.
type Service struct {
	registry *resolver.Registry
	queue    Queue
	history  bool
	project  string
	log      *zap.Logger
	now      func() time.Time
}

// New creates an intake service.
func New(registry *resolver.Registry, queue Queue, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		registry: registry,
		queue:    queue,
		history:  opts.History,
		project:  opts.Project,
		log:      opts.Logger,
		now:      opts.Now,
	}
}

// Add processes inputs in order. Resolution failures never abort the batch;
// a store failure does, and the results gathered so far are returned with it.
func (s *Service) Add(ctx context.Context, inputs []string, priority int) ([]Result, error) {
	results := make([]Result, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.addOne(ctx, input, priority)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) addOne(ctx context.Context, input string, priority int) (Result, error) {
	result := Result{Input: input}
	started := s.now()

	resolved, err := s.registry.Resolve(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return s.skip(ctx, result, started, err)
	}

	result.URL = resolved.URL
	result.Resolver = resolved.Resolver
	id, err := s.queue.EnqueueWithPriority(ctx, resolved.URL, resolved.SourceType, resolved.Metadata, priority)
	switch {
	case errors.Is(err, store.ErrAlreadyQueued):
		result.Outcome = Duplicate
		result.QueueID = id
		s.log.Info("Input already queued", zap.String("input", input), zap.Int64("queue_id", id))
		return result, nil
	case err != nil:
		return result, fmt.Errorf("enqueue %q: %w", input, err)
	}
	result.Outcome = Queued
	result.QueueID = id
	s.log.Info("Input queued",
		zap.String("input", input),
		zap.String("url", resolved.URL),
		zap.String("resolver", resolved.Resolver),
		zap.Int64("queue_id", id))
	return result, nil
}

func (s *Service) skip(ctx context.Context, result Result, started time.Time, cause error) (Result, error) {
	result.Outcome = Skipped
	result.ErrorType = resolver.ErrorTypeOf(cause)
	result.Error = cause.Error()

	sourceType := models.SourceDirectURL
	var re *resolver.ResolveError
	if errors.As(cause, &re) {
		switch re.Resolver {
		case models.SourceDOI, models.SourceArxiv:
			sourceType = re.Resolver
		}
	}
	meta := models.ItemMetadata{OriginalInput: result.Input}
	id, err := s.queue.RecordSkipped(ctx, result.Input, sourceType, meta, result.Error)
	if err != nil {
		return result, err
	}
	result.QueueID = id
	s.log.Warn("Input skipped",
		zap.String("input", result.Input),
		zap.String("error_type", string(result.ErrorType)),
		zap.Error(cause))

	if s.history {
		completed := s.now()
		s.queue.LogDownloadAttempt(ctx, &models.DownloadAttemptRecord{
			QueueID:      &id,
			Project:      s.project,
			URL:          result.Input,
			Status:       models.AttemptSkipped,
			StartedAt:    started,
			CompletedAt:  &completed,
			DurationMS:   completed.Sub(started).Milliseconds(),
			HTTPStatus:   httpStatusOf(cause),
			ErrorType:    result.ErrorType,
			ErrorMessage: result.Error,
		})
	}
	return result, nil
}

func httpStatusOf(err error) int {
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// ReadInputs reads one reference per line, ignoring blank lines and lines
// starting with '#'.
func ReadInputs(r io.Reader) ([]string, error) {
	var inputs []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inputs = append(inputs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return inputs, nil
}
