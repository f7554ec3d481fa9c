// To handle all database interactions. This is our
// data access layer, keeping SQL queries separate from business logic.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyQueued is returned alongside the existing row id when an
	// active row for the same normalized URL is already queued.
	ErrAlreadyQueued = errors.New("url already queued")
	// ErrNotFound is returned when a queue row does not exist.
	ErrNotFound = errors.New("queue item not found")
)

const (
	busyMaxTries  = 5
	busyBaseDelay = 25 * time.Millisecond
)

// Store provides all functions to interact with the database.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings such as no-op transitions
// and swallowed history failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new Store instance.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for callers that need raw access, such as tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// isBusy reports whether err is SQLite telling us another connection holds
// the lock.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// withBusyRetry runs fn, retrying with exponential backoff while SQLite
// reports BUSY or LOCKED. Any other error is returned immediately.
func (s *Store) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	delay := busyBaseDelay
	var err error
	for try := 1; try <= busyMaxTries; try++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if try == busyMaxTries {
			break
		}
		s.log.Debug("Database busy, retrying",
			zap.String("op", op), zap.Int("try", try), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s: database still busy after %d tries: %w", op, busyMaxTries, err)
}
