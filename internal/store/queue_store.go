package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/util"
)

const queueColumns = `id, url, normalized_url, source_type, status, priority, retry_count,
	claim_count, last_error, bytes_downloaded, content_length, saved_path, metadata,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item          models.QueueItem
		lastError     sql.NullString
		contentLength sql.NullInt64
		savedPath     sql.NullString
		metadata      string
		createdAt     dbTime
		updatedAt     dbTime
	)
	err := row.Scan(&item.ID, &item.URL, &item.NormalizedURL, &item.SourceType, &item.Status,
		&item.Priority, &item.RetryCount, &item.ClaimCount, &lastError, &item.BytesDownloaded,
		&contentLength, &savedPath, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.LastError = stringPtr(lastError)
	item.ContentLength = int64Ptr(contentLength)
	item.SavedPath = stringPtr(savedPath)
	item.CreatedAt = createdAt.Time
	item.UpdatedAt = updatedAt.Time
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of queue item %d: %w", item.ID, err)
		}
	}
	return &item, nil
}

// Enqueue adds a direct URL with no metadata.
func (s *Store) Enqueue(ctx context.Context, rawURL string) (int64, error) {
	return s.EnqueueWithMetadata(ctx, rawURL, models.SourceDirectURL, models.ItemMetadata{})
}

// EnqueueWithMetadata adds a pending row at default priority.
func (s *Store) EnqueueWithMetadata(ctx context.Context, rawURL, sourceType string, meta models.ItemMetadata) (int64, error) {
	return s.EnqueueWithPriority(ctx, rawURL, sourceType, meta, 0)
}

// EnqueueWithPriority adds a pending row. When a pending or in-progress row
// with the same normalized URL exists, nothing is written and its id is
// returned together with ErrAlreadyQueued.
func (s *Store) EnqueueWithPriority(ctx context.Context, rawURL, sourceType string, meta models.ItemMetadata, priority int) (int64, error) {
	normalized, err := util.NormalizeURL(rawURL)
	if err != nil {
		return 0, fmt.Errorf("enqueue %q: %w", rawURL, err)
	}
	if sourceType == "" {
		sourceType = models.SourceDirectURL
	}
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	var (
		id       int64
		inserted bool
	)
	err = s.withBusyRetry(ctx, "enqueue", func() error {
		// The active row can finish between the insert and the lookup; try
		// the insert again when that happens.
		for range 3 {
			now := s.timestamp()
			res, err := s.db.ExecContext(ctx, `
				INSERT INTO queue (url, normalized_url, source_type, status, priority, metadata, created_at, updated_at)
				VALUES (?, ?, ?, 'pending', ?, ?, ?, ?)
				ON CONFLICT DO NOTHING`,
				strings.TrimSpace(rawURL), normalized, sourceType, priority, metaJSON, now, now)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 1 {
				inserted = true
				id, err = res.LastInsertId()
				return err
			}
			err = s.db.QueryRowContext(ctx, `
				SELECT id FROM queue
				WHERE normalized_url = ? AND status IN ('pending', 'in_progress')`, normalized).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return err
		}
		return fmt.Errorf("active row for %s kept changing", normalized)
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue %q: %w", rawURL, err)
	}
	if !inserted {
		return id, ErrAlreadyQueued
	}
	return id, nil
}

// HasActiveURL reports whether a pending or in-progress row exists for the
// normalized form of rawURL.
func (s *Store) HasActiveURL(ctx context.Context, rawURL string) (bool, error) {
	normalized, err := util.NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.withBusyRetry(ctx, "has active url", func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM queue
				WHERE normalized_url = ? AND status IN ('pending', 'in_progress')
			)`, normalized).Scan(&exists)
	})
	return exists, err
}

// Dequeue atomically claims the highest-priority pending row, oldest first,
// and returns it in_progress. It returns nil, nil when nothing is eligible.
// Concurrent callers never receive the same row.
func (s *Store) Dequeue(ctx context.Context) (*models.QueueItem, error) {
	var item *models.QueueItem
	err := s.withBusyRetry(ctx, "dequeue", func() error {
		row := s.db.QueryRowContext(ctx, `
			UPDATE queue
			SET status = 'in_progress', claim_count = claim_count + 1, updated_at = ?
			WHERE id = (
				SELECT id FROM queue
				WHERE status = 'pending'
				ORDER BY priority DESC, created_at ASC, id ASC
				LIMIT 1
			) AND status = 'pending'
			RETURNING `+queueColumns, s.timestamp())
		var err error
		item, err = scanQueueItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			item = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return item, nil
}

// transition applies an update guarded by status = 'in_progress'. A row in
// any other state is left alone and the call is a logged no-op.
func (s *Store) transition(ctx context.Context, op string, id int64, query string, args ...any) error {
	var affected int64
	err := s.withBusyRetry(ctx, op, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if affected > 0 {
		return nil
	}

	item, err := s.GetQueueItem(ctx, id)
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	s.log.Warn("Ignoring transition of queue item that is not in progress",
		zap.String("op", op), zap.Int64("queue_id", id), zap.String("status", string(item.Status)))
	return nil
}

// MarkCompleted moves an in-progress row to completed with its saved path
// and final metadata.
func (s *Store) MarkCompleted(ctx context.Context, id int64, savedPath string, meta models.ItemMetadata) error {
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.transition(ctx, "mark completed", id, `
		UPDATE queue
		SET status = 'completed', saved_path = ?, metadata = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'in_progress'`,
		savedPath, metaJSON, s.timestamp(), id)
}

// MarkFailed moves an in-progress row to failed, recording the error summary
// and the number of retries spent.
func (s *Store) MarkFailed(ctx context.Context, id int64, summary string, retryCount int) error {
	return s.transition(ctx, "mark failed", id, `
		UPDATE queue
		SET status = 'failed', last_error = ?, retry_count = ?, updated_at = ?
		WHERE id = ? AND status = 'in_progress'`,
		summary, retryCount, s.timestamp(), id)
}

// Release hands a claimed row back to pending without touching its retry
// count or partial progress.
func (s *Store) Release(ctx context.Context, id int64) error {
	return s.transition(ctx, "release", id, `
		UPDATE queue SET status = 'pending', updated_at = ?
		WHERE id = ? AND status = 'in_progress'`,
		s.timestamp(), id)
}

// UpdateProgress checkpoints the byte count of an in-progress download.
func (s *Store) UpdateProgress(ctx context.Context, id int64, bytesDownloaded int64, contentLength *int64) error {
	var length sql.NullInt64
	if contentLength != nil {
		length = sql.NullInt64{Int64: *contentLength, Valid: true}
	}
	return s.withBusyRetry(ctx, "update progress", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE queue
			SET bytes_downloaded = ?, content_length = COALESCE(?, content_length), updated_at = ?
			WHERE id = ? AND status = 'in_progress'`,
			bytesDownloaded, length, s.timestamp(), id)
		return err
	})
}

// ResetInProgress returns every in-progress row to pending. It is called on
// startup to recover claims orphaned by a crash. Retry counts restart from zero.
func (s *Store) ResetInProgress(ctx context.Context) (int64, error) {
	var n int64
	err := s.withBusyRetry(ctx, "reset in progress", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE queue SET status = 'pending', retry_count = 0, updated_at = ?
			WHERE status = 'in_progress'`, s.timestamp())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset in progress: %w", err)
	}
	if n > 0 {
		s.log.Info("Re-queued items orphaned by a previous run", zap.Int64("count", n))
	}
	return n, nil
}

// RetryFailed sets failed rows back to pending. Only the newest failed row
// per URL is revived, and only when no active row for it exists.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	var n int64
	err := s.withBusyRetry(ctx, "retry failed", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE queue
			SET status = 'pending', retry_count = 0, last_error = NULL, updated_at = ?
			WHERE status = 'failed'
			  AND id = (
				SELECT MAX(f.id) FROM queue f
				WHERE f.normalized_url = queue.normalized_url AND f.status = 'failed'
			  )
			  AND NOT EXISTS (
				SELECT 1 FROM queue a
				WHERE a.normalized_url = queue.normalized_url AND a.status IN ('pending', 'in_progress')
			  )`, s.timestamp())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	return n, nil
}

// DeleteCompleted removes successfully completed rows from the queue.
func (s *Store) DeleteCompleted(ctx context.Context) (int64, error) {
	var n int64
	err := s.withBusyRetry(ctx, "delete completed", func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM queue WHERE status = 'completed'")
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete completed: %w", err)
	}
	return n, nil
}

// RecordSkipped stores an input that could not be queued so it shows up in
// status listings. The input need not be a valid URL.
func (s *Store) RecordSkipped(ctx context.Context, input, sourceType string, meta models.ItemMetadata, reason string) (int64, error) {
	input = strings.TrimSpace(input)
	normalized, err := util.NormalizeURL(input)
	if err != nil {
		normalized = input
	}
	if sourceType == "" {
		sourceType = models.SourceDirectURL
	}
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	var id int64
	err = s.withBusyRetry(ctx, "record skipped", func() error {
		now := s.timestamp()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO queue (url, normalized_url, source_type, status, last_error, metadata, created_at, updated_at)
			VALUES (?, ?, ?, 'skipped', ?, ?, ?, ?)`,
			input, normalized, sourceType, nullString(reason), metaJSON, now, now)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record skipped %q: %w", input, err)
	}
	return id, nil
}

// GetQueueItem retrieves a single row by id.
func (s *Store) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	var item *models.QueueItem
	err := s.withBusyRetry(ctx, "get queue item", func() error {
		var err error
		item, err = scanQueueItem(s.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM queue WHERE id = ?", id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListByStatus returns rows in dequeue order. An empty status lists every
// row; a non-positive limit means no limit.
func (s *Store) ListByStatus(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error) {
	query := "SELECT " + queueColumns + " FROM queue"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var items []*models.QueueItem
	err := s.withBusyRetry(ctx, "list queue", func() error {
		items = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanQueueItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CountByStatus returns the number of rows in each status. Every known
// status is present in the result, zero when no row has it.
func (s *Store) CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	counts := make(map[models.QueueStatus]int, len(models.AllQueueStatuses))
	for _, st := range models.AllQueueStatuses {
		counts[st] = 0
	}

	err := s.withBusyRetry(ctx, "count by status", func() error {
		rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM queue GROUP BY status")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var status models.QueueStatus
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			counts[status] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CountAll returns the total number of queue rows.
func (s *Store) CountAll(ctx context.Context) (int, error) {
	var n int
	err := s.withBusyRetry(ctx, "count queue", func() error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue").Scan(&n)
	})
	return n, err
}
