package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/models"
)

// LatestDownloadAttemptID returns the highest download_log id, or 0 when the
// log is empty. Callers use it as a watermark before a run.
func (s *Store) LatestDownloadAttemptID(ctx context.Context) (int64, error) {
	var id int64
	err := s.withBusyRetry(ctx, "latest download attempt", func() error {
		return s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM download_log").Scan(&id)
	})
	return id, err
}

// LogDownloadAttempt appends a history row. History is best-effort: failures
// are logged and swallowed, and a second row for the same claim of a queue
// item is silently ignored. On insert rec.ID is set.
func (s *Store) LogDownloadAttempt(ctx context.Context, rec *models.DownloadAttemptRecord) {
	if rec == nil {
		return
	}
	authors := sql.NullString{}
	if len(rec.Authors) > 0 {
		encoded, err := encodeJSON(rec.Authors)
		if err == nil {
			authors = sql.NullString{String: encoded, Valid: true}
		}
	}
	var queueID sql.NullInt64
	if rec.QueueID != nil {
		queueID = sql.NullInt64{Int64: *rec.QueueID, Valid: true}
	}
	var completedAt any
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.UTC()
	}
	var httpStatus sql.NullInt64
	if rec.HTTPStatus != 0 {
		httpStatus = sql.NullInt64{Int64: int64(rec.HTTPStatus), Valid: true}
	}

	err := s.withBusyRetry(ctx, "log download attempt", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO download_log (
				queue_id, claim_seq, run_id, project, url, final_url, status, file_path, file_size,
				content_type, started_at, completed_at, duration_ms, http_status, error_type,
				error_message, retry_count, title, authors, doi
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			queueID, rec.ClaimSeq, rec.RunID, rec.Project, rec.URL, nullString(rec.FinalURL),
			rec.Status, nullString(rec.FilePath), nullInt64(rec.FileSize), nullString(rec.ContentType),
			rec.StartedAt.UTC(), completedAt, rec.DurationMS, httpStatus,
			nullString(string(rec.ErrorType)), nullString(rec.ErrorMessage), rec.RetryCount,
			nullString(rec.Title), authors, nullString(rec.DOI))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			rec.ID, _ = res.LastInsertId()
		}
		return nil
	})
	if err != nil {
		s.log.Warn("Failed to write download history",
			zap.String("url", rec.URL), zap.Int("claim_seq", rec.ClaimSeq), zap.Error(err))
	}
}

// QueryDownloadAttempts returns history rows newest first, narrowed by filter.
func (s *Store) QueryDownloadAttempts(ctx context.Context, filter models.AttemptFilter) ([]*models.DownloadAttemptRecord, error) {
	query := `
		SELECT id, queue_id, claim_seq, run_id, project, url, final_url, status, file_path,
			file_size, content_type, started_at, completed_at, duration_ms, http_status,
			error_type, error_message, retry_count, title, authors, doi
		FROM download_log WHERE 1 = 1`
	args := []any{}
	if filter.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		query += " AND started_at < ?"
		args = append(args, filter.Until.UTC())
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Project != "" {
		query += " AND project = ?"
		args = append(args, filter.Project)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var records []*models.DownloadAttemptRecord
	err := s.withBusyRetry(ctx, "query download attempts", func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		records, err = scanAttempts(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query download attempts: %w", err)
	}
	return records, nil
}

func scanAttempts(rows *sql.Rows) ([]*models.DownloadAttemptRecord, error) {
	var records []*models.DownloadAttemptRecord
	for rows.Next() {
		var (
			rec                                          models.DownloadAttemptRecord
			queueID, fileSize, httpStatus                sql.NullInt64
			finalURL, filePath, contentType              sql.NullString
			errorType, errorMessage, title, authors, doi sql.NullString
			startedAt, completedAt                       dbTime
		)
		err := rows.Scan(&rec.ID, &queueID, &rec.ClaimSeq, &rec.RunID, &rec.Project, &rec.URL,
			&finalURL, &rec.Status, &filePath, &fileSize, &contentType, &startedAt, &completedAt,
			&rec.DurationMS, &httpStatus, &errorType, &errorMessage, &rec.RetryCount, &title,
			&authors, &doi)
		if err != nil {
			return nil, err
		}
		rec.QueueID = int64Ptr(queueID)
		rec.FinalURL = finalURL.String
		rec.FilePath = filePath.String
		rec.FileSize = fileSize.Int64
		rec.ContentType = contentType.String
		rec.StartedAt = startedAt.Time
		rec.CompletedAt = completedAt.ptr()
		rec.HTTPStatus = int(httpStatus.Int64)
		rec.ErrorType = models.ErrorType(errorType.String)
		rec.ErrorMessage = errorMessage.String
		rec.Title = title.String
		rec.DOI = doi.String
		if authors.Valid && authors.String != "" {
			if err := json.Unmarshal([]byte(authors.String), &rec.Authors); err != nil {
				return nil, fmt.Errorf("decode authors of history row %d: %w", rec.ID, err)
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
