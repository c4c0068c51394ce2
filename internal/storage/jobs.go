package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/hybridkb/internal/models"
)

const jobColumns = `id, type, status, progress, message, params, result, error, created_at, started_at, finished_at`

// SaveJob inserts or replaces a job row.
func (s *SQLiteStorage) SaveJob(ctx context.Context, job *models.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal job params: %w", err)
	}
	result, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, string(job.Status), job.Progress, job.Message, string(params), string(result),
		job.Error, job.CreatedAt, nullTime(job.StartedAt), nullTime(job.FinishedAt),
	)
	return err
}

// GetJob returns a job by id.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

// ListJobs returns the most recent jobs first, at most limit (all when limit <= 0).
func (s *SQLiteStorage) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// FailUnfinishedJobs marks every pending or running job as failed with message.
func (s *SQLiteStorage) FailUnfinishedJobs(ctx context.Context, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE status IN (?, ?)`,
		string(models.JobFailed), message, time.Now().UTC(), string(models.JobPending), string(models.JobRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteFinishedJobsBefore removes terminal jobs that finished before cutoff.
func (s *SQLiteStorage) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		string(models.JobCompleted), string(models.JobFailed), string(models.JobCancelled), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(row scanner) (*models.Job, error) {
	var job models.Job
	var status, params, result string
	var started, finished sql.NullTime
	if err := row.Scan(&job.ID, &job.Type, &status, &job.Progress, &job.Message, &params, &result,
		&job.Error, &job.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	_ = json.Unmarshal([]byte(params), &job.Params)
	_ = json.Unmarshal([]byte(result), &job.Result)
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
