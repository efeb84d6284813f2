package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// JobStore implements domain.JobStore using PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new JobStore backed by the given connection pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// RecordStart stamps the job's last_started_at.
func (s *JobStore) RecordStart(ctx context.Context, jobName string, at time.Time) error {
	const query = `
		INSERT INTO job_runs (job_name, last_started_at)
		VALUES ($1, $2)
		ON CONFLICT (job_name) DO UPDATE SET last_started_at = EXCLUDED.last_started_at`
	if _, err := s.pool.Exec(ctx, query, jobName, at); err != nil {
		return fmt.Errorf("postgres: record job start %s: %w", jobName, err)
	}
	return nil
}

// RecordResult stamps the job's success or failure and its duration.
func (s *JobStore) RecordResult(ctx context.Context, jobName string, finishedAt time.Time, durationMS float64, runErr error) error {
	var query string
	args := []any{jobName, finishedAt, durationMS}
	if runErr == nil {
		query = `
			INSERT INTO job_runs (job_name, last_success_at, last_duration_ms)
			VALUES ($1, $2, $3)
			ON CONFLICT (job_name) DO UPDATE SET
				last_success_at  = EXCLUDED.last_success_at,
				last_duration_ms = EXCLUDED.last_duration_ms,
				last_error       = NULL,
				last_error_at    = NULL`
	} else {
		query = `
			INSERT INTO job_runs (job_name, last_error_at, last_duration_ms, last_error)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (job_name) DO UPDATE SET
				last_error_at    = EXCLUDED.last_error_at,
				last_duration_ms = EXCLUDED.last_duration_ms,
				last_error       = EXCLUDED.last_error`
		args = append(args, runErr.Error())
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: record job result %s: %w", jobName, err)
	}
	return nil
}

// List returns bookkeeping for every known job.
func (s *JobStore) List(ctx context.Context) ([]domain.JobRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_name, last_started_at, last_success_at, last_error_at,
			last_error, last_duration_ms
		FROM job_runs ORDER BY job_name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list job runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.JobRun
	for rows.Next() {
		var r domain.JobRun
		var lastErr *string
		var duration *float64
		if err := rows.Scan(
			&r.JobName, &r.LastStartedAt, &r.LastSuccessAt, &r.LastErrorAt,
			&lastErr, &duration,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan job run: %w", err)
		}
		r.LastError = deref(lastErr)
		if duration != nil {
			r.LastDurationMS = *duration
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: job run rows: %w", err)
	}
	return runs, nil
}
