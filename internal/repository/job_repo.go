package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eznotify/internal/model"
	"eznotify/internal/queue"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, job_type, recipient, tenant_id, priority, payload, status,
	       attempts, max_attempts, scheduled_for, last_error, created_at, started_at, completed_at`

// JobRepository 基于 PostgreSQL 的任务存储，是任务状态的唯一事实来源
type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

// Insert persists a freshly enqueued job.
func (r *JobRepository) Insert(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO notification_jobs
			(id, job_type, recipient, tenant_id, priority, payload, status,
			 attempts, max_attempts, scheduled_for, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Exec(ctx, query,
		job.ID,
		string(job.Type),
		job.Recipient,
		job.TenantID,
		job.Priority.Rank(),
		job.Payload,
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		job.ScheduledFor,
		job.LastError,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// ClaimBatch atomically moves up to limit due pending jobs to processing,
// incrementing attempts, and returns the claimed rows. The conditional
// update with SKIP LOCKED is the sole mechanism preventing double dispatch
// when several engine instances poll the same table.
func (r *JobRepository) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]model.Job, error) {
	query := `
		WITH claimed AS (
			UPDATE notification_jobs
			SET status = 'processing', attempts = attempts + 1, started_at = $2
			WHERE id IN (
				SELECT id FROM notification_jobs
				WHERE status = 'pending' AND scheduled_for <= $2
				ORDER BY priority ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			)
			RETURNING ` + jobColumns + `
		)
		SELECT * FROM claimed ORDER BY priority ASC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, limit, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// MarkCompleted finishes a dispatched job. The status condition keeps a
// concurrent cancel terminal: a completion landing after a cancel is a no-op.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE notification_jobs
		SET status = 'completed', completed_at = $2, last_error = ''
		WHERE id = $1 AND status = 'processing'
	`

	_, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return nil
}

// MarkRetry returns a failed dispatch to pending with the failure recorded.
// nextRun delays eligibility when a backoff strategy is configured.
func (r *JobRepository) MarkRetry(ctx context.Context, id, reason string, nextRun time.Time) error {
	query := `
		UPDATE notification_jobs
		SET status = 'pending', last_error = $2, scheduled_for = $3, started_at = NULL
		WHERE id = $1 AND status = 'processing'
	`

	_, err := r.db.Exec(ctx, query, id, reason, nextRun)
	if err != nil {
		return fmt.Errorf("failed to mark job for retry: %w", err)
	}

	return nil
}

// MarkFailed quarantines a job whose attempts are exhausted.
func (r *JobRepository) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	query := `
		UPDATE notification_jobs
		SET status = 'failed', last_error = $2, completed_at = $3
		WHERE id = $1 AND status = 'processing'
	`

	_, err := r.db.Exec(ctx, query, id, reason, now)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}

// Cancel flips a pending or processing job to cancelled. Returns false when
// the job is already terminal or does not exist.
func (r *JobRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE notification_jobs
		SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`

	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Retry resets a failed job to pending for another round of dispatching.
// Attempts are preserved so the original ceiling still applies.
func (r *JobRepository) Retry(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE notification_jobs
		SET status = 'pending', last_error = '', completed_at = NULL
		WHERE id = $1 AND status = 'failed'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to retry job: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetJob returns a single job by id.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE id = $1
	`

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// CountByStatus returns the grouped job counts for queue health reporting.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM notification_jobs
		GROUP BY status
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[model.JobStatus(status)] = count
	}

	return counts, rows.Err()
}

// ListByStatus returns up to limit jobs in the given status, newest first.
func (r *JobRepository) ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteCompletedBefore removes completed jobs older than the cutoff.
// Only completed rows are ever deleted; failures stay visible to operators.
func (r *JobRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_jobs
		WHERE status = 'completed' AND completed_at < $1
	`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed jobs: %w", err)
	}

	return tag.RowsAffected(), nil
}

// RequeueStale returns processing jobs whose claim is older than olderThan
// back to pending. Covers engine crashes that abandoned a claimed job.
// Attempts are left untouched since the claim already counted one.
func (r *JobRepository) RequeueStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-olderThan)

	query := `
		UPDATE notification_jobs
		SET status = 'pending', started_at = NULL, last_error = 'requeued: processing claim expired'
		WHERE status = 'processing' AND started_at < $1
	`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}

	return tag.RowsAffected(), nil
}

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var jobType, status string
	var rank int16

	err := row.Scan(
		&j.ID,
		&jobType,
		&j.Recipient,
		&j.TenantID,
		&rank,
		&j.Payload,
		&status,
		&j.Attempts,
		&j.MaxAttempts,
		&j.ScheduledFor,
		&j.LastError,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.Priority = model.PriorityFromRank(rank)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}
