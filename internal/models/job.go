package models

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Refresh job statuses. The legal transitions are
// pending -> running -> succeeded | failed, plus pending -> failed for a job
// that never starts; terminal states are immutable.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// RefreshJob records one asynchronous refresh request, observable by polling.
type RefreshJob struct {
	ID             int        `json:"id"`
	JobID          uuid.UUID  `json:"job_id"`
	Region         string     `json:"region"`
	Status         string     `json:"status"`
	NewArticles    *int       `json:"new_articles,omitempty"`
	TotalIncidents *int       `json:"total_incidents,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobStore provides data access methods for refresh jobs. State transitions
// are guarded in SQL so an illegal transition is rejected with ErrConflict
// no matter how the callers race.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Create inserts a job in the pending state and returns it.
func (s *JobStore) Create(ctx context.Context, region string) (*RefreshJob, error) {
	job := &RefreshJob{
		JobID:  uuid.New(),
		Region: region,
		Status: JobPending,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO refresh_jobs (job_id, region, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, job.JobID, job.Region, job.Status).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("job create: %w", err)
	}
	return job, nil
}

// MarkRunning transitions pending -> running.
func (s *JobStore) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	return s.transition(ctx, `
		UPDATE refresh_jobs SET status = $1, started_at = now()
		WHERE job_id = $2 AND status = $3
	`, JobRunning, jobID, JobPending)
}

// MarkSucceeded transitions running -> succeeded and records the counts.
func (s *JobStore) MarkSucceeded(ctx context.Context, jobID uuid.UUID, newArticles, totalIncidents int) error {
	return s.transition(ctx, `
		UPDATE refresh_jobs
		SET status = $1, new_articles = $2, total_incidents = $3, completed_at = now()
		WHERE job_id = $4 AND status = $5
	`, JobSucceeded, newArticles, totalIncidents, jobID, JobRunning)
}

// MarkFailed transitions pending|running -> failed and records the error
// message. Pending is accepted so a job whose start transition failed still
// lands in a terminal state.
func (s *JobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error {
	return s.transition(ctx, `
		UPDATE refresh_jobs SET status = $1, error_message = $2, completed_at = now()
		WHERE job_id = $3 AND status IN ($4, $5)
	`, JobFailed, message, jobID, JobPending, JobRunning)
}

func (s *JobStore) transition(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("job transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// GetByJobID returns the job with the given external id, or ErrNotFound.
func (s *JobStore) GetByJobID(ctx context.Context, jobID uuid.UUID) (*RefreshJob, error) {
	var job RefreshJob
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, region, status, new_articles, total_incidents, error_message,
		       created_at, started_at, completed_at
		FROM refresh_jobs WHERE job_id = $1
	`, jobID).Scan(
		&job.ID, &job.JobID, &job.Region, &job.Status, &job.NewArticles,
		&job.TotalIncidents, &job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("job get: %w", err)
	}
	return &job, nil
}

// DeleteTerminalOlderThan removes succeeded/failed jobs completed before the
// cutoff. Periodic cleanup only; ingestion state is unaffected.
func (s *JobStore) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM refresh_jobs
		WHERE status IN ($1, $2) AND completed_at < $3
	`, JobSucceeded, JobFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("job cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
