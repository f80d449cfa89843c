package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crimewatch/intel/internal/models"
)

// asyncJobTimeout bounds one background refresh. Generous: a region of N
// sources is already bounded by the per-source deadline times the fan-out.
const asyncJobTimeout = 10 * time.Minute

// markTimeout bounds a terminal status write. Kept separate from the job
// budget: a refresh can fail precisely because the job context expired, and
// the row must still reach a terminal state.
const markTimeout = 15 * time.Second

// JobRegistry is the job lifecycle surface the async runner needs.
// *models.JobStore satisfies it.
type JobRegistry interface {
	Create(ctx context.Context, region string) (*models.RefreshJob, error)
	MarkRunning(ctx context.Context, jobID uuid.UUID) error
	MarkSucceeded(ctx context.Context, jobID uuid.UUID, newArticles, totalIncidents int) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*models.RefreshJob, error)
}

// regionRefresher is the refresh surface the runner drives. *Orchestrator
// satisfies it.
type regionRefresher interface {
	Refresh(ctx context.Context, region string) (*RefreshResult, error)
}

// AsyncRunner runs refreshes as background jobs observable by polling.
type AsyncRunner struct {
	jobs    JobRegistry
	orch    regionRefresher
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncRunner creates an async refresh runner.
func NewAsyncRunner(jobs JobRegistry, orch *Orchestrator) *AsyncRunner {
	return &AsyncRunner{jobs: jobs, orch: orch, timeout: asyncJobTimeout}
}

// Start creates a pending job for the region and launches the refresh in the
// background, detached from the caller's context. The returned job is in the
// pending state; observers poll Get for progress.
func (r *AsyncRunner) Start(ctx context.Context, region string) (*models.RefreshJob, error) {
	job, err := r.jobs.Create(ctx, region)
	if err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(job.JobID, region)
	}()

	return job, nil
}

func (r *AsyncRunner) run(jobID uuid.UUID, region string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.jobs.MarkRunning(ctx, jobID); err != nil {
		slog.Error("async refresh: mark running", "job_id", jobID, "err", err)
		r.markFailed(ctx, jobID, "could not start refresh: "+err.Error())
		return
	}

	result, err := r.orch.Refresh(ctx, region)
	if err != nil {
		slog.Warn("async refresh: failed", "job_id", jobID, "region", region, "err", err)
		r.markFailed(ctx, jobID, err.Error())
		return
	}

	markCtx, markCancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer markCancel()
	if err := r.jobs.MarkSucceeded(markCtx, jobID, result.NewArticles, result.TotalIncidents); err != nil {
		slog.Error("async refresh: mark succeeded", "job_id", jobID, "err", err)
		return
	}
	slog.Info("async refresh: succeeded",
		"job_id", jobID,
		"region", region,
		"new_articles", result.NewArticles,
		"total_incidents", result.TotalIncidents,
	)
}

// markFailed records the failed terminal state on a context detached from
// the job's own: when the refresh died to the job deadline, the write must
// still land or the job is observable as running forever.
func (r *AsyncRunner) markFailed(ctx context.Context, jobID uuid.UUID, message string) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err := r.jobs.MarkFailed(markCtx, jobID, message); err != nil {
		slog.Error("async refresh: mark failed", "job_id", jobID, "err", err)
	}
}

// Get returns the job for polling.
func (r *AsyncRunner) Get(ctx context.Context, jobID uuid.UUID) (*models.RefreshJob, error) {
	return r.jobs.GetByJobID(ctx, jobID)
}

// Wait blocks until all in-flight jobs finish. Used for graceful shutdown.
func (r *AsyncRunner) Wait() {
	r.wg.Wait()
}
