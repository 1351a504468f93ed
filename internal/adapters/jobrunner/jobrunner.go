// Package jobrunner provides a generic queue worker pool: it reserves jobs of
// one type, keeps their leases alive, and hands them to a handler.
package jobrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	obserrors "github.com/driftwatch/driftwatch/internal/observability/errors"
	"github.com/driftwatch/driftwatch/internal/observability/metrics"
	"github.com/driftwatch/driftwatch/internal/observability/statsd"
	"github.com/driftwatch/driftwatch/internal/service"
)

// HandlerFunc processes one job. An error marks the job failed; the queue
// retries it until its retry budget is spent.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Job processing settings
	JobType     model.JobType // which job type to process; required
	Handler     HandlerFunc   // required
	Lease       time.Duration // per-job lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo core.JobRepository
	Metrics  statsd.Sink
}

// Runner pulls jobs of a single type and executes them with the handler.
type Runner struct {
	jobs      *service.JobService
	handler   HandlerFunc
	jobType   model.JobType
	lease     time.Duration
	workers   int
	logger    *slog.Logger
	metrics   statsd.Sink
	component string
}

// NewRunner wires the job service and constructs a runner for one job type.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.JobsRepo == nil {
		return nil, errors.New("either DB or JobsRepo must be provided")
	}
	if !opts.JobType.Valid() {
		return nil, fmt.Errorf("invalid job type %q", opts.JobType)
	}
	if opts.Handler == nil {
		return nil, errors.New("Handler is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	jobsRepo := opts.JobsRepo
	if jobsRepo == nil {
		jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}
	jobSvc, err := service.NewJobService(service.JobServiceOptions{
		Repo:         jobsRepo,
		DefaultLease: lease,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new job service: %w", err)
	}

	return &Runner{
		jobs:      jobSvc,
		handler:   opts.Handler,
		jobType:   opts.JobType,
		lease:     lease,
		workers:   workers,
		logger:    logger.With("component", string(opts.JobType)+"_runner"),
		metrics:   opts.Metrics,
		component: string(opts.JobType) + "_runner",
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"type", r.jobType, "workers", r.workers, "lease", r.lease)

	group, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		group.Go(func() error { return r.workerLoop(gctx) })
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, r.jobType, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if werr := r.jobs.WaitForNotification(ctx, r.jobType); werr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.WarnContext(ctx, "wait for jobs interrupted", "error", werr)
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	r.logger.DebugContext(ctx, "processing job", "job_id", job.ID, "type", job.Type)

	stopHB := r.startHeartbeat(ctx, job.ID)
	defer stopHB()

	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	if err := r.handler(ctx, job); err != nil {
		r.logger.ErrorContext(ctx, "job processing failed",
			"job_id", job.ID, "error", err, "error_class", obserrors.Classify(err))
		if _, ferr := r.jobs.Fail(ctx, job.ID, err.Error()); ferr != nil {
			r.logger.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", ferr)
		}
		emit("failed", metrics.ResultError, err)
		return
	}

	if completed, err := r.jobs.Complete(ctx, job.ID); err != nil {
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		emit("completed", metrics.ResultError, err)
	} else {
		result := metrics.ResultNoop
		if completed {
			result = metrics.ResultSuccess
		}
		emit("completed", result, nil)
	}
}

// startHeartbeat extends the job lease at half-lease intervals until the
// returned stop function is called. A lost heartbeat means the reaper may have
// requeued the job; the worker keeps going and the repository resolves the
// race on Complete.
func (r *Runner) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := r.lease / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if ok, err := r.jobs.Heartbeat(ctx, jobID, r.lease); err != nil {
					r.logger.ErrorContext(ctx, "heartbeat failed", "job_id", jobID, "error", err)
				} else if !ok {
					r.logger.WarnContext(ctx, "heartbeat not applied (job may be lost)", "job_id", jobID)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}
