// Package maintenancerunner processes maintenance jobs and enqueues the daily
// cleanup tasks when their fire time passes.
package maintenancerunner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftwatch/driftwatch/config"
	"github.com/driftwatch/driftwatch/internal/adapters/jobrunner"
	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/observability/statsd"
	"github.com/driftwatch/driftwatch/internal/service"
)

// RunnerOptions configures the maintenance worker adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.MaintenanceWorkerConfig
	Logger *slog.Logger

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo     core.JobRepository
	RunsRepo     core.RunRepository
	AttemptsRepo core.FetchAttemptRepository
	Locker       core.MaintenanceLocker
	Metrics      statsd.Sink
}

// Runner processes maintenance jobs and runs the enqueue-due loop alongside.
type Runner struct {
	inner         *jobrunner.Runner
	maintenance   *service.MaintenanceService
	checkInterval time.Duration
	logger        *slog.Logger
}

// NewRunner wires the maintenance service and constructs the worker.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.JobsRepo == nil {
		return nil, errors.New("either DB or JobsRepo must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jobsRepo := opts.JobsRepo
	if jobsRepo == nil {
		jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}
	runs := opts.RunsRepo
	if runs == nil && opts.DB != nil {
		runs = data.NewRunRepo(opts.DB)
	}
	attempts := opts.AttemptsRepo
	if attempts == nil && opts.DB != nil {
		attempts = data.NewFetchAttemptRepo(opts.DB)
	}
	locker := opts.Locker
	if locker == nil && opts.DB != nil {
		locker = data.NewMaintenanceLockRepo(opts.DB)
	}

	maintenance := service.NewMaintenanceService(service.MaintenanceServiceOptions{
		Runs:     runs,
		Attempts: attempts,
		Jobs:     jobsRepo,
		Locker:   locker,
		Logger:   logger.With("component", "maintenance"),
	})

	inner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Logger:      logger,
		JobType:     model.JobTypeMaintenance,
		Handler:     maintenanceHandler(maintenance),
		Lease:       opts.Config.JobLease,
		Concurrency: 1,
		JobsRepo:    jobsRepo,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("new job runner: %w", err)
	}

	return &Runner{
		inner:         inner,
		maintenance:   maintenance,
		checkInterval: opts.Config.EnqueueCheckInterval,
		logger:        logger.With("component", "maintenance_runner"),
	}, nil
}

// Run starts the worker and the enqueue-due loop and runs until the context
// is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return r.inner.Run(gctx) })
	group.Go(func() error { return r.enqueueLoop(gctx) })
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// enqueueLoop checks the daily fire times at the configured interval. The
// previous check time is carried across ticks so a slow tick never skips a
// task, and the advisory lock in the service keeps replicas from enqueueing
// twice.
func (r *Runner) enqueueLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	last := time.Now().UTC()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := r.maintenance.EnqueueDue(ctx, last, now.UTC()); err != nil {
				r.logger.ErrorContext(ctx, "enqueue maintenance tasks", "error", err)
				continue
			}
			last = now.UTC()
		}
	}
}

func maintenanceHandler(maintenance *service.MaintenanceService) jobrunner.HandlerFunc {
	return func(ctx context.Context, job *model.Job) error {
		var payload model.MaintenancePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode maintenance payload: %w", err)
		}
		return maintenance.Process(ctx, payload)
	}
}
