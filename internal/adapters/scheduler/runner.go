// Package scheduler provides the adapter that drives the scheduler tick loop.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/config"
	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data"
	obserrors "github.com/driftwatch/driftwatch/internal/observability/errors"
	"github.com/driftwatch/driftwatch/internal/observability/metrics"
	"github.com/driftwatch/driftwatch/internal/observability/statsd"
	"github.com/driftwatch/driftwatch/internal/service"
)

// Runner constructs the scheduler service and runs a tick loop at the
// configured interval.
type Runner struct {
	scheduler *service.SchedulerService
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB      *sql.DB
	Config  config.SchedulerConfig
	Logger  *slog.Logger
	Metrics statsd.Sink

	// Optional dependency injections for testing/decoupling
	Rules   core.RuleRepository
	Sources core.SourceRepository
	Jobs    core.JobRepository
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && (opts.Rules == nil || opts.Jobs == nil) {
		return nil, errors.New("either DB or rule and job repositories must be provided")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rules := opts.Rules
	if rules == nil {
		rules = data.NewRuleRepo(opts.DB)
	}
	sources := opts.Sources
	if sources == nil && opts.DB != nil {
		sources = data.NewSourceRepo(opts.DB)
	}
	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}

	svcCfg := service.SchedulerConfig{
		BatchSize:    opts.Config.BatchSize,
		DomainPacing: opts.Config.DomainPacing,
	}
	scheduler := service.NewSchedulerService(service.SchedulerServiceOptions{
		Rules:   rules,
		Sources: sources,
		Jobs:    jobs,
		Config:  &svcCfg,
		Logger:  opts.Logger.With("component", "scheduler"),
	})

	return &Runner{
		scheduler: scheduler,
		interval:  opts.Config.TickInterval(),
		logger:    opts.Logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}, nil
}

// Run starts the tick loop and runs until the context is cancelled. Ticks are
// non-reentrant: a slow tick delays the next one rather than overlapping it.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case now := <-ticker.C:
			start := time.Now()
			enqueued, err := r.scheduler.Tick(ctx, now)
			elapsed := time.Since(start)

			r.emitTickMetrics(enqueued, elapsed, err)

			if err != nil {
				r.logger.ErrorContext(ctx, "scheduler tick error", "error", err)
				// Continue running despite errors
			} else if enqueued > 0 {
				r.logger.InfoContext(ctx, "scheduler tick enqueued runs", "count", enqueued)
			}
		}
	}
}

func (r *Runner) emitTickMetrics(enqueued int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if enqueued == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("scheduler.tick", 1, tags)

	if enqueued > 0 {
		r.metrics.Count("scheduler.runs_enqueued", int64(enqueued), tags)
	}

	if elapsed > 0 {
		r.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}

	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
