package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/config"
	"github.com/driftwatch/driftwatch/internal/adapters/dispatchrunner"
	"github.com/driftwatch/driftwatch/internal/adapters/maintenancerunner"
	"github.com/driftwatch/driftwatch/internal/adapters/reaper"
	"github.com/driftwatch/driftwatch/internal/adapters/runrunner"
	schedrunner "github.com/driftwatch/driftwatch/internal/adapters/scheduler"
	"github.com/driftwatch/driftwatch/internal/data/cryptoutil"
	"github.com/driftwatch/driftwatch/internal/observability/statsd"
	"github.com/redis/go-redis/v9"
)

//nolint:ireturn // Returning Encryptor interface is required for runner injection.
func resolveEncryptor(enc cryptoutil.Encryptor, logger *slog.Logger) cryptoutil.Encryptor {
	if enc != nil {
		return enc
	}
	if logger != nil {
		logger.Warn("no encryptor provided; using noop encryptor")
	}
	return &cryptoutil.NoopEncryptor{}
}

// SchedulerRunnerConfig contains configuration for the scheduler runner.
type SchedulerRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.SchedulerConfig
	Metrics statsd.Sink
}

// RunScheduler starts the rule scheduler tick loop.
func RunScheduler(ctx context.Context, cfg SchedulerRunnerConfig) error {
	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}

	return runner.Run(ctx)
}

// RunWorkerRunnerConfig contains configuration for the rules-run worker.
type RunWorkerRunnerConfig struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	FetchCfg    config.FetchConfig
	Lease       time.Duration
	Concurrency int
	Metrics     statsd.Sink
}

// RunRunWorker starts the rules-run job worker pool.
func RunRunWorker(ctx context.Context, cfg RunWorkerRunnerConfig) error {
	runner, err := runrunner.NewRunner(runrunner.RunnerOptions{
		DB:          cfg.DB,
		RedisClient: cfg.RedisClient,
		FetchCfg:    cfg.FetchCfg,
		Logger:      cfg.Logger,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create run runner: %w", err)
	}

	return runner.Run(ctx)
}

// DispatchWorkerRunnerConfig contains configuration for the alerts-dispatch worker.
type DispatchWorkerRunnerConfig struct {
	DB          *sql.DB
	Logger      *slog.Logger
	Lease       time.Duration
	Concurrency int
	Encryptor   cryptoutil.Encryptor
	Metrics     statsd.Sink
}

// RunDispatchWorker starts the alerts-dispatch job worker pool.
func RunDispatchWorker(ctx context.Context, cfg DispatchWorkerRunnerConfig) error {
	runner, err := dispatchrunner.NewRunner(dispatchrunner.RunnerOptions{
		DB:          cfg.DB,
		Encryptor:   resolveEncryptor(cfg.Encryptor, cfg.Logger),
		Logger:      cfg.Logger,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create dispatch runner: %w", err)
	}

	return runner.Run(ctx)
}

// MaintenanceRunnerConfig contains configuration for the maintenance worker.
type MaintenanceRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.MaintenanceWorkerConfig
	Metrics statsd.Sink
}

// RunMaintenance starts the maintenance job worker and its daily enqueuer.
func RunMaintenance(ctx context.Context, cfg MaintenanceRunnerConfig) error {
	runner, err := maintenancerunner.NewRunner(maintenancerunner.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create maintenance runner: %w", err)
	}

	return runner.Run(ctx)
}

// ReaperRunnerConfig contains configuration for the reaper.
type ReaperRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the job reaper service.
func RunReaper(ctx context.Context, cfg ReaperRunnerConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
