// Package runrunner wires the full run pipeline and processes rules-run jobs:
// provider registry, budget guard, rate limiter, circuit breakers, run
// processor, and the worker pool that drives them.
package runrunner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftwatch/driftwatch/config"
	"github.com/driftwatch/driftwatch/internal/adapters/jobrunner"
	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/fetch"
	"github.com/driftwatch/driftwatch/internal/observability/statsd"
	"github.com/driftwatch/driftwatch/internal/service"
)

// RunnerOptions configures the run worker adapter.
type RunnerOptions struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	FetchCfg    config.FetchConfig
	HTTPClient  *http.Client
	Logger      *slog.Logger

	// Job processing settings
	Lease       time.Duration // per-job lease duration; defaults to 120s
	Concurrency int           // number of worker goroutines; defaults to 1

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo     core.JobRepository
	Orchestrator service.FetchOrchestrator
	CacheRepo    core.CacheRepository
	Metrics      statsd.Sink
}

// Runner processes rules-run jobs with the run processor.
type Runner struct {
	inner *jobrunner.Runner
}

// NewRunner wires the fetch pipeline and run processor and constructs the
// worker pool.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil {
		return nil, errors.New("database connection is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 120 * time.Second
	}

	processor, err := wireProcessor(opts, logger)
	if err != nil {
		return nil, err
	}

	jobsRepo := opts.JobsRepo
	if jobsRepo == nil {
		jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}

	inner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Logger:      logger,
		JobType:     model.JobTypeRun,
		Handler:     runHandler(processor),
		Lease:       lease,
		Concurrency: opts.Concurrency,
		JobsRepo:    jobsRepo,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("new job runner: %w", err)
	}

	return &Runner{inner: inner}, nil
}

// Run starts the worker pool and processes jobs until the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	return r.inner.Run(ctx)
}

func runHandler(processor *service.RunProcessor) jobrunner.HandlerFunc {
	return func(ctx context.Context, job *model.Job) error {
		var payload model.RunJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode run payload: %w", err)
		}
		if err := payload.Validate(); err != nil {
			return fmt.Errorf("run payload: %w", err)
		}
		return processor.Process(ctx, payload)
	}
}

func wireProcessor(opts RunnerOptions, logger *slog.Logger) (*service.RunProcessor, error) {
	attempts := data.NewFetchAttemptRepo(opts.DB)

	cache := opts.CacheRepo
	if cache == nil && opts.RedisClient != nil {
		cache = data.NewRedisCacheRepo(opts.RedisClient)
	}

	orchestrator := opts.Orchestrator
	if orchestrator == nil {
		orchestrator = wireOrchestrator(opts, attempts, cache, logger)
	}

	jobsRepo := opts.JobsRepo
	if jobsRepo == nil {
		jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}

	alerts := data.NewAlertRepo(opts.DB)
	gate := service.NewAlertGate(service.AlertGateOptions{
		Alerts: alerts,
		Cache:  cache,
		Logger: logger,
	})

	var screenshots core.ScreenshotCapturer
	if opts.FetchCfg.ScreenshotURL != "" && opts.FetchCfg.ScreenshotDir != "" {
		screenshots = fetch.NewScreenshotService(fetch.ScreenshotServiceOptions{
			Client:   opts.HTTPClient,
			Endpoint: opts.FetchCfg.ScreenshotURL,
			Dir:      opts.FetchCfg.ScreenshotDir,
		})
	}

	return service.NewRunProcessor(service.RunProcessorOptions{
		Rules:        data.NewRuleRepo(opts.DB),
		States:       data.NewRuleStateRepo(opts.DB),
		Runs:         data.NewRunRepo(opts.DB),
		Observations: data.NewObservationRepo(opts.DB),
		Alerts:       alerts,
		Sources:      data.NewSourceRepo(opts.DB),
		Workspaces:   data.NewWorkspaceRepo(opts.DB),
		Profiles:     data.NewFetchProfileRepo(opts.DB),
		Jobs:         jobsRepo,
		Orchestrator: orchestrator,
		TierResolver: fetch.NewTierPolicyResolver(
			opts.FetchCfg.TierPolicyEnabled, opts.FetchCfg.CanaryWorkspaces()),
		FetchCfg: fetch.OrchestratorConfig{
			MaxAttemptsPerRun:      opts.FetchCfg.MaxAttemptsPerRun,
			HardStopOnBudgetExceed: opts.FetchCfg.HardStopOnBudgetExceed,
		},
		Gate:        gate,
		Screenshots: screenshots,
		Logger:      logger.With("component", "run_processor"),
	}), nil
}

func wireOrchestrator(
	opts RunnerOptions,
	attempts core.FetchAttemptRepository,
	cache core.CacheRepository,
	logger *slog.Logger,
) *fetch.Orchestrator {
	registry := fetch.NewRegistry(fetch.ProvidersConfig{
		HeadlessURL:        opts.FetchCfg.HeadlessURL,
		FlareSolverrURL:    opts.FetchCfg.FlareSolverrURL,
		BrightDataAPIKey:   opts.FetchCfg.BrightDataAPIKey,
		BrightDataZone:     opts.FetchCfg.BrightDataZone,
		ScrapingBrowserURL: opts.FetchCfg.ScrapingBrowserURL,
		ScrapingBrowserKey: opts.FetchCfg.ScrapingBrowserKey,
		TwoCaptchaAPIKey:   opts.FetchCfg.TwoCaptchaAPIKey,
		TwoCaptchaProxyURL: opts.FetchCfg.TwoCaptchaProxyURL,
	}, opts.HTTPClient)

	budget := fetch.NewBudgetGuard(fetch.BudgetGuardOptions{
		Attempts: attempts,
		Caps: fetch.BudgetCaps{
			WorkspaceUSD: opts.FetchCfg.WorkspaceDailyBudgetUSD,
			DomainUSD:    opts.FetchCfg.DomainDailyBudgetUSD,
			RuleUSD:      opts.FetchCfg.RuleDailyBudgetUSD,
		},
		Logger: logger,
	})

	var limiter *fetch.RateLimiter
	if cache != nil {
		limiter = fetch.NewRateLimiter(fetch.RateLimiterOptions{
			Cache:  cache,
			Logger: logger,
		})
	}

	return fetch.NewOrchestrator(fetch.OrchestratorOptions{
		Registry: registry,
		Attempts: attempts,
		Budget:   budget,
		Limiter:  limiter,
		Breakers: fetch.NewBreakerRegistry(fetch.BreakerRegistryOptions{Logger: logger}),
		Logger:   logger.With("component", "fetch_orchestrator"),
	})
}
