// Package dispatchrunner processes alerts-dispatch jobs: it decrypts channel
// configs and delivers alerts to their workspace channels.
package dispatchrunner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/driftwatch/driftwatch/internal/adapters/jobrunner"
	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/data/cryptoutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/observability/statsd"
	"github.com/driftwatch/driftwatch/internal/service"
)

// RunnerOptions configures the dispatch worker adapter.
type RunnerOptions struct {
	DB         *sql.DB
	Encryptor  cryptoutil.Encryptor
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Job processing settings
	Lease       time.Duration // per-job lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo     core.JobRepository
	AlertRepo    core.AlertRepository
	ChannelsRepo core.ChannelRepository
	Metrics      statsd.Sink
}

// Runner processes alerts-dispatch jobs with the alert dispatcher.
type Runner struct {
	inner *jobrunner.Runner
}

// NewRunner wires the alert dispatcher and constructs the worker pool.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && (opts.AlertRepo == nil || opts.ChannelsRepo == nil) {
		return nil, errors.New("either DB or alert and channel repositories must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}

	alerts := opts.AlertRepo
	if alerts == nil {
		alerts = data.NewAlertRepo(opts.DB)
	}
	channels := opts.ChannelsRepo
	if channels == nil {
		channels = data.NewChannelRepo(opts.DB)
	}

	dispatcher := service.NewAlertDispatcher(service.AlertDispatcherOptions{
		Alerts:   alerts,
		Channels: channels,
		Crypto:   opts.Encryptor,
		Client:   opts.HTTPClient,
		Logger:   logger.With("component", "alert_dispatcher"),
	})

	jobsRepo := opts.JobsRepo
	if jobsRepo == nil {
		jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}

	inner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Logger:      logger,
		JobType:     model.JobTypeDispatch,
		Handler:     dispatchHandler(dispatcher),
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

func dispatchHandler(dispatcher *service.AlertDispatcher) jobrunner.HandlerFunc {
	return func(ctx context.Context, job *model.Job) error {
		var payload model.DispatchJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode dispatch payload: %w", err)
		}
		if err := payload.Validate(); err != nil {
			return fmt.Errorf("dispatch payload: %w", err)
		}
		return dispatcher.Process(ctx, payload)
	}
}
