package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// Maintenance defaults.
const (
	RawSampleRetentionDays  = 7
	maintenanceBatchSize    = 10000
	rawSampleCleanupHourUTC = 3
	rawSampleCleanupMinute  = 30
	attemptCleanupHourUTC   = 4
)

// MaintenanceService executes periodic cleanup tasks and enqueues their daily
// jobs. Each task runs under an advisory lock so concurrent workers never
// double-process.
type MaintenanceService struct {
	runs     core.RunRepository
	attempts core.FetchAttemptRepository
	jobs     core.JobRepository
	locker   core.MaintenanceLocker
	logger   *slog.Logger
	now      func() time.Time
}

// MaintenanceServiceOptions holds the dependencies for creating a MaintenanceService.
type MaintenanceServiceOptions struct {
	Runs     core.RunRepository
	Attempts core.FetchAttemptRepository
	Jobs     core.JobRepository
	Locker   core.MaintenanceLocker
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewMaintenanceService creates a MaintenanceService with defaulted options.
func NewMaintenanceService(opts MaintenanceServiceOptions) *MaintenanceService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MaintenanceService{
		runs:     opts.Runs,
		attempts: opts.Attempts,
		jobs:     opts.Jobs,
		locker:   opts.Locker,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Process executes one maintenance job. A lock held elsewhere means another
// worker has the task; that is not an error.
func (s *MaintenanceService) Process(ctx context.Context, payload model.MaintenancePayload) error {
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("maintenance payload: %w", err)
	}

	acquired, err := s.locker.TryWithTaskLock(ctx, string(payload.Task), func(ctx context.Context, _ *sql.Tx) error {
		switch payload.Task {
		case model.MaintenanceTaskRawSampleCleanup:
			return s.clearRawSamples(ctx, payload.Config)
		case model.MaintenanceTaskFetchAttemptCleanup:
			return s.pruneFetchAttempts(ctx, payload.Config)
		default:
			return fmt.Errorf("unknown maintenance task %q", payload.Task)
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance task %s: %w", payload.Task, err)
	}
	if !acquired {
		s.logger.InfoContext(ctx, "maintenance task locked elsewhere, skipping",
			"task", payload.Task)
	}
	return nil
}

// clearRawSamples nulls raw samples on runs past retention, batch by batch
// until a partial batch signals the end.
func (s *MaintenanceService) clearRawSamples(ctx context.Context, cfg model.MaintenanceConfig) error {
	days := cfg.RetentionDays
	if days <= 0 {
		days = RawSampleRetentionDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	var total int64
	for {
		n, err := s.runs.ClearOldRawSamples(ctx, cutoff, maintenanceBatchSize)
		if err != nil {
			return fmt.Errorf("clear raw samples: %w", err)
		}
		total += n
		if n < maintenanceBatchSize {
			break
		}
	}
	s.logger.InfoContext(ctx, "raw sample cleanup complete",
		"cutoff", cutoff, "cleared", total)
	return nil
}

// pruneFetchAttempts deletes ledger rows past retention.
func (s *MaintenanceService) pruneFetchAttempts(ctx context.Context, cfg model.MaintenanceConfig) error {
	days := cfg.RetentionDays
	if days <= 0 {
		days = model.FetchAttemptRetentionDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	var total int64
	for {
		n, err := s.attempts.DeleteOlderThan(ctx, cutoff, maintenanceBatchSize)
		if err != nil {
			return fmt.Errorf("prune fetch attempts: %w", err)
		}
		total += n
		if n < maintenanceBatchSize {
			break
		}
	}
	s.logger.InfoContext(ctx, "fetch attempt cleanup complete",
		"cutoff", cutoff, "deleted", total)
	return nil
}

// EnqueueDue enqueues the daily maintenance jobs whose window [last, now]
// crossed their fire time. Callers pass the previous check time so a slow
// tick never skips a day. The whole check runs under an advisory lock so
// concurrent replicas do not enqueue the same task twice.
func (s *MaintenanceService) EnqueueDue(ctx context.Context, last, now time.Time) error {
	acquired, err := s.locker.TryWithTaskLock(ctx, "maintenance-enqueue", func(ctx context.Context, _ *sql.Tx) error {
		return s.enqueueDue(ctx, last, now)
	})
	if err != nil {
		return fmt.Errorf("enqueue due maintenance: %w", err)
	}
	if !acquired {
		s.logger.DebugContext(ctx, "maintenance enqueue locked elsewhere, skipping")
	}
	return nil
}

func (s *MaintenanceService) enqueueDue(ctx context.Context, last, now time.Time) error {
	type entry struct {
		task   model.MaintenanceTask
		hour   int
		minute int
	}
	entries := []entry{
		{task: model.MaintenanceTaskRawSampleCleanup, hour: rawSampleCleanupHourUTC, minute: rawSampleCleanupMinute},
		{task: model.MaintenanceTaskFetchAttemptCleanup, hour: attemptCleanupHourUTC},
	}
	for _, e := range entries {
		fire := dailyFireTime(now.UTC(), e.hour, e.minute)
		if fire.After(now) || !fire.After(last) {
			continue
		}
		if err := s.enqueueTask(ctx, e.task); err != nil {
			return err
		}
	}
	return nil
}

func dailyFireTime(now time.Time, hour, minute int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
}

func (s *MaintenanceService) enqueueTask(ctx context.Context, task model.MaintenanceTask) error {
	payload, err := json.Marshal(model.MaintenancePayload{Task: task})
	if err != nil {
		return fmt.Errorf("marshal maintenance payload: %w", err)
	}
	if _, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:    model.JobTypeMaintenance,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("enqueue maintenance task %s: %w", task, err)
	}
	s.logger.InfoContext(ctx, "maintenance task enqueued", "task", task)
	return nil
}
