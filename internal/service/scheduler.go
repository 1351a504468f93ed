package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	apperrors "github.com/driftwatch/driftwatch/internal/errors"
)

// SchedulerConfig tunes one scheduler tick.
type SchedulerConfig struct {
	// BatchSize bounds how many due rules one tick claims.
	BatchSize int
	// DomainPacing staggers run jobs hitting the same source domain.
	DomainPacing time.Duration
	// EnqueueRetryDelay is how soon a rule becomes due again after its run
	// job failed to enqueue.
	EnqueueRetryDelay time.Duration
}

// DefaultSchedulerConfig returns the production scheduler settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:         500,
		DomainPacing:      100 * time.Millisecond,
		EnqueueRetryDelay: 60 * time.Second,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.DomainPacing <= 0 {
		c.DomainPacing = def.DomainPacing
	}
	if c.EnqueueRetryDelay <= 0 {
		c.EnqueueRetryDelay = def.EnqueueRetryDelay
	}
	return c
}

// SchedulerService claims due rules and enqueues their run jobs. Safe under
// concurrent replicas: ClaimDue parks next_run_at so no other tick can claim
// the same rule while this one works.
type SchedulerService struct {
	rules        core.RuleRepository
	sources      core.SourceRepository
	jobs         core.JobRepository
	cfg          SchedulerConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	jitter       func(max time.Duration) time.Duration
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Rules        core.RuleRepository
	Sources      core.SourceRepository
	Jobs         core.JobRepository
	Config       *SchedulerConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	// Jitter overrides the uniform jitter draw; tests pin it.
	Jitter func(max time.Duration) time.Duration
}

// NewSchedulerService creates a SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := DefaultSchedulerConfig()
	if opts.Config != nil {
		cfg = opts.Config.withDefaults()
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = uniformJitter
	}
	return &SchedulerService{
		rules:        opts.Rules,
		sources:      opts.Sources,
		jobs:         opts.Jobs,
		cfg:          cfg,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
		jitter:       jitter,
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Tick claims one batch of due rules and enqueues a run job for each. Jobs
// sharing a source domain are staggered by the domain pacing so a large batch
// does not burst a single site. Returns the number of rules enqueued.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.rules.ClaimDue(ctx, core.ClaimDueParams{Now: now, Limit: s.cfg.BatchSize})
	if err != nil {
		return 0, fmt.Errorf("claim due rules: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	domains := s.resolveDomains(ctx, due)
	perDomain := make(map[string]int, len(domains))

	enqueued := 0
	for _, rule := range due {
		domain := domains[rule.SourceID]
		offset := time.Duration(perDomain[domain]) * s.cfg.DomainPacing
		perDomain[domain]++

		if err := s.enqueueRun(ctx, rule, now.Add(offset)); err != nil {
			s.logger.ErrorContext(ctx, "enqueue run job failed",
				"rule_id", rule.ID, "error", err)
			if uerr := s.rules.UpdateNextRun(ctx, core.UpdateNextRunParams{
				RuleID:    rule.ID,
				NextRunAt: now.Add(s.cfg.EnqueueRetryDelay),
			}); uerr != nil {
				return enqueued, fmt.Errorf("reschedule rule %s: %w", rule.ID, uerr)
			}
			continue
		}

		next := now.Add(rule.Schedule.Interval() + s.jitter(time.Duration(rule.Schedule.JitterSeconds)*time.Second))
		if err := s.rules.UpdateNextRun(ctx, core.UpdateNextRunParams{
			RuleID:    rule.ID,
			NextRunAt: next,
		}); err != nil {
			return enqueued, fmt.Errorf("advance next run for rule %s: %w", rule.ID, err)
		}
		enqueued++
	}

	s.logger.InfoContext(ctx, "scheduler tick complete",
		"claimed", len(due), "enqueued", enqueued)
	return enqueued, nil
}

// resolveDomains maps each claimed rule's source ID to its domain so pacing
// can group by site. Lookup failures fall back to the source ID as its own
// group.
func (s *SchedulerService) resolveDomains(ctx context.Context, rules []*model.Rule) map[string]string {
	domains := make(map[string]string, len(rules))
	for _, rule := range rules {
		if _, ok := domains[rule.SourceID]; ok {
			continue
		}
		source, err := s.sources.GetByID(ctx, rule.SourceID)
		if err != nil || source == nil {
			s.logger.WarnContext(ctx, "resolve source domain failed",
				"source_id", rule.SourceID, "error", err)
			domains[rule.SourceID] = rule.SourceID
			continue
		}
		domains[rule.SourceID] = source.Domain
	}
	return domains
}

// enqueueRun inserts one rules-run job. A duplicate key from a concurrent
// enqueue is a no-op, matching the idempotent queue contract.
func (s *SchedulerService) enqueueRun(ctx context.Context, rule *model.Rule, at time.Time) error {
	payload, err := json.Marshal(model.RunJobPayload{
		RuleID:      rule.ID,
		Trigger:     model.TriggerSchedule,
		RequestedAt: s.timeProvider.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal run payload: %w", err)
	}

	req := &model.CreateJobRequest{
		Type:    model.JobTypeRun,
		Payload: payload,
		RuleID:  &rule.ID,
	}
	if at.After(s.timeProvider.Now()) {
		scheduled := at
		req.ScheduledAt = &scheduled
	}

	if _, err := s.jobs.Create(ctx, req); err != nil {
		// Another scheduler instance already enqueued this rule.
		if apperrors.IsConflict(apperrors.MapDBError(err)) {
			return nil
		}
		return fmt.Errorf("create run job: %w", err)
	}
	return nil
}
