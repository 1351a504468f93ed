package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/extract"
)

// ErrRuleNotFound is returned when an operation references a rule that does
// not exist.
var ErrRuleNotFound = errors.New("rule not found")

// ErrRuleDisabled is returned when a trigger targets a disabled rule.
var ErrRuleDisabled = errors.New("rule is disabled")

// RuleServiceOptions groups dependencies for RuleService.
type RuleServiceOptions struct {
	Repo   core.RuleRepository // Required: rule repository
	States core.RuleStateRepository
	Jobs   core.JobRepository
	Logger *slog.Logger // Optional: structured logger
	Now    func() time.Time
}

// RuleService provides business logic for rule operations, including on-demand
// run triggering outside the regular schedule.
type RuleService struct {
	repo   core.RuleRepository
	states core.RuleStateRepository
	jobs   core.JobRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewRuleService constructs a new RuleService.
func NewRuleService(opts RuleServiceOptions) (*RuleService, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("validate options: %w", errors.New("RuleRepository is required"))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &RuleService{
		repo:   opts.Repo,
		states: opts.States,
		jobs:   opts.Jobs,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// Create creates a new rule with the given request parameters.
func (s *RuleService) Create(
	ctx context.Context,
	req model.CreateRuleRequest,
) (*model.Rule, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}
	if err := extract.ValidateSelector(req.Extraction.Method, req.Extraction.Selector); err != nil {
		return nil, fmt.Errorf("validate selector: %w", err)
	}

	rule, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	s.logger.InfoContext(ctx, "rule created", "id", rule.ID, "rule_type", rule.RuleType)
	return rule, nil
}

// GetByID retrieves a rule by its ID.
func (s *RuleService) GetByID(ctx context.Context, id string) (*model.Rule, error) {
	rule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get rule by id: %w", err)
	}

	return rule, nil
}

// List retrieves rules based on the provided options.
func (s *RuleService) List(ctx context.Context, opts model.RuleListOptions) ([]*model.Rule, error) {
	rules, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	return rules, nil
}

// Update updates an existing rule with the given request parameters. A
// selector change resets the rule's anti-flap state so the next value is
// treated as a first sighting instead of a change against the old selector.
func (s *RuleService) Update(
	ctx context.Context,
	id string,
	req model.UpdateRuleRequest,
) (*model.Rule, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}
	if req.Extraction != nil {
		if err := extract.ValidateSelector(req.Extraction.Method, req.Extraction.Selector); err != nil {
			return nil, fmt.Errorf("validate selector: %w", err)
		}
	}

	rule, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}

	if req.Extraction != nil && s.states != nil {
		if err := s.states.Delete(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "reset rule state failed", "id", id, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "rule updated", "id", rule.ID, "rule_type", rule.RuleType)
	return rule, nil
}

// Delete removes a rule and its anti-flap state.
func (s *RuleService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	if !deleted {
		return false, nil
	}

	if s.states != nil {
		if err := s.states.Delete(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "delete rule state failed", "id", id, "error", err)
		}
	}

	// Pending runs for the rule are now orphans; cancel them before a worker
	// picks one up and fails on the missing rule.
	if deleter, ok := s.jobs.(core.JobPayloadDeleter); ok {
		n, err := deleter.DeleteByPayloadField(ctx, core.DeleteByPayloadFieldParams{
			JobType:    model.JobTypeRun,
			FieldName:  "rule_id",
			FieldValue: id,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "cancel pending runs failed", "id", id, "error", err)
		} else if n > 0 {
			s.logger.InfoContext(ctx, "pending runs cancelled", "id", id, "count", n)
		}
	}

	s.logger.InfoContext(ctx, "rule deleted", "id", id)
	return true, nil
}

// GetBySource retrieves all rules for a specific source.
func (s *RuleService) GetBySource(
	ctx context.Context,
	sourceID string,
	enabled *bool,
) ([]*model.Rule, error) {
	rules, err := s.repo.GetBySource(ctx, sourceID, enabled)
	if err != nil {
		return nil, fmt.Errorf("get rules by source: %w", err)
	}

	return rules, nil
}

// Trigger enqueues an immediate run for the rule outside its schedule. Only
// manual and webhook triggers are accepted here; scheduled and retry runs are
// enqueued by the scheduler and run processor.
func (s *RuleService) Trigger(ctx context.Context, ruleID string, trigger model.RunTrigger) (*model.Job, error) {
	if trigger != model.TriggerManual && trigger != model.TriggerWebhook {
		return nil, fmt.Errorf("trigger %q not allowed here", trigger)
	}
	if s.jobs == nil {
		return nil, errors.New("job repository not configured")
	}

	rule, err := s.repo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("get rule by id: %w", err)
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	if !rule.Enabled {
		return nil, ErrRuleDisabled
	}

	payload, err := json.Marshal(model.RunJobPayload{
		RuleID:      rule.ID,
		Trigger:     trigger,
		RequestedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}

	job, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:    model.JobTypeRun,
		Payload: payload,
		RuleID:  &rule.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue triggered run: %w", err)
	}

	s.logger.InfoContext(ctx, "rule run triggered",
		"rule_id", rule.ID, "trigger", trigger, "job_id", job.ID)
	return job, nil
}
