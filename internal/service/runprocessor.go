// Package service provides the business logic services for the driftwatch
// engine: the run processor, scheduler, alert gate and dispatcher, entity
// services, and maintenance.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/driftwatch/driftwatch/internal/change"
	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/extract"
	"github.com/driftwatch/driftwatch/internal/fetch"
	"github.com/driftwatch/driftwatch/internal/normalize"
)

// Retry policy for deferrable fetch outcomes.
const (
	MaxRateLimitRetries  = 2
	MaxTimeoutRetries    = 1
	rateLimitRetryBase   = 60 * time.Second
	rateLimitRetryJitter = 30 * time.Second
	timeoutRetryDelay    = 30 * time.Second
)

// throttledIntervalSeconds is the floor interval applied by auto-throttle.
const throttledIntervalSeconds = 86400

// FetchOrchestrator is the run processor's view of the fetch layer.
type FetchOrchestrator interface {
	Fetch(ctx context.Context, req fetch.OrchestrationRequest, cfg fetch.OrchestratorConfig) (*fetch.OrchestrationResult, error)
}

// RunProcessor executes one rule run end to end: fetch, extract, normalize,
// anti-flap, observation, alerting, and schedule side effects.
type RunProcessor struct {
	rules        core.RuleRepository
	states       core.RuleStateRepository
	runs         core.RunRepository
	observations core.ObservationRepository
	alerts       core.AlertRepository
	sources      core.SourceRepository
	workspaces   core.WorkspaceRepository
	profiles     core.FetchProfileRepository
	jobs         core.JobRepository
	orchestrator FetchOrchestrator
	tierResolver *fetch.TierPolicyResolver
	fetchCfg     fetch.OrchestratorConfig
	gate         *AlertGate
	screenshots  core.ScreenshotCapturer
	logger       *slog.Logger
	now          func() time.Time
}

// RunProcessorOptions holds the dependencies for creating a RunProcessor.
type RunProcessorOptions struct {
	Rules        core.RuleRepository
	States       core.RuleStateRepository
	Runs         core.RunRepository
	Observations core.ObservationRepository
	Alerts       core.AlertRepository
	Sources      core.SourceRepository
	Workspaces   core.WorkspaceRepository
	Profiles     core.FetchProfileRepository
	Jobs         core.JobRepository
	Orchestrator FetchOrchestrator
	TierResolver *fetch.TierPolicyResolver
	// FetchCfg tunes each orchestrated fetch; zero values use the
	// orchestrator defaults.
	FetchCfg fetch.OrchestratorConfig
	Gate     *AlertGate
	// Screenshots is optional; nil disables change screenshots entirely.
	Screenshots core.ScreenshotCapturer
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewRunProcessor creates a RunProcessor with defaulted options.
func NewRunProcessor(opts RunProcessorOptions) *RunProcessor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TierResolver == nil {
		opts.TierResolver = fetch.NewTierPolicyResolver(false, nil)
	}
	return &RunProcessor{
		rules:        opts.Rules,
		states:       opts.States,
		runs:         opts.Runs,
		observations: opts.Observations,
		alerts:       opts.Alerts,
		sources:      opts.Sources,
		workspaces:   opts.Workspaces,
		profiles:     opts.Profiles,
		jobs:         opts.Jobs,
		orchestrator: opts.Orchestrator,
		tierResolver: opts.TierResolver,
		fetchCfg:     opts.FetchCfg,
		gate:         opts.Gate,
		screenshots:  opts.Screenshots,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// runContext carries everything loaded for one run through the pipeline.
type runContext struct {
	payload   model.RunJobPayload
	rule      *model.Rule
	source    *model.Source
	workspace *model.Workspace
	profile   *model.FetchProfile
	run       *model.Run
}

// Process executes one rules-run job. Pipeline failures are recorded on the
// run and do not surface as errors; only infrastructure failures do.
func (p *RunProcessor) Process(ctx context.Context, payload model.RunJobPayload) error {
	rc, err := p.loadContext(ctx, payload)
	if err != nil {
		return err
	}
	if rc == nil {
		return nil
	}

	run, err := p.runs.Create(ctx, &model.CreateRunRequest{
		RuleID:        rc.rule.ID,
		StartedAt:     p.now().UTC(),
		FetchModeUsed: model.ProviderHTTP,
	})
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	rc.run = run

	policy := p.tierResolver.Resolve(rc.workspace.ID, rc.profile)
	if rc.payload.ForceMode != nil {
		policy = policy.WithForcedMode(*rc.payload.ForceMode)
	}
	result, err := p.orchestrator.Fetch(ctx, fetch.OrchestrationRequest{
		WorkspaceID:          rc.workspace.ID,
		RuleID:               rc.rule.ID,
		URL:                  rc.source.URL,
		Hostname:             rc.source.Domain,
		Profile:              rc.profile,
		Policy:               policy,
		RuleIntervalSeconds:  rc.rule.Schedule.IntervalSeconds,
		AutoThrottleDisabled: rc.rule.AutoThrottleDisabled,
	}, p.fetchCfg)
	if err != nil {
		return fmt.Errorf("orchestrate fetch: %w", err)
	}

	if result.Final.Outcome != model.OutcomeOK {
		return p.handleFetchFailure(ctx, rc, result)
	}
	return p.processBody(ctx, rc, result)
}

// loadContext resolves the rule and its source, workspace, and profile. A nil
// context with nil error means the run should be silently skipped.
func (p *RunProcessor) loadContext(ctx context.Context, payload model.RunJobPayload) (*runContext, error) {
	rule, err := p.rules.GetByID(ctx, payload.RuleID)
	if err != nil {
		return nil, fmt.Errorf("load rule: %w", err)
	}
	if rule == nil || !rule.Enabled {
		p.logger.InfoContext(ctx, "skipping run for missing or disabled rule", "rule_id", payload.RuleID)
		return nil, nil
	}

	source, err := p.sources.GetByID(ctx, rule.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	if source == nil {
		p.logger.WarnContext(ctx, "rule references missing source", "rule_id", rule.ID, "source_id", rule.SourceID)
		return nil, nil
	}

	workspace, err := p.workspaces.GetByID(ctx, source.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	var profile *model.FetchProfile
	if source.FetchProfileID != nil {
		profile, err = p.profiles.GetByID(ctx, *source.FetchProfileID)
		if err != nil {
			return nil, fmt.Errorf("load fetch profile: %w", err)
		}
	}

	return &runContext{payload: payload, rule: rule, source: source, workspace: workspace, profile: profile}, nil
}

// handleFetchFailure finalizes a run whose fetch never produced content,
// scheduling deferred retries for rate limits and timeouts.
func (p *RunProcessor) handleFetchFailure(ctx context.Context, rc *runContext, result *fetch.OrchestrationResult) error {
	final := result.Final

	switch final.Outcome {
	case model.OutcomeRateLimited:
		if rc.payload.RateLimitRetryCount < MaxRateLimitRetries {
			delay := rateLimitRetryBase +
				time.Duration(rc.payload.RateLimitRetryCount)*rateLimitRetryBase +
				time.Duration(rand.Int63n(int64(rateLimitRetryJitter)))
			retry := rc.payload
			retry.RateLimitRetryCount++
			if err := p.enqueueRetry(ctx, rc, retry, delay); err != nil {
				return err
			}
			return p.finishFailed(ctx, rc, failedRun{
				Result: final,
				Code:   model.ErrRateLimitedDeferred,
			})
		}
		return p.finishFailed(ctx, rc, failedRun{
			Result: final,
			Code:   model.ErrRateLimitedMaxRetries,
		})

	case model.OutcomeTimeout:
		if rc.payload.TimeoutRetryCount < MaxTimeoutRetries {
			retry := rc.payload
			retry.TimeoutRetryCount++
			if err := p.enqueueRetry(ctx, rc, retry, timeoutRetryDelay); err != nil {
				return err
			}
			return p.finishFailed(ctx, rc, failedRun{
				Result: final,
				Code:   model.ErrTimeoutRetryScheduled,
			})
		}
		return p.finishFailed(ctx, rc, failedRun{Result: final, Code: model.ErrFetchTimeout})

	case model.OutcomePreferredUnavailable:
		return p.finishFailed(ctx, rc, failedRun{
			Result: final,
			Code:   model.ErrPreferredProviderUnavailable,
		})

	default:
		code, blocked := classifyFetchFailure(final)
		return p.finishFailed(ctx, rc, failedRun{Result: final, Code: code, BlockDetected: blocked})
	}
}

// classifyFetchFailure maps a terminal non-ok fetch result onto the run error
// taxonomy.
func classifyFetchFailure(final *core.FetchResult) (model.RunErrorCode, bool) {
	switch final.Outcome {
	case model.OutcomeBlocked, model.OutcomeCaptchaRequired, model.OutcomeInterstitialGeo:
		kind := final.BlockKind
		if kind == "" {
			kind = model.BlockKindGeneric
		}
		return fetch.BlockErrorCode(kind), true
	case model.OutcomeNetworkError:
		for _, signal := range final.Signals {
			switch signal {
			case "dns":
				return model.ErrFetchDNS, false
			case "tls":
				return model.ErrFetchTLS, false
			}
		}
		return model.ErrFetchConnection, false
	case model.OutcomeProviderError:
		switch {
		case final.HTTPStatus >= 500:
			return model.ErrFetchHTTP5xx, false
		case final.HTTPStatus >= 400:
			return model.ErrFetchHTTP4xx, false
		}
		return model.ErrUnknown, false
	default:
		return model.ErrUnknown, false
	}
}

// failedRun groups the finalization inputs for a failed run.
type failedRun struct {
	Result        *core.FetchResult
	Code          model.RunErrorCode
	BlockDetected bool
	RawSample     *string
}

// finishFailed closes the run record and applies the health penalty for the
// error code. Deferred-retry codes carry no penalty.
func (p *RunProcessor) finishFailed(ctx context.Context, rc *runContext, f failedRun) error {
	now := p.now().UTC()
	params := model.FinishRunParams{
		RunID:         rc.run.ID,
		FinishedAt:    now,
		FetchModeUsed: f.Result.Provider,
		ErrorCode:     &f.Code,
		BlockDetected: f.BlockDetected,
		RawSample:     f.RawSample,
	}
	if f.Result.HTTPStatus > 0 {
		status := f.Result.HTTPStatus
		params.HTTPStatus = &status
	}
	if f.Result.Detail != "" {
		detail := f.Result.Detail
		params.ErrorDetail = &detail
	}
	if _, err := p.runs.Finish(ctx, params); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	score := model.ClampHealthScore(rc.rule.HealthScore - f.Code.HealthPenalty())
	if err := p.rules.UpdateHealth(ctx, core.UpdateHealthParams{
		RuleID:        rc.rule.ID,
		HealthScore:   score,
		LastErrorCode: &f.Code,
	}); err != nil {
		return fmt.Errorf("update health: %w", err)
	}

	p.logger.WarnContext(ctx, "run failed",
		"rule_id", rc.rule.ID,
		"run_id", rc.run.ID,
		"error_code", f.Code,
		"provider", f.Result.Provider,
		"health", ruleHealthSummary(score))
	return nil
}

// enqueueRetry schedules a deferred re-run of the same rule.
func (p *RunProcessor) enqueueRetry(ctx context.Context, rc *runContext, payload model.RunJobPayload, delay time.Duration) error {
	payload.Trigger = model.TriggerRetry
	payload.RequestedAt = p.now().UTC()
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal retry payload: %w", err)
	}
	at := p.now().UTC().Add(delay)
	_, err = p.jobs.Create(ctx, &model.CreateJobRequest{
		Type:        model.JobTypeRun,
		Payload:     raw,
		RuleID:      &rc.rule.ID,
		WorkspaceID: &rc.workspace.ID,
		ScheduledAt: &at,
		MaxRetries:  0,
	})
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

// processBody runs extraction through alerting for a fetched document.
func (p *RunProcessor) processBody(ctx context.Context, rc *runContext, result *fetch.OrchestrationResult) error {
	final := result.Final
	body := final.Body

	extracted, err := extract.Extract(body, rc.rule.Extraction, rc.rule.SelectorFingerprint, extract.Options{Now: p.now().UTC()})
	if err != nil {
		code := model.ErrExtractSelectorNotFound
		if errors.Is(err, extract.ErrSchemaNotFound) {
			code = model.ErrExtractSchemaNotFound
		}
		return p.finishFailed(ctx, rc, failedRun{
			Result:    final,
			Code:      code,
			RawSample: boundedSample(body),
		})
	}

	if err := p.persistHealing(ctx, rc, extracted); err != nil {
		return err
	}
	if err := p.checkSchemaDrift(ctx, rc, extracted); err != nil {
		return err
	}

	value, err := normalizeExtracted(rc.rule, extracted)
	if err != nil {
		code := model.ErrParseError
		return p.finishFailed(ctx, rc, failedRun{
			Result:    final,
			Code:      code,
			RawSample: boundedSample(body),
		})
	}

	transition, prevStable, casOK, err := p.applyAntiFlap(ctx, rc, value)
	if err != nil {
		return err
	}
	if !casOK {
		return p.finishFailed(ctx, rc, failedRun{Result: final, Code: model.ErrSystemWorkerCrash})
	}

	if err := p.recordObservation(ctx, rc, observationInputs{
		Raw:        extracted.Raw,
		Value:      value,
		Transition: transition,
		PrevStable: prevStable,
	}); err != nil {
		return err
	}

	// Runs are immutable once finished, so the screenshot has to land before
	// the finish write.
	var shot *string
	if transition.ConfirmedChange {
		shot = p.captureScreenshot(ctx, rc)
	}
	if err := p.finishSuccess(ctx, rc, result, body, shot); err != nil {
		return err
	}

	if transition.ConfirmedChange {
		if err := p.evaluateAlerts(ctx, rc, alertInputs{Prev: prevStable, Cur: value}); err != nil {
			return err
		}
	}

	if result.ThrottleAdvised {
		if err := p.applyAutoThrottle(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

// persistHealing writes the heal event, new primary selector, and regenerated
// fingerprint after a successful extraction.
func (p *RunProcessor) persistHealing(ctx context.Context, rc *runContext, res *extract.Result) error {
	if res.Healed != nil {
		if err := p.rules.UpdateSelector(ctx, rc.rule.ID, res.SelectorUsed); err != nil {
			return fmt.Errorf("update selector: %w", err)
		}
		if err := p.rules.AppendHealEvent(ctx, rc.rule.ID, *res.Healed); err != nil {
			return fmt.Errorf("append heal event: %w", err)
		}
		p.logger.InfoContext(ctx, "selector healed",
			"rule_id", rc.rule.ID,
			"from", res.Healed.From,
			"to", res.Healed.To,
			"similarity", res.Healed.Similarity)
	}
	if res.Fingerprint != nil {
		merged := extract.MergeFingerprint(rc.rule.SelectorFingerprint, res.Fingerprint)
		if err := p.rules.UpdateFingerprint(ctx, rc.rule.ID, merged); err != nil {
			return fmt.Errorf("update fingerprint: %w", err)
		}
	}
	return nil
}

// checkSchemaDrift compares the page's schema fingerprint against the stored
// one, raising a schema-drift alert on shape change, then stores the new
// fingerprint.
func (p *RunProcessor) checkSchemaDrift(ctx context.Context, rc *runContext, res *extract.Result) error {
	if res.Schema == nil || res.Schema.Fingerprint == nil {
		return nil
	}
	next := res.Schema.Fingerprint
	prev := rc.rule.SchemaFingerprint

	if prev != nil && prev.ShapeHash != next.ShapeHash {
		if err := p.raiseSchemaDriftAlert(ctx, rc, next); err != nil {
			return err
		}
	}
	if err := p.rules.UpdateSchemaFingerprint(ctx, rc.rule.ID, next); err != nil {
		return fmt.Errorf("update schema fingerprint: %w", err)
	}
	return nil
}

func (p *RunProcessor) raiseSchemaDriftAlert(ctx context.Context, rc *runContext, next *model.SchemaFingerprint) error {
	now := p.now().UTC()
	meta, err := json.Marshal(map[string]any{
		"previous_shape_hash": rc.rule.SchemaFingerprint.ShapeHash,
		"new_shape_hash":      next.ShapeHash,
		"block_count":         next.BlockCount,
	})
	if err != nil {
		return fmt.Errorf("marshal drift metadata: %w", err)
	}

	alert, created, err := p.alerts.Create(ctx, &model.CreateAlertRequest{
		RuleID:      rc.rule.ID,
		TriggeredAt: now,
		Severity:    model.AlertSeverityMedium,
		AlertType:   model.AlertTypeSchemaDrift,
		Title:       fmt.Sprintf("Schema drift on %s", rc.source.Domain),
		Body: fmt.Sprintf("Structured data shape changed for rule %q (was %s, now %s).",
			rc.rule.Name, rc.rule.SchemaFingerprint.ShapeHash, next.ShapeHash),
		Metadata:  meta,
		DedupeKey: change.SchemaDriftDedupeKey(rc.rule.ID, next.ShapeHash),
	})
	if err != nil {
		return fmt.Errorf("create schema drift alert: %w", err)
	}
	if !created {
		// Recurring drift against the same shape refreshes the standing alert.
		if err := p.alerts.RefreshTriggeredAt(ctx, alert.ID, now); err != nil {
			return fmt.Errorf("refresh drift alert: %w", err)
		}
	}
	return nil
}

// normalizeExtracted runs the rule-type normalization with schema metadata
// taking precedence for prices and availability URLs.
func normalizeExtracted(rule *model.Rule, res *extract.Result) (*model.NormalizedValue, error) {
	cfg := rule.Normalization
	if res.Schema != nil && rule.RuleType == model.RuleTypePrice {
		if res.Schema.Cents != nil {
			currency := res.Schema.Currency
			if currency == "" {
				currency = cfg.Currency
			}
			return normalize.PriceFromCents(*res.Schema.Cents, currency), nil
		}
		if res.Schema.Currency != "" {
			cfg.Currency = res.Schema.Currency
		}
	}

	value, err := normalize.Normalize(rule.RuleType, res.Raw, cfg)
	if err != nil {
		return nil, err
	}
	if res.Schema != nil && value.Kind == model.ValueKindAvailability &&
		value.Availability != nil && res.Schema.AvailabilityURL != "" {
		value.Availability.AvailabilityURL = res.Schema.AvailabilityURL
	}
	return value, nil
}

// applyAntiFlap feeds the value through the anti-flap state machine under
// optimistic concurrency. casOK=false means every retry lost the version race.
func (p *RunProcessor) applyAntiFlap(ctx context.Context, rc *runContext, value *model.NormalizedValue) (change.Transition, *model.NormalizedValue, bool, error) {
	var transition change.Transition
	var prevStable *model.NormalizedValue

	for attempt := 0; attempt < model.StateCASMaxRetries; attempt++ {
		state, err := p.states.Get(ctx, rc.rule.ID)
		if err != nil {
			return transition, nil, false, fmt.Errorf("load rule state: %w", err)
		}

		transition = change.Apply(state, value, rc.rule.AlertPolicy.EffectiveRequireConsecutive())
		next := &model.RuleState{
			RuleID:         rc.rule.ID,
			LastStable:     transition.LastStable,
			Candidate:      transition.Candidate,
			CandidateCount: transition.CandidateCount,
			Version:        state.Version + 1,
			UpdatedAt:      p.now().UTC(),
		}

		saved, err := p.states.Save(ctx, core.SaveRuleStateParams{State: next, ExpectedVersion: state.Version})
		if err != nil {
			return transition, nil, false, fmt.Errorf("save rule state: %w", err)
		}
		if saved {
			prevStable = state.LastStable
			return transition, prevStable, true, nil
		}
	}
	p.logger.ErrorContext(ctx, "rule state version race exhausted retries", "rule_id", rc.rule.ID)
	return transition, nil, false, nil
}

// observationInputs groups the inputs for recordObservation.
type observationInputs struct {
	Raw        string
	Value      *model.NormalizedValue
	Transition change.Transition
	PrevStable *model.NormalizedValue
}

func (p *RunProcessor) recordObservation(ctx context.Context, rc *runContext, in observationInputs) error {
	req := &model.CreateObservationRequest{
		RunID:               rc.run.ID,
		RuleID:              rc.rule.ID,
		ExtractedRaw:        in.Raw,
		ExtractedNormalized: in.Value,
		ChangeDetected:      in.Transition.ConfirmedChange,
	}
	if in.Transition.ConfirmedChange {
		kind := model.DetectChangeKind(in.PrevStable, in.Value)
		req.ChangeKind = &kind
		summary := fmt.Sprintf("%s -> %s", in.PrevStable.Canonical(), in.Value.Canonical())
		req.DiffSummary = &summary
	}
	if _, err := p.observations.Create(ctx, req); err != nil {
		return fmt.Errorf("create observation: %w", err)
	}
	return nil
}

// finishSuccess closes the run record and applies the health reward, trimmed
// by the fallback penalty when the first-choice provider did not win.
func (p *RunProcessor) finishSuccess(ctx context.Context, rc *runContext, result *fetch.OrchestrationResult, body []byte, screenshotPath *string) error {
	final := result.Final
	hash := sha256.Sum256(body)
	contentHash := hex.EncodeToString(hash[:])

	params := model.FinishRunParams{
		RunID:          rc.run.ID,
		FinishedAt:     p.now().UTC(),
		FetchModeUsed:  final.Provider,
		ContentHash:    &contentHash,
		ScreenshotPath: screenshotPath,
	}
	if final.HTTPStatus > 0 {
		status := final.HTTPStatus
		params.HTTPStatus = &status
	}
	if rc.payload.Debug {
		params.RawSample = boundedSample(body)
	}
	if _, err := p.runs.Finish(ctx, params); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	reward := model.HealthRewardSuccess
	if result.FallbackUsed {
		reward -= model.HealthPenaltyFallbackUsed
	}
	score := model.ClampHealthScore(rc.rule.HealthScore + reward)
	if err := p.rules.UpdateHealth(ctx, core.UpdateHealthParams{
		RuleID:      rc.rule.ID,
		HealthScore: score,
	}); err != nil {
		return fmt.Errorf("update health: %w", err)
	}
	return nil
}

// captureScreenshot renders the changed element when the rule or its profile
// asks for one. Capture failures never fail the run.
func (p *RunProcessor) captureScreenshot(ctx context.Context, rc *runContext) *string {
	if p.screenshots == nil {
		return nil
	}
	if !rc.rule.ScreenshotOnChange && (rc.profile == nil || !rc.profile.ScreenshotOnChange) {
		return nil
	}
	path, err := p.screenshots.Capture(ctx, core.ScreenshotRequest{
		URL:      rc.source.URL,
		Selector: rc.rule.Extraction.Selector,
		RuleID:   rc.rule.ID,
		RunID:    rc.run.ID,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "screenshot capture failed",
			"rule_id", rc.rule.ID, "run_id", rc.run.ID, "error", err)
		return nil
	}
	return &path
}

// alertInputs groups the inputs for evaluateAlerts.
type alertInputs struct {
	Prev *model.NormalizedValue
	Cur  *model.NormalizedValue
}

// evaluateAlerts runs the rule's conditions against the confirmed change and,
// when the gate admits it, creates the alert and enqueues its dispatch.
func (p *RunProcessor) evaluateAlerts(ctx context.Context, rc *runContext, in alertInputs) error {
	eval := change.Evaluate(rc.rule.AlertPolicy.Conditions, in.Prev, in.Cur)
	if len(eval.Triggered) == 0 {
		return nil
	}

	ids := make([]string, 0, len(eval.Triggered))
	for _, cond := range eval.Triggered {
		ids = append(ids, cond.ID)
	}
	now := p.now().UTC()
	dedupeKey, checkAlso := change.DedupeKeys(rc.rule.ID, ids, in.Cur, rc.workspace.Location(), now)

	decision, err := p.gate.Admit(ctx, AdmitParams{
		RuleID:          rc.rule.ID,
		DedupeKey:       dedupeKey,
		CheckAlso:       checkAlso,
		CooldownSeconds: rc.rule.AlertPolicy.CooldownSeconds,
	})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		p.logger.InfoContext(ctx, "alert suppressed",
			"rule_id", rc.rule.ID, "reason", decision.SuppressReason)
		return nil
	}

	meta, err := json.Marshal(map[string]any{
		"previous":   in.Prev.Canonical(),
		"current":    in.Cur.Canonical(),
		"conditions": ids,
	})
	if err != nil {
		return fmt.Errorf("marshal alert metadata: %w", err)
	}

	alert, created, err := p.alerts.Create(ctx, &model.CreateAlertRequest{
		RuleID:      rc.rule.ID,
		TriggeredAt: now,
		Severity:    eval.Severity,
		AlertType:   model.AlertTypeValueChanged,
		Title:       fmt.Sprintf("%s changed on %s", rc.rule.Name, rc.source.Domain),
		Body:        fmt.Sprintf("Value changed from %s to %s.", in.Prev.Canonical(), in.Cur.Canonical()),
		Metadata:    meta,
		DedupeKey:   dedupeKey,
	})
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	if !created {
		// Lost an insert race on the dedupe key; the winner dispatches.
		return nil
	}

	return p.enqueueDispatch(ctx, rc, alert, dedupeKey)
}

func (p *RunProcessor) enqueueDispatch(ctx context.Context, rc *runContext, alert *model.Alert, dedupeKey string) error {
	payload, err := json.Marshal(model.DispatchJobPayload{
		AlertID:     alert.ID,
		WorkspaceID: rc.workspace.ID,
		RuleID:      rc.rule.ID,
		Channels:    rc.rule.AlertPolicy.Channels,
		DedupeKey:   dedupeKey,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	_, err = p.jobs.Create(ctx, &model.CreateJobRequest{
		Type:        model.JobTypeDispatch,
		Payload:     payload,
		RuleID:      &rc.rule.ID,
		WorkspaceID: &rc.workspace.ID,
		MaxRetries:  3,
	})
	if err != nil {
		return fmt.Errorf("enqueue dispatch: %w", err)
	}
	return nil
}

// applyAutoThrottle rewrites the schedule to a daily interval after a paid
// success on a sub-daily rule. The first pre-throttle schedule is preserved.
func (p *RunProcessor) applyAutoThrottle(ctx context.Context, rc *runContext) error {
	if rc.rule.CaptchaIntervalEnforced {
		return nil
	}

	var original *model.Schedule
	if rc.rule.OriginalSchedule == nil {
		backup := rc.rule.Schedule
		original = &backup
	}
	if err := p.rules.ApplySchedule(ctx, core.ApplyScheduleParams{
		RuleID:                  rc.rule.ID,
		Schedule:                model.Schedule{IntervalSeconds: throttledIntervalSeconds},
		OriginalSchedule:        original,
		CaptchaIntervalEnforced: true,
	}); err != nil {
		return fmt.Errorf("apply throttled schedule: %w", err)
	}
	if err := p.rules.UpdateNextRun(ctx, core.UpdateNextRunParams{
		RuleID:    rc.rule.ID,
		NextRunAt: p.now().UTC().Add(throttledIntervalSeconds * time.Second),
	}); err != nil {
		return fmt.Errorf("push next run: %w", err)
	}

	p.logger.WarnContext(ctx, "auto-throttle applied",
		"rule_id", rc.rule.ID,
		"interval_seconds", throttledIntervalSeconds)
	return nil
}

// boundedSample truncates a body for storage on problem runs.
func boundedSample(body []byte) *string {
	if len(body) == 0 {
		return nil
	}
	if len(body) > model.RawSampleMaxBytes {
		body = body[:model.RawSampleMaxBytes]
	}
	sample := string(body)
	return &sample
}
