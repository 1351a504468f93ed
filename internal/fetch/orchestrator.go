package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// DefaultMaxAttemptsPerRun bounds how many providers one orchestration may
// try. The full ladder is 8 providers; the bound exists so a misconfigured
// policy cannot grow the attempt list past it.
const DefaultMaxAttemptsPerRun = 8

// secondsPerDay is the auto-throttle interval floor.
const secondsPerDay = 86400

// errAttemptFailed marks a classified non-ok attempt for the circuit breaker.
var errAttemptFailed = errors.New("fetch attempt failed")

// OrchestratorConfig tunes one orchestration.
type OrchestratorConfig struct {
	MaxAttemptsPerRun int
	// HardStopOnBudgetExceed makes a budget denial terminal instead of
	// degrading to the remaining free providers.
	HardStopOnBudgetExceed bool
}

// OrchestrationRequest describes one fetch to orchestrate. Policy is the
// already-resolved tier policy for the source's profile.
type OrchestrationRequest struct {
	WorkspaceID          string
	RuleID               string
	URL                  string
	Hostname             string
	Profile              *model.FetchProfile
	Policy               TierPolicy
	RuleIntervalSeconds  int
	AutoThrottleDisabled bool
}

// OrchestrationResult is the outcome of one orchestration. Final is never nil;
// when every provider failed it is the most informative failed attempt.
type OrchestrationResult struct {
	Final    *core.FetchResult
	Attempts []*model.FetchAttempt
	// BudgetReason is set when a paid provider was denied by the budget guard.
	BudgetReason string
	// RetryAfter is set when the final outcome is rate_limited.
	RetryAfter time.Duration
	// ThrottleAdvised is set when a paid provider succeeded for a sub-daily
	// rule with auto-throttle enabled. Only the run processor may act on it.
	ThrottleAdvised bool
	// FallbackUsed is set when the winning provider was not the first in the
	// ladder. The run processor trims the health reward for such runs.
	FallbackUsed bool
}

// Orchestrator walks the provider escalation ladder for one fetch: budget
// check, rate-limit token, circuit breaker, adapter call, and a synchronous
// ledger append per actual provider call.
type Orchestrator struct {
	registry core.ProviderRegistry
	attempts core.FetchAttemptRepository
	budget   *BudgetGuard
	limiter  *RateLimiter
	breakers *BreakerRegistry
	logger   *slog.Logger
	now      func() time.Time
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Registry core.ProviderRegistry
	Attempts core.FetchAttemptRepository
	Budget   *BudgetGuard
	Limiter  *RateLimiter
	Breakers *BreakerRegistry
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewOrchestrator creates an Orchestrator with defaulted options.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		registry: opts.Registry,
		attempts: opts.Attempts,
		budget:   opts.Budget,
		limiter:  opts.Limiter,
		breakers: opts.Breakers,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Fetch runs the escalation ladder for one request. Repository errors while
// appending the ledger are returned; classified provider failures are not
// errors, they land in the result.
func (o *Orchestrator) Fetch(ctx context.Context, req OrchestrationRequest, cfg OrchestratorConfig) (*OrchestrationResult, error) {
	maxAttempts := cfg.MaxAttemptsPerRun
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttemptsPerRun
	}

	result := &OrchestrationResult{}
	policy := req.Policy

	if short := o.checkPreferred(ctx, req); short != nil {
		result.Final = short
		return result, nil
	}

	order := providerOrder(policy)
	spendQuery := model.SpendQuery{
		WorkspaceID: req.WorkspaceID,
		Hostname:    req.Hostname,
		RuleID:      req.RuleID,
		Day:         o.now().UTC(),
	}

	var best *core.FetchResult
	attemptsMade := 0

	for _, kind := range order {
		if attemptsMade >= maxAttempts {
			break
		}

		if kind.Paid() {
			if !policy.AllowPaid {
				continue
			}
			decision, err := o.budget.CanSpend(ctx, spendQuery, core.ProviderCostUSD(kind))
			if err != nil {
				return nil, err
			}
			if !decision.CanSpendPaid {
				result.BudgetReason = decision.Reason
				if cfg.HardStopOnBudgetExceed {
					result.Final = &core.FetchResult{
						Provider: kind,
						Outcome:  model.OutcomeProviderError,
						Detail:   decision.Reason,
					}
					return result, nil
				}
				continue
			}
		}

		token, err := o.limiter.Consume(ctx, req.Hostname, kind)
		if err != nil {
			return nil, err
		}
		if !token.Allowed {
			rateLimited := &core.FetchResult{
				Provider: kind,
				Outcome:  model.OutcomeRateLimited,
				Detail:   fmt.Sprintf("token bucket empty for %s:%s", req.Hostname, kind),
			}
			attempt, err := o.appendAttempt(ctx, req, rateLimited)
			if err != nil {
				return nil, err
			}
			result.Attempts = append(result.Attempts, attempt)
			result.Final = rateLimited
			result.RetryAfter = token.RetryAfter
			return result, nil
		}

		fetched, skipped, err := o.callThroughBreaker(ctx, req, kind)
		if err != nil {
			return nil, err
		}
		if skipped {
			continue
		}

		attemptsMade++
		attempt, err := o.appendAttempt(ctx, req, fetched)
		if err != nil {
			return nil, err
		}
		result.Attempts = append(result.Attempts, attempt)

		if fetched.Outcome == model.OutcomeOK {
			result.Final = fetched
			result.FallbackUsed = kind != order[0]
			result.ThrottleAdvised = kind.Paid() &&
				req.RuleIntervalSeconds > 0 &&
				req.RuleIntervalSeconds < secondsPerDay &&
				!req.AutoThrottleDisabled
			return result, nil
		}

		if failureRank(fetched.Outcome) > failureRank(outcomeOf(best)) {
			best = fetched
		}

		preferred := policy.PreferredProvider != nil && kind == *policy.PreferredProvider
		if preferred && policy.StopAfterPreferredFailure {
			o.logger.InfoContext(ctx, "stopping after preferred provider failure",
				"hostname", req.Hostname, "provider", kind, "outcome", fetched.Outcome)
			break
		}
	}

	if best == nil {
		best = &core.FetchResult{
			Outcome: model.OutcomeProviderError,
			Detail:  "no providers available",
		}
		if result.BudgetReason != "" {
			best.Detail = result.BudgetReason
		}
	}
	result.Final = best
	return result, nil
}

// checkPreferred implements the preferred_unavailable short-circuit: a set
// but unusable preferred provider ends the orchestration before any attempt
// and without a ledger row.
func (o *Orchestrator) checkPreferred(ctx context.Context, req OrchestrationRequest) *core.FetchResult {
	policy := req.Policy
	if policy.PreferredProvider == nil {
		return nil
	}
	kind := *policy.PreferredProvider

	unavailable := func(detail string) *core.FetchResult {
		o.logger.WarnContext(ctx, "preferred provider unavailable",
			"hostname", req.Hostname, "provider", kind, "detail", detail)
		return &core.FetchResult{
			Provider: kind,
			Outcome:  model.OutcomePreferredUnavailable,
			Detail:   detail,
		}
	}

	if policy.Disabled(kind) {
		return unavailable("preferred provider is disabled")
	}
	if kind.Paid() {
		if !policy.AllowPaid {
			return unavailable("preferred provider is paid and paid providers are not allowed")
		}
		decision, err := o.budget.CanSpend(ctx, model.SpendQuery{
			WorkspaceID: req.WorkspaceID,
			Hostname:    req.Hostname,
			RuleID:      req.RuleID,
			Day:         o.now().UTC(),
		}, core.ProviderCostUSD(kind))
		if err == nil && !decision.CanSpendPaid {
			return unavailable(decision.Reason)
		}
	}
	return nil
}

// callThroughBreaker runs one provider attempt under its circuit breaker.
// skipped is true when the breaker is open, in which case no attempt was made
// and no ledger row is owed.
func (o *Orchestrator) callThroughBreaker(ctx context.Context, req OrchestrationRequest, kind model.ProviderKind) (*core.FetchResult, bool, error) {
	provider := o.registry.Get(kind)
	if provider == nil {
		return nil, true, nil
	}

	freq := core.FetchRequest{
		URL:      req.URL,
		Hostname: req.Hostname,
		Profile:  req.Profile,
		Timeout:  req.Policy.Timeout,
	}
	if req.Policy.GeoCountry != nil {
		freq.GeoCountry = *req.Policy.GeoCountry
	}

	cb := o.breakers.For(req.Hostname, kind)
	out, err := cb.Execute(func() (any, error) {
		fetched, ferr := provider.Fetch(ctx, freq)
		if ferr != nil {
			return nil, ferr
		}
		if fetched.Outcome != model.OutcomeOK {
			return fetched, errAttemptFailed
		}
		return fetched, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		o.logger.InfoContext(ctx, "skipping provider, circuit open",
			"hostname", req.Hostname, "provider", kind)
		return nil, true, nil
	case err != nil && !errors.Is(err, errAttemptFailed):
		return nil, false, err
	}

	fetched, ok := out.(*core.FetchResult)
	if !ok || fetched == nil {
		return nil, false, fmt.Errorf("provider %s returned no result", kind)
	}
	return fetched, false, nil
}

// appendAttempt writes one ledger row for an actual provider call. The write
// is synchronous so budget accounting never runs behind spending.
func (o *Orchestrator) appendAttempt(ctx context.Context, req OrchestrationRequest, res *core.FetchResult) (*model.FetchAttempt, error) {
	create := &model.CreateFetchAttemptRequest{
		WorkspaceID: req.WorkspaceID,
		Hostname:    req.Hostname,
		Provider:    res.Provider,
		Outcome:     res.Outcome,
		BodyBytes:   int64(len(res.Body)),
		CostUSD:     res.CostUSD,
		LatencyMs:   res.Latency.Milliseconds(),
	}
	if req.RuleID != "" {
		ruleID := req.RuleID
		create.RuleID = &ruleID
	}
	if res.HTTPStatus > 0 {
		status := res.HTTPStatus
		create.HTTPStatus = &status
	}

	attempt, err := o.attempts.Create(ctx, create)
	if err != nil {
		return nil, fmt.Errorf("append fetch attempt: %w", err)
	}
	return attempt, nil
}

// providerOrder computes the escalation ladder for a policy: preferred first,
// then the free defaults, then the paid ladder when paid is allowed, minus
// every disabled provider and without duplicates.
func providerOrder(policy TierPolicy) []model.ProviderKind {
	var order []model.ProviderKind
	seen := make(map[model.ProviderKind]struct{})

	add := func(kind model.ProviderKind) {
		if _, dup := seen[kind]; dup {
			return
		}
		if policy.Disabled(kind) {
			return
		}
		seen[kind] = struct{}{}
		order = append(order, kind)
	}

	if policy.PreferredProvider != nil {
		add(*policy.PreferredProvider)
	}
	for _, kind := range model.FreeProviderOrder() {
		add(kind)
	}
	if policy.AllowPaid {
		for _, kind := range model.PaidProviderOrder() {
			add(kind)
		}
	}
	return order
}

// failureRank orders failed outcomes by how much they tell the run processor.
// Block evidence beats transport errors, which beat an empty body.
func failureRank(outcome model.FetchOutcome) int {
	switch outcome {
	case model.OutcomeBlocked, model.OutcomeCaptchaRequired, model.OutcomeInterstitialGeo:
		return 3
	case model.OutcomeProviderError, model.OutcomeTimeout, model.OutcomeNetworkError, model.OutcomeRateLimited:
		return 2
	case model.OutcomeEmpty:
		return 1
	default:
		return 0
	}
}

func outcomeOf(res *core.FetchResult) model.FetchOutcome {
	if res == nil {
		return ""
	}
	return res.Outcome
}
