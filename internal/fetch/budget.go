package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// Default daily caps in USD per budget scope.
const (
	DefaultWorkspaceDailyCapUSD = 10.00
	DefaultDomainDailyCapUSD    = 2.00
	DefaultRuleDailyCapUSD      = 0.50
)

// BudgetCaps are the three daily spending limits enforced by the guard.
type BudgetCaps struct {
	WorkspaceUSD float64
	DomainUSD    float64
	RuleUSD      float64
}

// DefaultBudgetCaps returns the standard cap set.
func DefaultBudgetCaps() BudgetCaps {
	return BudgetCaps{
		WorkspaceUSD: DefaultWorkspaceDailyCapUSD,
		DomainUSD:    DefaultDomainDailyCapUSD,
		RuleUSD:      DefaultRuleDailyCapUSD,
	}
}

// SpendDecision is the budget guard's verdict for one prospective paid call.
type SpendDecision struct {
	CanSpendPaid bool
	Reason       string
	Spend        model.DailySpend
}

// BudgetGuard enforces the daily caps against the fetch-attempt ledger. Free
// providers are always admissible; paid providers are denied once any scope
// would cross its cap.
type BudgetGuard struct {
	attempts core.FetchAttemptRepository
	caps     BudgetCaps
	logger   *slog.Logger
}

// BudgetGuardOptions configures a BudgetGuard.
type BudgetGuardOptions struct {
	Attempts core.FetchAttemptRepository
	Caps     BudgetCaps
	Logger   *slog.Logger
}

// NewBudgetGuard creates a BudgetGuard. Zero caps fall back to the defaults.
func NewBudgetGuard(opts BudgetGuardOptions) *BudgetGuard {
	caps := opts.Caps
	if caps.WorkspaceUSD <= 0 {
		caps.WorkspaceUSD = DefaultWorkspaceDailyCapUSD
	}
	if caps.DomainUSD <= 0 {
		caps.DomainUSD = DefaultDomainDailyCapUSD
	}
	if caps.RuleUSD <= 0 {
		caps.RuleUSD = DefaultRuleDailyCapUSD
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetGuard{attempts: opts.Attempts, caps: caps, logger: logger}
}

// CanSpend decides whether a paid call costing costUSD may proceed. The spend
// triple in the decision reflects the ledger before the prospective call.
func (g *BudgetGuard) CanSpend(ctx context.Context, q model.SpendQuery, costUSD float64) (SpendDecision, error) {
	if costUSD <= 0 {
		return SpendDecision{CanSpendPaid: true}, nil
	}

	spend, err := g.attempts.DailySpend(ctx, q)
	if err != nil {
		return SpendDecision{}, fmt.Errorf("budget spend lookup: %w", err)
	}

	decision := SpendDecision{CanSpendPaid: true, Spend: *spend}
	switch {
	case spend.WorkspaceUSD+costUSD > g.caps.WorkspaceUSD:
		decision.CanSpendPaid = false
		decision.Reason = fmt.Sprintf("workspace daily budget exceeded (%.2f of %.2f USD spent)",
			spend.WorkspaceUSD, g.caps.WorkspaceUSD)
	case spend.DomainUSD+costUSD > g.caps.DomainUSD:
		decision.CanSpendPaid = false
		decision.Reason = fmt.Sprintf("domain daily budget exceeded (%.2f of %.2f USD spent on %s)",
			spend.DomainUSD, g.caps.DomainUSD, q.Hostname)
	case q.RuleID != "" && spend.RuleUSD+costUSD > g.caps.RuleUSD:
		decision.CanSpendPaid = false
		decision.Reason = fmt.Sprintf("rule daily budget exceeded (%.2f of %.2f USD spent)",
			spend.RuleUSD, g.caps.RuleUSD)
	}

	if !decision.CanSpendPaid {
		g.logger.WarnContext(ctx, "paid provider denied by budget guard",
			"workspace_id", q.WorkspaceID,
			"hostname", q.Hostname,
			"rule_id", q.RuleID,
			"reason", decision.Reason)
	}
	return decision, nil
}
