package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
)

// AlertGate applies the two alert suppression layers: the durable dedupe-key
// lookup and the per-rule cooldown lock in the shared cache.
type AlertGate struct {
	alerts core.AlertRepository
	cache  core.CacheRepository
	logger *slog.Logger
	now    func() time.Time
}

// AlertGateOptions holds the dependencies for creating an AlertGate.
type AlertGateOptions struct {
	Alerts core.AlertRepository
	Cache  core.CacheRepository
	Logger *slog.Logger
	Now    func() time.Time
}

// NewAlertGate creates an AlertGate with defaulted options.
func NewAlertGate(opts AlertGateOptions) *AlertGate {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AlertGate{
		alerts: opts.Alerts,
		cache:  opts.Cache,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// AdmitParams groups the inputs for one gate decision. CheckAlso carries the
// previous day's dedupe key during the midnight overlap window.
type AdmitParams struct {
	RuleID          string
	DedupeKey       string
	CheckAlso       []string
	CooldownSeconds int
}

// GateDecision is the outcome of one admission check. When Allowed is false,
// SuppressReason explains which layer suppressed the alert.
type GateDecision struct {
	Allowed        bool
	SuppressReason string
}

func cooldownKey(ruleID string) string {
	return "cooldown:" + ruleID
}

// Admit checks dedupe then cooldown. Dedupe consults the alert table for the
// current key and every overlap-window key; cooldown takes a SET NX EX lock
// in the cache. Cache failures fail open so a degraded cache never silences
// alerts.
func (g *AlertGate) Admit(ctx context.Context, p AdmitParams) (GateDecision, error) {
	keys := append([]string{p.DedupeKey}, p.CheckAlso...)
	for _, key := range keys {
		existing, err := g.alerts.GetByDedupeKey(ctx, key)
		if err != nil {
			return GateDecision{}, fmt.Errorf("dedupe lookup: %w", err)
		}
		if existing != nil {
			age := g.now().Sub(existing.TriggeredAt)
			return GateDecision{
				SuppressReason: fmt.Sprintf("Duplicate alert exists (age:%ds)", int(age.Seconds())),
			}, nil
		}
	}

	if p.CooldownSeconds <= 0 {
		return GateDecision{Allowed: true}, nil
	}

	key := cooldownKey(p.RuleID)
	ttl := time.Duration(p.CooldownSeconds) * time.Second
	acquired, err := g.cache.SetIfNotExists(ctx, key, []byte(g.now().UTC().Format(time.RFC3339)), ttl)
	if err != nil {
		g.logger.WarnContext(ctx, "cooldown lock failed, allowing alert",
			"rule_id", p.RuleID, "error", err)
		return GateDecision{Allowed: true}, nil
	}
	if !acquired {
		remaining := ttl
		if left, ok, terr := g.cache.TTL(ctx, key); terr == nil && ok {
			remaining = left
		}
		return GateDecision{
			SuppressReason: fmt.Sprintf("Cooldown active (%ds remaining)", int(remaining.Seconds())),
		}, nil
	}
	return GateDecision{Allowed: true}, nil
}

// ruleHealthSummary buckets a health score for operator-facing reporting.
func ruleHealthSummary(score int) string {
	switch {
	case score >= 80:
		return "healthy"
	case score >= 50:
		return "warning"
	default:
		return "critical"
	}
}
