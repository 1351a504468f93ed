// Package fetch implements provider selection: tier policy resolution, the
// budget guard, per-(domain,provider) rate limits and circuit breakers, the
// provider adapters, and the orchestrator that drives them.
package fetch

import (
	"time"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// TierPolicy is the concrete fetch policy for one request after tier
// defaults, profile settings, and JSONB overrides have been merged.
type TierPolicy struct {
	PreferredProvider         *model.ProviderKind
	DisabledProviders         []model.ProviderKind
	StopAfterPreferredFailure bool
	GeoCountry                *string
	SLOTarget                 float64
	AllowPaid                 bool
	Timeout                   time.Duration
}

var brightData = model.ProviderBrightData

// tierDefaults is the process-wide policy table, frozen at init. Timeouts
// must stay strictly below the rate-limit lease TTL.
var tierDefaults = map[model.DomainTier]TierPolicy{
	model.DomainTierA: {
		AllowPaid: false,
		SLOTarget: 0.95,
		Timeout:   30 * time.Second,
	},
	model.DomainTierB: {
		AllowPaid:                 true,
		DisabledProviders:         model.FreeProviderOrder(),
		PreferredProvider:         &brightData,
		StopAfterPreferredFailure: true,
		SLOTarget:                 0.95,
		Timeout:                   60 * time.Second,
	},
	model.DomainTierC: {
		AllowPaid:         true,
		DisabledProviders: model.FreeProviderOrder(),
		PreferredProvider: &brightData,
		SLOTarget:         0.80,
		Timeout:           120 * time.Second,
	},
	model.DomainTierUnknown: {
		AllowPaid: false,
		SLOTarget: 0.95,
		Timeout:   30 * time.Second,
	},
}

// TierPolicyResolver merges tier defaults with profile settings and explicit
// overrides. The tier table is consulted only when the feature flag is on and
// the workspace is in the canary set (empty set means all workspaces).
type TierPolicyResolver struct {
	Enabled            bool
	CanaryWorkspaceIDs map[string]struct{}
}

// NewTierPolicyResolver builds a resolver from the feature flag and the
// comma-parsed canary list.
func NewTierPolicyResolver(enabled bool, canaryWorkspaceIDs []string) *TierPolicyResolver {
	canaries := make(map[string]struct{}, len(canaryWorkspaceIDs))
	for _, id := range canaryWorkspaceIDs {
		if id != "" {
			canaries[id] = struct{}{}
		}
	}
	return &TierPolicyResolver{Enabled: enabled, CanaryWorkspaceIDs: canaries}
}

// appliesTo reports whether tier policy is active for a workspace.
func (r *TierPolicyResolver) appliesTo(workspaceID string) bool {
	if r == nil || !r.Enabled {
		return false
	}
	if len(r.CanaryWorkspaceIDs) == 0 {
		return true
	}
	_, ok := r.CanaryWorkspaceIDs[workspaceID]
	return ok
}

// Resolve produces the effective policy for one fetch. Merge order: tier
// defaults, then profile-level provider settings, then JSONB overrides
// field-wise. With the feature off the unknown-tier defaults apply.
func (r *TierPolicyResolver) Resolve(workspaceID string, profile *model.FetchProfile) TierPolicy {
	if profile == nil {
		profile = model.DefaultFetchProfile()
	}

	tier := model.DomainTierUnknown
	if r.appliesTo(workspaceID) && profile.DomainTier.Valid() {
		tier = profile.DomainTier
	}
	policy := clonePolicy(tierDefaults[tier])

	// Profile-level provider settings beat tier defaults.
	if profile.PreferredProvider != nil {
		policy.PreferredProvider = profile.PreferredProvider
	}
	if len(profile.DisabledProviders) > 0 {
		policy.DisabledProviders = append([]model.ProviderKind{}, profile.DisabledProviders...)
	}
	if profile.StopAfterPreferredFailure {
		policy.StopAfterPreferredFailure = true
	}
	if profile.GeoCountry != nil {
		policy.GeoCountry = profile.GeoCountry
	}

	if r.appliesTo(workspaceID) && profile.TierPolicyOverrides != nil {
		applyOverrides(&policy, profile.TierPolicyOverrides)
	}

	return policy
}

func applyOverrides(policy *TierPolicy, o *model.TierPolicyOverrides) {
	if o.PreferredProvider != nil {
		policy.PreferredProvider = o.PreferredProvider
	}
	if o.DisabledProviders != nil {
		policy.DisabledProviders = append([]model.ProviderKind{}, o.DisabledProviders...)
	}
	if o.StopAfterPreferredFailure != nil {
		policy.StopAfterPreferredFailure = *o.StopAfterPreferredFailure
	}
	if o.GeoCountry != nil {
		policy.GeoCountry = o.GeoCountry
	}
	if o.SLOTarget != nil {
		policy.SLOTarget = *o.SLOTarget
	}
	if o.AllowPaid != nil {
		policy.AllowPaid = *o.AllowPaid
	}
	if o.TimeoutMs != nil && *o.TimeoutMs > 0 {
		policy.Timeout = time.Duration(*o.TimeoutMs) * time.Millisecond
	}
}

func clonePolicy(p TierPolicy) TierPolicy {
	out := p
	out.DisabledProviders = append([]model.ProviderKind{}, p.DisabledProviders...)
	return out
}

// WithForcedMode pins the policy to the provider behind a forced fetch mode.
// The forced provider becomes preferred with stop-after-failure, and any
// disable on it is lifted, so a manual or debug run reports that provider's
// outcome instead of escalating past it. Auto leaves the policy untouched.
func (p TierPolicy) WithForcedMode(mode model.FetchMode) TierPolicy {
	var kind model.ProviderKind
	switch mode {
	case model.FetchModeHTTP:
		kind = model.ProviderHTTP
	case model.FetchModeHeadless:
		kind = model.ProviderHeadless
	default:
		return p
	}

	out := clonePolicy(p)
	out.PreferredProvider = &kind
	out.StopAfterPreferredFailure = true
	kept := out.DisabledProviders[:0]
	for _, d := range out.DisabledProviders {
		if d != kind {
			kept = append(kept, d)
		}
	}
	out.DisabledProviders = kept
	return out
}

// Disabled reports whether the policy disables a provider.
func (p TierPolicy) Disabled(kind model.ProviderKind) bool {
	for _, d := range p.DisabledProviders {
		if d == kind {
			return true
		}
	}
	return false
}
