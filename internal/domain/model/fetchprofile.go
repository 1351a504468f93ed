package model

import (
	"encoding/json"
	"errors"
	"time"
)

// FetchMode selects the fetch strategy for a profile.
type FetchMode string

const (
	FetchModeAuto     FetchMode = "auto"
	FetchModeHTTP     FetchMode = "http"
	FetchModeHeadless FetchMode = "headless"
)

// Valid returns true if the fetch mode is supported.
func (m FetchMode) Valid() bool {
	switch m {
	case FetchModeAuto, FetchModeHTTP, FetchModeHeadless:
		return true
	default:
		return false
	}
}

// DomainTier is the coarse anti-bot classification of a domain. It controls
// which providers and timeouts the tier-policy resolver allows.
type DomainTier string

const (
	// DomainTierA covers domains that respond to plain HTTP fetches.
	DomainTierA DomainTier = "tier_a"
	// DomainTierB covers domains requiring a paid unblocker; free providers
	// are wasted attempts and get disabled by default.
	DomainTierB DomainTier = "tier_b"
	// DomainTierC covers heavily protected domains with relaxed SLOs.
	DomainTierC DomainTier = "tier_c"
	// DomainTierUnknown is the default for unclassified domains.
	DomainTierUnknown DomainTier = "unknown"
)

// Valid returns true if the tier is a known classification.
func (t DomainTier) Valid() bool {
	switch t {
	case DomainTierA, DomainTierB, DomainTierC, DomainTierUnknown:
		return true
	default:
		return false
	}
}

// TierPolicyOverrides overlays explicit per-profile settings on top of tier
// defaults. Nil pointers mean "use the tier default"; slices overlay only when
// non-nil.
type TierPolicyOverrides struct {
	PreferredProvider         *ProviderKind  `json:"preferred_provider,omitempty"`
	DisabledProviders         []ProviderKind `json:"disabled_providers,omitempty"`
	StopAfterPreferredFailure *bool          `json:"stop_after_preferred_failure,omitempty"`
	GeoCountry                *string        `json:"geo_country,omitempty"`
	SLOTarget                 *float64       `json:"slo_target,omitempty"`
	AllowPaid                 *bool          `json:"allow_paid,omitempty"`
	TimeoutMs                 *int           `json:"timeout_ms,omitempty"`
}

// FetchProfile is the policy bag attached to a source. It shapes the fetch
// request (UA, cookies, headers, render wait) and constrains provider
// selection through the tier plus explicit overrides.
type FetchProfile struct {
	ID                        string               `json:"id"                           db:"id"`
	WorkspaceID               string               `json:"workspace_id"                 db:"workspace_id"`
	Mode                      FetchMode            `json:"mode"                         db:"mode"`
	UserAgent                 string               `json:"user_agent,omitempty"         db:"user_agent"`
	Cookies                   string               `json:"cookies,omitempty"            db:"cookies"`
	Headers                   map[string]string    `json:"headers,omitempty"            db:"headers"`
	RenderWaitMs              int                  `json:"render_wait_ms"               db:"render_wait_ms"`
	PreferredProvider         *ProviderKind        `json:"preferred_provider,omitempty" db:"preferred_provider"`
	DisabledProviders         []ProviderKind       `json:"disabled_providers"           db:"disabled_providers"`
	StopAfterPreferredFailure bool                 `json:"stop_after_preferred_failure" db:"stop_after_preferred_failure"`
	FlareSolverrWaitSeconds   int                  `json:"flaresolverr_wait_seconds"    db:"flaresolverr_wait_seconds"`
	GeoCountry                *string              `json:"geo_country,omitempty"        db:"geo_country"`
	DomainTier                DomainTier           `json:"domain_tier"                  db:"domain_tier"`
	ScreenshotOnChange        bool                 `json:"screenshot_on_change"         db:"screenshot_on_change"`
	TierPolicyOverrides       *TierPolicyOverrides `json:"tier_policy_overrides"        db:"tier_policy_overrides"`
	CreatedAt                 time.Time            `json:"created_at"                   db:"created_at"`
	UpdatedAt                 time.Time            `json:"updated_at"                   db:"updated_at"`
}

// DefaultFetchProfile returns the profile used when a source has none
// attached.
func DefaultFetchProfile() *FetchProfile {
	return &FetchProfile{
		Mode:       FetchModeAuto,
		DomainTier: DomainTierUnknown,
	}
}

// CreateFetchProfileRequest represents a request to create a fetch profile.
type CreateFetchProfileRequest struct {
	WorkspaceID               string               `json:"workspace_id"`
	Mode                      FetchMode            `json:"mode"`
	UserAgent                 string               `json:"user_agent,omitempty"`
	Cookies                   string               `json:"cookies,omitempty"`
	Headers                   map[string]string    `json:"headers,omitempty"`
	RenderWaitMs              int                  `json:"render_wait_ms,omitempty"`
	PreferredProvider         *ProviderKind        `json:"preferred_provider,omitempty"`
	DisabledProviders         []ProviderKind       `json:"disabled_providers,omitempty"`
	StopAfterPreferredFailure bool                 `json:"stop_after_preferred_failure,omitempty"`
	FlareSolverrWaitSeconds   int                  `json:"flaresolverr_wait_seconds,omitempty"`
	GeoCountry                *string              `json:"geo_country,omitempty"`
	DomainTier                DomainTier           `json:"domain_tier,omitempty"`
	ScreenshotOnChange        bool                 `json:"screenshot_on_change,omitempty"`
	TierPolicyOverrides       *TierPolicyOverrides `json:"tier_policy_overrides,omitempty"`
}

// Normalize defaults the CreateFetchProfileRequest fields.
func (r *CreateFetchProfileRequest) Normalize() {
	if r.Mode == "" {
		r.Mode = FetchModeAuto
	}
	if r.DomainTier == "" {
		r.DomainTier = DomainTierUnknown
	}
}

// Validate validates the CreateFetchProfileRequest fields.
func (r *CreateFetchProfileRequest) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}
	if !r.Mode.Valid() {
		return errors.New("invalid fetch mode")
	}
	if !r.DomainTier.Valid() {
		return errors.New("invalid domain tier")
	}
	if r.PreferredProvider != nil && !r.PreferredProvider.Valid() {
		return errors.New("invalid preferred provider")
	}
	if r.RenderWaitMs < 0 {
		return errors.New("render_wait_ms cannot be negative")
	}
	return nil
}

// UpdateFetchProfileRequest represents a partial fetch profile update. Nil
// fields are left unchanged.
type UpdateFetchProfileRequest struct {
	Mode                      *FetchMode           `json:"mode,omitempty"`
	UserAgent                 *string              `json:"user_agent,omitempty"`
	Cookies                   *string              `json:"cookies,omitempty"`
	Headers                   *map[string]string   `json:"headers,omitempty"`
	RenderWaitMs              *int                 `json:"render_wait_ms,omitempty"`
	PreferredProvider         *ProviderKind        `json:"preferred_provider,omitempty"`
	DisabledProviders         *[]ProviderKind      `json:"disabled_providers,omitempty"`
	StopAfterPreferredFailure *bool                `json:"stop_after_preferred_failure,omitempty"`
	FlareSolverrWaitSeconds   *int                 `json:"flaresolverr_wait_seconds,omitempty"`
	GeoCountry                *string              `json:"geo_country,omitempty"`
	DomainTier                *DomainTier          `json:"domain_tier,omitempty"`
	ScreenshotOnChange        *bool                `json:"screenshot_on_change,omitempty"`
	TierPolicyOverrides       *TierPolicyOverrides `json:"tier_policy_overrides,omitempty"`
}

// Validate validates the UpdateFetchProfileRequest fields.
func (r *UpdateFetchProfileRequest) Validate() error {
	if r.Mode != nil && !r.Mode.Valid() {
		return errors.New("invalid fetch mode")
	}
	if r.DomainTier != nil && !r.DomainTier.Valid() {
		return errors.New("invalid domain tier")
	}
	if r.PreferredProvider != nil && !r.PreferredProvider.Valid() {
		return errors.New("invalid preferred provider")
	}
	return nil
}

// DecodeTierPolicyOverrides parses the JSONB overrides column. Empty input
// yields nil (use tier defaults).
func DecodeTierPolicyOverrides(raw []byte) (*TierPolicyOverrides, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return nil, nil
	}
	var o TierPolicyOverrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
