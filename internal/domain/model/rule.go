package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// RuleType selects the normalization pipeline for a rule.
type RuleType string

const (
	RuleTypePrice        RuleType = "price"
	RuleTypeAvailability RuleType = "availability"
	RuleTypeText         RuleType = "text"
	RuleTypeNumber       RuleType = "number"
)

// Valid returns true if the rule type is supported.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypePrice, RuleTypeAvailability, RuleTypeText, RuleTypeNumber:
		return true
	default:
		return false
	}
}

// String returns the string representation of the rule type.
func (t RuleType) String() string {
	return string(t)
}

// ExtractionMethod selects how a value is pulled out of a fetched document.
type ExtractionMethod string

const (
	ExtractCSS    ExtractionMethod = "css"
	ExtractXPath  ExtractionMethod = "xpath"
	ExtractRegex  ExtractionMethod = "regex"
	ExtractSchema ExtractionMethod = "schema"
)

// Valid returns true if the extraction method is supported.
func (m ExtractionMethod) Valid() bool {
	switch m {
	case ExtractCSS, ExtractXPath, ExtractRegex, ExtractSchema:
		return true
	default:
		return false
	}
}

// PostProcessStep is one transformation applied to a raw extracted value.
// Kind is one of trim, lowercase, uppercase, replace, extract_number; replace
// uses Pattern/Replacement.
type PostProcessStep struct {
	Kind        string `json:"kind"`
	Pattern     string `json:"pattern,omitempty"`
	Replacement string `json:"replacement,omitempty"`
}

// ExtractionConfig describes how to extract the raw value for a rule.
type ExtractionConfig struct {
	Method            ExtractionMethod  `json:"method"`
	Selector          string            `json:"selector"`
	Attribute         string            `json:"attribute,omitempty"`
	PostProcess       []PostProcessStep `json:"post_process,omitempty"`
	FallbackSelectors []string          `json:"fallback_selectors,omitempty"`
	ExtractAll        bool              `json:"extract_all,omitempty"`
}

// NormalizationConfig carries the locale and type-specific parsing settings.
// Fields are interpreted per rule type; unknown fields are ignored.
type NormalizationConfig struct {
	Locale             string   `json:"locale,omitempty"`
	Currency           string   `json:"currency,omitempty"`
	DecimalSeparator   string   `json:"decimal_separator,omitempty"`
	ThousandSeparators []string `json:"thousand_separators,omitempty"`
	Scale              *int     `json:"scale,omitempty"`
	CollapseWhitespace bool     `json:"collapse_whitespace,omitempty"`
	MaxSnippetLength   int      `json:"max_snippet_length,omitempty"`
	InStockKeywords    []string `json:"in_stock_keywords,omitempty"`
	OutOfStockKeywords []string `json:"out_of_stock_keywords,omitempty"`
	PreorderKeywords   []string `json:"preorder_keywords,omitempty"`
	LimitedKeywords    []string `json:"limited_keywords,omitempty"`
}

// Schedule controls how often a rule runs. Jitter spreads load across a tick
// batch.
type Schedule struct {
	IntervalSeconds int `json:"interval_seconds"`
	JitterSeconds   int `json:"jitter_seconds,omitempty"`
}

// Interval returns the schedule interval as a duration.
func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// AlertCondition is one trigger within a rule's alert policy.
type AlertCondition struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Threshold *float64 `json:"threshold,omitempty"`
	Value     string   `json:"value,omitempty"`
	Severity  string   `json:"severity,omitempty"`
}

// AlertPolicy bundles the alert conditions, anti-flap requirement, and
// cooldown for a rule.
type AlertPolicy struct {
	Conditions         []AlertCondition `json:"conditions"`
	RequireConsecutive int              `json:"require_consecutive,omitempty"`
	CooldownSeconds    int              `json:"cooldown_seconds,omitempty"`
	Channels           []string         `json:"channels,omitempty"`
}

// DefaultRequireConsecutive is the number of consecutive observations needed
// before a candidate value replaces the stable one.
const DefaultRequireConsecutive = 2

// EffectiveRequireConsecutive applies the default when unset.
func (p AlertPolicy) EffectiveRequireConsecutive() int {
	if p.RequireConsecutive > 0 {
		return p.RequireConsecutive
	}
	return DefaultRequireConsecutive
}

// HealEvent records one selector auto-heal.
type HealEvent struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Similarity float64   `json:"similarity"`
	HealedAt   time.Time `json:"healed_at"`
}

// SelectorFingerprint captures the shape of a working selector so it can be
// validated and healed after site markup changes.
type SelectorFingerprint struct {
	Selector             string      `json:"selector"`
	TextAnchor           string      `json:"text_anchor,omitempty"`
	AttributeNames       []string    `json:"attribute_names,omitempty"`
	AlternativeSelectors []string    `json:"alternative_selectors,omitempty"`
	HealingHistory       []HealEvent `json:"healing_history,omitempty"`
	CapturedAt           time.Time   `json:"captured_at"`
}

// SchemaFingerprint captures the JSON-LD shape of a page for drift detection.
type SchemaFingerprint struct {
	BlockCount int       `json:"block_count"`
	ShapeHash  string    `json:"shape_hash"`
	CapturedAt time.Time `json:"captured_at"`
}

// Rule binds a source to an extraction, normalization, schedule, and alert
// policy. NextRunAt advances monotonically; when CaptchaIntervalEnforced is
// set the effective interval is at least one day and OriginalSchedule retains
// the user's prior setting.
type Rule struct {
	ID                      string               `json:"id"                           db:"id"`
	SourceID                string               `json:"source_id"                    db:"source_id"`
	Name                    string               `json:"name"                         db:"name"`
	RuleType                RuleType             `json:"rule_type"                    db:"rule_type"`
	Extraction              ExtractionConfig     `json:"extraction"                   db:"extraction"`
	Normalization           NormalizationConfig  `json:"normalization"                db:"normalization"`
	Schedule                Schedule             `json:"schedule"                     db:"schedule"`
	AlertPolicy             AlertPolicy          `json:"alert_policy"                 db:"alert_policy"`
	Enabled                 bool                 `json:"enabled"                      db:"enabled"`
	ScreenshotOnChange      bool                 `json:"screenshot_on_change"         db:"screenshot_on_change"`
	SelectorFingerprint     *SelectorFingerprint `json:"selector_fingerprint"         db:"selector_fingerprint"`
	SchemaFingerprint       *SchemaFingerprint   `json:"schema_fingerprint"           db:"schema_fingerprint"`
	HealthScore             int                  `json:"health_score"                 db:"health_score"`
	LastErrorCode           *RunErrorCode        `json:"last_error_code,omitempty"    db:"last_error_code"`
	LastErrorAt             *time.Time           `json:"last_error_at,omitempty"      db:"last_error_at"`
	NextRunAt               time.Time            `json:"next_run_at"                  db:"next_run_at"`
	CaptchaIntervalEnforced bool                 `json:"captcha_interval_enforced"    db:"captcha_interval_enforced"`
	OriginalSchedule        *Schedule            `json:"original_schedule,omitempty"  db:"original_schedule"`
	AutoThrottleDisabled    bool                 `json:"auto_throttle_disabled"       db:"auto_throttle_disabled"`
	CreatedAt               time.Time            `json:"created_at"                   db:"created_at"`
	UpdatedAt               time.Time            `json:"updated_at"                   db:"updated_at"`
}

// Health score bounds and adjustments.
const (
	HealthScoreMax            = 100
	HealthScoreMin            = 0
	HealthRewardSuccess       = 5
	HealthPenaltyFallbackUsed = 2
)

// ClampHealthScore clamps a score into [HealthScoreMin, HealthScoreMax].
func ClampHealthScore(score int) int {
	if score > HealthScoreMax {
		return HealthScoreMax
	}
	if score < HealthScoreMin {
		return HealthScoreMin
	}
	return score
}

// CreateRuleRequest represents a request to create a new rule.
type CreateRuleRequest struct {
	SourceID           string              `json:"source_id"`
	Name               string              `json:"name"`
	RuleType           RuleType            `json:"rule_type"`
	Extraction         ExtractionConfig    `json:"extraction"`
	Normalization      NormalizationConfig `json:"normalization"`
	Schedule           Schedule            `json:"schedule"`
	AlertPolicy        AlertPolicy         `json:"alert_policy"`
	Enabled            bool                `json:"enabled"`
	ScreenshotOnChange bool                `json:"screenshot_on_change"`
}

// Normalize trims the CreateRuleRequest fields.
func (r *CreateRuleRequest) Normalize() {
	r.SourceID = strings.TrimSpace(r.SourceID)
	r.Name = strings.TrimSpace(r.Name)
	r.Extraction.Selector = strings.TrimSpace(r.Extraction.Selector)
}

// Validate validates the CreateRuleRequest fields.
func (r *CreateRuleRequest) Validate() error {
	if r.SourceID == "" {
		return errors.New("source_id is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if !r.RuleType.Valid() {
		return errors.New("invalid rule_type")
	}
	if !r.Extraction.Method.Valid() {
		return errors.New("invalid extraction method")
	}
	if r.Extraction.Selector == "" {
		return errors.New("extraction selector is required")
	}
	if r.Schedule.IntervalSeconds <= 0 {
		return errors.New("schedule interval must be positive")
	}
	if r.Schedule.JitterSeconds < 0 {
		return errors.New("schedule jitter cannot be negative")
	}
	return nil
}

// UpdateRuleRequest represents a partial rule update. Nil fields are left
// unchanged.
type UpdateRuleRequest struct {
	Name                 *string              `json:"name,omitempty"`
	Extraction           *ExtractionConfig    `json:"extraction,omitempty"`
	Normalization        *NormalizationConfig `json:"normalization,omitempty"`
	Schedule             *Schedule            `json:"schedule,omitempty"`
	AlertPolicy          *AlertPolicy         `json:"alert_policy,omitempty"`
	Enabled              *bool                `json:"enabled,omitempty"`
	ScreenshotOnChange   *bool                `json:"screenshot_on_change,omitempty"`
	AutoThrottleDisabled *bool                `json:"auto_throttle_disabled,omitempty"`
}

// Validate validates the UpdateRuleRequest fields.
func (r *UpdateRuleRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return errors.New("name cannot be empty")
	}
	if r.Extraction != nil {
		if !r.Extraction.Method.Valid() {
			return errors.New("invalid extraction method")
		}
		if strings.TrimSpace(r.Extraction.Selector) == "" {
			return errors.New("extraction selector is required")
		}
	}
	if r.Schedule != nil {
		if r.Schedule.IntervalSeconds <= 0 {
			return errors.New("schedule interval must be positive")
		}
		if r.Schedule.JitterSeconds < 0 {
			return errors.New("schedule jitter cannot be negative")
		}
	}
	return nil
}

// RuleListOptions filters and paginates rule listings.
type RuleListOptions struct {
	SourceID *string   `json:"source_id,omitempty"`
	RuleType *RuleType `json:"rule_type,omitempty"`
	Enabled  *bool     `json:"enabled,omitempty"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// DecodeSchedule parses a schedule JSON column.
func DecodeSchedule(raw []byte) (Schedule, error) {
	var s Schedule
	if len(raw) == 0 {
		return s, errors.New("empty schedule")
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	return s, nil
}
