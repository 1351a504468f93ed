package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Alert represents a fired change alert. DedupeKey is globally unique;
// duplicate inserts collapse silently at the repository layer.
type Alert struct {
	ID             string          `json:"id"                      db:"id"`
	RuleID         string          `json:"rule_id"                 db:"rule_id"`
	TriggeredAt    time.Time       `json:"triggered_at"            db:"triggered_at"`
	Severity       AlertSeverity   `json:"severity"                db:"severity"`
	AlertType      AlertType       `json:"alert_type"              db:"alert_type"`
	Title          string          `json:"title"                   db:"title"`
	Body           string          `json:"body"                    db:"body"`
	Metadata       json.RawMessage `json:"metadata,omitempty"      db:"metadata"`
	DedupeKey      string          `json:"dedupe_key"              db:"dedupe_key"`
	ChannelsSent   []string        `json:"channels_sent"           db:"channels_sent"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy *string         `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"   db:"resolved_at"`
	CreatedAt      time.Time       `json:"created_at"              db:"created_at"`
}

// AlertType classifies what fired the alert.
type AlertType string

const (
	AlertTypeValueChanged AlertType = "value_changed"
	AlertTypeSchemaDrift  AlertType = "schema_drift"
	AlertTypeRuleBroken   AlertType = "rule_broken"
)

// Valid returns true if the alert type is known.
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeValueChanged, AlertTypeSchemaDrift, AlertTypeRuleBroken:
		return true
	default:
		return false
	}
}

// AlertSeverity represents the severity level of an alert.
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Valid returns true if the alert severity is valid.
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityLow, AlertSeverityMedium, AlertSeverityHigh, AlertSeverityCritical:
		return true
	default:
		return false
	}
}

// Rank orders severities: low < medium < high < critical. Unknown values rank
// below low.
func (s AlertSeverity) Rank() int {
	switch s {
	case AlertSeverityLow:
		return 1
	case AlertSeverityMedium:
		return 2
	case AlertSeverityHigh:
		return 3
	case AlertSeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the highest-ranked severity, defaulting to medium when
// the list is empty.
func MaxSeverity(severities []AlertSeverity) AlertSeverity {
	highest := AlertSeverity("")
	for _, s := range severities {
		if s.Rank() > highest.Rank() {
			highest = s
		}
	}
	if highest == "" {
		return AlertSeverityMedium
	}
	return highest
}

// CreateAlertRequest represents a request to create a new alert.
type CreateAlertRequest struct {
	RuleID      string          `json:"rule_id"`
	TriggeredAt time.Time       `json:"triggered_at"`
	Severity    AlertSeverity   `json:"severity"`
	AlertType   AlertType       `json:"alert_type"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	DedupeKey   string          `json:"dedupe_key"`
}

// Normalize normalizes the CreateAlertRequest fields.
func (r *CreateAlertRequest) Normalize() {
	r.RuleID = strings.TrimSpace(r.RuleID)
	r.Title = strings.TrimSpace(r.Title)
	r.Body = strings.TrimSpace(r.Body)
	r.DedupeKey = strings.TrimSpace(r.DedupeKey)
}

// Validate validates the CreateAlertRequest fields.
func (r *CreateAlertRequest) Validate() error {
	if r.RuleID == "" {
		return errors.New("rule_id is required")
	}
	if !r.Severity.Valid() {
		return errors.New("invalid severity")
	}
	if !r.AlertType.Valid() {
		return errors.New("invalid alert_type")
	}
	if r.Title == "" {
		return errors.New("title is required")
	}
	if utf8.RuneCountInString(r.Title) > 255 {
		return errors.New("title cannot exceed 255 characters")
	}
	if r.DedupeKey == "" {
		return errors.New("dedupe_key is required")
	}
	return nil
}

// AlertListOptions filters and paginates alert listings.
type AlertListOptions struct {
	RuleID      *string        `json:"rule_id,omitempty"`
	WorkspaceID *string        `json:"workspace_id,omitempty"`
	Severity    *AlertSeverity `json:"severity,omitempty"`
	AlertType   *AlertType     `json:"alert_type,omitempty"`
	Unresolved  bool           `json:"unresolved,omitempty"`
	Limit       int            `json:"limit"`
	Offset      int            `json:"offset"`
}

// AlertStats summarizes alerts per severity for a workspace.
type AlertStats struct {
	Total      int `json:"total"`
	Critical   int `json:"critical"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
	Unresolved int `json:"unresolved"`
}
