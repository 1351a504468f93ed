package model

import (
	"errors"
	"strings"
	"time"
)

// DefaultWorkspaceDailyBudgetUSD is the paid-provider spend cap applied to
// workspaces that do not set their own.
const DefaultWorkspaceDailyBudgetUSD = 10.00

// Workspace is the tenancy boundary. Budgets, alert day buckets, and channel
// configuration all scope to a workspace.
type Workspace struct {
	ID             string    `json:"id"               db:"id"`
	Name           string    `json:"name"             db:"name"`
	Timezone       string    `json:"timezone"         db:"timezone"`
	DailyBudgetUSD float64   `json:"daily_budget_usd" db:"daily_budget_usd"`
	CreatedAt      time.Time `json:"created_at"       db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"       db:"updated_at"`
}

// Location resolves the workspace timezone, falling back to UTC when the name
// is empty or unknown.
func (w *Workspace) Location() *time.Location {
	if w == nil || w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CreateWorkspaceRequest represents a request to create a new workspace.
type CreateWorkspaceRequest struct {
	Name           string  `json:"name"`
	Timezone       string  `json:"timezone,omitempty"`
	DailyBudgetUSD float64 `json:"daily_budget_usd,omitempty"`
}

// Normalize trims and defaults the CreateWorkspaceRequest fields.
func (r *CreateWorkspaceRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Timezone = strings.TrimSpace(r.Timezone)
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.DailyBudgetUSD == 0 {
		r.DailyBudgetUSD = DefaultWorkspaceDailyBudgetUSD
	}
}

// Validate validates the CreateWorkspaceRequest fields.
func (r *CreateWorkspaceRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return errors.New("invalid timezone")
	}
	if r.DailyBudgetUSD < 0 {
		return errors.New("daily budget cannot be negative")
	}
	return nil
}

// UpdateWorkspaceRequest represents a partial workspace update. Nil fields are
// left unchanged.
type UpdateWorkspaceRequest struct {
	Name           *string  `json:"name,omitempty"`
	Timezone       *string  `json:"timezone,omitempty"`
	DailyBudgetUSD *float64 `json:"daily_budget_usd,omitempty"`
}

// Validate validates the UpdateWorkspaceRequest fields.
func (r *UpdateWorkspaceRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return errors.New("name cannot be empty")
	}
	if r.Timezone != nil {
		if _, err := time.LoadLocation(*r.Timezone); err != nil {
			return errors.New("invalid timezone")
		}
	}
	if r.DailyBudgetUSD != nil && *r.DailyBudgetUSD < 0 {
		return errors.New("daily budget cannot be negative")
	}
	return nil
}

// ChannelKind identifies a notification channel transport.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelSlack   ChannelKind = "slack"
	ChannelDiscord ChannelKind = "discord"
	ChannelWebhook ChannelKind = "webhook"
	ChannelPush    ChannelKind = "push"
)

// Valid returns true if the channel kind is supported.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelEmail, ChannelSlack, ChannelDiscord, ChannelWebhook, ChannelPush:
		return true
	default:
		return false
	}
}

// Channel is a configured notification destination. Config holds transport
// secrets (webhook URLs, SMTP credentials) and is stored encrypted.
type Channel struct {
	ID              string      `json:"id"               db:"id"`
	WorkspaceID     string      `json:"workspace_id"     db:"workspace_id"`
	Kind            ChannelKind `json:"kind"             db:"kind"`
	Name            string      `json:"name"             db:"name"`
	EncryptedConfig string      `json:"-"                db:"encrypted_config"`
	Enabled         bool        `json:"enabled"          db:"enabled"`
	CreatedAt       time.Time   `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"       db:"updated_at"`
}

// CreateChannelRequest represents a request to register a notification
// channel. EncryptedConfig is produced by the service layer; repositories
// never see plaintext config.
type CreateChannelRequest struct {
	WorkspaceID     string      `json:"workspace_id"`
	Kind            ChannelKind `json:"kind"`
	Name            string      `json:"name"`
	EncryptedConfig string      `json:"-"`
	Enabled         bool        `json:"enabled"`
}

// Normalize trims the CreateChannelRequest fields.
func (r *CreateChannelRequest) Normalize() {
	r.WorkspaceID = strings.TrimSpace(r.WorkspaceID)
	r.Name = strings.TrimSpace(r.Name)
}

// Validate validates the CreateChannelRequest fields.
func (r *CreateChannelRequest) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}
	if !r.Kind.Valid() {
		return errors.New("invalid channel kind")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.EncryptedConfig == "" {
		return errors.New("config is required")
	}
	return nil
}
