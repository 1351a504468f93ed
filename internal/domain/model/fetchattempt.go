package model

import (
	"errors"
	"time"
)

// FetchAttempt is one row of the append-only provider attempt ledger. It is
// queried by UTC day for budget accounting and pruned after the retention
// window. Writes are at-least-once; the budget aggregation tolerates
// duplicates.
type FetchAttempt struct {
	ID          string       `json:"id"                 db:"id"`
	WorkspaceID string       `json:"workspace_id"       db:"workspace_id"`
	RuleID      *string      `json:"rule_id,omitempty"  db:"rule_id"`
	Hostname    string       `json:"hostname"           db:"hostname"`
	Provider    ProviderKind `json:"provider"           db:"provider"`
	Outcome     FetchOutcome `json:"outcome"            db:"outcome"`
	HTTPStatus  *int         `json:"http_status,omitempty" db:"http_status"`
	BodyBytes   int64        `json:"body_bytes"         db:"body_bytes"`
	CostUSD     float64      `json:"cost_usd"           db:"cost_usd"`
	LatencyMs   int64        `json:"latency_ms"         db:"latency_ms"`
	CreatedAt   time.Time    `json:"created_at"         db:"created_at"`
}

// CreateFetchAttemptRequest appends one ledger row.
type CreateFetchAttemptRequest struct {
	WorkspaceID string       `json:"workspace_id"`
	RuleID      *string      `json:"rule_id,omitempty"`
	Hostname    string       `json:"hostname"`
	Provider    ProviderKind `json:"provider"`
	Outcome     FetchOutcome `json:"outcome"`
	HTTPStatus  *int         `json:"http_status,omitempty"`
	BodyBytes   int64        `json:"body_bytes"`
	CostUSD     float64      `json:"cost_usd"`
	LatencyMs   int64        `json:"latency_ms"`
}

// Validate validates the CreateFetchAttemptRequest fields.
func (r *CreateFetchAttemptRequest) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}
	if r.Hostname == "" {
		return errors.New("hostname is required")
	}
	if !r.Provider.Valid() {
		return errors.New("invalid provider")
	}
	if !r.Outcome.Valid() {
		return errors.New("invalid outcome")
	}
	return nil
}

// DailySpend is the aggregated paid spend for one UTC day across the three
// budget scopes.
type DailySpend struct {
	WorkspaceUSD float64 `json:"workspace_usd"`
	DomainUSD    float64 `json:"domain_usd"`
	RuleUSD      float64 `json:"rule_usd"`
}

// SpendQuery selects the ledger slice aggregated by the budget guard.
type SpendQuery struct {
	WorkspaceID string
	Hostname    string
	RuleID      string
	Day         time.Time // any instant within the UTC day bucket
}

// FetchAttemptRetentionDays is how long ledger rows are kept before the
// maintenance job prunes them.
const FetchAttemptRetentionDays = 30
