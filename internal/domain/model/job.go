package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType represents the queue a job belongs to.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeRun represents a scheduled or manual rule execution job.
	JobTypeRun JobType = "rules-run"
	// JobTypeDispatch represents an alert delivery job.
	JobTypeDispatch JobType = "alerts-dispatch"
	// JobTypeMaintenance represents a periodic maintenance job.
	JobTypeMaintenance JobType = "maintenance"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeRun || t == JobTypeDispatch || t == JobTypeMaintenance
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Job represents a queued unit of work with all its metadata and status
// information. Jobs are durable; a crashed worker's lease expires and the job
// becomes reservable again.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	RuleID         *string         `json:"rule_id,omitempty"          db:"rule_id"`
	WorkspaceID    *string         `json:"workspace_id,omitempty"     db:"workspace_id"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// RunJobPayload is the payload carried by rules-run jobs.
type RunJobPayload struct {
	RuleID              string     `json:"rule_id"`
	Trigger             RunTrigger `json:"trigger"`
	RequestedAt         time.Time  `json:"requested_at"`
	ForceMode           *FetchMode `json:"force_mode,omitempty"`
	Debug               bool       `json:"debug,omitempty"`
	RateLimitRetryCount int        `json:"rate_limit_retry_count,omitempty"`
	TimeoutRetryCount   int        `json:"timeout_retry_count,omitempty"`
}

// Validate validates the RunJobPayload fields.
func (p *RunJobPayload) Validate() error {
	if p.RuleID == "" {
		return errors.New("rule_id is required")
	}
	if !p.Trigger.Valid() {
		return errors.New("invalid trigger")
	}
	if p.ForceMode != nil && !p.ForceMode.Valid() {
		return errors.New("invalid force_mode")
	}
	return nil
}

// DispatchJobPayload is the payload carried by alerts-dispatch jobs.
type DispatchJobPayload struct {
	AlertID     string   `json:"alert_id"`
	WorkspaceID string   `json:"workspace_id"`
	RuleID      string   `json:"rule_id"`
	Channels    []string `json:"channels"`
	DedupeKey   string   `json:"dedupe_key"`
}

// Validate validates the DispatchJobPayload fields.
func (p *DispatchJobPayload) Validate() error {
	if p.AlertID == "" {
		return errors.New("alert_id is required")
	}
	if p.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}
	return nil
}

// MaintenanceTask names one periodic cleanup task.
type MaintenanceTask string

const (
	MaintenanceTaskRawSampleCleanup    MaintenanceTask = "rawsample-cleanup"
	MaintenanceTaskFetchAttemptCleanup MaintenanceTask = "fetch-attempts-cleanup"
)

// Valid returns true if the maintenance task is known.
func (t MaintenanceTask) Valid() bool {
	return t == MaintenanceTaskRawSampleCleanup || t == MaintenanceTaskFetchAttemptCleanup
}

// MaintenancePayload is the payload carried by maintenance jobs.
type MaintenancePayload struct {
	Task   MaintenanceTask   `json:"task"`
	Config MaintenanceConfig `json:"config"`
}

// MaintenanceConfig carries per-task tuning.
type MaintenanceConfig struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

// Validate validates the MaintenancePayload fields.
func (p *MaintenancePayload) Validate() error {
	if !p.Task.Valid() {
		return errors.New("invalid maintenance task")
	}
	if p.Config.RetentionDays < 0 {
		return errors.New("retention_days must be >= 0")
	}
	return nil
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	RuleID      *string         `json:"rule_id,omitempty"`
	WorkspaceID *string         `json:"workspace_id,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if r.RuleID != nil {
		if _, err := uuid.Parse(*r.RuleID); err != nil {
			return errors.New("rule_id must be a valid UUID")
		}
	}
	if r.WorkspaceID != nil {
		if _, err := uuid.Parse(*r.WorkspaceID); err != nil {
			return errors.New("workspace_id must be a valid UUID")
		}
	}
	return nil
}

// JobStats represents statistics about jobs in different states.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
