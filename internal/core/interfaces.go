package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for durable queue operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, jobType model.JobType) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
	Delete(ctx context.Context, id string) error
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// DeleteByPayloadFieldParams groups parameters for deleting pending jobs that
// reference an entity in their JSON payload, such as runs for a deleted rule.
type DeleteByPayloadFieldParams struct {
	JobType    model.JobType
	FieldName  string
	FieldValue string
}

// JobPayloadDeleter is an optional JobRepository capability for removing
// pending jobs that reference an entity in their payload.
type JobPayloadDeleter interface {
	DeleteByPayloadField(ctx context.Context, params DeleteByPayloadFieldParams) (int, error)
}

// ClaimDueParams groups parameters for RuleRepository.ClaimDue to keep param count ≤3.
type ClaimDueParams struct {
	Now   time.Time
	Limit int
}

// UpdateNextRunParams groups parameters for RuleRepository.UpdateNextRun.
type UpdateNextRunParams struct {
	RuleID    string
	NextRunAt time.Time
}

// UpdateHealthParams groups parameters for RuleRepository.UpdateHealth.
type UpdateHealthParams struct {
	RuleID        string
	HealthScore   int
	LastErrorCode *model.RunErrorCode
}

// ApplyScheduleParams groups parameters for RuleRepository.ApplySchedule.
// OriginalSchedule is written only when non-nil, preserving the first
// pre-throttle schedule across repeated throttles.
type ApplyScheduleParams struct {
	RuleID                  string
	Schedule                model.Schedule
	OriginalSchedule        *model.Schedule
	CaptchaIntervalEnforced bool
}

// RuleRepository defines the interface for rule data operations.
type RuleRepository interface {
	Create(ctx context.Context, req model.CreateRuleRequest) (*model.Rule, error)
	GetByID(ctx context.Context, id string) (*model.Rule, error)
	List(ctx context.Context, opts model.RuleListOptions) ([]*model.Rule, error)
	Update(ctx context.Context, id string, req model.UpdateRuleRequest) (*model.Rule, error)
	Delete(ctx context.Context, id string) (bool, error)
	GetBySource(ctx context.Context, sourceID string, enabled *bool) ([]*model.Rule, error)

	// ClaimDue atomically selects due enabled rules and parks their next_run_at
	// far in the future so no concurrent scheduler can claim them again. The
	// caller computes and writes the real next_run_at afterwards.
	ClaimDue(ctx context.Context, p ClaimDueParams) ([]*model.Rule, error)
	UpdateNextRun(ctx context.Context, p UpdateNextRunParams) error
	UpdateHealth(ctx context.Context, p UpdateHealthParams) error
	ApplySchedule(ctx context.Context, p ApplyScheduleParams) error
	UpdateFingerprint(ctx context.Context, ruleID string, fp *model.SelectorFingerprint) error
	UpdateSchemaFingerprint(ctx context.Context, ruleID string, fp *model.SchemaFingerprint) error
	AppendHealEvent(ctx context.Context, ruleID string, ev model.HealEvent) error
	UpdateSelector(ctx context.Context, ruleID string, selector string) error
}

// SaveRuleStateParams groups parameters for RuleStateRepository.Save. The save
// succeeds only when the stored version still equals ExpectedVersion.
type SaveRuleStateParams struct {
	State           *model.RuleState
	ExpectedVersion int64
}

// RuleStateRepository defines the interface for anti-flap state operations.
type RuleStateRepository interface {
	// Get returns the state for a rule, or a zero-value state with Version 0
	// when none exists yet.
	Get(ctx context.Context, ruleID string) (*model.RuleState, error)
	// Save writes the state under optimistic concurrency. Returns false when
	// the version check failed and the caller should re-read and retry.
	Save(ctx context.Context, p SaveRuleStateParams) (bool, error)
	Delete(ctx context.Context, ruleID string) error
}

// RunRepository defines the interface for run record operations.
type RunRepository interface {
	Create(ctx context.Context, req *model.CreateRunRequest) (*model.Run, error)
	GetByID(ctx context.Context, id string) (*model.Run, error)
	Finish(ctx context.Context, p model.FinishRunParams) (*model.Run, error)
	ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.Run, error)
	// ClearOldRawSamples nulls raw_sample on runs older than cutoff, up to
	// batchSize rows per call. Returns rows updated.
	ClearOldRawSamples(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// ObservationRepository defines the interface for observation data operations.
type ObservationRepository interface {
	Create(ctx context.Context, req *model.CreateObservationRequest) (*model.Observation, error)
	GetByRun(ctx context.Context, runID string) (*model.Observation, error)
	ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.Observation, error)
}

// AlertRepository defines the interface for alert data operations.
type AlertRepository interface {
	// Create inserts the alert. When the dedupe key already exists it returns
	// the existing row and created=false instead of an error.
	Create(ctx context.Context, req *model.CreateAlertRequest) (alert *model.Alert, created bool, err error)
	GetByID(ctx context.Context, id string) (*model.Alert, error)
	GetByDedupeKey(ctx context.Context, key string) (*model.Alert, error)
	List(ctx context.Context, opts *model.AlertListOptions) ([]*model.Alert, error)
	Stats(ctx context.Context, workspaceID *string) (*model.AlertStats, error)
	Resolve(ctx context.Context, params ResolveAlertParams) (*model.Alert, error)
	Acknowledge(ctx context.Context, params AcknowledgeAlertParams) (*model.Alert, error)
	MarkChannelsSent(ctx context.Context, id string, channels []string) error
	// RefreshTriggeredAt bumps triggered_at on an existing alert. Used when a
	// recurring schema drift collides with its standing dedupe key.
	RefreshTriggeredAt(ctx context.Context, id string, at time.Time) error
}

// ResolveAlertParams contains parameters for resolving an alert.
type ResolveAlertParams struct {
	ID         string
	ResolvedBy string
}

// AcknowledgeAlertParams contains parameters for acknowledging an alert.
type AcknowledgeAlertParams struct {
	ID             string
	AcknowledgedBy string
}

// FetchAttemptRepository defines the interface for the provider attempt ledger.
type FetchAttemptRepository interface {
	Create(ctx context.Context, req *model.CreateFetchAttemptRequest) (*model.FetchAttempt, error)
	// DailySpend aggregates paid spend for the UTC day of q.Day across the
	// workspace, hostname and rule scopes in one query.
	DailySpend(ctx context.Context, q model.SpendQuery) (*model.DailySpend, error)
	ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.FetchAttempt, error)
	// DeleteOlderThan prunes ledger rows older than cutoff, up to batchSize
	// rows per call. Returns rows deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// SourceRepository defines the interface for source data operations.
type SourceRepository interface {
	Create(ctx context.Context, req *model.CreateSourceRequest) (*model.Source, error)
	GetByID(ctx context.Context, id string) (*model.Source, error)
	GetByCanonicalURL(ctx context.Context, workspaceID, canonicalURL string) (*model.Source, error)
	List(ctx context.Context, limit, offset int) ([]*model.Source, error)
	Update(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.Source, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// WorkspaceRepository defines the interface for workspace data operations.
type WorkspaceRepository interface {
	Create(ctx context.Context, req *model.CreateWorkspaceRequest) (*model.Workspace, error)
	GetByID(ctx context.Context, id string) (*model.Workspace, error)
	List(ctx context.Context, limit, offset int) ([]*model.Workspace, error)
	Update(ctx context.Context, id string, req model.UpdateWorkspaceRequest) (*model.Workspace, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ChannelRepository defines the interface for notification channel data.
// Channel configs are stored encrypted; the repository works with ciphertext
// and the service layer handles encryption.
type ChannelRepository interface {
	Create(ctx context.Context, req *model.CreateChannelRequest) (*model.Channel, error)
	GetByID(ctx context.Context, id string) (*model.Channel, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.Channel, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// FetchProfileRepository defines the interface for fetch profile data.
type FetchProfileRepository interface {
	Create(ctx context.Context, req *model.CreateFetchProfileRequest) (*model.FetchProfile, error)
	GetByID(ctx context.Context, id string) (*model.FetchProfile, error)
	List(ctx context.Context, limit, offset int) ([]*model.FetchProfile, error)
	Update(ctx context.Context, id string, req model.UpdateFetchProfileRequest) (*model.FetchProfile, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for job cleanup operations.
type ReaperRepository interface {
	// FailStalePendingJobs marks pending jobs older than maxAge as failed.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs marked as failed.
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldJobs deletes jobs with the given status older than maxAge.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs deleted.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// MaintenanceLocker serializes maintenance tasks across instances.
type MaintenanceLocker interface {
	// TryWithTaskLock attempts to acquire an advisory lock for the given task
	// name. Uses FNV-1a 64-bit hash of the task name for the lock key. When
	// acquired, fn runs within the same transaction.
	// Return semantics:
	//   - (false, nil): lock not acquired; fn was not executed
	//   - (true, nil): lock acquired; fn executed and succeeded
	//   - (true, err): lock acquired; fn executed and failed with err
	TryWithTaskLock(
		ctx context.Context,
		taskName string,
		fn func(context.Context, *sql.Tx) error,
	) (bool, error)
}
