// Package testutil provides testing utilities and helpers for the driftwatch job system.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:       model.JobTypeRun,
			Priority:   50,
			Payload:    json.RawMessage(`{"rule_id": "rule-1", "trigger": "schedule"}`),
			MaxRetries: 3,
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithPayload sets the job payload.
func (b *JobRequestBuilder) WithPayload(payload json.RawMessage) *JobRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *JobRequestBuilder) WithPayloadString(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithRuleID sets the rule the job belongs to.
func (b *JobRequestBuilder) WithRuleID(ruleID string) *JobRequestBuilder {
	b.req.RuleID = &ruleID
	return b
}

// WithWorkspaceID sets the workspace the job belongs to.
func (b *JobRequestBuilder) WithWorkspaceID(workspaceID string) *JobRequestBuilder {
	b.req.WorkspaceID = &workspaceID
	return b
}

// WithScheduledAt sets the scheduled time.
func (b *JobRequestBuilder) WithScheduledAt(scheduledAt time.Time) *JobRequestBuilder {
	b.req.ScheduledAt = &scheduledAt
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *JobRequestBuilder) WithMaxRetries(maxRetries int) *JobRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// Common test job request presets

// RunJobRequest creates a rules-run job request with default values.
func RunJobRequest(ruleID string) *model.CreateJobRequest {
	payload, _ := json.Marshal(model.RunJobPayload{
		RuleID:      ruleID,
		Trigger:     model.TriggerSchedule,
		RequestedAt: TestTime(),
	})
	return NewJobRequest().
		WithType(model.JobTypeRun).
		WithRuleID(ruleID).
		WithPayload(payload).
		Build()
}

// DispatchJobRequest creates an alerts-dispatch job request with default values.
func DispatchJobRequest(alertID, workspaceID string) *model.CreateJobRequest {
	payload, _ := json.Marshal(model.DispatchJobPayload{
		AlertID:     alertID,
		WorkspaceID: workspaceID,
	})
	return NewJobRequest().
		WithType(model.JobTypeDispatch).
		WithWorkspaceID(workspaceID).
		WithPayload(payload).
		Build()
}

// MaintenanceJobRequest creates a maintenance job request for the given task.
func MaintenanceJobRequest(task model.MaintenanceTask) *model.CreateJobRequest {
	payload, _ := json.Marshal(model.MaintenancePayload{Task: task})
	return NewJobRequest().
		WithType(model.JobTypeMaintenance).
		WithPayload(payload).
		Build()
}

// HighPriorityJobRequest creates a high priority job request.
func HighPriorityJobRequest() *model.CreateJobRequest {
	return NewJobRequest().
		WithPriority(100).
		Build()
}

// LowPriorityJobRequest creates a low priority job request.
func LowPriorityJobRequest() *model.CreateJobRequest {
	return NewJobRequest().
		WithPriority(10).
		Build()
}

// ScheduledJobRequest creates a job request scheduled for the future.
func ScheduledJobRequest(scheduledAt time.Time) *model.CreateJobRequest {
	return NewJobRequest().
		WithScheduledAt(scheduledAt).
		Build()
}

// RetryableJobRequest creates a job request with custom retry settings.
func RetryableJobRequest(maxRetries int) *model.CreateJobRequest {
	return NewJobRequest().
		WithMaxRetries(maxRetries).
		Build()
}
