package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

func dueRule(id, sourceID string, intervalSeconds int) *model.Rule {
	return &model.Rule{
		ID:       id,
		SourceID: sourceID,
		Enabled:  true,
		Schedule: model.Schedule{IntervalSeconds: intervalSeconds, JitterSeconds: 30},
	}
}

type schedulerHarness struct {
	rules     *fakeRuleRepo
	jobs      *fakeJobRepo
	scheduler *SchedulerService
	now       time.Time
}

func newSchedulerHarness(t *testing.T, cfg *SchedulerConfig) *schedulerHarness {
	t.Helper()

	h := &schedulerHarness{
		rules: newFakeRuleRepo(),
		jobs:  newFakeJobRepo(),
		now:   time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
	h.scheduler = NewSchedulerService(SchedulerServiceOptions{
		Rules: h.rules,
		Sources: newFakeSourceRepo(
			&model.Source{ID: "src-1", WorkspaceID: "ws-1", Domain: "shop.example"},
			&model.Source{ID: "src-2", WorkspaceID: "ws-1", Domain: "shop.example"},
			&model.Source{ID: "src-3", WorkspaceID: "ws-1", Domain: "other.example"},
		),
		Jobs:         h.jobs,
		Config:       cfg,
		TimeProvider: data.NewFixedTimeProvider(h.now),
		// Pin jitter at half its range for deterministic next-run assertions.
		Jitter: func(max time.Duration) time.Duration { return max / 2 },
	})
	return h
}

func TestSchedulerTickEnqueuesDueRules(t *testing.T) {
	t.Parallel()

	h := newSchedulerHarness(t, nil)
	h.rules.due = []*model.Rule{dueRule("rule-1", "src-1", 3600)}

	n, err := h.scheduler.Tick(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs := h.jobs.byType(model.JobTypeRun)
	require.Len(t, jobs, 1)

	var payload model.RunJobPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, "rule-1", payload.RuleID)
	assert.Equal(t, model.TriggerSchedule, payload.Trigger)

	// next_run_at = now + 3600s interval + 15s pinned jitter.
	require.Len(t, h.rules.nextRunUpdates, 1)
	assert.Equal(t, h.now.Add(3600*time.Second+15*time.Second), h.rules.nextRunUpdates[0].NextRunAt)
}

func TestSchedulerTickEmptyBatch(t *testing.T) {
	t.Parallel()

	h := newSchedulerHarness(t, nil)
	n, err := h.scheduler.Tick(context.Background(), h.now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.jobs.byType(model.JobTypeRun))
}

func TestSchedulerTickPacesSameDomain(t *testing.T) {
	t.Parallel()

	h := newSchedulerHarness(t, nil)
	h.rules.due = []*model.Rule{
		dueRule("rule-1", "src-1", 3600),
		dueRule("rule-2", "src-2", 3600),
		dueRule("rule-3", "src-3", 3600),
	}

	n, err := h.scheduler.Tick(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	jobs := h.jobs.byType(model.JobTypeRun)
	require.Len(t, jobs, 3)

	// First job per domain fires immediately; the second shop.example rule is
	// pushed out by the pacing interval.
	assert.Nil(t, jobs[0].ScheduledAt)
	require.NotNil(t, jobs[1].ScheduledAt)
	assert.Equal(t, h.now.Add(100*time.Millisecond), *jobs[1].ScheduledAt)
	assert.Nil(t, jobs[2].ScheduledAt)
}

func TestSchedulerTickHonorsBatchSize(t *testing.T) {
	t.Parallel()

	h := newSchedulerHarness(t, &SchedulerConfig{BatchSize: 2})
	h.rules.due = []*model.Rule{
		dueRule("rule-1", "src-1", 3600),
		dueRule("rule-2", "src-3", 3600),
		dueRule("rule-3", "src-3", 3600),
	}

	n, err := h.scheduler.Tick(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The remainder is picked up by the next tick.
	n, err = h.scheduler.Tick(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSchedulerTickReschedulesOnEnqueueFailure(t *testing.T) {
	t.Parallel()

	h := newSchedulerHarness(t, nil)
	h.rules.due = []*model.Rule{dueRule("rule-1", "src-1", 3600)}
	h.jobs.createErr = errors.New("queue unavailable")

	n, err := h.scheduler.Tick(context.Background(), h.now)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, h.rules.nextRunUpdates, 1)
	assert.Equal(t, h.now.Add(60*time.Second), h.rules.nextRunUpdates[0].NextRunAt)
}

func TestSchedulerTickDuplicateEnqueueIsBenign(t *testing.T) {
	t.Parallel()

	h := newSchedulerHarness(t, nil)
	h.rules.due = []*model.Rule{dueRule("rule-1", "src-1", 3600)}
	// A concurrent replica already inserted this rule's run job.
	h.jobs.createErr = &pgconn.PgError{Code: pgerrcode.UniqueViolation}

	n, err := h.scheduler.Tick(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The rule advances on its normal cadence, not the enqueue-retry delay.
	require.Len(t, h.rules.nextRunUpdates, 1)
	assert.Equal(t, h.now.Add(3600*time.Second+15*time.Second), h.rules.nextRunUpdates[0].NextRunAt)
}

func TestSchedulerTickClaimError(t *testing.T) {
	t.Parallel()

	h := newSchedulerHarness(t, nil)
	h.rules.claimErr = errors.New("db down")

	_, err := h.scheduler.Tick(context.Background(), h.now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim due rules")
}
