package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/config"
	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// mockReaperRepo is a simple mock implementation for testing. Each operation
// reports its configured count on the first call and zero afterwards, so the
// batch loops terminate.
type mockReaperRepo struct {
	mu sync.Mutex

	failStaleCalls int
	failStaleCount int64
	failStaleError error

	deleteCalls  map[model.JobStatus]int
	deleteCounts map[model.JobStatus]int64
	deleteError  error

	lastDeleteParams map[model.JobStatus]core.DeleteOldJobsParams
}

func (m *mockReaperRepo) FailStalePendingJobs(
	_ context.Context,
	_ time.Duration,
	_ int,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStaleCalls++
	if m.failStaleError != nil {
		return 0, m.failStaleError
	}
	if m.failStaleCalls == 1 {
		return m.failStaleCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldJobs(
	_ context.Context,
	params core.DeleteOldJobsParams,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteCalls == nil {
		m.deleteCalls = make(map[model.JobStatus]int)
	}
	if m.lastDeleteParams == nil {
		m.lastDeleteParams = make(map[model.JobStatus]core.DeleteOldJobsParams)
	}
	m.deleteCalls[params.Status]++
	m.lastDeleteParams[params.Status] = params
	if m.deleteError != nil {
		return 0, m.deleteError
	}
	if m.deleteCalls[params.Status] == 1 {
		return m.deleteCounts[params.Status], nil
	}
	return 0, nil
}

var _ core.ReaperRepository = (*mockReaperRepo)(nil)

func reaperTestConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:        5 * time.Minute,
		PendingMaxAge:   time.Hour,
		CompletedMaxAge: 24 * time.Hour,
		FailedMaxAge:    168 * time.Hour,
		BatchSize:       1000,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: reaperTestConfig(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("missing repo", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: reaperTestConfig()})
		require.Error(t, err)
	})
}

func TestReaperRunCleanup(t *testing.T) {
	t.Run("runs all steps with configured retention", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStaleCount: 3,
			deleteCounts: map[model.JobStatus]int64{
				model.JobStatusCompleted: 10,
				model.JobStatusFailed:    4,
			},
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: reaperTestConfig(),
		})
		require.NoError(t, err)

		require.NoError(t, svc.runCleanup(context.Background()))

		// One productive call plus the terminating zero-count call each.
		assert.Equal(t, 2, repo.failStaleCalls)
		assert.Equal(t, 2, repo.deleteCalls[model.JobStatusCompleted])
		assert.Equal(t, 2, repo.deleteCalls[model.JobStatusFailed])

		assert.Equal(t, 24*time.Hour, repo.lastDeleteParams[model.JobStatusCompleted].MaxAge)
		assert.Equal(t, 168*time.Hour, repo.lastDeleteParams[model.JobStatusFailed].MaxAge)
		assert.Equal(t, 1000, repo.lastDeleteParams[model.JobStatusFailed].BatchSize)
	})

	t.Run("aggregates step errors but runs every step", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStaleError: errors.New("db locked"),
			deleteCounts: map[model.JobStatus]int64{
				model.JobStatusCompleted: 1,
			},
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: reaperTestConfig(),
		})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail stale pending jobs")

		// The delete steps still ran despite the first step failing.
		assert.Equal(t, 2, repo.deleteCalls[model.JobStatusCompleted])
		assert.Equal(t, 1, repo.deleteCalls[model.JobStatusFailed])
	})
}

func TestReaperRunGracefulShutdown(t *testing.T) {
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   &mockReaperRepo{},
		Config: reaperTestConfig(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}

func TestIsContextCancellation(t *testing.T) {
	assert.False(t, isContextCancellation(nil))
	assert.False(t, isContextCancellation(errors.New("boom")))
	assert.True(t, isContextCancellation(context.Canceled))
	assert.True(t, isContextCancellation(context.DeadlineExceeded))
	assert.True(t, isContextCancellation(errors.Join(context.Canceled, context.Canceled)))
}
