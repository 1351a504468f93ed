package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// workflowAlertRepo records acknowledge/resolve calls over the shared fake.
type workflowAlertRepo struct {
	*fakeAlertRepo
	acks     []core.AcknowledgeAlertParams
	resolves []core.ResolveAlertParams
}

func (r *workflowAlertRepo) Acknowledge(_ context.Context, p core.AcknowledgeAlertParams) (*model.Alert, error) {
	r.acks = append(r.acks, p)
	now := time.Now().UTC()
	return &model.Alert{ID: p.ID, AcknowledgedAt: &now, AcknowledgedBy: &p.AcknowledgedBy}, nil
}

func (r *workflowAlertRepo) Resolve(_ context.Context, p core.ResolveAlertParams) (*model.Alert, error) {
	r.resolves = append(r.resolves, p)
	now := time.Now().UTC()
	return &model.Alert{ID: p.ID, ResolvedAt: &now}, nil
}

var _ core.AlertRepository = (*workflowAlertRepo)(nil)

func newWorkflowAlertService(t *testing.T) (*AlertService, *workflowAlertRepo) {
	t.Helper()
	repo := &workflowAlertRepo{fakeAlertRepo: newFakeAlertRepo()}
	svc, err := NewAlertService(AlertServiceOptions{Repo: repo})
	require.NoError(t, err)
	return svc, repo
}

func TestAlertServiceAcknowledge(t *testing.T) {
	t.Parallel()

	svc, repo := newWorkflowAlertService(t)

	alert, err := svc.Acknowledge(context.Background(), "alert-1", "oncall@example.com")
	require.NoError(t, err)
	require.NotNil(t, alert.AcknowledgedAt)

	require.Len(t, repo.acks, 1)
	assert.Equal(t, "alert-1", repo.acks[0].ID)
	assert.Equal(t, "oncall@example.com", repo.acks[0].AcknowledgedBy)
}

func TestAlertServiceAcknowledgeRequiresActor(t *testing.T) {
	t.Parallel()

	svc, repo := newWorkflowAlertService(t)

	_, err := svc.Acknowledge(context.Background(), "alert-1", "   ")
	require.Error(t, err)
	assert.Empty(t, repo.acks)
}

func TestAlertServiceResolve(t *testing.T) {
	t.Parallel()

	svc, repo := newWorkflowAlertService(t)

	alert, err := svc.Resolve(context.Background(), "alert-1", "oncall@example.com")
	require.NoError(t, err)
	require.NotNil(t, alert.ResolvedAt)

	require.Len(t, repo.resolves, 1)
	assert.Equal(t, "alert-1", repo.resolves[0].ID)
	assert.Equal(t, "oncall@example.com", repo.resolves[0].ResolvedBy)
}

func TestAlertServiceResolveRequiresActor(t *testing.T) {
	t.Parallel()

	svc, repo := newWorkflowAlertService(t)

	_, err := svc.Resolve(context.Background(), "alert-1", "")
	require.Error(t, err)
	assert.Empty(t, repo.resolves)
}

func TestNewAlertServiceRequiresRepo(t *testing.T) {
	t.Parallel()

	_, err := NewAlertService(AlertServiceOptions{})
	require.Error(t, err)
}
