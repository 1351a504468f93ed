package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// AlertServiceOptions groups dependencies for AlertService.
type AlertServiceOptions struct {
	Repo   core.AlertRepository // Required: alert repository
	Logger *slog.Logger         // Optional: structured logger
}

// AlertService provides the workspace-facing alert operations: listing,
// statistics, and the acknowledge/resolve workflow. Alerts are raised by the
// run processor; this service never creates them.
type AlertService struct {
	repo   core.AlertRepository
	logger *slog.Logger
}

// NewAlertService constructs a new AlertService.
func NewAlertService(opts AlertServiceOptions) (*AlertService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AlertRepository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &AlertService{
		repo:   opts.Repo,
		logger: opts.Logger,
	}, nil
}

// GetByID retrieves an alert by its ID.
func (s *AlertService) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert by id: %w", err)
	}
	return alert, nil
}

// List retrieves alerts based on the provided options.
func (s *AlertService) List(ctx context.Context, opts *model.AlertListOptions) ([]*model.Alert, error) {
	alerts, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// Stats returns alert statistics, optionally scoped to a workspace.
func (s *AlertService) Stats(ctx context.Context, workspaceID *string) (*model.AlertStats, error) {
	stats, err := s.repo.Stats(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get alert stats: %w", err)
	}
	return stats, nil
}

// Acknowledge marks an alert as acknowledged by the given actor.
func (s *AlertService) Acknowledge(ctx context.Context, id, acknowledgedBy string) (*model.Alert, error) {
	if strings.TrimSpace(acknowledgedBy) == "" {
		return nil, errors.New("acknowledged_by is required")
	}

	alert, err := s.repo.Acknowledge(ctx, core.AcknowledgeAlertParams{
		ID:             id,
		AcknowledgedBy: acknowledgedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}

	s.logger.InfoContext(ctx, "alert acknowledged", "id", id, "by", acknowledgedBy)
	return alert, nil
}

// Resolve marks an alert as resolved.
func (s *AlertService) Resolve(ctx context.Context, id, resolvedBy string) (*model.Alert, error) {
	if strings.TrimSpace(resolvedBy) == "" {
		return nil, errors.New("resolved_by is required")
	}

	alert, err := s.repo.Resolve(ctx, core.ResolveAlertParams{
		ID:         id,
		ResolvedBy: resolvedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}

	s.logger.InfoContext(ctx, "alert resolved", "id", id, "by", resolvedBy)
	return alert, nil
}
