package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// FetchProfileServiceOptions groups dependencies for FetchProfileService.
type FetchProfileServiceOptions struct {
	Repo   core.FetchProfileRepository // Required: fetch profile repository
	Logger *slog.Logger
}

// FetchProfileService provides CRUD for fetch profiles. Profiles shape the
// provider ladder (preferred/disabled providers, tier, geo) for every source
// that references them.
type FetchProfileService struct {
	repo   core.FetchProfileRepository
	logger *slog.Logger
}

// NewFetchProfileService constructs a new FetchProfileService.
func NewFetchProfileService(opts FetchProfileServiceOptions) (*FetchProfileService, error) {
	if opts.Repo == nil {
		return nil, errors.New("FetchProfileRepository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &FetchProfileService{
		repo:   opts.Repo,
		logger: opts.Logger,
	}, nil
}

// Create creates a new fetch profile with the given request parameters.
func (s *FetchProfileService) Create(ctx context.Context, req *model.CreateFetchProfileRequest) (*model.FetchProfile, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	profile, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create fetch profile: %w", err)
	}

	s.logger.InfoContext(ctx, "fetch profile created",
		"id", profile.ID, "mode", profile.Mode, "tier", profile.DomainTier)
	return profile, nil
}

// GetByID returns a fetch profile by id.
func (s *FetchProfileService) GetByID(ctx context.Context, id string) (*model.FetchProfile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns fetch profiles with pagination.
func (s *FetchProfileService) List(ctx context.Context, limit, offset int) ([]*model.FetchProfile, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies a partial fetch profile update.
func (s *FetchProfileService) Update(ctx context.Context, id string, req model.UpdateFetchProfileRequest) (*model.FetchProfile, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	profile, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update fetch profile: %w", err)
	}

	s.logger.InfoContext(ctx, "fetch profile updated", "id", profile.ID)
	return profile, nil
}

// Delete removes a fetch profile by id.
func (s *FetchProfileService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete fetch profile: %w", err)
	}
	if deleted {
		s.logger.InfoContext(ctx, "fetch profile deleted", "id", id)
	}
	return deleted, nil
}
