package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// ErrSourceExists is returned when a create collides with an existing source
// on the same canonical URL in the workspace.
var ErrSourceExists = errors.New("source already exists for this url")

// SourceServiceOptions groups dependencies for SourceService.
type SourceServiceOptions struct {
	Repo   core.SourceRepository
	Rules  core.RuleRepository // optional, for cascade on delete
	Logger *slog.Logger
}

// SourceService orchestrates source CRUD. Two URLs that canonicalize to the
// same identity are the same source within a workspace.
type SourceService struct {
	repo   core.SourceRepository
	rules  core.RuleRepository
	logger *slog.Logger
}

// NewSourceService constructs a new SourceService.
func NewSourceService(opts SourceServiceOptions) (*SourceService, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("validate options: %w", errors.New("SourceRepository is required"))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SourceService{
		repo:   opts.Repo,
		rules:  opts.Rules,
		logger: opts.Logger,
	}, nil
}

// Create registers a source, rejecting canonical-URL duplicates up front so
// callers get a typed error instead of a bare constraint violation.
func (s *SourceService) Create(ctx context.Context, req *model.CreateSourceRequest) (*model.Source, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	canonical, _, err := model.CanonicalizeURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize url: %w", err)
	}
	existing, err := s.repo.GetByCanonicalURL(ctx, req.WorkspaceID, canonical)
	if err != nil {
		return nil, fmt.Errorf("check canonical url: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, canonical)
	}

	source, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	s.logger.InfoContext(ctx, "source created",
		"id", source.ID, "workspace_id", source.WorkspaceID, "domain", source.Domain)
	return source, nil
}

// GetByID returns a source by id.
func (s *SourceService) GetByID(ctx context.Context, id string) (*model.Source, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns sources with pagination.
func (s *SourceService) List(ctx context.Context, limit, offset int) ([]*model.Source, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies a partial source update. URL changes re-derive the canonical
// identity at the repository.
func (s *SourceService) Update(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.Source, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	source, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}

	s.logger.InfoContext(ctx, "source updated", "id", source.ID, "domain", source.Domain)
	return source, nil
}

// Delete removes a source and disables its rules so the scheduler stops
// claiming them.
func (s *SourceService) Delete(ctx context.Context, id string) (bool, error) {
	if s.rules != nil {
		if err := s.disableRules(ctx, id); err != nil {
			return false, err
		}
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete source: %w", err)
	}
	if deleted {
		s.logger.InfoContext(ctx, "source deleted", "id", id)
	}
	return deleted, nil
}

func (s *SourceService) disableRules(ctx context.Context, sourceID string) error {
	enabled := true
	rules, err := s.rules.GetBySource(ctx, sourceID, &enabled)
	if err != nil {
		return fmt.Errorf("list rules for source: %w", err)
	}
	off := false
	for _, rule := range rules {
		if _, err := s.rules.Update(ctx, rule.ID, model.UpdateRuleRequest{Enabled: &off}); err != nil {
			return fmt.Errorf("disable rule %s: %w", rule.ID, err)
		}
	}
	return nil
}
