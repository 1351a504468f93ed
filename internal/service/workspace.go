package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data/cryptoutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// WorkspaceServiceOptions groups dependencies for WorkspaceService.
type WorkspaceServiceOptions struct {
	Repo     core.WorkspaceRepository // Required: workspace repository
	Channels core.ChannelRepository   // Optional: channel management
	Sources  core.SourceRepository    // Optional: health summary
	Rules    core.RuleRepository      // Optional: health summary
	Crypto   cryptoutil.Encryptor     // Optional: channel config encryption
	Logger   *slog.Logger
}

// WorkspaceService provides workspace CRUD, channel management with encrypted
// transport configs, and the rule health summary.
type WorkspaceService struct {
	repo     core.WorkspaceRepository
	channels core.ChannelRepository
	sources  core.SourceRepository
	rules    core.RuleRepository
	crypto   cryptoutil.Encryptor
	logger   *slog.Logger
}

// NewWorkspaceService constructs a new WorkspaceService.
func NewWorkspaceService(opts WorkspaceServiceOptions) (*WorkspaceService, error) {
	if opts.Repo == nil {
		return nil, errors.New("WorkspaceRepository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Crypto == nil {
		opts.Crypto = cryptoutil.NoopEncryptor{}
	}

	return &WorkspaceService{
		repo:     opts.Repo,
		channels: opts.Channels,
		sources:  opts.Sources,
		rules:    opts.Rules,
		crypto:   opts.Crypto,
		logger:   opts.Logger,
	}, nil
}

// Create creates a new workspace with the given request parameters.
func (s *WorkspaceService) Create(ctx context.Context, req *model.CreateWorkspaceRequest) (*model.Workspace, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	ws, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	s.logger.InfoContext(ctx, "workspace created", "id", ws.ID, "name", ws.Name)
	return ws, nil
}

// GetByID returns a workspace by id.
func (s *WorkspaceService) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns workspaces with pagination.
func (s *WorkspaceService) List(ctx context.Context, limit, offset int) ([]*model.Workspace, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies a partial workspace update.
func (s *WorkspaceService) Update(ctx context.Context, id string, req model.UpdateWorkspaceRequest) (*model.Workspace, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	ws, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update workspace: %w", err)
	}

	s.logger.InfoContext(ctx, "workspace updated", "id", ws.ID)
	return ws, nil
}

// Delete removes a workspace by id.
func (s *WorkspaceService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete workspace: %w", err)
	}
	if deleted {
		s.logger.InfoContext(ctx, "workspace deleted", "id", id)
	}
	return deleted, nil
}

// CreateChannelParams carries a plaintext channel config; the service encrypts
// it before it reaches the repository.
type CreateChannelParams struct {
	WorkspaceID string
	Kind        model.ChannelKind
	Name        string
	Config      json.RawMessage
	Enabled     bool
}

// CreateChannel registers a notification channel, encrypting its transport
// config at rest.
func (s *WorkspaceService) CreateChannel(ctx context.Context, p CreateChannelParams) (*model.Channel, error) {
	if s.channels == nil {
		return nil, errors.New("channel repository not configured")
	}
	if len(p.Config) == 0 {
		return nil, errors.New("channel config is required")
	}

	ciphertext, err := s.crypto.Encrypt(p.Config)
	if err != nil {
		return nil, fmt.Errorf("encrypt channel config: %w", err)
	}

	req := &model.CreateChannelRequest{
		WorkspaceID:     p.WorkspaceID,
		Kind:            p.Kind,
		Name:            p.Name,
		EncryptedConfig: ciphertext,
		Enabled:         p.Enabled,
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	ch, err := s.channels.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	s.logger.InfoContext(ctx, "channel created",
		"id", ch.ID, "workspace_id", ch.WorkspaceID, "kind", ch.Kind)
	return ch, nil
}

// ListChannels returns the channels of a workspace, configs still encrypted.
func (s *WorkspaceService) ListChannels(ctx context.Context, workspaceID string) ([]*model.Channel, error) {
	if s.channels == nil {
		return nil, errors.New("channel repository not configured")
	}
	return s.channels.ListByWorkspace(ctx, workspaceID)
}

// DecryptChannelConfig returns the plaintext transport config of a channel.
func (s *WorkspaceService) DecryptChannelConfig(_ context.Context, ch *model.Channel) (json.RawMessage, error) {
	if ch == nil {
		return nil, errors.New("channel is nil")
	}
	raw, err := s.crypto.Decrypt(ch.EncryptedConfig)
	if err != nil {
		return nil, fmt.Errorf("decrypt channel config: %w", err)
	}
	return raw, nil
}

// DeleteChannel removes a channel by id.
func (s *WorkspaceService) DeleteChannel(ctx context.Context, id string) (bool, error) {
	if s.channels == nil {
		return false, errors.New("channel repository not configured")
	}
	deleted, err := s.channels.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete channel: %w", err)
	}
	if deleted {
		s.logger.InfoContext(ctx, "channel deleted", "id", id)
	}
	return deleted, nil
}

// WorkspaceHealthSummary buckets the workspace's rules by health score.
type WorkspaceHealthSummary struct {
	WorkspaceID string `json:"workspace_id"`
	Healthy     int    `json:"healthy"`
	Warning     int    `json:"warning"`
	Critical    int    `json:"critical"`
	Total       int    `json:"total"`
}

const healthSummaryPageSize = 200

// HealthSummary walks the workspace's sources and buckets their rules into
// healthy (>=80), warning (50-79), and critical (<50).
func (s *WorkspaceService) HealthSummary(ctx context.Context, workspaceID string) (*WorkspaceHealthSummary, error) {
	if s.sources == nil || s.rules == nil {
		return nil, errors.New("source and rule repositories required for health summary")
	}

	summary := &WorkspaceHealthSummary{WorkspaceID: workspaceID}
	for offset := 0; ; offset += healthSummaryPageSize {
		sources, err := s.sources.List(ctx, healthSummaryPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		for _, src := range sources {
			if src.WorkspaceID != workspaceID {
				continue
			}
			rules, err := s.rules.GetBySource(ctx, src.ID, nil)
			if err != nil {
				return nil, fmt.Errorf("rules for source %s: %w", src.ID, err)
			}
			for _, rule := range rules {
				summary.Total++
				switch ruleHealthSummary(rule.HealthScore) {
				case "healthy":
					summary.Healthy++
				case "warning":
					summary.Warning++
				default:
					summary.Critical++
				}
			}
		}
		if len(sources) < healthSummaryPageSize {
			break
		}
	}

	return summary, nil
}
