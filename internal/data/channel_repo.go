package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/driftwatch/driftwatch/internal/errors"

	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// ErrChannelNameExists is returned when creating a channel with a name already used in the workspace.
var ErrChannelNameExists = errors.New("channel name already exists in workspace")

// ChannelRepo provides database operations for notification channels. Configs
// are stored as ciphertext only.
type ChannelRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewChannelRepo creates a new ChannelRepo instance with the given database connection.
func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewChannelRepoWithTimeProvider creates a ChannelRepo with a custom TimeProvider (useful for testing).
func NewChannelRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ChannelRepo {
	return &ChannelRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const channelColumns = `id, workspace_id, kind, name, encrypted_config, enabled, created_at, updated_at`

// Create registers a notification channel.
func (r *ChannelRepo) Create(ctx context.Context, req *model.CreateChannelRequest) (*model.Channel, error) {
	if req == nil {
		return nil, errors.New("create channel request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()

	var ch model.Channel
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO channels (workspace_id, kind, name, encrypted_config, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING `+channelColumns,
			req.WorkspaceID, req.Kind, req.Name, req.EncryptedConfig, req.Enabled, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		ch, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Channel])
		return err
	})
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsConflict(mapped) {
			return nil, ErrChannelNameExists
		}
		return nil, fmt.Errorf("failed to create channel: %w", mapped)
	}

	return &ch, nil
}

// GetByID retrieves a channel by its ID.
func (r *ChannelRepo) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	var ch model.Channel
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		ch, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Channel])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &ch, nil
}

// ListByWorkspace retrieves all channels belonging to a workspace.
func (r *ChannelRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.Channel, error) {
	var channels []model.Channel
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+channelColumns+`
			FROM channels
			WHERE workspace_id = $1
			ORDER BY name ASC`, workspaceID)
		if err != nil {
			return err
		}
		defer rows.Close()
		channels, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Channel])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	result := make([]*model.Channel, len(channels))
	for i := range channels {
		result[i] = &channels[i]
	}
	return result, nil
}

// Delete deletes a channel by its ID.
func (r *ChannelRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete channel: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
