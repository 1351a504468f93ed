package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/driftwatch/driftwatch/internal/errors"

	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// ErrWorkspaceNameExists is returned when creating a workspace with a name that already exists.
var ErrWorkspaceNameExists = errors.New("workspace name already exists")

// WorkspaceRepo provides database operations for workspace management.
type WorkspaceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewWorkspaceRepo creates a new WorkspaceRepo instance with the given database connection.
func NewWorkspaceRepo(db *sql.DB) *WorkspaceRepo {
	return &WorkspaceRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewWorkspaceRepoWithTimeProvider creates a WorkspaceRepo with a custom TimeProvider (useful for testing).
func NewWorkspaceRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *WorkspaceRepo {
	return &WorkspaceRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const workspaceColumns = `id, name, timezone, daily_budget_usd, created_at, updated_at`

// Create creates a new workspace.
func (r *WorkspaceRepo) Create(ctx context.Context, req *model.CreateWorkspaceRequest) (*model.Workspace, error) {
	if req == nil {
		return nil, errors.New("create workspace request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()

	var ws model.Workspace
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO workspaces (name, timezone, daily_budget_usd, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING `+workspaceColumns,
			req.Name, req.Timezone, req.DailyBudgetUSD, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		ws, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Workspace])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", mapWorkspaceWriteErr(err, false))
	}

	return &ws, nil
}

// GetByID retrieves a workspace by its ID.
func (r *WorkspaceRepo) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		ws, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Workspace])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

// List retrieves workspaces with pagination.
func (r *WorkspaceRepo) List(ctx context.Context, limit, offset int) ([]*model.Workspace, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var workspaces []model.Workspace
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+workspaceColumns+`
			FROM workspaces
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		workspaces, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Workspace])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	result := make([]*model.Workspace, len(workspaces))
	for i := range workspaces {
		result[i] = &workspaces[i]
	}
	return result, nil
}

// Update applies a partial workspace update and returns the updated row.
func (r *WorkspaceRepo) Update(ctx context.Context, id string, req model.UpdateWorkspaceRequest) (*model.Workspace, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setParts := make([]string, 0, 4)
	args := make([]any, 0, 5)
	argIdx := 1
	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, strings.TrimSpace(*req.Name))
		argIdx++
	}
	if req.Timezone != nil {
		setParts = append(setParts, fmt.Sprintf("timezone = $%d", argIdx))
		args = append(args, *req.Timezone)
		argIdx++
	}
	if req.DailyBudgetUSD != nil {
		setParts = append(setParts, fmt.Sprintf("daily_budget_usd = $%d", argIdx))
		args = append(args, *req.DailyBudgetUSD)
		argIdx++
	}
	if len(setParts) == 0 {
		return r.GetByID(ctx, id)
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", argIdx))
	args = append(args, r.timeProvider.Now().UTC())
	argIdx++
	args = append(args, id)

	query := "UPDATE workspaces SET " + strings.Join(setParts, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", argIdx) + workspaceColumns

	var ws model.Workspace
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		ws, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Workspace])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update workspace: %w", mapWorkspaceWriteErr(err, true))
	}
	return &ws, nil
}

// Delete deletes a workspace by its ID.
func (r *WorkspaceRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete workspace: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func mapWorkspaceWriteErr(err error, includeNotFound bool) error {
	if err == nil {
		return nil
	}
	if includeNotFound && errors.Is(err, pgx.ErrNoRows) {
		return ErrWorkspaceNotFound
	}
	mapped := apperrors.MapDBError(err)
	if apperrors.IsConflict(mapped) {
		return ErrWorkspaceNameExists
	}
	return mapped
}
