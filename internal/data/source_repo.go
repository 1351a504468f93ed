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

// ErrSourceURLExists is returned when a source with the same canonical URL
// already exists in the workspace.
var ErrSourceURLExists = errors.New("source url already exists in workspace")

// SourceRepo provides database operations for source management. The canonical
// URL and domain are derived on every write so uniqueness holds regardless of
// tracking parameters or trailing slashes in the submitted URL.
type SourceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSourceRepo creates a new SourceRepo instance with the given database connection.
func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewSourceRepoWithTimeProvider creates a SourceRepo with a custom TimeProvider (useful for testing).
func NewSourceRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *SourceRepo {
	return &SourceRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const sourceColumns = `id, workspace_id, url, canonical_url, domain, fetch_profile_id, tags, created_at, updated_at`

// Create registers a source. The canonical URL is derived here; duplicate
// canonical URLs within a workspace are rejected.
func (r *SourceRepo) Create(ctx context.Context, req *model.CreateSourceRequest) (*model.Source, error) {
	if req == nil {
		return nil, errors.New("create source request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	canonical, domain, err := model.CanonicalizeURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize url: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	var src model.Source
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO sources (workspace_id, url, canonical_url, domain, fetch_profile_id, tags, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING `+sourceColumns,
			req.WorkspaceID, req.URL, canonical, domain, req.FetchProfileID, tags, now)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		src, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Source])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", mapSourceWriteErr(err, false))
	}

	return &src, nil
}

// GetByID retrieves a source by its ID.
func (r *SourceRepo) GetByID(ctx context.Context, id string) (*model.Source, error) {
	return r.getSourceByQuery(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`,
		"failed to get source by ID", id)
}

// GetByCanonicalURL retrieves a source by its workspace and canonical URL. The
// given URL is canonicalized before lookup so callers can pass raw URLs.
func (r *SourceRepo) GetByCanonicalURL(ctx context.Context, workspaceID, canonicalURL string) (*model.Source, error) {
	canonical, _, err := model.CanonicalizeURL(canonicalURL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize url: %w", err)
	}
	return r.getSourceByQuery(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE workspace_id = $1 AND canonical_url = $2`,
		"failed to get source by canonical url", workspaceID, canonical)
}

// getSourceByQuery is a helper function to execute a query and return a single source.
// Uses variadic args to avoid slice allocation at call sites.
func (r *SourceRepo) getSourceByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) (*model.Source, error) {
	var source model.Source
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		source, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Source])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return &source, nil
}

// List retrieves sources with pagination.
func (r *SourceRepo) List(ctx context.Context, limit, offset int) ([]*model.Source, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var sources []model.Source
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+sourceColumns+`
			FROM sources
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		sources, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Source])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	result := make([]*model.Source, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

// Update applies a partial source update. A URL change re-derives the
// canonical URL and domain.
func (r *SourceRepo) Update(ctx context.Context, id string, req model.UpdateSourceRequest) (*model.Source, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setParts := make([]string, 0, 5)
	args := make([]any, 0, 6)
	argIdx := 1
	appendSet := func(column string, value any) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.URL != nil {
		rawURL := strings.TrimSpace(*req.URL)
		canonical, domain, err := model.CanonicalizeURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("canonicalize url: %w", err)
		}
		appendSet("url", rawURL)
		appendSet("canonical_url", canonical)
		appendSet("domain", domain)
	}
	if req.FetchProfileID != nil {
		appendSet("fetch_profile_id", *req.FetchProfileID)
	}
	if req.Tags != nil {
		appendSet("tags", *req.Tags)
	}
	if len(setParts) == 0 {
		return r.GetByID(ctx, id)
	}

	appendSet("updated_at", r.timeProvider.Now().UTC())
	args = append(args, id)

	query := "UPDATE sources SET " + strings.Join(setParts, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", argIdx) + sourceColumns

	var src model.Source
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		src, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Source])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update source: %w", mapSourceWriteErr(err, true))
	}
	return &src, nil
}

// Delete deletes a source by its ID.
func (r *SourceRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete source: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func mapSourceWriteErr(err error, includeNotFound bool) error {
	if err == nil {
		return nil
	}
	if includeNotFound && errors.Is(err, pgx.ErrNoRows) {
		return ErrSourceNotFound
	}
	mapped := apperrors.MapDBError(err)
	if apperrors.IsConflict(mapped) {
		return ErrSourceURLExists
	}
	return mapped
}
