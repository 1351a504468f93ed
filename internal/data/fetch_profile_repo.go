package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// FetchProfileRepo provides database operations for fetch profile management.
type FetchProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewFetchProfileRepo creates a new FetchProfileRepo instance with the given database connection.
func NewFetchProfileRepo(db *sql.DB) *FetchProfileRepo {
	return &FetchProfileRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewFetchProfileRepoWithTimeProvider creates a FetchProfileRepo with a custom TimeProvider (useful for testing).
func NewFetchProfileRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *FetchProfileRepo {
	return &FetchProfileRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const fetchProfileColumns = `
	id, workspace_id, mode, user_agent, cookies, headers, render_wait_ms,
	preferred_provider, disabled_providers, stop_after_preferred_failure,
	flaresolverr_wait_seconds, geo_country, domain_tier, screenshot_on_change,
	tier_policy_overrides, created_at, updated_at`

// Create creates a new fetch profile.
func (r *FetchProfileRepo) Create(ctx context.Context, req *model.CreateFetchProfileRequest) (*model.FetchProfile, error) {
	if req == nil {
		return nil, errors.New("create fetch profile request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	headers := req.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	disabled := req.DisabledProviders
	if disabled == nil {
		disabled = []model.ProviderKind{}
	}

	var fp model.FetchProfile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO fetch_profiles (
				workspace_id, mode, user_agent, cookies, headers, render_wait_ms,
				preferred_provider, disabled_providers, stop_after_preferred_failure,
				flaresolverr_wait_seconds, geo_country, domain_tier,
				screenshot_on_change, tier_policy_overrides, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
			RETURNING `+fetchProfileColumns,
			req.WorkspaceID, req.Mode, req.UserAgent, req.Cookies, headers,
			req.RenderWaitMs, req.PreferredProvider, disabled,
			req.StopAfterPreferredFailure, req.FlareSolverrWaitSeconds,
			req.GeoCountry, req.DomainTier, req.ScreenshotOnChange,
			req.TierPolicyOverrides, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		fp, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.FetchProfile])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch profile: %w", err)
	}

	return &fp, nil
}

// GetByID retrieves a fetch profile by its ID.
func (r *FetchProfileRepo) GetByID(ctx context.Context, id string) (*model.FetchProfile, error) {
	var fp model.FetchProfile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+fetchProfileColumns+` FROM fetch_profiles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		fp, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.FetchProfile])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFetchProfileNotFound
		}
		return nil, fmt.Errorf("failed to get fetch profile: %w", err)
	}
	return &fp, nil
}

// List retrieves fetch profiles with pagination.
func (r *FetchProfileRepo) List(ctx context.Context, limit, offset int) ([]*model.FetchProfile, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var profiles []model.FetchProfile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+fetchProfileColumns+`
			FROM fetch_profiles
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		profiles, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.FetchProfile])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list fetch profiles: %w", err)
	}

	result := make([]*model.FetchProfile, len(profiles))
	for i := range profiles {
		result[i] = &profiles[i]
	}
	return result, nil
}

// Update applies a partial fetch profile update and returns the updated row.
func (r *FetchProfileRepo) Update(ctx context.Context, id string, req model.UpdateFetchProfileRequest) (*model.FetchProfile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setParts := make([]string, 0, 13)
	args := make([]any, 0, 14)
	argIdx := 1
	appendSet := func(column string, value any) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.Mode != nil {
		appendSet("mode", *req.Mode)
	}
	if req.UserAgent != nil {
		appendSet("user_agent", *req.UserAgent)
	}
	if req.Cookies != nil {
		appendSet("cookies", *req.Cookies)
	}
	if req.Headers != nil {
		appendSet("headers", *req.Headers)
	}
	if req.RenderWaitMs != nil {
		appendSet("render_wait_ms", *req.RenderWaitMs)
	}
	if req.PreferredProvider != nil {
		appendSet("preferred_provider", *req.PreferredProvider)
	}
	if req.DisabledProviders != nil {
		appendSet("disabled_providers", *req.DisabledProviders)
	}
	if req.StopAfterPreferredFailure != nil {
		appendSet("stop_after_preferred_failure", *req.StopAfterPreferredFailure)
	}
	if req.FlareSolverrWaitSeconds != nil {
		appendSet("flaresolverr_wait_seconds", *req.FlareSolverrWaitSeconds)
	}
	if req.GeoCountry != nil {
		appendSet("geo_country", *req.GeoCountry)
	}
	if req.DomainTier != nil {
		appendSet("domain_tier", *req.DomainTier)
	}
	if req.ScreenshotOnChange != nil {
		appendSet("screenshot_on_change", *req.ScreenshotOnChange)
	}
	if req.TierPolicyOverrides != nil {
		appendSet("tier_policy_overrides", req.TierPolicyOverrides)
	}
	if len(setParts) == 0 {
		return r.GetByID(ctx, id)
	}

	appendSet("updated_at", r.timeProvider.Now().UTC())
	args = append(args, id)

	query := "UPDATE fetch_profiles SET " + strings.Join(setParts, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", argIdx) + fetchProfileColumns

	var fp model.FetchProfile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		fp, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.FetchProfile])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFetchProfileNotFound
		}
		return nil, fmt.Errorf("failed to update fetch profile: %w", err)
	}
	return &fp, nil
}

// Delete deletes a fetch profile by its ID.
func (r *FetchProfileRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM fetch_profiles WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete fetch profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
