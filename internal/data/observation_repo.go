package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// ObservationRepo provides database operations for observations.
type ObservationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewObservationRepo creates a new ObservationRepo instance with the given database connection.
func NewObservationRepo(db *sql.DB) *ObservationRepo {
	return &ObservationRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewObservationRepoWithTimeProvider creates an ObservationRepo with a custom TimeProvider (useful for testing).
func NewObservationRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ObservationRepo {
	return &ObservationRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const observationColumns = `
	id, run_id, rule_id, extracted_raw, extracted_normalized, change_detected,
	change_kind, diff_summary, created_at`

// Create persists an observation for a successful run.
func (r *ObservationRepo) Create(ctx context.Context, req *model.CreateObservationRequest) (*model.Observation, error) {
	if req == nil {
		return nil, errors.New("create observation request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()

	var obs model.Observation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO observations (
				run_id, rule_id, extracted_raw, extracted_normalized,
				change_detected, change_kind, diff_summary, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+observationColumns,
			req.RunID, req.RuleID, req.ExtractedRaw, req.ExtractedNormalized,
			req.ChangeDetected, req.ChangeKind, req.DiffSummary, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		obs, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Observation])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create observation: %w", err)
	}

	return &obs, nil
}

// GetByRun retrieves the observation produced by a run.
func (r *ObservationRepo) GetByRun(ctx context.Context, runID string) (*model.Observation, error) {
	var obs model.Observation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+observationColumns+` FROM observations WHERE run_id = $1`, runID)
		if err != nil {
			return err
		}
		defer rows.Close()
		obs, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Observation])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrObservationNotFound
		}
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}
	return &obs, nil
}

// ListByRule retrieves the most recent observations for a rule.
func (r *ObservationRepo) ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.Observation, error) {
	if limit <= 0 {
		limit = 50
	}

	var observations []model.Observation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+observationColumns+`
			FROM observations
			WHERE rule_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, ruleID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		observations, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Observation])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}

	result := make([]*model.Observation, len(observations))
	for i := range observations {
		result[i] = &observations[i]
	}
	return result, nil
}
