package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// RunRepo provides database operations for run records. Runs are opened before
// fetching and closed exactly once by Finish.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRunRepo creates a new RunRepo instance with the given database connection.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewRunRepoWithTimeProvider creates a RunRepo with a custom TimeProvider (useful for testing).
func NewRunRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *RunRepo {
	return &RunRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const runColumns = `
	id, rule_id, started_at, finished_at, fetch_mode_used, http_status,
	error_code, error_detail, block_detected, content_hash, screenshot_path,
	raw_sample`

// Create opens a run record.
func (r *RunRepo) Create(ctx context.Context, req *model.CreateRunRequest) (*model.Run, error) {
	if req == nil {
		return nil, errors.New("create run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var run model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO runs (rule_id, started_at, fetch_mode_used)
			VALUES ($1, $2, $3)
			RETURNING `+runColumns,
			req.RuleID, req.StartedAt.UTC(), req.FetchModeUsed)
		if err != nil {
			return err
		}
		defer rows.Close()
		run, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Run])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		run, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Run])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// Finish closes a run record. Only unfinished runs are updated; finishing an
// already-finished run returns ErrRunNotFound.
func (r *RunRepo) Finish(ctx context.Context, p model.FinishRunParams) (*model.Run, error) {
	if p.RunID == "" {
		return nil, errors.New("run_id is required")
	}
	finishedAt := p.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = r.timeProvider.Now()
	}

	var run model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE runs
			SET finished_at = $2,
			    fetch_mode_used = $3,
			    http_status = $4,
			    error_code = $5,
			    error_detail = $6,
			    block_detected = $7,
			    content_hash = $8,
			    screenshot_path = $9,
			    raw_sample = $10
			WHERE id = $1 AND finished_at IS NULL
			RETURNING `+runColumns,
			p.RunID, finishedAt.UTC(), p.FetchModeUsed, p.HTTPStatus,
			p.ErrorCode, p.ErrorDetail, p.BlockDetected, p.ContentHash,
			p.ScreenshotPath, p.RawSample)
		if err != nil {
			return err
		}
		defer rows.Close()
		run, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Run])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	return &run, nil
}

// ListByRule retrieves the most recent runs for a rule.
func (r *RunRepo) ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+runColumns+`
			FROM runs
			WHERE rule_id = $1
			ORDER BY started_at DESC, id DESC
			LIMIT $2`, ruleID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		runs, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Run])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*model.Run, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// ClearOldRawSamples nulls raw_sample on runs older than cutoff, up to
// batchSize rows per call. Returns rows updated. The id IN (...) shape keeps
// each statement's lock footprint bounded.
func (r *RunRepo) ClearOldRawSamples(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE runs
		SET raw_sample = NULL
		WHERE id IN (
			SELECT id FROM runs
			WHERE raw_sample IS NOT NULL
			  AND started_at < $1
			ORDER BY started_at
			LIMIT $2
		)
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear old raw samples: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected, nil
}
