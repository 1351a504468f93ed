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

// FetchAttemptRepo provides database operations for the append-only provider
// attempt ledger. Budget checks aggregate it by UTC day; maintenance prunes it
// after the retention window.
type FetchAttemptRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewFetchAttemptRepo creates a new FetchAttemptRepo instance with the given database connection.
func NewFetchAttemptRepo(db *sql.DB) *FetchAttemptRepo {
	return &FetchAttemptRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewFetchAttemptRepoWithTimeProvider creates a FetchAttemptRepo with a custom TimeProvider (useful for testing).
func NewFetchAttemptRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *FetchAttemptRepo {
	return &FetchAttemptRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const fetchAttemptColumns = `
	id, workspace_id, rule_id, hostname, provider, outcome, http_status,
	body_bytes, cost_usd, latency_ms, created_at`

// Create appends one ledger row.
func (r *FetchAttemptRepo) Create(ctx context.Context, req *model.CreateFetchAttemptRequest) (*model.FetchAttempt, error) {
	if req == nil {
		return nil, errors.New("create fetch attempt request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()

	var attempt model.FetchAttempt
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO fetch_attempts (
				workspace_id, rule_id, hostname, provider, outcome, http_status,
				body_bytes, cost_usd, latency_ms, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+fetchAttemptColumns,
			req.WorkspaceID, req.RuleID, req.Hostname, req.Provider,
			req.Outcome, req.HTTPStatus, req.BodyBytes, req.CostUSD,
			req.LatencyMs, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		attempt, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.FetchAttempt])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch attempt: %w", err)
	}

	return &attempt, nil
}

// DailySpend aggregates paid spend for the UTC day of q.Day across the
// workspace, hostname, and rule scopes in one query. Attempts with zero cost
// contribute nothing, so free-provider rows are effectively ignored.
func (r *FetchAttemptRepo) DailySpend(ctx context.Context, q model.SpendQuery) (*model.DailySpend, error) {
	if q.WorkspaceID == "" {
		return nil, errors.New("workspace_id is required")
	}

	day := q.Day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var spend model.DailySpend
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE(sum(cost_usd), 0) AS workspace_usd,
			COALESCE(sum(cost_usd) FILTER (WHERE hostname = $2), 0) AS domain_usd,
			COALESCE(sum(cost_usd) FILTER (WHERE rule_id = NULLIF($3, '')::uuid), 0) AS rule_usd
		FROM fetch_attempts
		WHERE workspace_id = $1
		  AND created_at >= $4
		  AND created_at < $5
	`, q.WorkspaceID, q.Hostname, q.RuleID, dayStart, dayEnd).Scan(
		&spend.WorkspaceUSD, &spend.DomainUSD, &spend.RuleUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily spend: %w", err)
	}
	return &spend, nil
}

// ListByRule retrieves the most recent attempts for a rule.
func (r *FetchAttemptRepo) ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.FetchAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	var attempts []model.FetchAttempt
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+fetchAttemptColumns+`
			FROM fetch_attempts
			WHERE rule_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, ruleID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		attempts, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.FetchAttempt])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list fetch attempts: %w", err)
	}

	result := make([]*model.FetchAttempt, len(attempts))
	for i := range attempts {
		result[i] = &attempts[i]
	}
	return result, nil
}

// DeleteOlderThan prunes ledger rows older than cutoff, up to batchSize rows
// per call. Returns rows deleted.
func (r *FetchAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM fetch_attempts
		WHERE id IN (
			SELECT id FROM fetch_attempts
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old fetch attempts: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected, nil
}
