package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// RuleStateRepo provides database operations for anti-flap rule state. All
// writes go through a version check so concurrent runs of the same rule cannot
// clobber each other's confirmation counters.
type RuleStateRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRuleStateRepo creates a new RuleStateRepo instance with the given database connection.
func NewRuleStateRepo(db *sql.DB) *RuleStateRepo {
	return &RuleStateRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewRuleStateRepoWithTimeProvider creates a RuleStateRepo with a custom TimeProvider (useful for testing).
func NewRuleStateRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *RuleStateRepo {
	return &RuleStateRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const ruleStateColumns = `rule_id, last_stable, candidate, candidate_count, version, updated_at`

// Get returns the state for a rule. When no row exists yet it returns a zero
// state with Version 0 so the first Save inserts it.
func (r *RuleStateRepo) Get(ctx context.Context, ruleID string) (*model.RuleState, error) {
	var state model.RuleState
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+ruleStateColumns+` FROM rule_states WHERE rule_id = $1`, ruleID)
		if err != nil {
			return err
		}
		defer rows.Close()
		state, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.RuleState])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.RuleState{RuleID: ruleID, Version: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule state: %w", err)
	}
	return &state, nil
}

// Save writes the state under optimistic concurrency. The write succeeds only
// when the stored version still equals ExpectedVersion; Version 0 means the
// row does not exist yet and is inserted. Returns false when the version check
// failed and the caller should re-read and retry.
func (r *RuleStateRepo) Save(ctx context.Context, p core.SaveRuleStateParams) (bool, error) {
	if p.State == nil {
		return false, errors.New("state is required")
	}
	if p.State.RuleID == "" {
		return false, errors.New("rule_id is required")
	}

	now := r.timeProvider.Now().UTC()

	if p.ExpectedVersion == 0 {
		// First write for this rule. ON CONFLICT DO NOTHING turns a concurrent
		// first-writer race into a version conflict instead of an error.
		res, err := r.DB.ExecContext(ctx, `
			INSERT INTO rule_states (rule_id, last_stable, candidate, candidate_count, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (rule_id) DO NOTHING
		`, p.State.RuleID, p.State.LastStable, p.State.Candidate, p.State.CandidateCount, now)
		if err != nil {
			return false, fmt.Errorf("insert rule state: %w", err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("insert rule state rows affected: %w", err)
		}
		return rowsAffected > 0, nil
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE rule_states
		SET last_stable = $2,
		    candidate = $3,
		    candidate_count = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE rule_id = $1 AND version = $6
	`, p.State.RuleID, p.State.LastStable, p.State.Candidate, p.State.CandidateCount, now, p.ExpectedVersion)
	if err != nil {
		return false, fmt.Errorf("update rule state: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update rule state rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete removes the state row for a rule.
func (r *RuleStateRepo) Delete(ctx context.Context, ruleID string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM rule_states WHERE rule_id = $1`, ruleID); err != nil {
		return fmt.Errorf("failed to delete rule state: %w", err)
	}
	return nil
}
