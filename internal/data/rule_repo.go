package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data/database"
	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// claimParkInterval is how far ClaimDue pushes next_run_at into the future so
// concurrent schedulers never double-claim a rule. The claimer writes the real
// next_run_at after enqueueing.
const claimParkInterval = "365 days"

// RuleRepo provides database operations for rule management and the scheduler
// claim path.
type RuleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRuleRepo creates a new RuleRepo instance with the given database connection.
func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewRuleRepoWithTimeProvider creates a RuleRepo with a custom TimeProvider (useful for testing).
func NewRuleRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *RuleRepo {
	return &RuleRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const ruleColumns = `
	id, source_id, name, rule_type, extraction, normalization, schedule,
	alert_policy, enabled, screenshot_on_change, selector_fingerprint,
	schema_fingerprint, health_score, last_error_code, last_error_at,
	next_run_at, captcha_interval_enforced, original_schedule,
	auto_throttle_disabled, created_at, updated_at`

// ruleColumnList is ruleColumns split for the list query builder.
var ruleColumnList = func() []string {
	parts := strings.Split(ruleColumns, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}()

// Create creates a new rule. The first run is due immediately.
func (r *RuleRepo) Create(ctx context.Context, req model.CreateRuleRequest) (*model.Rule, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()

	var rule model.Rule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO rules (
				source_id, name, rule_type, extraction, normalization, schedule,
				alert_policy, enabled, screenshot_on_change, next_run_at,
				created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10)
			RETURNING `+ruleColumns,
			req.SourceID, req.Name, req.RuleType, req.Extraction,
			req.Normalization, req.Schedule, req.AlertPolicy, req.Enabled,
			req.ScreenshotOnChange, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		rule, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Rule])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	return &rule, nil
}

// GetByID retrieves a rule by its ID.
func (r *RuleRepo) GetByID(ctx context.Context, id string) (*model.Rule, error) {
	var rule model.Rule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		rule, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Rule])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// List retrieves rules matching the given filters with pagination.
func (r *RuleRepo) List(ctx context.Context, opts model.RuleListOptions) ([]*model.Rule, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	conds := make([]database.Condition, 0, 3)
	if opts.SourceID != nil {
		conds = append(conds, database.WhereCond("source_id", database.Equal, *opts.SourceID))
	}
	if opts.RuleType != nil {
		conds = append(conds, database.WhereCond("rule_type", database.Equal, *opts.RuleType))
	}
	if opts.Enabled != nil {
		conds = append(conds, database.WhereCond("enabled", database.Equal, *opts.Enabled))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("rules",
		database.WithColumns(ruleColumnList...),
		database.WithConditions(conds...),
		database.WithOrderBy("created_at", "DESC"),
		database.WithOrderTiebreak("id"),
		database.WithLimit(opts.Limit),
		database.WithOffset(opts.Offset),
	))

	var rules []model.Rule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rules, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Rule])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	result := make([]*model.Rule, len(rules))
	for i := range rules {
		result[i] = &rules[i]
	}
	return result, nil
}

// GetBySource retrieves rules for a source, optionally filtered by enabled state.
func (r *RuleRepo) GetBySource(ctx context.Context, sourceID string, enabled *bool) ([]*model.Rule, error) {
	return r.List(ctx, model.RuleListOptions{SourceID: &sourceID, Enabled: enabled, Limit: 1000})
}

// Update applies a partial rule update and returns the updated row.
func (r *RuleRepo) Update(ctx context.Context, id string, req model.UpdateRuleRequest) (*model.Rule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setParts := make([]string, 0, 8)
	args := make([]any, 0, 9)
	argIdx := 1
	appendSet := func(column string, value any) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.Name != nil {
		appendSet("name", strings.TrimSpace(*req.Name))
	}
	if req.Extraction != nil {
		appendSet("extraction", *req.Extraction)
	}
	if req.Normalization != nil {
		appendSet("normalization", *req.Normalization)
	}
	if req.Schedule != nil {
		appendSet("schedule", *req.Schedule)
	}
	if req.AlertPolicy != nil {
		appendSet("alert_policy", *req.AlertPolicy)
	}
	if req.Enabled != nil {
		appendSet("enabled", *req.Enabled)
	}
	if req.ScreenshotOnChange != nil {
		appendSet("screenshot_on_change", *req.ScreenshotOnChange)
	}
	if req.AutoThrottleDisabled != nil {
		appendSet("auto_throttle_disabled", *req.AutoThrottleDisabled)
	}
	if len(setParts) == 0 {
		return r.GetByID(ctx, id)
	}

	appendSet("updated_at", r.timeProvider.Now().UTC())
	args = append(args, id)

	query := "UPDATE rules SET " + strings.Join(setParts, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", argIdx) + ruleColumns

	var rule model.Rule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rule, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Rule])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return &rule, nil
}

// Delete deletes a rule by its ID.
func (r *RuleRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ClaimDue atomically claims rules whose next_run_at has passed. Claimed rules
// get next_run_at parked far in the future; FOR UPDATE SKIP LOCKED keeps
// concurrent schedulers from claiming the same rows.
func (r *RuleRepo) ClaimDue(ctx context.Context, p core.ClaimDueParams) ([]*model.Rule, error) {
	if p.Limit <= 0 {
		p.Limit = 100
	}

	query := `
		UPDATE rules
		SET next_run_at = $1::timestamptz + interval '` + claimParkInterval + `',
		    updated_at = $1
		WHERE id IN (
			SELECT id FROM rules
			WHERE enabled AND next_run_at <= $1
			ORDER BY next_run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + ruleColumns

	var rules []model.Rule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, p.Now.UTC(), p.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		rules, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Rule])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due rules: %w", err)
	}

	result := make([]*model.Rule, len(rules))
	for i := range rules {
		result[i] = &rules[i]
	}
	return result, nil
}

// UpdateNextRun writes the computed next_run_at for a claimed rule.
func (r *RuleRepo) UpdateNextRun(ctx context.Context, p core.UpdateNextRunParams) error {
	return r.execOnRule(ctx, `
		UPDATE rules
		SET next_run_at = $2, updated_at = $3
		WHERE id = $1
	`, "update next run", p.RuleID, p.NextRunAt.UTC(), r.timeProvider.Now().UTC())
}

// UpdateHealth writes the rule's health score and last error classification.
// A nil error code also clears last_error_at.
func (r *RuleRepo) UpdateHealth(ctx context.Context, p core.UpdateHealthParams) error {
	now := r.timeProvider.Now().UTC()
	return r.execOnRule(ctx, `
		UPDATE rules
		SET health_score = $2,
		    last_error_code = $3,
		    last_error_at = CASE WHEN $3::text IS NULL THEN NULL ELSE $4::timestamptz END,
		    updated_at = $4
		WHERE id = $1
	`, "update health", p.RuleID, model.ClampHealthScore(p.HealthScore), p.LastErrorCode, now)
}

// ApplySchedule replaces the rule's schedule. OriginalSchedule is written only
// when non-nil so the first pre-throttle schedule survives repeated throttles.
func (r *RuleRepo) ApplySchedule(ctx context.Context, p core.ApplyScheduleParams) error {
	now := r.timeProvider.Now().UTC()
	if p.OriginalSchedule != nil {
		return r.execOnRule(ctx, `
			UPDATE rules
			SET schedule = $2,
			    original_schedule = COALESCE(original_schedule, $3),
			    captcha_interval_enforced = $4,
			    updated_at = $5
			WHERE id = $1
		`, "apply schedule", p.RuleID, p.Schedule, *p.OriginalSchedule, p.CaptchaIntervalEnforced, now)
	}
	return r.execOnRule(ctx, `
		UPDATE rules
		SET schedule = $2,
		    captcha_interval_enforced = $3,
		    updated_at = $4
		WHERE id = $1
	`, "apply schedule", p.RuleID, p.Schedule, p.CaptchaIntervalEnforced, now)
}

// UpdateFingerprint writes the selector fingerprint captured on a successful
// extraction.
func (r *RuleRepo) UpdateFingerprint(ctx context.Context, ruleID string, fp *model.SelectorFingerprint) error {
	return r.execOnRule(ctx, `
		UPDATE rules
		SET selector_fingerprint = $2, updated_at = $3
		WHERE id = $1
	`, "update fingerprint", ruleID, fp, r.timeProvider.Now().UTC())
}

// UpdateSchemaFingerprint writes the JSON-LD shape fingerprint.
func (r *RuleRepo) UpdateSchemaFingerprint(ctx context.Context, ruleID string, fp *model.SchemaFingerprint) error {
	return r.execOnRule(ctx, `
		UPDATE rules
		SET schema_fingerprint = $2, updated_at = $3
		WHERE id = $1
	`, "update schema fingerprint", ruleID, fp, r.timeProvider.Now().UTC())
}

// AppendHealEvent appends one heal record to the fingerprint's healing history.
func (r *RuleRepo) AppendHealEvent(ctx context.Context, ruleID string, ev model.HealEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal heal event: %w", err)
	}
	return r.execOnRule(ctx, `
		UPDATE rules
		SET selector_fingerprint = jsonb_set(
		        selector_fingerprint,
		        '{healing_history}',
		        COALESCE(selector_fingerprint->'healing_history', '[]'::jsonb) || $2::jsonb
		    ),
		    updated_at = $3
		WHERE id = $1 AND selector_fingerprint IS NOT NULL
	`, "append heal event", ruleID, raw, r.timeProvider.Now().UTC())
}

// UpdateSelector replaces the extraction selector in place after a heal.
func (r *RuleRepo) UpdateSelector(ctx context.Context, ruleID string, selector string) error {
	return r.execOnRule(ctx, `
		UPDATE rules
		SET extraction = jsonb_set(extraction, '{selector}', to_jsonb($2::text)),
		    updated_at = $3
		WHERE id = $1
	`, "update selector", ruleID, selector, r.timeProvider.Now().UTC())
}

// execOnRule runs an UPDATE keyed on rule id and maps zero rows to ErrRuleNotFound.
func (r *RuleRepo) execOnRule(ctx context.Context, query, op string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}
