package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// AlertRepo provides database operations for alerts. The dedupe key carries a
// UNIQUE constraint; duplicate inserts collapse to the existing row instead of
// erroring so at-least-once evaluation never double-alerts.
type AlertRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAlertRepo creates a new AlertRepo instance with the given database connection.
func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewAlertRepoWithTimeProvider creates an AlertRepo with a custom TimeProvider (useful for testing).
func NewAlertRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *AlertRepo {
	return &AlertRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const alertColumns = `
	id, rule_id, triggered_at, severity, alert_type, title, body, metadata,
	dedupe_key, channels_sent, acknowledged_at, acknowledged_by, resolved_at,
	created_at`

// alertColumnsQualified prefixes each column with the alerts table alias for
// joined queries.
const alertColumnsQualified = `
	a.id, a.rule_id, a.triggered_at, a.severity, a.alert_type, a.title, a.body,
	a.metadata, a.dedupe_key, a.channels_sent, a.acknowledged_at,
	a.acknowledged_by, a.resolved_at, a.created_at`

// Create inserts the alert. When the dedupe key already exists the existing
// row is returned with created=false.
func (r *AlertRepo) Create(ctx context.Context, req *model.CreateAlertRequest) (*model.Alert, bool, error) {
	if req == nil {
		return nil, false, errors.New("create alert request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	triggeredAt := req.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = r.timeProvider.Now()
	}
	now := r.timeProvider.Now().UTC()
	metadata := req.Metadata
	if len(metadata) == 0 {
		metadata = nil
	}

	var alert model.Alert
	var inserted bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO alerts (
				rule_id, triggered_at, severity, alert_type, title, body,
				metadata, dedupe_key, channels_sent, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '[]'::jsonb, $9)
			ON CONFLICT (dedupe_key) DO NOTHING
			RETURNING `+alertColumns,
			req.RuleID, triggeredAt.UTC(), req.Severity, req.AlertType,
			req.Title, req.Body, metadata, req.DedupeKey, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		alert, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Alert])
		if errors.Is(err, pgx.ErrNoRows) {
			// Dedupe collision; the existing row wins.
			inserted = false
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create alert: %w", err)
	}

	if inserted {
		return &alert, true, nil
	}

	existing, err := r.GetByDedupeKey(ctx, req.DedupeKey)
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing alert after dedupe collision: %w", err)
	}
	return existing, false, nil
}

// GetByID retrieves an alert by its ID.
func (r *AlertRepo) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	return r.getAlertByQuery(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1`,
		"failed to get alert", id)
}

// GetByDedupeKey retrieves an alert by its dedupe key.
func (r *AlertRepo) GetByDedupeKey(ctx context.Context, key string) (*model.Alert, error) {
	return r.getAlertByQuery(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE dedupe_key = $1`,
		"failed to get alert by dedupe key", key)
}

func (r *AlertRepo) getAlertByQuery(ctx context.Context, q, errMsg string, args ...any) (*model.Alert, error) {
	var alert model.Alert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		alert, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Alert])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return &alert, nil
}

// List retrieves alerts matching the given filters with pagination. Workspace
// filtering joins through rules and sources since alerts hang off rules.
func (r *AlertRepo) List(ctx context.Context, opts *model.AlertListOptions) ([]*model.Alert, error) {
	if opts == nil {
		opts = &model.AlertListOptions{}
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	whereParts := make([]string, 0, 5)
	args := make([]any, 0, 7)
	argIdx := 1
	appendWhere := func(cond string, value any) {
		whereParts = append(whereParts, fmt.Sprintf(cond, argIdx))
		args = append(args, value)
		argIdx++
	}

	joins := ""
	if opts.WorkspaceID != nil {
		joins = `
			JOIN rules ru ON ru.id = a.rule_id
			JOIN sources s ON s.id = ru.source_id`
		appendWhere("s.workspace_id = $%d", *opts.WorkspaceID)
	}
	if opts.RuleID != nil {
		appendWhere("a.rule_id = $%d", *opts.RuleID)
	}
	if opts.Severity != nil {
		appendWhere("a.severity = $%d", *opts.Severity)
	}
	if opts.AlertType != nil {
		appendWhere("a.alert_type = $%d", *opts.AlertType)
	}
	if opts.Unresolved {
		whereParts = append(whereParts, "a.resolved_at IS NULL")
	}

	query := "SELECT " + alertColumnsQualified + " FROM alerts a" + joins
	if len(whereParts) > 0 {
		query += " WHERE " + strings.Join(whereParts, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY a.triggered_at DESC, a.id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, opts.Limit, opts.Offset)

	var alerts []model.Alert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		alerts, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Alert])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	result := make([]*model.Alert, len(alerts))
	for i := range alerts {
		result[i] = &alerts[i]
	}
	return result, nil
}

// Stats summarizes alerts per severity, optionally scoped to a workspace.
func (r *AlertRepo) Stats(ctx context.Context, workspaceID *string) (*model.AlertStats, error) {
	query := `
		SELECT
			count(*) AS total,
			count(*) FILTER (WHERE a.severity = 'critical') AS critical,
			count(*) FILTER (WHERE a.severity = 'high')     AS high,
			count(*) FILTER (WHERE a.severity = 'medium')   AS medium,
			count(*) FILTER (WHERE a.severity = 'low')      AS low,
			count(*) FILTER (WHERE a.resolved_at IS NULL)   AS unresolved
		FROM alerts a`
	args := []any{}
	if workspaceID != nil {
		query += `
			JOIN rules ru ON ru.id = a.rule_id
			JOIN sources s ON s.id = ru.source_id
			WHERE s.workspace_id = $1`
		args = append(args, *workspaceID)
	}

	var s model.AlertStats
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&s.Total, &s.Critical, &s.High, &s.Medium, &s.Low, &s.Unresolved,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}
	return &s, nil
}

// Resolve marks an alert resolved. Resolving an already-resolved alert is a
// no-op returning the current row.
func (r *AlertRepo) Resolve(ctx context.Context, params core.ResolveAlertParams) (*model.Alert, error) {
	now := r.timeProvider.Now().UTC()
	return r.getAlertByQuery(ctx, `
		UPDATE alerts
		SET resolved_at = COALESCE(resolved_at, $2)
		WHERE id = $1
		RETURNING `+alertColumns,
		"failed to resolve alert", params.ID, now)
}

// Acknowledge marks an alert acknowledged by the given actor.
func (r *AlertRepo) Acknowledge(ctx context.Context, params core.AcknowledgeAlertParams) (*model.Alert, error) {
	now := r.timeProvider.Now().UTC()
	return r.getAlertByQuery(ctx, `
		UPDATE alerts
		SET acknowledged_at = COALESCE(acknowledged_at, $2),
		    acknowledged_by = COALESCE(acknowledged_by, $3)
		WHERE id = $1
		RETURNING `+alertColumns,
		"failed to acknowledge alert", params.ID, now, params.AcknowledgedBy)
}

// MarkChannelsSent records which channels an alert was delivered to.
func (r *AlertRepo) MarkChannelsSent(ctx context.Context, id string, channels []string) error {
	if channels == nil {
		channels = []string{}
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE alerts
		SET channels_sent = $2
		WHERE id = $1
	`, id, channels)
	if err != nil {
		return fmt.Errorf("mark channels sent: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark channels sent rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// RefreshTriggeredAt bumps triggered_at on an existing alert. Used when a
// recurring schema drift collides with its standing dedupe key.
func (r *AlertRepo) RefreshTriggeredAt(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE alerts
		SET triggered_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("refresh triggered_at: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh triggered_at rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}
