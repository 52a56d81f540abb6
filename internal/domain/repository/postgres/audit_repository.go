package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolcore/identity-service/internal/domain/models"
)

// AuditRepositoryPostgres implements repository.AuditRepository. Rows are
// append-only; the only delete path is the retention sweep.
type AuditRepositoryPostgres struct {
	pool *pgxpool.Pool
}

func NewAuditRepositoryPostgres(pool *pgxpool.Pool) *AuditRepositoryPostgres {
	return &AuditRepositoryPostgres{pool: pool}
}

func (r *AuditRepositoryPostgres) Append(ctx context.Context, event *models.AuditEvent) error {
	extras, err := json.Marshal(event.Extras)
	if err != nil {
		return fmt.Errorf("failed to marshal extras: %w", err)
	}
	before, err := json.Marshal(event.DataBefore)
	if err != nil {
		return fmt.Errorf("failed to marshal data_before: %w", err)
	}
	after, err := json.Marshal(event.DataAfter)
	if err != nil {
		return fmt.Errorf("failed to marshal data_after: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, user_id, action, description, severity,
		                          target_type, target_id, ip_address, user_agent,
		                          actor_id, timestamp, extras, data_before, data_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = q(ctx, r.pool).Exec(ctx, query,
		event.ID, event.UserID, event.Action, event.Description, event.Severity,
		event.TargetType, event.TargetID, event.IPAddress, event.UserAgent,
		event.ActorID, event.Timestamp, extras, before, after,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *AuditRepositoryPostgres) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != nil {
		where = append(where, "user_id = "+arg(*filter.UserID))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		where = append(where, "action = ANY("+arg(actions)+")")
	}
	if filter.Severity != "" {
		where = append(where, "severity = "+arg(filter.Severity))
	}
	if filter.From != nil {
		where = append(where, "timestamp >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "timestamp <= "+arg(*filter.To))
	}

	query := `
		SELECT id, user_id, action, description, severity,
		       target_type, target_id, ip_address, user_agent,
		       actor_id, timestamp, extras, data_before, data_after
		FROM audit_events
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := q(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{}
		var extras, before, after []byte
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &e.Description, &e.Severity,
			&e.TargetType, &e.TargetID, &e.IPAddress, &e.UserAgent,
			&e.ActorID, &e.Timestamp, &extras, &before, &after,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(extras) > 0 {
			_ = json.Unmarshal(extras, &e.Extras)
		}
		if len(before) > 0 {
			_ = json.Unmarshal(before, &e.DataBefore)
		}
		if len(after) > 0 {
			_ = json.Unmarshal(after, &e.DataAfter)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *AuditRepositoryPostgres) CountByAction(ctx context.Context, from, to time.Time) (map[models.AuditAction]int64, error) {
	query := `
		SELECT action, COUNT(*)
		FROM audit_events
		WHERE timestamp >= $1 AND timestamp <= $2
		GROUP BY action
	`
	rows, err := q(ctx, r.pool).Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AuditAction]int64)
	for rows.Next() {
		var action models.AuditAction
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

func (r *AuditRepositoryPostgres) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q(ctx, r.pool).Exec(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
