package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

const sessionColumns = `
	id, session_key, user_id, ip_address, user_agent,
	device_type, browser, os, country,
	created_at, last_activity, is_active, end_reason`

// SessionRepositoryPostgres implements repository.SessionRepository.
type SessionRepositoryPostgres struct {
	pool *pgxpool.Pool
}

func NewSessionRepositoryPostgres(pool *pgxpool.Pool) *SessionRepositoryPostgres {
	return &SessionRepositoryPostgres{pool: pool}
}

func (r *SessionRepositoryPostgres) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, session_key, user_id, ip_address, user_agent,
		                      device_type, browser, os, country,
		                      created_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true)
	`
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	_, err := q(ctx, r.pool).Exec(ctx, query,
		session.ID, session.SessionKey, session.UserID, session.IPAddress, session.UserAgent,
		session.DeviceType, session.Browser, session.OS, session.Country,
		session.CreatedAt, session.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.IsActive = true
	return nil
}

func (r *SessionRepositoryPostgres) GetByKey(ctx context.Context, sessionKey string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE session_key = $1`, sessionColumns)
	s := &models.Session{}
	var endReason *string
	err := q(ctx, r.pool).QueryRow(ctx, query, sessionKey).Scan(
		&s.ID, &s.SessionKey, &s.UserID, &s.IPAddress, &s.UserAgent,
		&s.DeviceType, &s.Browser, &s.OS, &s.Country,
		&s.CreatedAt, &s.LastActivity, &s.IsActive, &endReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if endReason != nil {
		s.EndReason = *endReason
	}
	return s, nil
}

func (r *SessionRepositoryPostgres) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE user_id = $1 AND is_active
		ORDER BY last_activity DESC`, sessionColumns)
	return r.list(ctx, query, userID)
}

func (r *SessionRepositoryPostgres) ListActiveCreatedSince(ctx context.Context, since time.Time) ([]*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE is_active AND created_at >= $1
		ORDER BY user_id, created_at DESC`, sessionColumns)
	return r.list(ctx, query, since)
}

func (r *SessionRepositoryPostgres) list(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := q(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		var endReason *string
		if err := rows.Scan(
			&s.ID, &s.SessionKey, &s.UserID, &s.IPAddress, &s.UserAgent,
			&s.DeviceType, &s.Browser, &s.OS, &s.Country,
			&s.CreatedAt, &s.LastActivity, &s.IsActive, &endReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if endReason != nil {
			s.EndReason = *endReason
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Touch advances last_activity; the GREATEST guard keeps it monotonic under
// reordered writes.
func (r *SessionRepositoryPostgres) Touch(ctx context.Context, sessionKey string, at time.Time) error {
	query := `
		UPDATE sessions
		SET last_activity = GREATEST(last_activity, $2)
		WHERE session_key = $1 AND is_active
	`
	if _, err := q(ctx, r.pool).Exec(ctx, query, sessionKey, at); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *SessionRepositoryPostgres) UpdateIP(ctx context.Context, sessionKey, ip string) error {
	query := `UPDATE sessions SET ip_address = $2 WHERE session_key = $1 AND is_active`
	if _, err := q(ctx, r.pool).Exec(ctx, query, sessionKey, ip); err != nil {
		return fmt.Errorf("failed to update session ip: %w", err)
	}
	return nil
}

func (r *SessionRepositoryPostgres) Terminate(ctx context.Context, sessionKey, reason string, at time.Time) error {
	query := `
		UPDATE sessions
		SET is_active = false, end_reason = $2, last_activity = GREATEST(last_activity, $3)
		WHERE session_key = $1 AND is_active
	`
	tag, err := q(ctx, r.pool).Exec(ctx, query, sessionKey, reason, at)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepositoryPostgres) TerminateAllForUser(ctx context.Context, userID uuid.UUID, exceptKey, reason string, at time.Time) (int, error) {
	query := `
		UPDATE sessions
		SET is_active = false, end_reason = $3, last_activity = GREATEST(last_activity, $4)
		WHERE user_id = $1 AND is_active AND session_key <> $2
	`
	tag, err := q(ctx, r.pool).Exec(ctx, query, userID, exceptKey, reason, at)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate user sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *SessionRepositoryPostgres) TerminateIdle(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	query := `
		UPDATE sessions
		SET is_active = false, end_reason = $2
		WHERE is_active AND last_activity < $1
	`
	tag, err := q(ctx, r.pool).Exec(ctx, query, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate idle sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *SessionRepositoryPostgres) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := q(ctx, r.pool).QueryRow(ctx, `SELECT count(*) FROM sessions WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return n, nil
}
