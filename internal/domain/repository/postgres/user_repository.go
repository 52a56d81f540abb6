package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

const userColumns = `
	id, username, email, phone, password_hash,
	email_verified, phone_verified,
	failed_attempts, last_failed_at,
	password_changed_at, requires_password_change,
	two_factor_enabled, two_factor_secret, backup_codes,
	is_active, is_superuser, last_login_at,
	created_at, updated_at`

// UserRepositoryPostgres implements repository.UserRepository.
type UserRepositoryPostgres struct {
	pool *pgxpool.Pool
}

func NewUserRepositoryPostgres(pool *pgxpool.Pool) *UserRepositoryPostgres {
	return &UserRepositoryPostgres{pool: pool}
}

func (r *UserRepositoryPostgres) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, email, phone, password_hash,
		                   email_verified, phone_verified,
		                   password_changed_at, requires_password_change,
		                   is_active, is_superuser, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if user.PasswordChangedAt.IsZero() {
		user.PasswordChangedAt = user.CreatedAt
	}

	_, err := q(ctx, r.pool).Exec(ctx, query,
		user.ID, user.Username, user.Email, user.Phone, user.PasswordHash,
		user.EmailVerified, user.PhoneVerified,
		user.PasswordChangedAt, user.RequiresPasswordChange,
		user.IsActive, user.IsSuperuser, user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch {
			case strings.Contains(pgErr.ConstraintName, "users_email"):
				return domainErrors.ErrEmailExists
			case strings.Contains(pgErr.ConstraintName, "users_username"):
				return domainErrors.ErrUsernameExists
			case strings.Contains(pgErr.ConstraintName, "users_phone"):
				return domainErrors.ErrPhoneExists
			}
			return domainErrors.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepositoryPostgres) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *UserRepositoryPostgres) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getBy(ctx, "lower(username) = lower($1)", username)
}

func (r *UserRepositoryPostgres) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "lower(email) = lower($1)", email)
}

func (r *UserRepositoryPostgres) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.getBy(ctx, "phone = $1", phone)
}

func (r *UserRepositoryPostgres) getBy(ctx context.Context, where string, arg any) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s`, userColumns, where)
	user := &models.User{}
	err := q(ctx, r.pool).QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.Phone, &user.PasswordHash,
		&user.EmailVerified, &user.PhoneVerified,
		&user.FailedAttempts, &user.LastFailedAt,
		&user.PasswordChangedAt, &user.RequiresPasswordChange,
		&user.TwoFactorEnabled, &user.TwoFactorSecret, &user.BackupCodes,
		&user.IsActive, &user.IsSuperuser, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (r *UserRepositoryPostgres) SetPassword(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time, requiresChange bool) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = $3,
		    requires_password_change = $4, updated_at = now()
		WHERE id = $1
	`
	tag, err := q(ctx, r.pool).Exec(ctx, query, id, hash, changedAt, requiresChange)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrUserNotFound
	}
	return nil
}

// IncrementFailed is a single atomic UPDATE so concurrent failed attempts
// cannot lose increments.
func (r *UserRepositoryPostgres) IncrementFailed(ctx context.Context, id uuid.UUID, at time.Time) (int, error) {
	query := `
		UPDATE users
		SET failed_attempts = failed_attempts + 1, last_failed_at = $2, updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts
	`
	var count int
	if err := q(ctx, r.pool).QueryRow(ctx, query, id, at).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domainErrors.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to increment failed attempts: %w", err)
	}
	return count, nil
}

func (r *UserRepositoryPostgres) ResetFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_attempts = 0, last_failed_at = NULL, updated_at = now()
		WHERE id = $1
	`
	if _, err := q(ctx, r.pool).Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	return nil
}

func (r *UserRepositoryPostgres) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE users SET last_login_at = $2, updated_at = now() WHERE id = $1`
	if _, err := q(ctx, r.pool).Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepositoryPostgres) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1`
	tag, err := q(ctx, r.pool).Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrUserNotFound
	}
	return nil
}

// verifiedColumn maps a verification channel onto the flag column it sets.
func verifiedColumn(channel string) (string, error) {
	switch channel {
	case models.VerificationChannelEmail:
		return "email_verified", nil
	case models.VerificationChannelSMS:
		return "phone_verified", nil
	default:
		return "", fmt.Errorf("unknown verification channel %q: %w", channel, domainErrors.ErrInvalidInput)
	}
}

func (r *UserRepositoryPostgres) SetVerified(ctx context.Context, id uuid.UUID, channel string) error {
	column, err := verifiedColumn(channel)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE users SET %s = true, updated_at = now() WHERE id = $1`, column)
	tag, err := q(ctx, r.pool).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s verified: %w", channel, err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrUserNotFound
	}
	return nil
}

func (r *UserRepositoryPostgres) SetTwoFactor(ctx context.Context, id uuid.UUID, enabled bool, secret *string, backupCodes []string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = $2, two_factor_secret = $3, backup_codes = $4, updated_at = now()
		WHERE id = $1
	`
	tag, err := q(ctx, r.pool).Exec(ctx, query, id, enabled, secret, backupCodes)
	if err != nil {
		return fmt.Errorf("failed to update two-factor state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrUserNotFound
	}
	return nil
}
