package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/schoolcore/identity-service/internal/domain/models"
)

// UserRepository is the credential store.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)

	SetPassword(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time, requiresChange bool) error
	// IncrementFailed bumps the failed-attempt counter in a single UPDATE and
	// returns the new count.
	IncrementFailed(ctx context.Context, id uuid.UUID, at time.Time) (int, error)
	ResetFailed(ctx context.Context, id uuid.UUID) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetVerified(ctx context.Context, id uuid.UUID, channel string) error
	SetTwoFactor(ctx context.Context, id uuid.UUID, enabled bool, secret *string, backupCodes []string) error
}
