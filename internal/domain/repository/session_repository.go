package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/schoolcore/identity-service/internal/domain/models"
)

// SessionRepository persists session rows.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByKey(ctx context.Context, sessionKey string) (*models.Session, error)
	ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)
	// Touch advances last_activity, never moving it backwards.
	Touch(ctx context.Context, sessionKey string, at time.Time) error
	UpdateIP(ctx context.Context, sessionKey, ip string) error
	Terminate(ctx context.Context, sessionKey, reason string, at time.Time) error
	TerminateAllForUser(ctx context.Context, userID uuid.UUID, exceptKey, reason string, at time.Time) (int, error)
	// TerminateIdle ends sessions idle past cutoff and returns how many.
	TerminateIdle(ctx context.Context, cutoff time.Time, reason string) (int, error)
	CountActive(ctx context.Context) (int, error)
	ListActiveCreatedSince(ctx context.Context, since time.Time) ([]*models.Session, error)
}
