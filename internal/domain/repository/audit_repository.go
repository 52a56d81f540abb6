package repository

import (
	"context"
	"time"

	"github.com/schoolcore/identity-service/internal/domain/models"
)

// AuditRepository is the append-only audit store. Tx variants participate in
// the caller's transaction so the audit row and the state change it describes
// commit together.
type AuditRepository interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
	// CountByAction aggregates event counts per action inside a window, for
	// the login-statistics view.
	CountByAction(ctx context.Context, from, to time.Time) (map[models.AuditAction]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
