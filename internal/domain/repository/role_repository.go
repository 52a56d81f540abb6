package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/schoolcore/identity-service/internal/domain/models"
)

// RoleRepository is the role registry: roles plus user assignments.
type RoleRepository interface {
	CreateRole(ctx context.Context, role *models.Role) error
	GetRoleByID(ctx context.Context, id uuid.UUID) (*models.Role, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]*models.Role, error)
	UpdateRole(ctx context.Context, role *models.Role) error
	DeleteRole(ctx context.Context, id uuid.UUID) error

	// UpsertAssignment is idempotent on (user, role): re-assigning refreshes
	// is_active, assigned_at, expires_at without duplicating the pair.
	UpsertAssignment(ctx context.Context, a *models.RoleAssignment) error
	DeactivateAssignment(ctx context.Context, userID, roleID uuid.UUID) error
	ListAssignmentsForUser(ctx context.Context, userID uuid.UUID) ([]*models.RoleAssignment, error)
	// AffectedUsers returns every user holding the role, for cache fanout.
	AffectedUsers(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)
	// DeactivateExpired lazily flips is_active on assignments past expiry and
	// returns the touched user ids.
	DeactivateExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
