package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

// RoleRepositoryPostgres implements repository.RoleRepository. Permission maps
// are stored as jsonb.
type RoleRepositoryPostgres struct {
	pool *pgxpool.Pool
}

func NewRoleRepositoryPostgres(pool *pgxpool.Pool) *RoleRepositoryPostgres {
	return &RoleRepositoryPostgres{pool: pool}
}

func (r *RoleRepositoryPostgres) CreateRole(ctx context.Context, role *models.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	query := `
		INSERT INTO roles (id, name, description, permissions, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	_, err = q(ctx, r.pool).Exec(ctx, query,
		role.ID, role.Name, role.Description, perms, role.IsSystem, role.IsActive, role.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

func (r *RoleRepositoryPostgres) GetRoleByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	return r.getRole(ctx, "id = $1", id)
}

func (r *RoleRepositoryPostgres) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	return r.getRole(ctx, "name = $1", name)
}

func (r *RoleRepositoryPostgres) getRole(ctx context.Context, where string, arg any) (*models.Role, error) {
	query := fmt.Sprintf(`
		SELECT id, name, description, permissions, is_system, is_active, created_at, updated_at
		FROM roles WHERE %s`, where)
	role := &models.Role{}
	var perms []byte
	err := q(ctx, r.pool).QueryRow(ctx, query, arg).Scan(
		&role.ID, &role.Name, &role.Description, &perms,
		&role.IsSystem, &role.IsActive, &role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	if err := json.Unmarshal(perms, &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return role, nil
}

func (r *RoleRepositoryPostgres) ListRoles(ctx context.Context) ([]*models.Role, error) {
	query := `
		SELECT id, name, description, permissions, is_system, is_active, created_at, updated_at
		FROM roles ORDER BY name
	`
	rows, err := q(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role := &models.Role{}
		var perms []byte
		if err := rows.Scan(
			&role.ID, &role.Name, &role.Description, &perms,
			&role.IsSystem, &role.IsActive, &role.CreatedAt, &role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *RoleRepositoryPostgres) UpdateRole(ctx context.Context, role *models.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	query := `
		UPDATE roles
		SET name = $2, description = $3, permissions = $4, is_active = $5, updated_at = now()
		WHERE id = $1
	`
	tag, err := q(ctx, r.pool).Exec(ctx, query, role.ID, role.Name, role.Description, perms, role.IsActive)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrRoleNotFound
	}
	return nil
}

func (r *RoleRepositoryPostgres) DeleteRole(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM roles WHERE id = $1`
	tag, err := q(ctx, r.pool).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrRoleNotFound
	}
	return nil
}

func (r *RoleRepositoryPostgres) UpsertAssignment(ctx context.Context, a *models.RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (id, user_id, role_id, assigned_at, assigned_by, expires_at, is_active, notes)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET is_active = true, assigned_at = EXCLUDED.assigned_at,
		    assigned_by = EXCLUDED.assigned_by, expires_at = EXCLUDED.expires_at,
		    notes = EXCLUDED.notes
	`
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	_, err := q(ctx, r.pool).Exec(ctx, query,
		a.ID, a.UserID, a.RoleID, a.AssignedAt, a.AssignedBy, a.ExpiresAt, a.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert role assignment: %w", err)
	}
	a.IsActive = true
	return nil
}

func (r *RoleRepositoryPostgres) DeactivateAssignment(ctx context.Context, userID, roleID uuid.UUID) error {
	query := `UPDATE role_assignments SET is_active = false WHERE user_id = $1 AND role_id = $2 AND is_active`
	tag, err := q(ctx, r.pool).Exec(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

func (r *RoleRepositoryPostgres) ListAssignmentsForUser(ctx context.Context, userID uuid.UUID) ([]*models.RoleAssignment, error) {
	query := `
		SELECT id, user_id, role_id, assigned_at, assigned_by, expires_at, is_active, notes
		FROM role_assignments
		WHERE user_id = $1
		ORDER BY assigned_at DESC
	`
	rows, err := q(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.RoleAssignment
	for rows.Next() {
		a := &models.RoleAssignment{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedAt, &a.AssignedBy, &a.ExpiresAt, &a.IsActive, &a.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *RoleRepositoryPostgres) AffectedUsers(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM role_assignments WHERE role_id = $1`
	rows, err := q(ctx, r.pool).Query(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query affected users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *RoleRepositoryPostgres) DeactivateExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE role_assignments
		SET is_active = false
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING user_id
	`
	rows, err := q(ctx, r.pool).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate expired assignments: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
