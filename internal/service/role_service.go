package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
)

// RoleService manages the role registry and assignments (C2). Every mutation
// writes its audit event inside the same transaction and invalidates the
// permission cache of the affected users.
type RoleService struct {
	roles  repository.RoleRepository
	perms  *PermissionService
	audit  *AuditService
	tx     repository.Tx
	logger *zap.Logger
}

func NewRoleService(roles repository.RoleRepository, perms *PermissionService, audit *AuditService, tx repository.Tx, logger *zap.Logger) *RoleService {
	return &RoleService{roles: roles, perms: perms, audit: audit, tx: tx, logger: logger}
}

// CreateRoleInput carries a new custom role.
type CreateRoleInput struct {
	Name        string
	Description string
	Permissions models.PermissionMap
	ActorID     *uuid.UUID
}

func (s *RoleService) CreateRole(ctx context.Context, in CreateRoleInput) (*models.Role, error) {
	if in.Name == "" {
		return nil, domainErrors.NewAppError(domainErrors.ErrInvalidInput, "role name is required", domainErrors.CodeValidation)
	}
	if res, act, ok := models.ValidatePermissions(in.Permissions); !ok {
		return nil, permissionValidationError(res, act)
	}

	role := &models.Role{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		Permissions: in.Permissions,
		IsSystem:    false,
		IsActive:    true,
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.roles.CreateRole(ctx, role); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditRoleCreated,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("role %q created", role.Name),
			ActorID:     in.ActorID,
			TargetType:  strPtr("role"),
			TargetID:    strPtr(role.ID.String()),
			DataAfter:   map[string]any{"name": role.Name, "permissions": role.Permissions},
		})
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (s *RoleService) GetRole(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	return s.roles.GetRoleByID(ctx, id)
}

func (s *RoleService) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	return s.roles.GetRoleByName(ctx, name)
}

func (s *RoleService) ListRoles(ctx context.Context) ([]*models.Role, error) {
	return s.roles.ListRoles(ctx)
}

// UpdateRoleInput mutates a custom role. Nil fields are left untouched.
type UpdateRoleInput struct {
	Description *string
	Permissions models.PermissionMap
	IsActive    *bool
	ActorID     *uuid.UUID
}

func (s *RoleService) UpdateRole(ctx context.Context, id uuid.UUID, in UpdateRoleInput) (*models.Role, error) {
	role, err := s.roles.GetRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, domainErrors.NewAppError(domainErrors.ErrProtectedRole,
			"system roles cannot be modified", domainErrors.CodeProtectedRole)
	}

	before := map[string]any{"description": role.Description, "permissions": role.Permissions, "is_active": role.IsActive}

	if in.Description != nil {
		role.Description = *in.Description
	}
	if in.Permissions != nil {
		if res, act, ok := models.ValidatePermissions(in.Permissions); !ok {
			return nil, permissionValidationError(res, act)
		}
		role.Permissions = in.Permissions
	}
	if in.IsActive != nil {
		role.IsActive = *in.IsActive
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.roles.UpdateRole(ctx, role); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditRoleUpdated,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("role %q updated", role.Name),
			ActorID:     in.ActorID,
			TargetType:  strPtr("role"),
			TargetID:    strPtr(role.ID.String()),
			DataBefore:  before,
			DataAfter:   map[string]any{"description": role.Description, "permissions": role.Permissions, "is_active": role.IsActive},
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.perms.InvalidateRole(ctx, role.ID); err != nil {
		s.logger.Warn("permission fanout after role update failed",
			zap.String("role_id", role.ID.String()), zap.Error(err))
	}
	return role, nil
}

func (s *RoleService) DeleteRole(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	role, err := s.roles.GetRoleByID(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return domainErrors.NewAppError(domainErrors.ErrProtectedRole,
			"system roles cannot be deleted", domainErrors.CodeProtectedRole)
	}

	// Capture holders before the delete cascades the assignments away.
	affected, err := s.roles.AffectedUsers(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.roles.DeleteRole(ctx, id); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditRoleDeleted,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("role %q deleted", role.Name),
			ActorID:     actorID,
			TargetType:  strPtr("role"),
			TargetID:    strPtr(role.ID.String()),
			DataBefore:  map[string]any{"name": role.Name, "permissions": role.Permissions},
		})
	})
	if err != nil {
		return err
	}

	for _, userID := range affected {
		s.perms.InvalidateUser(ctx, userID)
	}
	return nil
}

// AssignRoleInput attaches a role to a user. Re-assigning an existing pair
// refreshes its activation and expiry.
type AssignRoleInput struct {
	UserID    uuid.UUID
	RoleID    uuid.UUID
	ExpiresAt *time.Time
	Notes     string
	ActorID   *uuid.UUID
}

func (s *RoleService) AssignRole(ctx context.Context, in AssignRoleInput) (*models.RoleAssignment, error) {
	role, err := s.roles.GetRoleByID(ctx, in.RoleID)
	if err != nil {
		return nil, err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(time.Now()) {
		return nil, domainErrors.NewAppError(domainErrors.ErrInvalidInput,
			"assignment expiry must be in the future", domainErrors.CodeValidation)
	}

	assignment := &models.RoleAssignment{
		ID:         uuid.New(),
		UserID:     in.UserID,
		RoleID:     in.RoleID,
		AssignedAt: time.Now(),
		AssignedBy: in.ActorID,
		ExpiresAt:  in.ExpiresAt,
		IsActive:   true,
		Notes:      in.Notes,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.roles.UpsertAssignment(ctx, assignment); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditRoleAssigned,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("role %q assigned", role.Name),
			UserID:      &in.UserID,
			ActorID:     in.ActorID,
			TargetType:  strPtr("role_assignment"),
			TargetID:    strPtr(assignment.ID.String()),
			Extras:      map[string]any{"role": role.Name, "expires_at": in.ExpiresAt},
		})
	})
	if err != nil {
		return nil, err
	}

	s.perms.InvalidateUser(ctx, in.UserID)
	return assignment, nil
}

// RemoveRole deactivates an assignment. The row is kept for history.
func (s *RoleService) RemoveRole(ctx context.Context, userID, roleID uuid.UUID, actorID *uuid.UUID) error {
	role, err := s.roles.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.roles.DeactivateAssignment(ctx, userID, roleID); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditRoleRemoved,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("role %q removed", role.Name),
			UserID:      &userID,
			ActorID:     actorID,
			TargetType:  strPtr("role"),
			TargetID:    strPtr(roleID.String()),
		})
	})
	if err != nil {
		return err
	}

	s.perms.InvalidateUser(ctx, userID)
	return nil
}

// ListUserRoles returns the user's assignments with their roles attached.
type UserRole struct {
	Role       *models.Role            `json:"role"`
	Assignment *models.RoleAssignment  `json:"assignment"`
}

func (s *RoleService) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]UserRole, error) {
	assignments, err := s.roles.ListAssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]UserRole, 0, len(assignments))
	for _, a := range assignments {
		role, err := s.roles.GetRoleByID(ctx, a.RoleID)
		if err != nil {
			if domainErrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, UserRole{Role: role, Assignment: a})
	}
	return out, nil
}

// ExpireAssignments deactivates assignments past their expiry and drops the
// cached permissions of the touched users. Run periodically by the worker.
func (s *RoleService) ExpireAssignments(ctx context.Context) (int, error) {
	userIDs, err := s.roles.DeactivateExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for _, id := range userIDs {
		s.perms.InvalidateUser(ctx, id)
	}
	return len(userIDs), nil
}

// SeedSystemRoles creates the built-in roles if missing and refreshes their
// permission maps to the current catalogue. Run at bootstrap and from the CLI.
func (s *RoleService) SeedSystemRoles(ctx context.Context) (created int, err error) {
	for name, perms := range models.SystemRoles() {
		existing, err := s.roles.GetRoleByName(ctx, name)
		if err == nil {
			existing.Permissions = perms
			existing.IsActive = true
			if err := s.roles.UpdateRole(ctx, existing); err != nil {
				return created, fmt.Errorf("refreshing system role %s: %w", name, err)
			}
			if err := s.perms.InvalidateRole(ctx, existing.ID); err != nil {
				s.logger.Warn("permission fanout after role seed failed",
					zap.String("role", name), zap.Error(err))
			}
			continue
		}
		if !domainErrors.IsNotFound(err) {
			return created, err
		}

		role := &models.Role{
			ID:          uuid.New(),
			Name:        name,
			Description: name + " (system role)",
			Permissions: perms,
			IsSystem:    true,
			IsActive:    true,
		}
		if err := s.roles.CreateRole(ctx, role); err != nil {
			return created, fmt.Errorf("seeding system role %s: %w", name, err)
		}
		created++
	}
	return created, nil
}

func permissionValidationError(resource, action string) error {
	msg := fmt.Sprintf("unknown resource %q", resource)
	if action != "" {
		msg = fmt.Sprintf("unknown action %q on resource %q", action, resource)
	}
	return domainErrors.NewAppError(domainErrors.ErrUnknownPermission, msg, domainErrors.CodeValidation)
}

func strPtr(s string) *string { return &s }
