package models

import (
	"time"

	"github.com/google/uuid"
)

// PermissionMap is a sparse resource -> allowed actions mapping. Values are
// validated against the permission catalogue at write time.
type PermissionMap map[string][]string

// Has reports whether the map allows action on resource.
func (p PermissionMap) Has(resource, action string) bool {
	for _, a := range p[resource] {
		if a == action {
			return true
		}
	}
	return false
}

// Merge unions other into p without duplicating actions.
func (p PermissionMap) Merge(other PermissionMap) {
	for resource, actions := range other {
		for _, a := range actions {
			if !p.Has(resource, a) {
				p[resource] = append(p[resource], a)
			}
		}
	}
}

// Role groups a named permission map. System roles are seeded at bootstrap and
// are immutable and undeletable.
type Role struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Permissions PermissionMap `json:"permissions"`
	IsSystem    bool          `json:"is_system"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// RoleAssignment links a user to a role, unique per (user, role) pair.
type RoleAssignment struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	RoleID     uuid.UUID  `json:"role_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
	Notes      string     `json:"notes,omitempty"`
}

// Effective reports whether the assignment grants its role at the query
// instant: active and not expired.
func (a *RoleAssignment) Effective(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// AdminRoleName holds full access alongside the superuser flag.
const AdminRoleName = "Admin"
