package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
)

const permissionCacheTTL = time.Hour

// PermissionService answers "may this user do this action on this resource"
// (C3). Resolved permission maps are cached in redis for an hour and in a
// small process-local map; every role or assignment mutation invalidates the
// affected users through InvalidateUser.
type PermissionService struct {
	users  repository.UserRepository
	roles  repository.RoleRepository
	store  *kv.Store
	logger *zap.Logger

	mu    sync.RWMutex
	local map[uuid.UUID]localPermEntry
}

type localPermEntry struct {
	perms     models.PermissionMap
	superuser bool
	expiresAt time.Time
}

func NewPermissionService(users repository.UserRepository, roles repository.RoleRepository, store *kv.Store, logger *zap.Logger) *PermissionService {
	return &PermissionService{
		users:  users,
		roles:  roles,
		store:  store,
		logger: logger,
		local:  make(map[uuid.UUID]localPermEntry),
	}
}

type cachedPermissions struct {
	Superuser   bool                 `json:"superuser"`
	Permissions models.PermissionMap `json:"permissions"`
}

// Check reports whether the user may perform action on resource. Superusers
// and holders of the Admin role pass unconditionally; everyone else is
// checked against the union of their effective assignments.
func (s *PermissionService) Check(ctx context.Context, userID uuid.UUID, resource, action string) (bool, error) {
	entry, err := s.resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	if entry.superuser {
		return true, nil
	}
	return entry.perms.Has(resource, action), nil
}

// Effective returns the user's full resolved permission map. Superusers get
// the whole catalogue.
func (s *PermissionService) Effective(ctx context.Context, userID uuid.UUID) (models.PermissionMap, error) {
	entry, err := s.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry.superuser {
		return models.FullCatalog(), nil
	}
	// Return a copy so callers cannot mutate the cache.
	out := make(models.PermissionMap, len(entry.perms))
	out.Merge(entry.perms)
	return out, nil
}

// InvalidateUser drops the user's cached permissions at both layers. Callers
// invoke it after any role or assignment change touching the user.
func (s *PermissionService) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	s.mu.Lock()
	delete(s.local, userID)
	s.mu.Unlock()

	if err := s.store.Delete(ctx, permCacheKey(userID)); err != nil {
		s.logger.Warn("permission cache invalidation failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// InvalidateRole fans invalidation out to every holder of the role.
func (s *PermissionService) InvalidateRole(ctx context.Context, roleID uuid.UUID) error {
	userIDs, err := s.roles.AffectedUsers(ctx, roleID)
	if err != nil {
		return fmt.Errorf("resolving affected users: %w", err)
	}
	for _, id := range userIDs {
		s.InvalidateUser(ctx, id)
	}
	return nil
}

func (s *PermissionService) resolve(ctx context.Context, userID uuid.UUID) (localPermEntry, error) {
	now := time.Now()

	s.mu.RLock()
	if entry, ok := s.local[userID]; ok && entry.expiresAt.After(now) {
		s.mu.RUnlock()
		return entry, nil
	}
	s.mu.RUnlock()

	var cached cachedPermissions
	err := s.store.GetJSON(ctx, permCacheKey(userID), &cached)
	if err == nil {
		entry := localPermEntry{perms: cached.Permissions, superuser: cached.Superuser, expiresAt: now.Add(time.Minute)}
		s.remember(userID, entry)
		return entry, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		s.logger.Warn("permission cache read failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	entry, err := s.resolveFromStore(ctx, userID, now)
	if err != nil {
		return localPermEntry{}, err
	}

	cacheErr := s.store.SetJSON(ctx, permCacheKey(userID), cachedPermissions{
		Superuser:   entry.superuser,
		Permissions: entry.perms,
	}, permissionCacheTTL)
	if cacheErr != nil {
		s.logger.Warn("permission cache write failed",
			zap.String("user_id", userID.String()), zap.Error(cacheErr))
	}
	s.remember(userID, entry)
	return entry, nil
}

func (s *PermissionService) resolveFromStore(ctx context.Context, userID uuid.UUID, now time.Time) (localPermEntry, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return localPermEntry{}, err
	}
	if !user.IsActive {
		return localPermEntry{}, domainErrors.ErrAccountInactive
	}
	if user.IsSuperuser {
		return localPermEntry{superuser: true, expiresAt: now.Add(time.Minute)}, nil
	}

	assignments, err := s.roles.ListAssignmentsForUser(ctx, userID)
	if err != nil {
		return localPermEntry{}, err
	}

	perms := make(models.PermissionMap)
	superuser := false
	for _, a := range assignments {
		if !a.Effective(now) {
			continue
		}
		role, err := s.roles.GetRoleByID(ctx, a.RoleID)
		if err != nil {
			if domainErrors.IsNotFound(err) {
				continue
			}
			return localPermEntry{}, err
		}
		if !role.IsActive {
			continue
		}
		if role.Name == models.AdminRoleName {
			superuser = true
			break
		}
		perms.Merge(role.Permissions)
	}

	return localPermEntry{perms: perms, superuser: superuser, expiresAt: now.Add(time.Minute)}, nil
}

func (s *PermissionService) remember(userID uuid.UUID, entry localPermEntry) {
	s.mu.Lock()
	s.local[userID] = entry
	s.mu.Unlock()
}

func permCacheKey(userID uuid.UUID) string {
	return "user_permissions:" + userID.String()
}
