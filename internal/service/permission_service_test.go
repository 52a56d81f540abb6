package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

func activeUser() *models.User {
	return &models.User{ID: uuid.New(), Username: "jdoe", Email: "jdoe@school.edu", IsActive: true}
}

func assign(t *testing.T, roles *memRoleRepo, userID, roleID uuid.UUID, expires *time.Time) {
	t.Helper()
	require.NoError(t, roles.UpsertAssignment(context.Background(), &models.RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: time.Now(),
		ExpiresAt:  expires,
		IsActive:   true,
	}))
}

func TestCheckSuperuser(t *testing.T) {
	user := activeUser()
	user.IsSuperuser = true
	store, _ := newTestKV(t)
	svc := NewPermissionService(newMemUserRepo(user), newMemRoleRepo(), store, zap.NewNop())

	ok, err := svc.Check(context.Background(), user.ID, "anything", "delete")
	require.NoError(t, err)
	assert.True(t, ok)

	perms, err := svc.Effective(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FullCatalog(), perms)
}

func TestCheckAdminRoleGrantsEverything(t *testing.T) {
	user := activeUser()
	admin := &models.Role{ID: uuid.New(), Name: models.AdminRoleName, IsSystem: true, IsActive: true}
	roles := newMemRoleRepo(admin)
	assign(t, roles, user.ID, admin.ID, nil)
	store, _ := newTestKV(t)
	svc := NewPermissionService(newMemUserRepo(user), roles, store, zap.NewNop())

	ok, err := svc.Check(context.Background(), user.ID, "grades", "delete")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckUnionsAssignments(t *testing.T) {
	user := activeUser()
	teacher := &models.Role{ID: uuid.New(), Name: "Teacher", IsActive: true,
		Permissions: models.PermissionMap{"grades": {"view", "change"}}}
	staff := &models.Role{ID: uuid.New(), Name: "Staff", IsActive: true,
		Permissions: models.PermissionMap{"attendance": {"view"}}}
	roles := newMemRoleRepo(teacher, staff)
	assign(t, roles, user.ID, teacher.ID, nil)
	assign(t, roles, user.ID, staff.ID, nil)
	store, _ := newTestKV(t)
	svc := NewPermissionService(newMemUserRepo(user), roles, store, zap.NewNop())
	ctx := context.Background()

	for _, tc := range []struct {
		resource, action string
		want             bool
	}{
		{"grades", "view", true},
		{"grades", "change", true},
		{"attendance", "view", true},
		{"grades", "delete", false},
		{"attendance", "change", false},
		{"unknown", "view", false},
	} {
		ok, err := svc.Check(ctx, user.ID, tc.resource, tc.action)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "%s:%s", tc.resource, tc.action)
	}
}

func TestCheckIgnoresInactiveAndExpired(t *testing.T) {
	user := activeUser()
	inactiveRole := &models.Role{ID: uuid.New(), Name: "Suspended", IsActive: false,
		Permissions: models.PermissionMap{"grades": {"view"}}}
	expiredRole := &models.Role{ID: uuid.New(), Name: "Temp", IsActive: true,
		Permissions: models.PermissionMap{"attendance": {"view"}}}
	roles := newMemRoleRepo(inactiveRole, expiredRole)
	assign(t, roles, user.ID, inactiveRole.ID, nil)
	past := time.Now().Add(-time.Hour)
	assign(t, roles, user.ID, expiredRole.ID, &past)
	store, _ := newTestKV(t)
	svc := NewPermissionService(newMemUserRepo(user), roles, store, zap.NewNop())
	ctx := context.Background()

	ok, err := svc.Check(ctx, user.ID, "grades", "view")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Check(ctx, user.ID, "attendance", "view")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckInactiveAccount(t *testing.T) {
	user := activeUser()
	user.IsActive = false
	store, _ := newTestKV(t)
	svc := NewPermissionService(newMemUserRepo(user), newMemRoleRepo(), store, zap.NewNop())

	_, err := svc.Check(context.Background(), user.ID, "grades", "view")
	assert.ErrorIs(t, err, domainErrors.ErrAccountInactive)
}

func TestInvalidateUserDropsCache(t *testing.T) {
	user := activeUser()
	teacher := &models.Role{ID: uuid.New(), Name: "Teacher", IsActive: true,
		Permissions: models.PermissionMap{"grades": {"view"}}}
	roles := newMemRoleRepo(teacher)
	assign(t, roles, user.ID, teacher.ID, nil)
	store, _ := newTestKV(t)
	svc := NewPermissionService(newMemUserRepo(user), roles, store, zap.NewNop())
	ctx := context.Background()

	ok, err := svc.Check(ctx, user.ID, "grades", "view")
	require.NoError(t, err)
	require.True(t, ok)

	// Mutate the role under the cache; the stale grant survives until
	// invalidation.
	teacher.Permissions = models.PermissionMap{}
	require.NoError(t, roles.UpdateRole(ctx, teacher))

	ok, err = svc.Check(ctx, user.ID, "grades", "view")
	require.NoError(t, err)
	assert.True(t, ok)

	svc.InvalidateUser(ctx, user.ID)

	ok, err = svc.Check(ctx, user.ID, "grades", "view")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateRoleFansOut(t *testing.T) {
	alice := activeUser()
	bob := &models.User{ID: uuid.New(), Username: "bob", Email: "bob@school.edu", IsActive: true}
	teacher := &models.Role{ID: uuid.New(), Name: "Teacher", IsActive: true,
		Permissions: models.PermissionMap{"grades": {"view"}}}
	roles := newMemRoleRepo(teacher)
	assign(t, roles, alice.ID, teacher.ID, nil)
	assign(t, roles, bob.ID, teacher.ID, nil)
	store, _ := newTestKV(t)
	svc := NewPermissionService(newMemUserRepo(alice, bob), roles, store, zap.NewNop())
	ctx := context.Background()

	for _, id := range []uuid.UUID{alice.ID, bob.ID} {
		ok, err := svc.Check(ctx, id, "grades", "view")
		require.NoError(t, err)
		require.True(t, ok)
	}

	teacher.Permissions = models.PermissionMap{}
	require.NoError(t, roles.UpdateRole(ctx, teacher))
	require.NoError(t, svc.InvalidateRole(ctx, teacher.ID))

	for _, id := range []uuid.UUID{alice.ID, bob.ID} {
		ok, err := svc.Check(ctx, id, "grades", "view")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
