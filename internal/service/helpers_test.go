package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
)

func newTestKV(t *testing.T) (*kv.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return kv.New(client, "test"), mr
}

// memUserRepo is an in-memory credential store for service tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUserRepo(users ...*models.User) *memUserRepo {
	r := &memUserRepo{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, user.Username) {
			return domainErrors.ErrUsernameExists
		}
		if strings.EqualFold(u.Email, user.Email) {
			return domainErrors.ErrEmailExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domainErrors.ErrUserNotFound
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	return r.findBy(func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.findBy(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memUserRepo) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	return r.findBy(func(u *models.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (r *memUserRepo) findBy(match func(*models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrUserNotFound
}

func (r *memUserRepo) update(id uuid.UUID, fn func(*models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return domainErrors.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (r *memUserRepo) SetPassword(_ context.Context, id uuid.UUID, hash string, changedAt time.Time, requiresChange bool) error {
	return r.update(id, func(u *models.User) {
		u.PasswordHash = hash
		u.PasswordChangedAt = changedAt
		u.RequiresPasswordChange = requiresChange
	})
}

func (r *memUserRepo) IncrementFailed(_ context.Context, id uuid.UUID, at time.Time) (int, error) {
	var count int
	err := r.update(id, func(u *models.User) {
		u.FailedAttempts++
		u.LastFailedAt = &at
		count = u.FailedAttempts
	})
	return count, err
}

func (r *memUserRepo) ResetFailed(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *models.User) {
		u.FailedAttempts = 0
		u.LastFailedAt = nil
	})
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(u *models.User) { u.LastLoginAt = &at })
}

func (r *memUserRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return r.update(id, func(u *models.User) { u.IsActive = active })
}

func (r *memUserRepo) SetVerified(_ context.Context, id uuid.UUID, channel string) error {
	// Mirrors the postgres contract: only the shared channel constants are
	// accepted.
	switch channel {
	case models.VerificationChannelEmail, models.VerificationChannelSMS:
	default:
		return domainErrors.ErrInvalidInput
	}
	return r.update(id, func(u *models.User) {
		if channel == models.VerificationChannelEmail {
			u.EmailVerified = true
		} else {
			u.PhoneVerified = true
		}
	})
}

func (r *memUserRepo) SetTwoFactor(_ context.Context, id uuid.UUID, enabled bool, secret *string, backupCodes []string) error {
	return r.update(id, func(u *models.User) {
		u.TwoFactorEnabled = enabled
		u.TwoFactorSecret = secret
		u.BackupCodes = backupCodes
	})
}

// memRoleRepo is an in-memory role registry for service tests.
type memRoleRepo struct {
	mu          sync.Mutex
	roles       map[uuid.UUID]*models.Role
	assignments []*models.RoleAssignment
}

func newMemRoleRepo(roles ...*models.Role) *memRoleRepo {
	r := &memRoleRepo{roles: make(map[uuid.UUID]*models.Role)}
	for _, role := range roles {
		r.roles[role.ID] = role
	}
	return r
}

func (r *memRoleRepo) CreateRole(_ context.Context, role *models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if strings.EqualFold(existing.Name, role.Name) {
			return domainErrors.ErrAlreadyExists
		}
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	role.CreatedAt = time.Now()
	r.roles[role.ID] = role
	return nil
}

func (r *memRoleRepo) GetRoleByID(_ context.Context, id uuid.UUID) (*models.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[id]; ok {
		cp := *role
		return &cp, nil
	}
	return nil, domainErrors.ErrRoleNotFound
}

func (r *memRoleRepo) GetRoleByName(_ context.Context, name string) (*models.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if strings.EqualFold(role.Name, name) {
			cp := *role
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrRoleNotFound
}

func (r *memRoleRepo) ListRoles(_ context.Context) ([]*models.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Role, 0, len(r.roles))
	for _, role := range r.roles {
		cp := *role
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRoleRepo) UpdateRole(_ context.Context, role *models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role.ID]; !ok {
		return domainErrors.ErrRoleNotFound
	}
	role.UpdatedAt = time.Now()
	r.roles[role.ID] = role
	return nil
}

func (r *memRoleRepo) DeleteRole(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return domainErrors.ErrRoleNotFound
	}
	delete(r.roles, id)
	return nil
}

func (r *memRoleRepo) UpsertAssignment(_ context.Context, a *models.RoleAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			existing.IsActive = a.IsActive
			existing.AssignedAt = a.AssignedAt
			existing.ExpiresAt = a.ExpiresAt
			existing.AssignedBy = a.AssignedBy
			existing.Notes = a.Notes
			return nil
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	r.assignments = append(r.assignments, &cp)
	return nil
}

func (r *memRoleRepo) DeactivateAssignment(_ context.Context, userID, roleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			a.IsActive = false
			return nil
		}
	}
	return domainErrors.ErrNotFound
}

func (r *memRoleRepo) ListAssignmentsForUser(_ context.Context, userID uuid.UUID) ([]*models.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RoleAssignment
	for _, a := range r.assignments {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRoleRepo) AffectedUsers(_ context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for _, a := range r.assignments {
		if a.RoleID == roleID {
			out = append(out, a.UserID)
		}
	}
	return out, nil
}

func (r *memRoleRepo) DeactivateExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var touched []uuid.UUID
	for _, a := range r.assignments {
		if a.IsActive && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			a.IsActive = false
			touched = append(touched, a.UserID)
		}
	}
	return touched, nil
}

// memSessionRepo is an in-memory session store for service tests.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.SessionKey] = &cp
	return nil
}

func (r *memSessionRepo) GetByKey(_ context.Context, sessionKey string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionKey]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domainErrors.ErrSessionNotFound
}

func (r *memSessionRepo) ListActiveForUser(_ context.Context, userID uuid.UUID) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Touch(_ context.Context, sessionKey string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return domainErrors.ErrSessionNotFound
	}
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	return nil
}

func (r *memSessionRepo) UpdateIP(_ context.Context, sessionKey, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return domainErrors.ErrSessionNotFound
	}
	s.IPAddress = ip
	return nil
}

func (r *memSessionRepo) Terminate(_ context.Context, sessionKey, reason string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return domainErrors.ErrSessionNotFound
	}
	s.IsActive = false
	s.EndReason = reason
	return nil
}

func (r *memSessionRepo) TerminateAllForUser(_ context.Context, userID uuid.UUID, exceptKey, reason string, _ time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive && s.SessionKey != exceptKey {
			s.IsActive = false
			s.EndReason = reason
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) TerminateIdle(_ context.Context, cutoff time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.IsActive && s.LastActivity.Before(cutoff) {
			s.IsActive = false
			s.EndReason = reason
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) CountActive(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) ListActiveCreatedSince(_ context.Context, since time.Time) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.IsActive && !s.CreatedAt.Before(since) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memAuditRepo records appended events for assertions.
type memAuditRepo struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (r *memAuditRepo) Append(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *memAuditRepo) Query(_ context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEvent
	for _, ev := range r.events {
		if filter.UserID != nil && (ev.UserID == nil || *ev.UserID != *filter.UserID) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *memAuditRepo) CountByAction(_ context.Context, from, to time.Time) (map[models.AuditAction]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.AuditAction]int64)
	for _, ev := range r.events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		counts[ev.Action]++
	}
	return counts, nil
}

func (r *memAuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*models.AuditEvent
	var deleted int64
	for _, ev := range r.events {
		if ev.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	r.events = kept
	return deleted, nil
}

func (r *memAuditRepo) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

func (r *memAuditRepo) hasAction(action models.AuditAction) bool {
	for _, a := range r.actions() {
		if a == action {
			return true
		}
	}
	return false
}

func newTestAudit(repo *memAuditRepo) *AuditService {
	return NewAuditService(repo, nil, zap.NewNop())
}
