package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Timeout:             30 * time.Minute,
		MaxConcurrent:       3,
		TouchInterval:       time.Minute,
		TerminateOnUAChange: true,
	}
}

type sessionFixture struct {
	svc     *SessionService
	repo    *memSessionRepo
	audit   *memAuditRepo
	forward func(time.Duration)
	user    *models.User
}

func newSessionFixture(t *testing.T, cfg config.SessionConfig) *sessionFixture {
	t.Helper()
	store, mr := newTestKV(t)
	repo := newMemSessionRepo()
	auditRepo := &memAuditRepo{}
	svc := NewSessionService(repo, store, newTestAudit(auditRepo), cfg, zap.NewNop())
	user := &models.User{ID: uuid.New(), Username: "jdoe", IsActive: true}
	return &sessionFixture{svc: svc, repo: repo, audit: auditRepo, forward: mr.FastForward, user: user}
}

func requestCtx(ip, ua string) models.RequestContext {
	return models.RequestContext{IPAddress: ip, UserAgent: ua}
}

func TestCreateSession(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())

	session, err := f.svc.Create(context.Background(), f.user,
		requestCtx("10.0.0.1", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0"))
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionKey)
	assert.True(t, session.IsActive)
	assert.Equal(t, "10.0.0.1", session.IPAddress)
	assert.NotEmpty(t, session.DeviceType)
	assert.True(t, f.audit.hasAction(models.AuditSessionCreated))
}

func TestConcurrencyCapEvictsOldestActivity(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())
	ctx := context.Background()
	rc := requestCtx("10.0.0.1", "ua")

	var keys []string
	for i := 0; i < 3; i++ {
		s, err := f.svc.Create(ctx, f.user, rc)
		require.NoError(t, err)
		keys = append(keys, s.SessionKey)
	}

	// Freshen the first session so the second becomes the eviction victim.
	require.NoError(t, f.repo.Touch(ctx, keys[0], time.Now().Add(time.Minute)))

	_, err := f.svc.Create(ctx, f.user, rc)
	require.NoError(t, err)

	evicted, err := f.repo.GetByKey(ctx, keys[1])
	require.NoError(t, err)
	assert.False(t, evicted.IsActive)
	assert.Equal(t, models.SessionReasonConcurrentLimit, evicted.EndReason)

	survivor, err := f.repo.GetByKey(ctx, keys[0])
	require.NoError(t, err)
	assert.True(t, survivor.IsActive)

	active, err := f.repo.ListActiveForUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestTouchDebounce(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())
	ctx := context.Background()

	session, err := f.svc.Create(ctx, f.user, requestCtx("10.0.0.1", "ua"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Touch(ctx, session.SessionKey))
	first, err := f.repo.GetByKey(ctx, session.SessionKey)
	require.NoError(t, err)

	// Within the interval the repo write is skipped.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.svc.Touch(ctx, session.SessionKey))
	second, err := f.repo.GetByKey(ctx, session.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, first.LastActivity, second.LastActivity)

	// Past the interval the write goes through.
	f.forward(2 * time.Minute)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.svc.Touch(ctx, session.SessionKey))
	third, err := f.repo.GetByKey(ctx, session.SessionKey)
	require.NoError(t, err)
	assert.True(t, third.LastActivity.After(first.LastActivity))
}

func TestRevalidateOK(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())
	ctx := context.Background()
	rc := requestCtx("10.0.0.1", "ua")

	session, err := f.svc.Create(ctx, f.user, rc)
	require.NoError(t, err)

	result, got, err := f.svc.Revalidate(ctx, session.SessionKey, rc)
	require.NoError(t, err)
	assert.Equal(t, models.RevalidateOK, result)
	assert.Equal(t, session.ID, got.ID)
}

func TestRevalidateUnknownKey(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())

	result, _, err := f.svc.Revalidate(context.Background(), "nope", requestCtx("10.0.0.1", "ua"))
	assert.Equal(t, models.RevalidateExpired, result)
	assert.ErrorIs(t, err, domainErrors.ErrSessionNotFound)
}

func TestRevalidateIdleTimeout(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Timeout = time.Minute
	f := newSessionFixture(t, cfg)
	ctx := context.Background()
	rc := requestCtx("10.0.0.1", "ua")

	session, err := f.svc.Create(ctx, f.user, rc)
	require.NoError(t, err)

	// Backdate the activity past the idle timeout.
	f.repo.mu.Lock()
	f.repo.sessions[session.SessionKey].LastActivity = time.Now().Add(-2 * time.Minute)
	f.repo.mu.Unlock()

	result, _, err := f.svc.Revalidate(ctx, session.SessionKey, rc)
	assert.Equal(t, models.RevalidateExpired, result)
	assert.ErrorIs(t, err, domainErrors.ErrSessionExpired)

	ended, err := f.repo.GetByKey(ctx, session.SessionKey)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	assert.Equal(t, models.SessionReasonTimeout, ended.EndReason)
}

func TestRevalidateUAChangeTerminates(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())
	ctx := context.Background()

	session, err := f.svc.Create(ctx, f.user, requestCtx("10.0.0.1", "ua-original"))
	require.NoError(t, err)

	result, _, err := f.svc.Revalidate(ctx, session.SessionKey, requestCtx("10.0.0.1", "ua-different"))
	assert.Equal(t, models.RevalidateSuspicious, result)
	assert.ErrorIs(t, err, domainErrors.ErrSessionSuspicious)

	ended, err := f.repo.GetByKey(ctx, session.SessionKey)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	assert.Equal(t, models.SessionReasonUAChange, ended.EndReason)
	assert.True(t, f.audit.hasAction(models.AuditSuspicious))
}

func TestRevalidateIPChangeLogsButContinues(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())
	ctx := context.Background()

	session, err := f.svc.Create(ctx, f.user, requestCtx("10.0.0.1", "ua"))
	require.NoError(t, err)

	result, got, err := f.svc.Revalidate(ctx, session.SessionKey, requestCtx("10.0.0.2", "ua"))
	require.NoError(t, err)
	assert.Equal(t, models.RevalidateOK, result)
	assert.Equal(t, "10.0.0.2", got.IPAddress)
	assert.True(t, f.audit.hasAction(models.AuditSuspicious))

	stored, err := f.repo.GetByKey(ctx, session.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", stored.IPAddress)
	assert.True(t, stored.IsActive)
}

func TestTerminateAllForUserSparesCurrent(t *testing.T) {
	f := newSessionFixture(t, testSessionConfig())
	ctx := context.Background()
	rc := requestCtx("10.0.0.1", "ua")

	var keys []string
	for i := 0; i < 3; i++ {
		s, err := f.svc.Create(ctx, f.user, rc)
		require.NoError(t, err)
		keys = append(keys, s.SessionKey)
	}

	n, err := f.svc.TerminateAllForUser(ctx, f.user.ID, keys[2], models.SessionReasonPasswordChange)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	current, err := f.repo.GetByKey(ctx, keys[2])
	require.NoError(t, err)
	assert.True(t, current.IsActive)
}

func TestSweepIdle(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Timeout = time.Minute
	f := newSessionFixture(t, cfg)
	ctx := context.Background()

	session, err := f.svc.Create(ctx, f.user, requestCtx("10.0.0.1", "ua"))
	require.NoError(t, err)
	f.repo.mu.Lock()
	f.repo.sessions[session.SessionKey].LastActivity = time.Now().Add(-2 * time.Minute)
	f.repo.mu.Unlock()

	n, err := f.svc.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDetectAnomalies(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxConcurrent = 0
	cfg.MaxCountries = 2
	cfg.MinInterSessionSecs = 30
	cfg.MaxDurationHours = 24
	f := newSessionFixture(t, cfg)
	ctx := context.Background()

	now := time.Now()
	mkSession := func(userID uuid.UUID, country string, createdAt time.Time) {
		require.NoError(t, f.repo.Create(ctx, &models.Session{
			ID:           uuid.New(),
			SessionKey:   uuid.NewString(),
			UserID:       userID,
			Country:      country,
			CreatedAt:    createdAt,
			LastActivity: now,
			IsActive:     true,
		}))
	}

	roamer := uuid.New()
	mkSession(roamer, "KE", now.Add(-50*time.Minute))
	mkSession(roamer, "DE", now.Add(-40*time.Minute))
	mkSession(roamer, "US", now.Add(-30*time.Minute))

	burster := uuid.New()
	mkSession(burster, "KE", now.Add(-10*time.Minute))
	mkSession(burster, "KE", now.Add(-10*time.Minute).Add(5*time.Second))

	ancient := uuid.New()
	mkSession(ancient, "KE", now.Add(-48*time.Hour))

	anomalies, err := f.svc.DetectAnomalies(ctx, time.Hour)
	require.NoError(t, err)

	types := make(map[string]int)
	for _, a := range anomalies {
		types[a.Type]++
	}
	assert.Equal(t, 1, types["multi_country"])
	assert.Equal(t, 1, types["rapid_creation"])
	assert.Equal(t, 1, types["long_lived"])
}
