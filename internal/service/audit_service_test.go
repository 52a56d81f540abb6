package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/domain/models"
)

type recordingPublisher struct {
	published []*models.AuditEvent
	fail      bool
}

func (p *recordingPublisher) Publish(_ context.Context, event *models.AuditEvent) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, event)
	return nil
}

func TestEmitFillsDefaults(t *testing.T) {
	repo := &memAuditRepo{}
	svc := newTestAudit(repo)
	userID := uuid.New()

	require.NoError(t, svc.Emit(context.Background(), &models.AuditEvent{
		Action:      models.AuditLoginSucceeded,
		Description: "login succeeded",
		UserID:      &userID,
	}))

	require.Len(t, repo.events, 1)
	ev := repo.events[0]
	assert.Len(t, ev.ID, 26)
	assert.Equal(t, models.SeverityLow, ev.Severity)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEmitIDsAreMonotonic(t *testing.T) {
	repo := &memAuditRepo{}
	svc := newTestAudit(repo)

	var prev string
	for i := 0; i < 100; i++ {
		require.NoError(t, svc.Emit(context.Background(), &models.AuditEvent{
			Action:      models.AuditLogout,
			Description: "logout",
		}))
		id := repo.events[i].ID
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestEmitPublishes(t *testing.T) {
	repo := &memAuditRepo{}
	pub := &recordingPublisher{}
	svc := NewAuditService(repo, pub, zap.NewNop())

	require.NoError(t, svc.Emit(context.Background(), &models.AuditEvent{
		Action:      models.AuditLogout,
		Description: "logout",
	}))
	assert.Len(t, pub.published, 1)
}

func TestEmitSurvivesPublisherFailure(t *testing.T) {
	repo := &memAuditRepo{}
	pub := &recordingPublisher{fail: true}
	svc := NewAuditService(repo, pub, zap.NewNop())

	// The database append is the durability point; the stream is best effort.
	require.NoError(t, svc.Emit(context.Background(), &models.AuditEvent{
		Action:      models.AuditLogout,
		Description: "logout",
	}))
	assert.Len(t, repo.events, 1)
}

func TestStats(t *testing.T) {
	repo := &memAuditRepo{}
	svc := newTestAudit(repo)
	ctx := context.Background()

	emit := func(action models.AuditAction, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, svc.Emit(ctx, &models.AuditEvent{Action: action, Description: "x"}))
		}
	}
	emit(models.AuditLoginSucceeded, 3)
	emit(models.AuditLoginFailed, 2)
	emit(models.AuditAccountLocked, 1)
	emit(models.AuditLogout, 4)

	stats, err := svc.Stats(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Succeeded)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Lockouts)
}

func TestApplyRetention(t *testing.T) {
	repo := &memAuditRepo{}
	svc := newTestAudit(repo)
	ctx := context.Background()

	require.NoError(t, svc.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditLogout,
		Description: "old",
		Timestamp:   time.Now().AddDate(0, 0, -100),
	}))
	require.NoError(t, svc.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditLogout,
		Description: "recent",
	}))

	deleted, err := svc.ApplyRetention(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, repo.events, 1)
}
