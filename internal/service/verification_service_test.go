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

	"github.com/schoolcore/identity-service/internal/config"
	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

// recorderNotifier captures delivered codes and can be told to fail.
type recorderNotifier struct {
	emailCodes  []string
	smsCodes    []string
	resetTokens []string
	failSMS     bool
	failEmail   bool
}

func (n *recorderNotifier) SendPasswordReset(_ context.Context, _, token string) error {
	n.resetTokens = append(n.resetTokens, token)
	return nil
}

func (n *recorderNotifier) SendEmailOTP(_ context.Context, _, code string) error {
	if n.failEmail {
		return errors.New("smtp unavailable")
	}
	n.emailCodes = append(n.emailCodes, code)
	return nil
}

func (n *recorderNotifier) SendSMSOTP(_ context.Context, _, code string) error {
	if n.failSMS {
		return errors.New("sms gateway unavailable")
	}
	n.smsCodes = append(n.smsCodes, code)
	return nil
}

func (n *recorderNotifier) lastEmail() string { return n.emailCodes[len(n.emailCodes)-1] }
func (n *recorderNotifier) lastSMS() string   { return n.smsCodes[len(n.smsCodes)-1] }

func testVerificationConfig() config.VerificationConfig {
	return config.VerificationConfig{
		OTPExpiry:     10 * time.Minute,
		MaxAttempts:   5,
		SendCooldown:  5 * time.Minute,
		EmailDailyCap: 10,
		SMSDailyCap:   5,
	}
}

type verificationFixture struct {
	svc      *VerificationService
	users    *memUserRepo
	notifier *recorderNotifier
	audit    *memAuditRepo
	forward  func(time.Duration)
	user     *models.User
}

func newVerificationFixture(t *testing.T, cfg config.VerificationConfig) *verificationFixture {
	t.Helper()
	phone := "+254712345678"
	user := &models.User{
		ID:       uuid.New(),
		Username: "jdoe",
		Email:    "jdoe@school.edu",
		Phone:    &phone,
		IsActive: true,
	}
	users := newMemUserRepo(user)
	store, mr := newTestKV(t)
	notifier := &recorderNotifier{}
	auditRepo := &memAuditRepo{}
	svc := NewVerificationService(users, store, notifier, newTestAudit(auditRepo), cfg, zap.NewNop())
	return &verificationFixture{svc: svc, users: users, notifier: notifier, audit: auditRepo, forward: mr.FastForward, user: user}
}

func TestSendAndVerifyEmail(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	ctx := context.Background()

	require.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelEmail, false))
	require.Len(t, f.notifier.emailCodes, 1)
	assert.Len(t, f.notifier.lastEmail(), 6)

	require.NoError(t, f.svc.Verify(ctx, f.user.ID, ChannelEmail, f.notifier.lastEmail()))

	updated, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, updated.EmailVerified)
	assert.True(t, f.audit.hasAction(models.AuditEmailVerified))

	// A consumed code cannot be replayed.
	err = f.svc.Verify(ctx, f.user.ID, ChannelEmail, f.notifier.lastEmail())
	assert.ErrorIs(t, err, domainErrors.ErrCodeExpired)
}

func TestSendAndVerifySMS(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	ctx := context.Background()

	require.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelSMS, false))
	require.Len(t, f.notifier.smsCodes, 1)

	require.NoError(t, f.svc.Verify(ctx, f.user.ID, ChannelSMS, f.notifier.lastSMS()))

	updated, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, updated.PhoneVerified)
	assert.True(t, f.audit.hasAction(models.AuditPhoneVerified))
}

func TestSendAlreadyVerified(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	ctx := context.Background()

	require.NoError(t, f.users.SetVerified(ctx, f.user.ID, ChannelEmail))

	err := f.svc.Send(ctx, f.user.ID, ChannelEmail, false)
	assert.ErrorIs(t, err, domainErrors.ErrAlreadyVerified)
}

func TestSendWithoutPhone(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	ctx := context.Background()

	noPhone := &models.User{ID: uuid.New(), Username: "nophone", Email: "np@school.edu", IsActive: true}
	require.NoError(t, f.users.Create(ctx, noPhone))

	err := f.svc.Send(ctx, noPhone.ID, ChannelSMS, false)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}

func TestSendCooldown(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	ctx := context.Background()

	require.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelEmail, false))

	err := f.svc.Send(ctx, f.user.ID, ChannelEmail, false)
	assert.ErrorIs(t, err, domainErrors.ErrCooldownActive)

	f.forward(6 * time.Minute)
	assert.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelEmail, false))
}

func TestSendDailyCap(t *testing.T) {
	cfg := testVerificationConfig()
	cfg.SendCooldown = time.Second
	cfg.EmailDailyCap = 2
	f := newVerificationFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelEmail, false))
		f.forward(2 * time.Second)
	}

	err := f.svc.Send(ctx, f.user.ID, ChannelEmail, false)
	assert.ErrorIs(t, err, domainErrors.ErrDailyLimitExceeded)

	// Forced resends skip the cap.
	assert.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelEmail, true))
}

func TestWrongCodeAttempts(t *testing.T) {
	cfg := testVerificationConfig()
	cfg.MaxAttempts = 3
	f := newVerificationFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelEmail, false))

	for i, want := range []string{"2 attempts remaining", "1 attempts remaining"} {
		err := f.svc.Verify(ctx, f.user.ID, ChannelEmail, "000000")
		assert.ErrorIs(t, err, domainErrors.ErrInvalidCode, "attempt %d", i+1)
		assert.ErrorContains(t, err, want)
	}

	// The third miss exhausts the budget.
	err := f.svc.Verify(ctx, f.user.ID, ChannelEmail, "000000")
	assert.ErrorIs(t, err, domainErrors.ErrTooManyAttempts)

	// Even the right code is dead now.
	err = f.svc.Verify(ctx, f.user.ID, ChannelEmail, f.notifier.lastEmail())
	assert.ErrorIs(t, err, domainErrors.ErrTooManyAttempts)
}

func TestVerifyExpiredCode(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	ctx := context.Background()

	require.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelEmail, false))
	f.forward(11 * time.Minute)

	err := f.svc.Verify(ctx, f.user.ID, ChannelEmail, f.notifier.lastEmail())
	assert.ErrorIs(t, err, domainErrors.ErrCodeExpired)
}

func TestSMSFallbackToEmail(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	f.notifier.failSMS = true
	ctx := context.Background()

	require.NoError(t, f.svc.Send(ctx, f.user.ID, ChannelSMS, false))
	require.Len(t, f.notifier.emailCodes, 1)
	assert.Empty(t, f.notifier.smsCodes)

	// The fallback re-keys the code under the email channel.
	require.NoError(t, f.svc.Verify(ctx, f.user.ID, ChannelEmail, f.notifier.lastEmail()))
}

// failingVerifyRepo refuses to persist verification flags while failing.
type failingVerifyRepo struct {
	*memUserRepo
	fail bool
}

func (r *failingVerifyRepo) SetVerified(ctx context.Context, id uuid.UUID, channel string) error {
	if r.fail {
		return errors.New("connection reset")
	}
	return r.memUserRepo.SetVerified(ctx, id, channel)
}

func TestVerifyKeepsCodeWhenPersistenceFails(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "jdoe", Email: "jdoe@school.edu", IsActive: true}
	users := &failingVerifyRepo{memUserRepo: newMemUserRepo(user), fail: true}
	store, _ := newTestKV(t)
	notifier := &recorderNotifier{}
	svc := NewVerificationService(users, store, notifier, newTestAudit(&memAuditRepo{}), testVerificationConfig(), zap.NewNop())
	ctx := context.Background()
	id := user.ID

	require.NoError(t, svc.Send(ctx, id, ChannelEmail, false))
	require.Error(t, svc.Verify(ctx, id, ChannelEmail, notifier.lastEmail()))

	// The code survived the storage failure and works once storage recovers.
	users.fail = false
	require.NoError(t, svc.Verify(ctx, id, ChannelEmail, notifier.lastEmail()))
	updated, err := users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, updated.EmailVerified)
}

func TestDeliveryFailureSurfaces(t *testing.T) {
	f := newVerificationFixture(t, testVerificationConfig())
	f.notifier.failEmail = true
	ctx := context.Background()

	err := f.svc.Send(ctx, f.user.ID, ChannelEmail, false)
	assert.ErrorIs(t, err, domainErrors.ErrUpstream)
}
