package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
	"github.com/schoolcore/identity-service/internal/utils/random"
)

// Verification channels, shared with the repository layer.
const (
	ChannelEmail = models.VerificationChannelEmail
	ChannelSMS   = models.VerificationChannelSMS
)

const otpLength = 6

// Notifier delivers verification codes and password reset tokens. The
// messaging platform implements it; tests substitute a recorder.
type Notifier interface {
	SendEmailOTP(ctx context.Context, email, code string) error
	SendSMSOTP(ctx context.Context, phone, code string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// VerificationService issues and checks one-time codes for email and phone
// ownership (C9). All OTP state lives in redis with TTLs; nothing is
// persisted.
type VerificationService struct {
	users    repository.UserRepository
	store    *kv.Store
	notifier Notifier
	audit    *AuditService
	cfg      config.VerificationConfig
	logger   *zap.Logger
}

func NewVerificationService(users repository.UserRepository, store *kv.Store, notifier Notifier, audit *AuditService, cfg config.VerificationConfig, logger *zap.Logger) *VerificationService {
	return &VerificationService{users: users, store: store, notifier: notifier, audit: audit, cfg: cfg, logger: logger}
}

type otpState struct {
	Code     string `json:"code"`
	Attempts int    `json:"attempts"`
}

// Send issues a code over the channel. The force flag (admin resend) skips
// cooldown and daily caps but never the delivery itself. An SMS delivery
// failure falls back to email when the account has one.
func (s *VerificationService) Send(ctx context.Context, userID uuid.UUID, channel string, force bool) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	switch channel {
	case ChannelEmail:
		if user.EmailVerified {
			return domainErrors.ErrAlreadyVerified
		}
	case ChannelSMS:
		if user.Phone == nil {
			return domainErrors.NewAppError(domainErrors.ErrInvalidInput,
				"account has no phone number", domainErrors.CodeValidation)
		}
		if user.PhoneVerified {
			return domainErrors.ErrAlreadyVerified
		}
	default:
		return domainErrors.NewAppError(domainErrors.ErrInvalidInput,
			"unknown verification channel", domainErrors.CodeValidation)
	}

	if !force {
		if err := s.checkCooldown(ctx, userID, channel); err != nil {
			return err
		}
		if err := s.checkDailyCap(ctx, userID, channel); err != nil {
			return err
		}
	}

	code, err := random.Digits(otpLength)
	if err != nil {
		return fmt.Errorf("generating otp: %w", err)
	}

	if err := s.store.SetJSON(ctx, otpKey(userID, channel), otpState{Code: code}, s.cfg.OTPExpiry); err != nil {
		return err
	}
	if err := s.store.Set(ctx, cooldownKey(userID, channel), "1", s.cfg.SendCooldown); err != nil {
		s.logger.Warn("otp cooldown write failed", zap.Error(err))
	}

	deliveredChannel := channel
	if err := s.deliver(ctx, user, channel, code); err != nil {
		if channel == ChannelSMS && user.Email != "" {
			s.logger.Warn("sms delivery failed, falling back to email",
				zap.String("user_id", userID.String()), zap.Error(err))
			if err := s.store.SetJSON(ctx, otpKey(userID, ChannelEmail), otpState{Code: code}, s.cfg.OTPExpiry); err != nil {
				return err
			}
			if ferr := s.notifier.SendEmailOTP(ctx, user.Email, code); ferr != nil {
				return domainErrors.NewAppError(domainErrors.ErrUpstream,
					"verification delivery failed", domainErrors.CodeUpstream)
			}
			deliveredChannel = ChannelEmail
		} else {
			return domainErrors.NewAppError(domainErrors.ErrUpstream,
				"verification delivery failed", domainErrors.CodeUpstream)
		}
	}

	if _, err := s.store.IncrWithTTL(ctx, dailyKey(userID, deliveredChannel), untilMidnight()); err != nil {
		s.logger.Warn("otp daily counter failed", zap.Error(err))
	}

	if err := s.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditOTPSent,
		Description: fmt.Sprintf("verification code sent over %s", deliveredChannel),
		UserID:      &userID,
		Extras:      map[string]any{"channel": deliveredChannel, "forced": force},
	}); err != nil {
		s.logger.Warn("otp audit failed", zap.Error(err))
	}
	return nil
}

// Verify checks a submitted code. Each wrong attempt is counted; exceeding
// the attempt budget burns the code.
func (s *VerificationService) Verify(ctx context.Context, userID uuid.UUID, channel, code string) error {
	key := otpKey(userID, channel)

	var state otpState
	if err := s.store.GetJSON(ctx, key, &state); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return domainErrors.ErrCodeExpired
		}
		return err
	}

	if state.Attempts >= s.cfg.MaxAttempts {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("otp cleanup failed", zap.Error(err))
		}
		return domainErrors.ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(state.Code), []byte(code)) != 1 {
		state.Attempts++
		ttl, terr := s.store.TTL(ctx, key)
		if terr != nil || ttl <= 0 {
			ttl = s.cfg.OTPExpiry
		}
		if err := s.store.SetJSON(ctx, key, state, ttl); err != nil {
			s.logger.Warn("otp attempt count write failed", zap.Error(err))
		}
		if state.Attempts >= s.cfg.MaxAttempts {
			return domainErrors.ErrTooManyAttempts
		}
		remaining := s.cfg.MaxAttempts - state.Attempts
		return domainErrors.NewAppError(domainErrors.ErrInvalidCode,
			fmt.Sprintf("invalid verification code, %d attempts remaining", remaining),
			domainErrors.CodeInvalidCode)
	}

	// Persist the flag before consuming the code so a storage failure leaves
	// the code usable for a retry.
	if err := s.users.SetVerified(ctx, userID, channel); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("otp cleanup failed", zap.Error(err))
	}

	action := models.AuditEmailVerified
	if channel == ChannelSMS {
		action = models.AuditPhoneVerified
	}
	if err := s.audit.Emit(ctx, &models.AuditEvent{
		Action:      action,
		Description: fmt.Sprintf("%s ownership verified", channel),
		UserID:      &userID,
	}); err != nil {
		s.logger.Warn("verification audit failed", zap.Error(err))
	}
	return nil
}

func (s *VerificationService) deliver(ctx context.Context, user *models.User, channel, code string) error {
	if channel == ChannelSMS {
		return s.notifier.SendSMSOTP(ctx, *user.Phone, code)
	}
	return s.notifier.SendEmailOTP(ctx, user.Email, code)
}

func (s *VerificationService) checkCooldown(ctx context.Context, userID uuid.UUID, channel string) error {
	active, err := s.store.Exists(ctx, cooldownKey(userID, channel))
	if err != nil {
		return err
	}
	if active {
		retry, _ := s.store.TTL(ctx, cooldownKey(userID, channel))
		return domainErrors.NewAppError(domainErrors.ErrCooldownActive,
			fmt.Sprintf("wait %s before requesting another code", retry.Round(time.Second)),
			domainErrors.CodeCooldownActive)
	}
	return nil
}

func (s *VerificationService) checkDailyCap(ctx context.Context, userID uuid.UUID, channel string) error {
	limit := s.cfg.EmailDailyCap
	if channel == ChannelSMS {
		limit = s.cfg.SMSDailyCap
	}
	if limit <= 0 {
		return nil
	}
	count, err := s.store.Get(ctx, dailyKey(userID, channel))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	}
	var n int
	if _, err := fmt.Sscanf(count, "%d", &n); err != nil {
		return nil
	}
	if n >= limit {
		return domainErrors.NewAppError(domainErrors.ErrDailyLimitExceeded,
			fmt.Sprintf("daily %s verification limit reached", channel),
			domainErrors.CodeDailyLimit)
	}
	return nil
}

// untilMidnight sizes the daily counter's window so it resets with the
// calendar day.
func untilMidnight() time.Duration {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return midnight.Sub(now)
}

func otpKey(userID uuid.UUID, channel string) string {
	return fmt.Sprintf("otp:%s:%s", channel, userID)
}

func cooldownKey(userID uuid.UUID, channel string) string {
	return fmt.Sprintf("otp_cooldown:%s:%s", channel, userID)
}

func dailyKey(userID uuid.UUID, channel string) string {
	return fmt.Sprintf("otp_daily:%s:%s", channel, userID)
}
