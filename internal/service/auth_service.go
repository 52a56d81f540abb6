package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
	"github.com/schoolcore/identity-service/internal/infrastructure/security"
	"github.com/schoolcore/identity-service/internal/utils/metrics"
	"github.com/schoolcore/identity-service/internal/utils/random"
)

// AuthService orchestrates login, logout, token refresh, registration, and
// password lifecycle (C5). All failure modes of a login collapse into the
// same external error so an attacker learns nothing from the response shape.
type AuthService struct {
	users      repository.UserRepository
	resolver   *IdentifierResolver
	hasher     *security.PasswordHasher
	tokens     *security.TokenService
	purpose    *security.PurposeTokenService
	totp       *security.TOTPService
	sessions   *SessionService
	limiter    *RateLimiter
	audit      *AuditService
	tx         repository.Tx
	lockout    config.LockoutConfig
	password   config.PasswordConfig
	resetTTL   time.Duration
	logger     *zap.Logger
}

type AuthDeps struct {
	Users    repository.UserRepository
	Resolver *IdentifierResolver
	Hasher   *security.PasswordHasher
	Tokens   *security.TokenService
	Purpose  *security.PurposeTokenService
	TOTP     *security.TOTPService
	Sessions *SessionService
	Limiter  *RateLimiter
	Audit    *AuditService
	Tx       repository.Tx
	Lockout  config.LockoutConfig
	Password config.PasswordConfig
	ResetTTL time.Duration
	Logger   *zap.Logger
}

func NewAuthService(d AuthDeps) *AuthService {
	return &AuthService{
		users:    d.Users,
		resolver: d.Resolver,
		hasher:   d.Hasher,
		tokens:   d.Tokens,
		purpose:  d.Purpose,
		totp:     d.TOTP,
		sessions: d.Sessions,
		limiter:  d.Limiter,
		audit:    d.Audit,
		tx:       d.Tx,
		lockout:  d.Lockout,
		password: d.Password,
		resetTTL: d.ResetTTL,
		logger:   d.Logger,
	}
}

// LoginInput is one credential submission.
type LoginInput struct {
	Identifier string
	Password   string
	// TwoFactorCode accompanies the submission when the account requires it.
	TwoFactorCode string
}

// LoginResult is the successful response.
type LoginResult struct {
	User    *models.User      `json:"user"`
	Session *models.Session   `json:"-"`
	Tokens  *models.TokenPair `json:"tokens"`
	// RequiresPasswordChange tells the client to route into the change flow
	// before anything else.
	RequiresPasswordChange bool `json:"requires_password_change,omitempty"`
}

// Login runs the full authentication pipeline: rate check, identifier
// resolution, lockout, password verification, optional second factor, then
// session and token issuance.
func (s *AuthService) Login(ctx context.Context, in LoginInput, rc models.RequestContext) (*LoginResult, error) {
	if _, err := s.limiter.Allow(ctx, BucketLogin, rc.IPAddress, false); err != nil {
		return nil, err
	}

	user, outcome, err := s.checkCredentials(ctx, in, rc)
	s.recordLoginOutcome(ctx, user, in.Identifier, outcome, rc)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, user, rc)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.IssuePair(user, session.SessionKey)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.users.ResetFailed(ctx, user.ID); err != nil {
		s.logger.Warn("failed-attempt reset failed", zap.Error(err))
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("last-login update failed", zap.Error(err))
	}
	s.limiter.Reset(ctx, BucketLogin, rc.IPAddress)

	return &LoginResult{
		User:                   user,
		Session:                session,
		Tokens:                 pair,
		RequiresPasswordChange: outcome == models.AuthRequiresPasswordChange,
	}, nil
}

// checkCredentials classifies the submission. Every non-success path burns
// comparable CPU so timing reveals nothing, and every failure other than the
// explicit lockout and 2FA challenges surfaces as ErrInvalidCredentials.
func (s *AuthService) checkCredentials(ctx context.Context, in LoginInput, rc models.RequestContext) (*models.User, models.AuthOutcome, error) {
	user, _, err := s.resolver.Resolve(ctx, in.Identifier)
	if err != nil {
		if domainErrors.IsNotFound(err) {
			s.hasher.VerifyDummy(ctx, in.Password)
			return nil, models.AuthUserNotFound, domainErrors.ErrInvalidCredentials
		}
		return nil, models.AuthUserNotFound, err
	}

	now := time.Now()

	if user.IsLocked(s.lockout.MaxFailedAttempts, s.lockout.LockoutWindow, now) {
		s.hasher.VerifyDummy(ctx, in.Password)
		return user, models.AuthAccountLocked, domainErrors.NewAppError(domainErrors.ErrAccountLocked,
			"account temporarily locked, try again later", domainErrors.CodeForbidden)
	}

	// A stale counter from a lapsed window must not shorten the next one.
	if user.FailedAttempts > 0 && user.LastFailedAt != nil &&
		now.Sub(*user.LastFailedAt) >= s.lockout.LockoutWindow {
		if err := s.users.ResetFailed(ctx, user.ID); err != nil {
			s.logger.Warn("stale lockout counter reset failed", zap.Error(err))
		}
		user.FailedAttempts = 0
	}

	ok, err := s.hasher.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		return user, models.AuthInvalidCredentials, err
	}
	if !ok {
		return s.handleFailedPassword(ctx, user, rc, now)
	}

	if !user.IsActive {
		return user, models.AuthAccountInactive, domainErrors.ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		if in.TwoFactorCode == "" {
			return user, models.AuthRequires2FA, domainErrors.NewAppError(domainErrors.Err2FARequired,
				"two-factor code required", domainErrors.Code2FARequired)
		}
		if !s.verifySecondFactor(ctx, user, in.TwoFactorCode) {
			return s.handleFailedPassword(ctx, user, rc, now)
		}
	}

	if user.RequiresPasswordChange || user.PasswordExpired(s.password.ExpiryDays, now) {
		return user, models.AuthRequiresPasswordChange, nil
	}
	return user, models.AuthSuccess, nil
}

func (s *AuthService) handleFailedPassword(ctx context.Context, user *models.User, rc models.RequestContext, now time.Time) (*models.User, models.AuthOutcome, error) {
	count, err := s.users.IncrementFailed(ctx, user.ID, now)
	if err != nil {
		s.logger.Warn("failed-attempt increment failed", zap.Error(err))
		count = user.FailedAttempts + 1
	}

	if count >= s.lockout.MaxFailedAttempts {
		if err := s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditAccountLocked,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("account locked after %d failed attempts", count),
			UserID:      &user.ID,
			IPAddress:   rc.IPAddress,
			UserAgent:   rc.UserAgent,
		}); err != nil {
			s.logger.Warn("lockout audit failed", zap.Error(err))
		}
		return user, models.AuthAccountLocked, domainErrors.NewAppError(domainErrors.ErrAccountLocked,
			"account temporarily locked, try again later", domainErrors.CodeForbidden)
	}
	return user, models.AuthInvalidCredentials, domainErrors.ErrInvalidCredentials
}

func (s *AuthService) verifySecondFactor(ctx context.Context, user *models.User, code string) bool {
	if user.TwoFactorSecret != nil && s.totp.ValidateCode(*user.TwoFactorSecret, code) {
		return true
	}
	// Backup codes are single use.
	for i, backup := range user.BackupCodes {
		if backup == code {
			remaining := append(append([]string(nil), user.BackupCodes[:i]...), user.BackupCodes[i+1:]...)
			if err := s.users.SetTwoFactor(ctx, user.ID, true, user.TwoFactorSecret, remaining); err != nil {
				s.logger.Warn("backup code consumption failed", zap.Error(err))
				return false
			}
			return true
		}
	}
	return false
}

func (s *AuthService) recordLoginOutcome(ctx context.Context, user *models.User, identifier string, outcome models.AuthOutcome, rc models.RequestContext) {
	metrics.LoginAttempts.WithLabelValues(string(outcome)).Inc()

	event := &models.AuditEvent{
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
	}
	if user != nil {
		event.UserID = &user.ID
	}

	switch outcome {
	case models.AuthSuccess, models.AuthRequiresPasswordChange:
		event.Action = models.AuditLoginSucceeded
		event.Description = "login succeeded"
	case models.AuthAccountLocked:
		// The lockout transition already emitted its own high-severity event.
		event.Action = models.AuditLoginFailed
		event.Severity = models.SeverityMedium
		event.Description = "login rejected, account locked"
	default:
		event.Action = models.AuditLoginFailed
		event.Severity = models.SeverityMedium
		event.Description = fmt.Sprintf("login failed (%s)", outcome)
		event.Extras = map[string]any{"identifier": maskIdentifier(identifier)}
	}

	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.Warn("login audit failed", zap.Error(err))
	}
}

// Logout ends the session and revokes the refresh token.
func (s *AuthService) Logout(ctx context.Context, claims *security.Claims, refreshToken string, rc models.RequestContext) error {
	if refreshToken != "" {
		refreshClaims, err := s.tokens.Verify(ctx, refreshToken, security.TokenRefresh)
		if err == nil {
			if err := s.tokens.Revoke(ctx, refreshClaims); err != nil {
				s.logger.Warn("refresh revocation failed", zap.Error(err))
			}
		}
	}

	if claims.SessionKey != "" {
		if err := s.sessions.Terminate(ctx, claims.SessionKey, models.SessionReasonLogout, rc); err != nil && !domainErrors.IsNotFound(err) {
			return err
		}
	}

	userID, err := uuid.Parse(claims.UserID)
	if err == nil {
		if err := s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditLogout,
			Description: "logout",
			UserID:      &userID,
			IPAddress:   rc.IPAddress,
		}); err != nil {
			s.logger.Warn("logout audit failed", zap.Error(err))
		}
	}
	return nil
}

// Refresh rotates a refresh token: the old token is revoked and a new pair is
// minted bound to the same session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, rc models.RequestContext) (*models.TokenPair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, security.TokenRefresh)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, domainErrors.ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, domainErrors.ErrInvalidToken
	}
	if !user.IsActive {
		return nil, domainErrors.ErrAccountInactive
	}

	result, _, err := s.sessions.Revalidate(ctx, claims.SessionKey, rc)
	if err != nil || result != models.RevalidateOK {
		if err == nil {
			err = domainErrors.ErrSessionExpired
		}
		return nil, err
	}

	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return nil, err
	}
	return s.tokens.IssuePair(user, claims.SessionKey)
}

// RegisterInput carries a self-service or admin-driven account creation.
type RegisterInput struct {
	Username string
	Email    string
	Phone    *string
	Password string
	ActorID  *uuid.UUID
}

// Register creates an account. The password must satisfy the strength policy
// and the account starts unverified.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, rc models.RequestContext) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" {
		return nil, domainErrors.NewAppError(domainErrors.ErrInvalidInput,
			"username and email are required", domainErrors.CodeValidation)
	}

	if res := security.CheckStrength(in.Password, in.Username, in.Email); !res.Valid {
		return nil, domainErrors.NewAppError(domainErrors.ErrWeakPassword,
			strings.Join(res.Feedback, "; "), domainErrors.CodeValidation)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:                uuid.New(),
		Username:          in.Username,
		Email:             in.Email,
		Phone:             in.Phone,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		IsActive:          true,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditUserCreated,
			Description: "account created",
			UserID:      &user.ID,
			ActorID:     in.ActorID,
			IPAddress:   rc.IPAddress,
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ChangePassword verifies the current password, applies the strength policy,
// rotates the hash, and terminates every other session.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next, keepSessionKey string, rc models.RequestContext) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(ctx, current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return domainErrors.ErrInvalidCredentials
	}

	return s.setPassword(ctx, user, next, keepSessionKey, false, nil, rc, models.AuditPasswordChanged, "password changed")
}

// RequestPasswordReset issues a single-use reset token when the identifier
// resolves. The caller always gets a nil error either way so account
// existence stays hidden; the token reaches the user out of band.
func (s *AuthService) RequestPasswordReset(ctx context.Context, identifier string, rc models.RequestContext, deliver func(ctx context.Context, user *models.User, token string) error) error {
	if _, err := s.limiter.Allow(ctx, BucketPasswordReset, rc.IPAddress, false); err != nil {
		return err
	}

	user, _, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		if domainErrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}

	token, err := s.purpose.Generate(user.ID, security.PurposePasswordReset, s.purposeTTL())
	if err != nil {
		return err
	}
	if deliver != nil {
		if err := deliver(ctx, user, token); err != nil {
			s.logger.Warn("reset token delivery failed",
				zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	if err := s.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditPasswordReset,
		Description: "password reset requested",
		UserID:      &user.ID,
		IPAddress:   rc.IPAddress,
	}); err != nil {
		s.logger.Warn("reset audit failed", zap.Error(err))
	}
	return nil
}

// CompletePasswordReset consumes a reset token and sets the new password.
func (s *AuthService) CompletePasswordReset(ctx context.Context, token, next string, rc models.RequestContext) error {
	info, err := s.purpose.Validate(ctx, token, security.PurposePasswordReset, nil)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, info.UserID)
	if err != nil {
		return err
	}

	if err := s.setPassword(ctx, user, next, "", false, nil, rc, models.AuditPasswordReset, "password reset completed"); err != nil {
		return err
	}
	// A completed reset also clears any lockout.
	if err := s.users.ResetFailed(ctx, user.ID); err != nil {
		s.logger.Warn("lockout clear after reset failed", zap.Error(err))
	}
	return nil
}

// AdminSetPassword sets a temporary password that must be changed at next
// login. CLI and admin-endpoint entry point.
func (s *AuthService) AdminSetPassword(ctx context.Context, userID uuid.UUID, next string, actorID *uuid.UUID, rc models.RequestContext) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.setPassword(ctx, user, next, "", true, actorID, rc, models.AuditPasswordReset, "password set by administrator"); err != nil {
		return err
	}
	if err := s.users.ResetFailed(ctx, user.ID); err != nil {
		s.logger.Warn("lockout clear failed", zap.Error(err))
	}
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, user *models.User, next, keepSessionKey string, requireChange bool, actorID *uuid.UUID, rc models.RequestContext, action models.AuditAction, description string) error {
	if res := security.CheckStrength(next, user.Username, user.Email); !res.Valid {
		return domainErrors.NewAppError(domainErrors.ErrWeakPassword,
			strings.Join(res.Feedback, "; "), domainErrors.CodeValidation)
	}

	same, err := s.hasher.Verify(ctx, next, user.PasswordHash)
	if err != nil {
		return err
	}
	if same {
		return domainErrors.NewAppError(domainErrors.ErrWeakPassword,
			"new password must differ from the current one", domainErrors.CodeValidation)
	}

	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}

	now := time.Now()
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.SetPassword(ctx, user.ID, hash, now, requireChange); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      action,
			Severity:    models.SeverityMedium,
			Description: description,
			UserID:      &user.ID,
			ActorID:     actorID,
			IPAddress:   rc.IPAddress,
		})
	})
	if err != nil {
		return err
	}

	if _, err := s.sessions.TerminateAllForUser(ctx, user.ID, keepSessionKey, models.SessionReasonPasswordChange); err != nil {
		s.logger.Warn("session sweep after password change failed", zap.Error(err))
	}
	return nil
}

// Unlock clears a lockout immediately. Admin and CLI entry point.
func (s *AuthService) Unlock(ctx context.Context, userID uuid.UUID, actorID *uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.ResetFailed(ctx, user.ID); err != nil {
		return err
	}
	return s.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditAccountUnlocked,
		Severity:    models.SeverityMedium,
		Description: "account unlocked by administrator",
		UserID:      &user.ID,
		ActorID:     actorID,
	})
}

// Enable2FA generates a TOTP secret and backup codes. The secret only becomes
// active once Confirm2FA sees a valid code.
func (s *AuthService) Enable2FA(ctx context.Context, userID uuid.UUID) (secret, url string, backupCodes []string, err error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", "", nil, err
	}
	if user.TwoFactorEnabled {
		return "", "", nil, domainErrors.NewAppError(domainErrors.ErrAlreadyExists,
			"two-factor authentication already enabled", domainErrors.CodeConflict)
	}

	secret, url, err = s.totp.GenerateSecret(user.Email)
	if err != nil {
		return "", "", nil, err
	}

	backupCodes = make([]string, 8)
	for i := range backupCodes {
		code, err := random.Digits(8)
		if err != nil {
			return "", "", nil, err
		}
		backupCodes[i] = code
	}

	// Stored disabled until confirmed.
	if err := s.users.SetTwoFactor(ctx, userID, false, &secret, backupCodes); err != nil {
		return "", "", nil, err
	}
	return secret, url, backupCodes, nil
}

// Confirm2FA activates the pending secret after the user proves they hold it.
func (s *AuthService) Confirm2FA(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorSecret == nil {
		return domainErrors.NewAppError(domainErrors.ErrInvalidInput,
			"no pending two-factor setup", domainErrors.CodeValidation)
	}
	if !s.totp.ValidateCode(*user.TwoFactorSecret, code) {
		return domainErrors.ErrInvalid2FACode
	}

	if err := s.users.SetTwoFactor(ctx, userID, true, user.TwoFactorSecret, user.BackupCodes); err != nil {
		return err
	}
	return s.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.Audit2FAEnabled,
		Severity:    models.SeverityMedium,
		Description: "two-factor authentication enabled",
		UserID:      &userID,
	})
}

// Disable2FA removes the second factor after a password re-check.
func (s *AuthService) Disable2FA(ctx context.Context, userID uuid.UUID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return domainErrors.ErrInvalidCredentials
	}

	if err := s.users.SetTwoFactor(ctx, userID, false, nil, nil); err != nil {
		return err
	}
	return s.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.Audit2FADisabled,
		Severity:    models.SeverityHigh,
		Description: "two-factor authentication disabled",
		UserID:      &userID,
	})
}

// Deactivate disables an account and ends all its sessions.
func (s *AuthService) Deactivate(ctx context.Context, userID uuid.UUID, actorID *uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.SetActive(ctx, userID, false); err != nil {
			return err
		}
		return s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditUserDeactivated,
			Severity:    models.SeverityHigh,
			Description: "account deactivated",
			UserID:      &userID,
			ActorID:     actorID,
		})
	})
	if err != nil {
		return err
	}

	if _, err := s.sessions.TerminateAllForUser(ctx, userID, "", models.SessionReasonAdmin); err != nil {
		s.logger.Warn("session sweep after deactivation failed", zap.Error(err))
	}
	return nil
}

func (s *AuthService) purposeTTL() time.Duration {
	if s.resetTTL > 0 {
		return s.resetTTL
	}
	return time.Hour
}

// maskIdentifier redacts the middle of an identifier for audit extras.
func maskIdentifier(identifier string) string {
	if len(identifier) <= 3 {
		return "***"
	}
	return identifier[:2] + "***" + identifier[len(identifier)-1:]
}
