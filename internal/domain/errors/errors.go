package errors

import (
	"errors"
	"fmt"
)

var (
	// General errors.
	ErrInternal      = errors.New("internal server error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrUpstream      = errors.New("upstream service failure")

	// Authentication errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrPasswordChangeRequired = errors.New("password change required")
	ErrWeakPassword       = errors.New("password does not meet the strength policy")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")

	// User uniqueness errors.
	ErrEmailExists    = errors.New("email already in use")
	ErrUsernameExists = errors.New("username already in use")
	ErrPhoneExists    = errors.New("phone number already in use")

	// Role and permission errors.
	ErrRoleNotFound     = errors.New("role not found")
	ErrProtectedRole    = errors.New("system role cannot be modified or deleted")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownPermission = errors.New("unknown resource or action")

	// Session errors.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionSuspicious = errors.New("session flagged as suspicious")

	// Verification errors.
	ErrCodeExpired        = errors.New("verification code expired")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrTooManyAttempts    = errors.New("too many verification attempts")
	ErrCooldownActive     = errors.New("verification cooldown active")
	ErrDailyLimitExceeded = errors.New("daily verification limit exceeded")
	ErrAlreadyVerified    = errors.New("already verified")

	// Two-factor errors.
	ErrInvalid2FACode = errors.New("invalid two-factor code")
	Err2FARequired    = errors.New("two-factor authentication required")
)

// Stable machine codes surfaced to API and CLI consumers.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeExpired         = "EXPIRED"
	CodeProtectedRole   = "PROTECTED_ROLE"
	CodeUpstream        = "UPSTREAM_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
	CodeCodeExpired     = "CODE_EXPIRED"
	CodeInvalidCode     = "INVALID_CODE"
	CodeTooManyAttempts = "TOO_MANY_ATTEMPTS"
	CodeCooldownActive  = "COOLDOWN_ACTIVE"
	CodeDailyLimit      = "DAILY_LIMIT_EXCEEDED"
	Code2FARequired     = "2FA_REQUIRED"
)

// AppError carries a user-facing message and a stable machine code alongside
// the wrapped cause.
type AppError struct {
	Err  error
	Msg  string
	Code string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(err error, msg, code string) *AppError {
	return &AppError{Err: err, Msg: msg, Code: code}
}

// IsNotFound reports whether err is any flavour of "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrEmailExists) ||
		errors.Is(err, ErrUsernameExists) ||
		errors.Is(err, ErrPhoneExists)
}

// IsUnauthorized reports whether err should map to a 401. The login path
// masks user lookup misses as ErrInvalidCredentials before they reach a
// handler, so ErrUserNotFound stays a plain not-found here and admin lookups
// get their 404.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrRevokedToken)
}

// IsForbidden reports whether err should map to a 403.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrAccountLocked)
}

// IsBadRequest reports whether err should map to a 400.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrWeakPassword) ||
		errors.Is(err, ErrUnknownPermission) ||
		errors.Is(err, ErrProtectedRole) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalid2FACode)
}
