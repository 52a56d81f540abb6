package models

import (
	"time"

	"github.com/google/uuid"
)

// Verification channels accepted by UserRepository.SetVerified and the
// verification service. The SMS channel marks the phone as verified.
const (
	VerificationChannelEmail = "email"
	VerificationChannelSMS   = "sms"
)

// User is the credential-store row backing every principal on the platform.
// Accounts are deactivated, never hard-deleted, while audit events reference
// them.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Phone        *string   `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`

	EmailVerified bool `json:"email_verified"`
	PhoneVerified bool `json:"phone_verified"`

	FailedAttempts int        `json:"-"`
	LastFailedAt   *time.Time `json:"-"`

	PasswordChangedAt      time.Time `json:"password_changed_at"`
	RequiresPasswordChange bool      `json:"requires_password_change"`

	TwoFactorEnabled bool    `json:"two_factor_enabled"`
	TwoFactorSecret  *string `json:"-"`
	BackupCodes      []string `json:"-"`

	IsActive    bool       `json:"is_active"`
	IsSuperuser bool       `json:"is_superuser"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLocked reports whether the account is under an active lockout window.
func (u *User) IsLocked(maxFailed int, window time.Duration, now time.Time) bool {
	if u.FailedAttempts < maxFailed || u.LastFailedAt == nil {
		return false
	}
	return now.Sub(*u.LastFailedAt) < window
}

// PasswordExpired reports whether the password is older than the expiry policy.
func (u *User) PasswordExpired(expiryDays int, now time.Time) bool {
	if expiryDays <= 0 {
		return false
	}
	return now.Sub(u.PasswordChangedAt) > time.Duration(expiryDays)*24*time.Hour
}
