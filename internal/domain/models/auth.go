package models

import "github.com/google/uuid"

// IdentifierKind classifies a raw login identifier.
type IdentifierKind string

const (
	IdentifierEmail     IdentifierKind = "email"
	IdentifierPhone     IdentifierKind = "phone"
	IdentifierAdmission IdentifierKind = "admission_number"
	IdentifierUsername  IdentifierKind = "username"
)

// AuthOutcome is the result of a credential check.
type AuthOutcome string

const (
	AuthSuccess                AuthOutcome = "success"
	AuthUserNotFound           AuthOutcome = "user_not_found"
	AuthAccountInactive        AuthOutcome = "account_inactive"
	AuthAccountLocked          AuthOutcome = "account_locked"
	AuthInvalidCredentials     AuthOutcome = "invalid_credentials"
	AuthRequiresPasswordChange AuthOutcome = "requires_password_change"
	AuthRequires2FA            AuthOutcome = "requires_2fa"
)

// RequestContext carries per-request client facts into the services.
type RequestContext struct {
	IPAddress string
	UserAgent string
	SessionKey string
	RequestID string
}

// TokenPair is the session-token response payload.
type TokenPair struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// Principal is the authenticated user bound to a request. Consumed by the
// surrounding platform subsystems.
type Principal struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	SessionKey  string    `json:"session_key"`
	IsSuperuser bool      `json:"is_superuser"`
}
