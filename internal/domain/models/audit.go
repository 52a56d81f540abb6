package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the recorded action kinds.
type AuditAction string

const (
	AuditUserCreated      AuditAction = "user_created"
	AuditUserUpdated      AuditAction = "user_updated"
	AuditUserDeactivated  AuditAction = "user_deactivated"
	AuditLoginSucceeded   AuditAction = "login_succeeded"
	AuditLoginFailed      AuditAction = "login_failed"
	AuditLogout           AuditAction = "logout"
	AuditPasswordChanged  AuditAction = "password_changed"
	AuditPasswordReset    AuditAction = "password_reset"
	AuditAccountLocked    AuditAction = "account_locked"
	AuditAccountUnlocked  AuditAction = "account_unlocked"
	AuditRoleCreated      AuditAction = "role_created"
	AuditRoleUpdated      AuditAction = "role_updated"
	AuditRoleDeleted      AuditAction = "role_deleted"
	AuditRoleAssigned     AuditAction = "role_assigned"
	AuditRoleRemoved      AuditAction = "role_removed"
	AuditSessionCreated   AuditAction = "session_created"
	AuditSessionEnded     AuditAction = "session_terminated"
	AuditEmailVerified    AuditAction = "email_verified"
	AuditPhoneVerified    AuditAction = "phone_verified"
	AuditOTPSent          AuditAction = "verification_sent"
	Audit2FAEnabled       AuditAction = "2fa_enabled"
	Audit2FADisabled      AuditAction = "2fa_disabled"
	AuditSuspicious       AuditAction = "suspicious_activity"
	AuditIPBlacklisted    AuditAction = "ip_blacklisted"
)

// Audit severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// AuditEvent is one append-only record. The ID is a ULID so lexical order
// follows emission order.
type AuditEvent struct {
	ID          string      `json:"id"`
	UserID      *uuid.UUID  `json:"user_id,omitempty"`
	Action      AuditAction `json:"action"`
	Description string      `json:"description"`
	Severity    string      `json:"severity"`

	TargetType *string `json:"target_type,omitempty"`
	TargetID   *string `json:"target_id,omitempty"`

	IPAddress string     `json:"ip_address,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`

	Timestamp time.Time      `json:"timestamp"`
	Extras    map[string]any `json:"extras,omitempty"`

	DataBefore map[string]any `json:"data_before,omitempty"`
	DataAfter  map[string]any `json:"data_after,omitempty"`
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	UserID   *uuid.UUID
	Actions  []AuditAction
	Severity string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
