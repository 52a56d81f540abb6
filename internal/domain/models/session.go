package models

import (
	"time"

	"github.com/google/uuid"
)

// Termination reasons recorded on a session row.
const (
	SessionReasonLogout          = "logout"
	SessionReasonTimeout         = "timeout"
	SessionReasonConcurrentLimit = "concurrent_limit"
	SessionReasonPasswordChange  = "password_change"
	SessionReasonUAChange        = "ua_change"
	SessionReasonSecurity        = "security"
	SessionReasonAdmin           = "admin"
)

// Session tracks one authenticated browser or device.
type Session struct {
	ID         uuid.UUID `json:"id"`
	SessionKey string    `json:"session_key"`
	UserID     uuid.UUID `json:"user_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`

	// Denormalised from the user agent at creation time.
	DeviceType string `json:"device_type"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	Country    string `json:"country,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
	EndReason    string    `json:"end_reason,omitempty"`
}

// Expired reports whether the session has been idle past timeout.
func (s *Session) Expired(timeout time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > timeout
}

// RevalidateResult is the outcome of re-checking a live session.
type RevalidateResult string

const (
	RevalidateOK         RevalidateResult = "ok"
	RevalidateExpired    RevalidateResult = "expired"
	RevalidateSuspicious RevalidateResult = "suspicious"
)

// SessionAnomaly describes a finding from the anomaly sweep.
type SessionAnomaly struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}
