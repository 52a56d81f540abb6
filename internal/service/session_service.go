package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
	"github.com/schoolcore/identity-service/internal/utils/device"
	"github.com/schoolcore/identity-service/internal/utils/metrics"
	"github.com/schoolcore/identity-service/internal/utils/random"
)

// SessionService owns the session lifecycle (C6): creation with a concurrency
// cap, debounced activity touches, revalidation, and termination.
type SessionService struct {
	sessions repository.SessionRepository
	store    *kv.Store
	audit    *AuditService
	cfg      config.SessionConfig
	logger   *zap.Logger
}

func NewSessionService(sessions repository.SessionRepository, store *kv.Store, audit *AuditService, cfg config.SessionConfig, logger *zap.Logger) *SessionService {
	return &SessionService{sessions: sessions, store: store, audit: audit, cfg: cfg, logger: logger}
}

// Create opens a session for the user. When the user is at the concurrency
// cap the session with the oldest activity is evicted first.
func (s *SessionService) Create(ctx context.Context, user *models.User, rc models.RequestContext) (*models.Session, error) {
	if err := s.enforceConcurrencyCap(ctx, user.ID, rc); err != nil {
		return nil, err
	}

	key, err := random.SessionKey()
	if err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	info := device.Parse(rc.UserAgent)
	now := time.Now()
	session := &models.Session{
		ID:           uuid.New(),
		SessionKey:   key,
		UserID:       user.ID,
		IPAddress:    rc.IPAddress,
		UserAgent:    rc.UserAgent,
		DeviceType:   info.DeviceType,
		Browser:      info.Browser,
		OS:           info.OS,
		CreatedAt:    now,
		LastActivity: now,
		IsActive:     true,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	metrics.ActiveSessions.Inc()

	if err := s.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditSessionCreated,
		Description: fmt.Sprintf("session opened from %s", info.Format()),
		UserID:      &user.ID,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
	}); err != nil {
		s.logger.Warn("session creation audit failed", zap.Error(err))
	}
	return session, nil
}

func (s *SessionService) enforceConcurrencyCap(ctx context.Context, userID uuid.UUID, rc models.RequestContext) error {
	if s.cfg.MaxConcurrent <= 0 {
		return nil
	}
	active, err := s.sessions.ListActiveForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(active) < s.cfg.MaxConcurrent {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivity.Before(active[j].LastActivity)
	})
	evict := len(active) - s.cfg.MaxConcurrent + 1
	now := time.Now()
	for _, victim := range active[:evict] {
		if err := s.terminate(ctx, victim, models.SessionReasonConcurrentLimit, now, rc); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a session by key.
func (s *SessionService) Get(ctx context.Context, sessionKey string) (*models.Session, error) {
	return s.sessions.GetByKey(ctx, sessionKey)
}

// ListForUser returns the user's active sessions for the device-management
// view, most recent activity first.
func (s *SessionService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	sessions, err := s.sessions.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// Touch advances last_activity, debounced so a chatty client produces at most
// one write per touch interval.
func (s *SessionService) Touch(ctx context.Context, sessionKey string) error {
	interval := s.cfg.TouchInterval
	if interval <= 0 {
		interval = time.Minute
	}
	fresh, err := s.store.SetNX(ctx, touchKey(sessionKey), "1", interval)
	if err != nil {
		// Debounce failure degrades to a write per request, never to a lost
		// touch.
		s.logger.Warn("session touch debounce unavailable", zap.Error(err))
	} else if !fresh {
		return nil
	}
	return s.sessions.Touch(ctx, sessionKey, time.Now())
}

// Revalidate re-checks a live session mid-lifetime: idle expiry first, then
// client-fingerprint drift. Expired and suspicious sessions are terminated
// before the verdict is returned.
func (s *SessionService) Revalidate(ctx context.Context, sessionKey string, rc models.RequestContext) (models.RevalidateResult, *models.Session, error) {
	session, err := s.sessions.GetByKey(ctx, sessionKey)
	if err != nil {
		if domainErrors.IsNotFound(err) {
			return models.RevalidateExpired, nil, domainErrors.ErrSessionNotFound
		}
		return "", nil, err
	}
	if !session.IsActive {
		return models.RevalidateExpired, session, domainErrors.ErrSessionExpired
	}

	now := time.Now()
	if session.Expired(s.cfg.Timeout, now) {
		if err := s.terminate(ctx, session, models.SessionReasonTimeout, now, rc); err != nil {
			return "", nil, err
		}
		return models.RevalidateExpired, session, domainErrors.ErrSessionExpired
	}

	if s.cfg.TerminateOnUAChange && rc.UserAgent != "" && rc.UserAgent != session.UserAgent {
		if err := s.terminate(ctx, session, models.SessionReasonUAChange, now, rc); err != nil {
			return "", nil, err
		}
		if err := s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditSuspicious,
			Severity:    models.SeverityHigh,
			Description: "user agent changed mid-session",
			UserID:      &session.UserID,
			IPAddress:   rc.IPAddress,
			UserAgent:   rc.UserAgent,
			Extras:      map[string]any{"original_user_agent": session.UserAgent},
		}); err != nil {
			s.logger.Warn("suspicious session audit failed", zap.Error(err))
		}
		return models.RevalidateSuspicious, session, domainErrors.ErrSessionSuspicious
	}

	// An IP change alone is logged, not terminated; mobile clients roam.
	if rc.IPAddress != "" && rc.IPAddress != session.IPAddress {
		if err := s.sessions.UpdateIP(ctx, sessionKey, rc.IPAddress); err != nil {
			s.logger.Warn("session ip update failed", zap.Error(err))
		}
		if err := s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditSuspicious,
			Severity:    models.SeverityMedium,
			Description: "session ip address changed",
			UserID:      &session.UserID,
			IPAddress:   rc.IPAddress,
			Extras:      map[string]any{"previous_ip": session.IPAddress},
		}); err != nil {
			s.logger.Warn("ip change audit failed", zap.Error(err))
		}
		session.IPAddress = rc.IPAddress
	}

	if err := s.Touch(ctx, sessionKey); err != nil {
		s.logger.Warn("session touch failed", zap.Error(err))
	}
	return models.RevalidateOK, session, nil
}

// Terminate ends a single session.
func (s *SessionService) Terminate(ctx context.Context, sessionKey, reason string, rc models.RequestContext) error {
	session, err := s.sessions.GetByKey(ctx, sessionKey)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return nil
	}
	return s.terminate(ctx, session, reason, time.Now(), rc)
}

// TerminateAllForUser ends every active session of the user, optionally
// sparing one key (the session driving the request). Used on password change
// and by admin lockdown.
func (s *SessionService) TerminateAllForUser(ctx context.Context, userID uuid.UUID, exceptKey, reason string) (int, error) {
	n, err := s.sessions.TerminateAllForUser(ctx, userID, exceptKey, reason, time.Now())
	if err != nil {
		return 0, err
	}
	metrics.ActiveSessions.Sub(float64(n))
	if n > 0 {
		if err := s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditSessionEnded,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("%d sessions terminated (%s)", n, reason),
			UserID:      &userID,
			Extras:      map[string]any{"reason": reason, "count": n},
		}); err != nil {
			s.logger.Warn("bulk termination audit failed", zap.Error(err))
		}
	}
	return n, nil
}

func (s *SessionService) terminate(ctx context.Context, session *models.Session, reason string, at time.Time, rc models.RequestContext) error {
	if err := s.sessions.Terminate(ctx, session.SessionKey, reason, at); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, touchKey(session.SessionKey)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		s.logger.Warn("touch key cleanup failed", zap.Error(err))
	}
	metrics.ActiveSessions.Dec()

	severity := models.SeverityLow
	if reason == models.SessionReasonUAChange || reason == models.SessionReasonSecurity {
		severity = models.SeverityHigh
	}
	if err := s.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditSessionEnded,
		Severity:    severity,
		Description: fmt.Sprintf("session terminated (%s)", reason),
		UserID:      &session.UserID,
		IPAddress:   rc.IPAddress,
		Extras:      map[string]any{"reason": reason, "session_id": session.ID.String()},
	}); err != nil {
		s.logger.Warn("termination audit failed", zap.Error(err))
	}
	return nil
}

// SweepIdle terminates sessions idle past timeout. Run periodically by the
// worker as a backstop to lazy revalidation.
func (s *SessionService) SweepIdle(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.Timeout)
	n, err := s.sessions.TerminateIdle(ctx, cutoff, models.SessionReasonTimeout)
	if err != nil {
		return 0, err
	}
	metrics.ActiveSessions.Sub(float64(n))
	return n, nil
}

// DetectAnomalies inspects recent session activity for patterns worth a
// security review: one user spread across many countries, rapid-fire session
// creation, and sessions alive past the maximum plausible duration.
func (s *SessionService) DetectAnomalies(ctx context.Context, window time.Duration) ([]models.SessionAnomaly, error) {
	sessions, err := s.sessions.ListActiveCreatedSince(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	// The long-lived check must see old sessions too, so it scans everything
	// still active.
	allActive, err := s.sessions.ListActiveCreatedSince(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	byUser := make(map[uuid.UUID][]*models.Session)
	for _, sess := range sessions {
		byUser[sess.UserID] = append(byUser[sess.UserID], sess)
	}

	var anomalies []models.SessionAnomaly
	for userID, userSessions := range byUser {
		anomalies = append(anomalies, s.userAnomalies(userID, userSessions)...)
	}
	anomalies = append(anomalies, s.longLivedAnomalies(allActive)...)

	for _, a := range anomalies {
		if err := s.audit.Emit(ctx, &models.AuditEvent{
			Action:      models.AuditSuspicious,
			Severity:    a.Severity,
			Description: a.Description,
			Extras:      a.Details,
		}); err != nil {
			s.logger.Warn("anomaly audit failed", zap.Error(err))
		}
	}
	return anomalies, nil
}

func (s *SessionService) userAnomalies(userID uuid.UUID, sessions []*models.Session) []models.SessionAnomaly {
	var out []models.SessionAnomaly

	if s.cfg.MaxCountries > 0 {
		countries := make(map[string]struct{})
		for _, sess := range sessions {
			if sess.Country != "" {
				countries[sess.Country] = struct{}{}
			}
		}
		if len(countries) > s.cfg.MaxCountries {
			out = append(out, models.SessionAnomaly{
				Type:        "multi_country",
				Severity:    models.SeverityHigh,
				Description: "active sessions from an implausible number of countries",
				Details:     map[string]any{"user_id": userID.String(), "countries": len(countries)},
			})
		}
	}

	if s.cfg.MinInterSessionSecs > 0 && len(sessions) > 1 {
		sorted := append([]*models.Session(nil), sessions...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
		minGap := time.Duration(s.cfg.MinInterSessionSecs) * time.Second
		for i := 1; i < len(sorted); i++ {
			if sorted[i].CreatedAt.Sub(sorted[i-1].CreatedAt) < minGap {
				out = append(out, models.SessionAnomaly{
					Type:        "rapid_creation",
					Severity:    models.SeverityMedium,
					Description: "sessions created faster than a human plausibly logs in",
					Details:     map[string]any{"user_id": userID.String()},
				})
				break
			}
		}
	}

	return out
}

func (s *SessionService) longLivedAnomalies(sessions []*models.Session) []models.SessionAnomaly {
	if s.cfg.MaxDurationHours <= 0 {
		return nil
	}
	maxAge := time.Duration(s.cfg.MaxDurationHours) * time.Hour
	now := time.Now()
	var out []models.SessionAnomaly
	for _, sess := range sessions {
		if now.Sub(sess.CreatedAt) > maxAge {
			out = append(out, models.SessionAnomaly{
				Type:        "long_lived",
				Severity:    models.SeverityMedium,
				Description: "session alive past the maximum plausible duration",
				Details:     map[string]any{"user_id": sess.UserID.String(), "session_id": sess.ID.String()},
			})
		}
	}
	return out
}

func touchKey(sessionKey string) string {
	return "session_touch:" + sessionKey
}
