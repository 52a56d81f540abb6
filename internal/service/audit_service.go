package service

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
	"github.com/schoolcore/identity-service/internal/utils/metrics"
)

// AuditPublisher fans audit events out to the analytics stream. Publication is
// best effort; the database append is the durability point.
type AuditPublisher interface {
	Publish(ctx context.Context, event *models.AuditEvent) error
}

// AuditService is the single append point for audit events (C10).
type AuditService struct {
	repo      repository.AuditRepository
	publisher AuditPublisher
	logger    *zap.Logger

	// ULID generation must be monotonic within the process so event ids order
	// identically to emission.
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewAuditService(repo repository.AuditRepository, publisher AuditPublisher, logger *zap.Logger) *AuditService {
	return &AuditService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Emit appends an event. When the caller runs inside a transaction the append
// joins it, so the audit row commits atomically with the described change.
func (s *AuditService) Emit(ctx context.Context, event *models.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}
	if event.ID == "" {
		s.mu.Lock()
		id, err := ulid.New(ulid.Timestamp(event.Timestamp), s.entropy)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		event.ID = id.String()
	}

	if err := s.repo.Append(ctx, event); err != nil {
		return err
	}
	metrics.AuditEventsEmitted.WithLabelValues(string(event.Action)).Inc()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("audit event publication failed",
				zap.String("event_id", event.ID),
				zap.String("action", string(event.Action)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Query serves the analytics collaborator and the admin audit endpoints.
func (s *AuditService) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	return s.repo.Query(ctx, filter)
}

// LoginStats summarises sign-in activity over a window.
type LoginStats struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	Lockouts  int64     `json:"lockouts"`
}

// Stats aggregates the login counters for the admin dashboard.
func (s *AuditService) Stats(ctx context.Context, from, to time.Time) (*LoginStats, error) {
	counts, err := s.repo.CountByAction(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &LoginStats{
		From:      from,
		To:        to,
		Succeeded: counts[models.AuditLoginSucceeded],
		Failed:    counts[models.AuditLoginFailed],
		Lockouts:  counts[models.AuditAccountLocked],
	}, nil
}

// ApplyRetention deletes events older than the retention window.
func (s *AuditService) ApplyRetention(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return s.repo.DeleteOlderThan(ctx, cutoff)
}
