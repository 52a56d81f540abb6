package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/service"
)

// Runner drives the periodic maintenance jobs: idle session sweep, role
// assignment expiry, audit retention, and the session anomaly scan. Each job
// runs on its own ticker; a failed run is logged and retried on the next
// tick.
type Runner struct {
	sessions *service.SessionService
	roles    *service.RoleService
	audit    *service.AuditService
	logger   *zap.Logger

	retentionDays int
}

func NewRunner(sessions *service.SessionService, roles *service.RoleService, audit *service.AuditService, retentionDays int, logger *zap.Logger) *Runner {
	return &Runner{
		sessions:      sessions,
		roles:         roles,
		audit:         audit,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start launches all jobs. They stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx, "session_sweep", 5*time.Minute, r.sweepSessions)
	go r.loop(ctx, "assignment_expiry", 15*time.Minute, r.expireAssignments)
	go r.loop(ctx, "anomaly_scan", 30*time.Minute, r.scanAnomalies)
	go r.loop(ctx, "audit_retention", 24*time.Hour, r.applyRetention)
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker stopped", zap.String("job", name))
			return
		case <-ticker.C:
			if err := job(ctx); err != nil {
				r.logger.Error("worker run failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}

func (r *Runner) sweepSessions(ctx context.Context) error {
	n, err := r.sessions.SweepIdle(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("idle sessions terminated", zap.Int("count", n))
	}
	return nil
}

func (r *Runner) expireAssignments(ctx context.Context) error {
	n, err := r.roles.ExpireAssignments(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("expired role assignments deactivated", zap.Int("users", n))
	}
	return nil
}

func (r *Runner) scanAnomalies(ctx context.Context) error {
	anomalies, err := r.sessions.DetectAnomalies(ctx, time.Hour)
	if err != nil {
		return err
	}
	if len(anomalies) > 0 {
		r.logger.Warn("session anomalies detected", zap.Int("count", len(anomalies)))
	}
	return nil
}

func (r *Runner) applyRetention(ctx context.Context) error {
	if r.retentionDays <= 0 {
		return nil
	}
	n, err := r.audit.ApplyRetention(ctx, r.retentionDays)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("old audit events deleted", zap.Int64("count", n))
	}
	return nil
}
