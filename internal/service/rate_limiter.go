package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
	"github.com/schoolcore/identity-service/internal/utils/metrics"
)

// Rate-limit bucket names.
const (
	BucketLogin         = "login"
	BucketPasswordReset = "password_reset"
	BucketAPI           = "api"
)

// RateLimiter enforces fixed-window counters per (bucket, subject) in redis
// (C7). Counter checks are capped by a short timeout; on limiter failure the
// security-critical buckets deny and the api bucket allows.
type RateLimiter struct {
	store  *kv.Store
	cfg    config.RateLimitConfig
	audit  *AuditService
	logger *zap.Logger
}

func NewRateLimiter(store *kv.Store, cfg config.RateLimitConfig, audit *AuditService, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{store: store, cfg: cfg, audit: audit, logger: logger}
}

// Decision is the outcome of one rate check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow consumes one unit from the bucket for the subject (an IP or a user
// id). Superuser requests bypass the api bucket but never the login bucket.
func (r *RateLimiter) Allow(ctx context.Context, bucket, subject string, superuser bool) (Decision, error) {
	if !r.cfg.Enabled {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	if superuser && bucket == BucketAPI {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	rule, ok := r.rule(bucket)
	if !ok {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	blocked, err := r.isBlacklisted(ctx, subject)
	if err == nil && blocked {
		metrics.RateLimitRejections.WithLabelValues(bucket).Inc()
		return Decision{Allowed: false, RetryAfter: r.cfg.BlacklistDuration}, domainErrors.ErrRateLimited
	}

	checkCtx, cancel := context.WithTimeout(ctx, r.checkTimeout())
	defer cancel()

	key := rateKey(bucket, subject)
	count, err := r.store.IncrWithTTL(checkCtx, key, rule.Window)
	if err != nil {
		r.logger.Warn("rate limit check failed",
			zap.String("bucket", bucket), zap.Error(err))
		if bucket == BucketAPI {
			// Availability wins for general traffic.
			return Decision{Allowed: true, Remaining: -1}, nil
		}
		// Login and reset fail closed.
		return Decision{Allowed: false}, domainErrors.NewAppError(domainErrors.ErrRateLimited,
			"rate limiter unavailable", domainErrors.CodeRateLimited)
	}

	if count > int64(rule.Limit) {
		metrics.RateLimitRejections.WithLabelValues(bucket).Inc()
		retryAfter, _ := r.store.TTL(ctx, key)
		r.noteSuspicious(ctx, bucket, subject, count)
		return Decision{Allowed: false, RetryAfter: retryAfter}, domainErrors.ErrRateLimited
	}

	return Decision{Allowed: true, Remaining: rule.Limit - int(count)}, nil
}

// Reset clears the subject's counter, used after a successful login so a slow
// typist is not carried into the next window.
func (r *RateLimiter) Reset(ctx context.Context, bucket, subject string) {
	if err := r.store.Delete(ctx, rateKey(bucket, subject)); err != nil {
		r.logger.Warn("rate limit reset failed", zap.String("bucket", bucket), zap.Error(err))
	}
}

// Blacklist blocks the subject outright for the configured duration.
func (r *RateLimiter) Blacklist(ctx context.Context, subject, reason string) error {
	if err := r.store.Set(ctx, blacklistKey(subject), reason, r.cfg.BlacklistDuration); err != nil {
		return err
	}
	return r.audit.Emit(ctx, &models.AuditEvent{
		Action:      models.AuditIPBlacklisted,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("subject blacklisted: %s", reason),
		IPAddress:   subject,
		Extras:      map[string]any{"duration": r.cfg.BlacklistDuration.String()},
	})
}

func (r *RateLimiter) isBlacklisted(ctx context.Context, subject string) (bool, error) {
	return r.store.Exists(ctx, blacklistKey(subject))
}

// noteSuspicious escalates a subject that keeps slamming a limited bucket.
func (r *RateLimiter) noteSuspicious(ctx context.Context, bucket, subject string, count int64) {
	if !r.cfg.AutoBlacklistSuspiciousIPs || r.cfg.SuspiciousThreshold <= 0 {
		return
	}
	rule, _ := r.rule(bucket)
	if count < int64(rule.Limit+r.cfg.SuspiciousThreshold) {
		return
	}
	if err := r.Blacklist(ctx, subject, fmt.Sprintf("excessive %s attempts", bucket)); err != nil {
		r.logger.Warn("auto blacklist failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (r *RateLimiter) rule(bucket string) (config.RateLimitRule, bool) {
	switch bucket {
	case BucketLogin:
		return r.cfg.Login, true
	case BucketPasswordReset:
		return r.cfg.PasswordReset, true
	case BucketAPI:
		return r.cfg.API, true
	}
	return config.RateLimitRule{}, false
}

func (r *RateLimiter) checkTimeout() time.Duration {
	if r.cfg.CheckTimeout > 0 {
		return r.cfg.CheckTimeout
	}
	return 50 * time.Millisecond
}

func rateKey(bucket, subject string) string {
	return fmt.Sprintf("rate:%s:%s", bucket, subject)
}

func blacklistKey(subject string) string {
	return "blacklist:" + subject
}
