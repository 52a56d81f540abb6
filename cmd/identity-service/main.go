package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	"github.com/schoolcore/identity-service/internal/domain/repository/postgres"
	"github.com/schoolcore/identity-service/internal/events/kafka"
	httphandler "github.com/schoolcore/identity-service/internal/handler/http"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
	"github.com/schoolcore/identity-service/internal/infrastructure/security"
	"github.com/schoolcore/identity-service/internal/service"
	"github.com/schoolcore/identity-service/internal/utils/logger"
	"github.com/schoolcore/identity-service/internal/worker"
	"github.com/schoolcore/identity-service/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Environment)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(cfg.Database.URL()); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		log.Info("database migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	store := kv.New(redisClient, "identity")

	// Repositories.
	txManager := postgres.NewTxManager(pool)
	userRepo := postgres.NewUserRepositoryPostgres(pool)
	roleRepo := postgres.NewRoleRepositoryPostgres(pool)
	sessionRepo := postgres.NewSessionRepositoryPostgres(pool)
	auditRepo := postgres.NewAuditRepositoryPostgres(pool)

	// Infrastructure.
	hasher, err := security.NewPasswordHasher(security.Argon2Params{
		Memory:      cfg.Security.Password.Memory,
		Iterations:  cfg.Security.Password.Iterations,
		Parallelism: cfg.Security.Password.Parallelism,
		SaltLength:  cfg.Security.Password.SaltLength,
		KeyLength:   cfg.Security.Password.KeyLength,
	}, cfg.Security.Password.MaxConcurrentHashes)
	if err != nil {
		return fmt.Errorf("building password hasher: %w", err)
	}

	tokens, err := security.NewTokenService(security.JWTConfig{
		Secret:          cfg.JWT.Secret,
		Issuer:          cfg.JWT.Issuer,
		Audience:        cfg.JWT.Audience,
		AccessTokenTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL: cfg.JWT.RefreshTokenTTL,
	}, store)
	if err != nil {
		return fmt.Errorf("building token service: %w", err)
	}
	purposeTokens := security.NewPurposeTokenService(cfg.JWT.Secret, store)
	totp := security.NewTOTPService(cfg.Security.TOTPIssuer)

	var publisher service.AuditPublisher
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewAuditProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			return fmt.Errorf("building kafka producer: %w", err)
		}
		defer producer.Close()
		publisher = producer
	}

	// Services.
	auditService := service.NewAuditService(auditRepo, publisher, log)
	permService := service.NewPermissionService(userRepo, roleRepo, store, log)
	roleService := service.NewRoleService(roleRepo, permService, auditService, txManager, log)
	sessionService := service.NewSessionService(sessionRepo, store, auditService, cfg.Security.Session, log)
	limiter := service.NewRateLimiter(store, cfg.Security.RateLimit, auditService, log)
	resolver := service.NewIdentifierResolver(userRepo, nil, cfg.Security.BlockedEmailDomains)
	notifier := logNotifier{log}
	verificationService := service.NewVerificationService(userRepo, store, notifier, auditService, cfg.Verification, log)
	authService := service.NewAuthService(service.AuthDeps{
		Users:    userRepo,
		Resolver: resolver,
		Hasher:   hasher,
		Tokens:   tokens,
		Purpose:  purposeTokens,
		TOTP:     totp,
		Sessions: sessionService,
		Limiter:  limiter,
		Audit:    auditService,
		Tx:       txManager,
		Lockout:  cfg.Security.Lockout,
		Password: cfg.Security.Password,
		ResetTTL: cfg.JWT.PurposeTokenTTL,
		Logger:   log,
	})

	if _, err := roleService.SeedSystemRoles(ctx); err != nil {
		return fmt.Errorf("seeding system roles: %w", err)
	}

	runner := worker.NewRunner(sessionService, roleService, auditService, cfg.Audit.RetentionDays, log)
	runner.Start(ctx)

	router := httphandler.SetupRouter(httphandler.RouterDeps{
		Auth:         authService,
		Resolver:     resolver,
		Notifier:     notifier,
		Roles:        roleService,
		Sessions:     sessionService,
		Permissions:  permService,
		Verification: verificationService,
		Audit:        auditService,
		Limiter:      limiter,
		Tokens:       tokens,
		Users:        userRepo,
		Health:       httphandler.NewHealthHandler(pool, store),
		Config:       cfg,
		Logger:       log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// logNotifier stands in for the messaging platform in environments without
// one; codes land in the log at debug level.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) SendEmailOTP(_ context.Context, email, code string) error {
	n.log.Debug("email otp issued", zap.String("email", email), zap.Int("code_length", len(code)))
	return nil
}

func (n logNotifier) SendSMSOTP(_ context.Context, phone, code string) error {
	n.log.Debug("sms otp issued", zap.String("phone", phone), zap.Int("code_length", len(code)))
	return nil
}

func (n logNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.log.Debug("password reset token issued", zap.String("email", email), zap.Int("token_length", len(token)))
	return nil
}
