// identityctl is the operations CLI: migrations, role seeding, account
// unlock, temporary passwords, and role assignment without going through the
// HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository/postgres"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
	"github.com/schoolcore/identity-service/internal/infrastructure/security"
	"github.com/schoolcore/identity-service/internal/service"
	"github.com/schoolcore/identity-service/internal/utils/logger"
	"github.com/schoolcore/identity-service/migrations"
)

// Exit codes, stable for scripting.
const (
	exitOK          = 0
	exitUsage       = 2
	exitNotFound    = 3
	exitValidation  = 4
	exitDependency  = 5
	exitInternal    = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitDependency
	}
	log, err := logger.New("warn", cfg.Environment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return exitInternal
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "migrate":
		return cmdMigrate(cfg, args[1:])
	case "seed-roles":
		return withApp(ctx, cfg, log, func(app *app) int { return cmdSeedRoles(ctx, app) })
	case "unlock":
		return withApp(ctx, cfg, log, func(app *app) int { return cmdUnlock(ctx, app, args[1:]) })
	case "reset-password":
		return withApp(ctx, cfg, log, func(app *app) int { return cmdResetPassword(ctx, app, args[1:]) })
	case "assign-role":
		return withApp(ctx, cfg, log, func(app *app) int { return cmdAssignRole(ctx, app, args[1:]) })
	default:
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: identityctl <command> [flags]

commands:
  migrate         apply (or -down: roll back one) database migration
  seed-roles      create or refresh the built-in system roles
  unlock          -user <identifier>                clear an account lockout
  reset-password  -user <identifier> -password <p>  set a temporary password
  assign-role     -user <identifier> -role <name> [-expires <RFC3339>]`)
}

func cmdMigrate(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Bool("down", false, "roll back one migration step")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var err error
	if *down {
		err = migrations.Down(cfg.Database.URL())
	} else {
		err = migrations.Up(cfg.Database.URL())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		return exitDependency
	}
	fmt.Println("migrations ok")
	return exitOK
}

// app bundles the wiring shared by the account commands.
type app struct {
	users    *postgres.UserRepositoryPostgres
	resolver *service.IdentifierResolver
	auth     *service.AuthService
	roles    *service.RoleService
}

func withApp(ctx context.Context, cfg *config.Config, log *zap.Logger, fn func(*app) int) int {
	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		fmt.Fprintln(os.Stderr, "postgres:", err)
		return exitDependency
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	store := kv.New(redisClient, "identity")

	txManager := postgres.NewTxManager(pool)
	userRepo := postgres.NewUserRepositoryPostgres(pool)
	roleRepo := postgres.NewRoleRepositoryPostgres(pool)
	sessionRepo := postgres.NewSessionRepositoryPostgres(pool)
	auditRepo := postgres.NewAuditRepositoryPostgres(pool)

	hasher, err := security.NewPasswordHasher(security.Argon2Params{
		Memory:      cfg.Security.Password.Memory,
		Iterations:  cfg.Security.Password.Iterations,
		Parallelism: cfg.Security.Password.Parallelism,
		SaltLength:  cfg.Security.Password.SaltLength,
		KeyLength:   cfg.Security.Password.KeyLength,
	}, cfg.Security.Password.MaxConcurrentHashes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hasher:", err)
		return exitInternal
	}
	tokens, err := security.NewTokenService(security.JWTConfig{
		Secret:          cfg.JWT.Secret,
		AccessTokenTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL: cfg.JWT.RefreshTokenTTL,
	}, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokens:", err)
		return exitInternal
	}

	auditService := service.NewAuditService(auditRepo, nil, log)
	permService := service.NewPermissionService(userRepo, roleRepo, store, log)
	roleService := service.NewRoleService(roleRepo, permService, auditService, txManager, log)
	sessionService := service.NewSessionService(sessionRepo, store, auditService, cfg.Security.Session, log)
	limiter := service.NewRateLimiter(store, cfg.Security.RateLimit, auditService, log)
	resolver := service.NewIdentifierResolver(userRepo, nil, cfg.Security.BlockedEmailDomains)
	authService := service.NewAuthService(service.AuthDeps{
		Users:    userRepo,
		Resolver: resolver,
		Hasher:   hasher,
		Tokens:   tokens,
		Purpose:  security.NewPurposeTokenService(cfg.JWT.Secret, store),
		TOTP:     security.NewTOTPService(cfg.Security.TOTPIssuer),
		Sessions: sessionService,
		Limiter:  limiter,
		Audit:    auditService,
		Tx:       txManager,
		Lockout:  cfg.Security.Lockout,
		Password: cfg.Security.Password,
		ResetTTL: cfg.JWT.PurposeTokenTTL,
		Logger:   log,
	})

	return fn(&app{users: userRepo, resolver: resolver, auth: authService, roles: roleService})
}

func cmdSeedRoles(ctx context.Context, app *app) int {
	created, err := app.roles.SeedSystemRoles(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed-roles:", err)
		return exitDependency
	}
	fmt.Printf("system roles seeded (%d created)\n", created)
	return exitOK
}

func cmdUnlock(ctx context.Context, app *app, args []string) int {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	identifier := fs.String("user", "", "user identifier (email, phone, username)")
	if err := fs.Parse(args); err != nil || *identifier == "" {
		fs.Usage()
		return exitUsage
	}

	user, _, err := app.resolver.Resolve(ctx, *identifier)
	if err != nil {
		return reportLookup(err)
	}
	if err := app.auth.Unlock(ctx, user.ID, nil); err != nil {
		fmt.Fprintln(os.Stderr, "unlock:", err)
		return exitDependency
	}
	fmt.Printf("account %s unlocked\n", user.Username)
	return exitOK
}

func cmdResetPassword(ctx context.Context, app *app, args []string) int {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	identifier := fs.String("user", "", "user identifier")
	password := fs.String("password", "", "temporary password")
	if err := fs.Parse(args); err != nil || *identifier == "" || *password == "" {
		fs.Usage()
		return exitUsage
	}

	user, _, err := app.resolver.Resolve(ctx, *identifier)
	if err != nil {
		return reportLookup(err)
	}
	if err := app.auth.AdminSetPassword(ctx, user.ID, *password, nil, models.RequestContext{}); err != nil {
		if errors.Is(err, domainErrors.ErrWeakPassword) {
			fmt.Fprintln(os.Stderr, "reset-password:", err)
			return exitValidation
		}
		fmt.Fprintln(os.Stderr, "reset-password:", err)
		return exitDependency
	}
	fmt.Printf("temporary password set for %s (change required at next login)\n", user.Username)
	return exitOK
}

func cmdAssignRole(ctx context.Context, app *app, args []string) int {
	fs := flag.NewFlagSet("assign-role", flag.ContinueOnError)
	identifier := fs.String("user", "", "user identifier")
	roleName := fs.String("role", "", "role name")
	expires := fs.String("expires", "", "assignment expiry (RFC3339, optional)")
	if err := fs.Parse(args); err != nil || *identifier == "" || *roleName == "" {
		fs.Usage()
		return exitUsage
	}

	user, _, err := app.resolver.Resolve(ctx, *identifier)
	if err != nil {
		return reportLookup(err)
	}

	role, err := app.roles.GetRoleByName(ctx, *roleName)
	if err != nil {
		return reportLookup(err)
	}

	var expiresAt *time.Time
	if *expires != "" {
		t, err := time.Parse(time.RFC3339, *expires)
		if err != nil {
			fmt.Fprintln(os.Stderr, "assign-role: expires must be RFC3339")
			return exitValidation
		}
		expiresAt = &t
	}

	if _, err := app.roles.AssignRole(ctx, service.AssignRoleInput{
		UserID:    user.ID,
		RoleID:    role.ID,
		ExpiresAt: expiresAt,
		Notes:     "assigned via identityctl",
	}); err != nil {
		fmt.Fprintln(os.Stderr, "assign-role:", err)
		return exitDependency
	}
	fmt.Printf("role %s assigned to %s\n", role.Name, user.Username)
	return exitOK
}

func reportLookup(err error) int {
	if domainErrors.IsNotFound(err) {
		fmt.Fprintln(os.Stderr, "not found")
		return exitNotFound
	}
	fmt.Fprintln(os.Stderr, "lookup:", err)
	return exitDependency
}
