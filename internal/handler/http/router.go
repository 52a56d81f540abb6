package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/config"
	"github.com/schoolcore/identity-service/internal/domain/repository"
	"github.com/schoolcore/identity-service/internal/handler/http/middleware"
	"github.com/schoolcore/identity-service/internal/infrastructure/security"
	"github.com/schoolcore/identity-service/internal/service"
)

// RouterDeps collects everything the router wires together.
type RouterDeps struct {
	Auth         *service.AuthService
	Resolver     *service.IdentifierResolver
	Notifier     service.Notifier
	Roles        *service.RoleService
	Sessions     *service.SessionService
	Permissions  *service.PermissionService
	Verification *service.VerificationService
	Audit        *service.AuditService
	Limiter      *service.RateLimiter
	Tokens       *security.TokenService
	Users        repository.UserRepository
	Health       *HealthHandler
	Config       *config.Config
	Logger       *zap.Logger
}

// SetupRouter builds the gin engine with all routes and middleware.
func SetupRouter(d RouterDeps) *gin.Engine {
	if d.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(d.Logger))
	router.Use(middleware.LoggingMiddleware(d.Logger))

	authHandler := NewAuthHandler(d.Auth, d.Resolver, d.Notifier, d.Logger)
	userHandler := NewUserHandler(d.Users, d.Auth, d.Sessions, d.Permissions, d.Roles, d.Logger)
	roleHandler := NewRoleHandler(d.Roles, d.Logger)
	verificationHandler := NewVerificationHandler(d.Verification, d.Logger)
	auditHandler := NewAuditHandler(d.Audit, d.Logger)

	router.GET("/health", d.Health.Liveness)
	router.GET("/readiness", d.Health.Readiness)
	if d.Config.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	requirePerm := func(resource, action string) gin.HandlerFunc {
		return middleware.RequirePermission(d.Permissions, resource, action, d.Logger)
	}

	api := router.Group("/api/v1")
	{
		// Public authentication routes. Login carries its own bucket inside
		// the service; the reset endpoints are charged here.
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/forgot-password", authHandler.ForgotPassword)
			auth.POST("/validate-identifier",
				middleware.RateLimitMiddleware(d.Limiter, service.BucketAPI),
				authHandler.ValidateIdentifier)
			auth.POST("/reset-password",
				middleware.RateLimitMiddleware(d.Limiter, service.BucketPasswordReset),
				authHandler.ResetPassword)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(d.Tokens, d.Sessions, d.Logger))
		protected.Use(middleware.RateLimitMiddleware(d.Limiter, service.BucketAPI))
		{
			protected.POST("/auth/logout", authHandler.Logout)
			protected.POST("/auth/change-password", authHandler.ChangePassword)

			me := protected.Group("/me")
			{
				me.GET("", userHandler.Me)
				me.GET("/permissions", userHandler.MyPermissions)
				me.GET("/roles", userHandler.MyRoles)
				me.GET("/sessions", userHandler.MySessions)
				me.DELETE("/sessions/:id", userHandler.TerminateSession)
				me.POST("/sessions/terminate-others", userHandler.TerminateOtherSessions)
				me.POST("/2fa/enable", userHandler.Enable2FA)
				me.POST("/2fa/confirm", userHandler.Confirm2FA)
				me.POST("/2fa/disable", userHandler.Disable2FA)
				me.POST("/verification/send", verificationHandler.Send)
				me.POST("/verification/verify", verificationHandler.Verify)
				me.GET("/audit-events", auditHandler.MyEvents)
			}

			roles := protected.Group("/roles")
			{
				roles.GET("", requirePerm("roles", "view"), roleHandler.List)
				roles.GET("/:id", requirePerm("roles", "view"), roleHandler.Get)
				roles.POST("", requirePerm("roles", "add"), roleHandler.Create)
				roles.PATCH("/:id", requirePerm("roles", "change"), roleHandler.Update)
				roles.DELETE("/:id", requirePerm("roles", "delete"), roleHandler.Delete)
			}

			users := protected.Group("/users")
			{
				users.GET("/:id", requirePerm("users", "view"), userHandler.GetUser)
				users.GET("/:id/roles", requirePerm("roles", "view"), roleHandler.UserRoles)
				users.POST("/:id/roles", requirePerm("roles", "change"), roleHandler.Assign)
				users.DELETE("/:id/roles/:roleId", requirePerm("roles", "change"), roleHandler.Remove)
				users.POST("/:id/unlock", requirePerm("users", "change"), userHandler.UnlockUser)
				users.POST("/:id/password", requirePerm("users", "change"), userHandler.AdminSetPassword)
				users.POST("/:id/deactivate", requirePerm("users", "delete"), userHandler.DeactivateUser)
				users.GET("/:id/sessions", requirePerm("users", "view"), userHandler.UserSessions)
				users.DELETE("/:id/sessions", requirePerm("users", "change"), userHandler.TerminateUserSessions)
				users.POST("/:id/verification/resend", requirePerm("users", "change"), verificationHandler.ForceResend)
			}

			audit := protected.Group("/audit")
			{
				audit.GET("/events", requirePerm("audit", "view"), auditHandler.Query)
				audit.GET("/stats", requirePerm("audit", "view"), auditHandler.Stats)
			}
		}
	}

	return router
}
