package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/infrastructure/security"
	"github.com/schoolcore/identity-service/internal/service"
)

// Gin context keys set by the auth middleware.
const (
	PrincipalKey = "principal"
	ClaimsKey    = "claims"
)

// AuthMiddleware runs the request decision pipeline: bearer token
// verification, then session revalidation, then principal construction. A
// session that fails revalidation rejects the request even when the token is
// still cryptographically valid.
func AuthMiddleware(tokens *security.TokenService, sessions *service.SessionService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims, err := tokens.Verify(c.Request.Context(), strings.TrimPrefix(header, "Bearer "), security.TokenAccess)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		rc := models.RequestContext{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString(RequestIDKey),
		}
		result, _, err := sessions.Revalidate(c.Request.Context(), claims.SessionKey, rc)
		if err != nil || result != models.RevalidateOK {
			if err != nil && !domainErrors.IsNotFound(err) &&
				!errors.Is(err, domainErrors.ErrSessionExpired) &&
				!errors.Is(err, domainErrors.ErrSessionSuspicious) {
				logger.Warn("session revalidation failed", zap.Error(err))
			}
			abortUnauthorized(c, "session no longer valid")
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			abortUnauthorized(c, "invalid token subject")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(PrincipalKey, &models.Principal{
			UserID:      userID,
			Username:    claims.Username,
			SessionKey:  claims.SessionKey,
			IsSuperuser: claims.IsSuperuser,
		})
		c.Next()
	}
}

// RequirePermission gates an endpoint on a catalogue permission.
func RequirePermission(perms *service.PermissionService, resource, action string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := PrincipalFrom(c)
		if principal == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		allowed, err := perms.Check(c.Request.Context(), principal.UserID, resource, action)
		if err != nil {
			logger.Warn("permission check failed",
				zap.String("user_id", principal.UserID.String()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied", "code": "FORBIDDEN"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied", "code": "FORBIDDEN"})
			return
		}
		c.Next()
	}
}

// PrincipalFrom extracts the authenticated principal, or nil.
func PrincipalFrom(c *gin.Context) *models.Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	principal, _ := v.(*models.Principal)
	return principal
}

// ClaimsFrom extracts the verified token claims, or nil.
func ClaimsFrom(c *gin.Context) *security.Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*security.Claims)
	return claims
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "UNAUTHORIZED"})
}
