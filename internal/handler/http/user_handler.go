package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
	"github.com/schoolcore/identity-service/internal/handler/http/middleware"
	"github.com/schoolcore/identity-service/internal/service"
)

// UserHandler exposes the authenticated user's own account: profile,
// sessions, permissions, and the second factor. Admin account operations live
// here too, behind permission gates in the router.
type UserHandler struct {
	users    repository.UserRepository
	auth     *service.AuthService
	sessions *service.SessionService
	perms    *service.PermissionService
	roles    *service.RoleService
	logger   *zap.Logger
}

func NewUserHandler(users repository.UserRepository, auth *service.AuthService, sessions *service.SessionService, perms *service.PermissionService, roles *service.RoleService, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, auth: auth, sessions: sessions, perms: perms, roles: roles, logger: logger}
}

func (h *UserHandler) Me(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	user, err := h.users.GetByID(c.Request.Context(), principal.UserID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, user)
}

func (h *UserHandler) MyPermissions(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	perms, err := h.perms.Effective(c.Request.Context(), principal.UserID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"permissions": perms})
}

func (h *UserHandler) MyRoles(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	roles, err := h.roles.ListUserRoles(c.Request.Context(), principal.UserID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"roles": roles})
}

func (h *UserHandler) MySessions(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	sessions, err := h.sessions.ListForUser(c.Request.Context(), principal.UserID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}

	type sessionView struct {
		*models.Session
		Current bool `json:"current"`
	}
	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = sessionView{Session: s, Current: s.SessionKey == principal.SessionKey}
	}
	RespondWithData(c, http.StatusOK, gin.H{"sessions": views})
}

// TerminateSession ends one of the caller's own sessions by id.
func (h *UserHandler) TerminateSession(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid session id", domainErrors.CodeValidation, h.logger)
		return
	}

	sessions, err := h.sessions.ListForUser(c.Request.Context(), principal.UserID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			if err := h.sessions.Terminate(c.Request.Context(), s.SessionKey, models.SessionReasonLogout, requestContext(c)); err != nil {
				RespondDomainError(c, err, h.logger)
			} else {
				RespondWithNoContent(c)
			}
			return
		}
	}
	RespondWithError(c, http.StatusNotFound, "session not found", domainErrors.CodeNotFound, h.logger)
}

// TerminateOtherSessions ends every session except the current one.
func (h *UserHandler) TerminateOtherSessions(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	n, err := h.sessions.TerminateAllForUser(c.Request.Context(), principal.UserID, principal.SessionKey, models.SessionReasonSecurity)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"terminated": n})
}

func (h *UserHandler) Enable2FA(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	secret, url, backupCodes, err := h.auth.Enable2FA(c.Request.Context(), principal.UserID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{
		"secret":       secret,
		"otpauth_url":  url,
		"backup_codes": backupCodes,
	})
}

type twoFactorCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *UserHandler) Confirm2FA(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	var req twoFactorCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "code is required", domainErrors.CodeValidation, h.logger)
		return
	}
	if err := h.auth.Confirm2FA(c.Request.Context(), principal.UserID, req.Code); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "two-factor authentication enabled")
}

type disable2FARequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *UserHandler) Disable2FA(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	var req disable2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "password is required", domainErrors.CodeValidation, h.logger)
		return
	}
	if err := h.auth.Disable2FA(c.Request.Context(), principal.UserID, req.Password); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "two-factor authentication disabled")
}

// Admin operations.

func (h *UserHandler) GetUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, user)
}

func (h *UserHandler) UnlockUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	if err := h.auth.Unlock(c.Request.Context(), userID, &actor.UserID); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "account unlocked")
}

type adminSetPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *UserHandler) AdminSetPassword(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	var req adminSetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "new_password is required", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	if err := h.auth.AdminSetPassword(c.Request.Context(), userID, req.NewPassword, &actor.UserID, requestContext(c)); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "temporary password set")
}

func (h *UserHandler) DeactivateUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	if err := h.auth.Deactivate(c.Request.Context(), userID, &actor.UserID); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithNoContent(c)
}

func (h *UserHandler) UserSessions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	sessions, err := h.sessions.ListForUser(c.Request.Context(), userID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"sessions": sessions})
}

func (h *UserHandler) TerminateUserSessions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	n, err := h.sessions.TerminateAllForUser(c.Request.Context(), userID, "", models.SessionReasonAdmin)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"terminated": n})
}
