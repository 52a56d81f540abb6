package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/handler/http/middleware"
	"github.com/schoolcore/identity-service/internal/service"
)

// AuthHandler exposes the login, logout, refresh, registration, and password
// flows.
type AuthHandler struct {
	auth     *service.AuthService
	resolver *service.IdentifierResolver
	notifier service.Notifier
	logger   *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, resolver *service.IdentifierResolver, notifier service.Notifier, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, resolver: resolver, notifier: notifier, logger: logger}
}

// resetDeliverer adapts the notifier to the reset flow's delivery callback.
func resetDeliverer(n service.Notifier) func(ctx context.Context, user *models.User, token string) error {
	return func(ctx context.Context, user *models.User, token string) error {
		return n.SendPasswordReset(ctx, user.Email, token)
	}
}

func requestContext(c *gin.Context) models.RequestContext {
	return models.RequestContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: c.GetString(middleware.RequestIDKey),
	}
}

type loginRequest struct {
	Identifier    string `json:"identifier" binding:"required"`
	Password      string `json:"password" binding:"required"`
	TwoFactorCode string `json:"two_factor_code"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "identifier and password are required", domainErrors.CodeValidation, h.logger)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Identifier:    req.Identifier,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	}, requestContext(c))
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, result)
}

type registerRequest struct {
	Username string  `json:"username" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	Phone    *string `json:"phone"`
	Password string  `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "username, email and password are required", domainErrors.CodeValidation, h.logger)
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	}, requestContext(c))
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusCreated, user)
}

type validateIdentifierRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// ValidateIdentifier classifies an identifier and reports whether an account
// matches it. The lookup runs for every kind so response time does not vary
// with existence.
func (h *AuthHandler) ValidateIdentifier(c *gin.Context) {
	var req validateIdentifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "identifier is required", domainErrors.CodeValidation, h.logger)
		return
	}

	kind, normalized := h.resolver.Classify(req.Identifier)
	exists := false
	if _, _, err := h.resolver.Resolve(c.Request.Context(), req.Identifier); err == nil {
		exists = true
	} else if !domainErrors.IsNotFound(err) {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{
		"kind":       kind,
		"normalized": normalized,
		"exists":     exists,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "refresh_token is required", domainErrors.CodeValidation, h.logger)
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, requestContext(c))
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		RespondWithError(c, http.StatusUnauthorized, "authentication required", domainErrors.CodeUnauthorized, h.logger)
		return
	}

	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.auth.Logout(c.Request.Context(), claims, req.RefreshToken, requestContext(c)); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "logged out")
}

type forgotPasswordRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "identifier is required", domainErrors.CodeValidation, h.logger)
		return
	}

	err := h.auth.RequestPasswordReset(c.Request.Context(), req.Identifier, requestContext(c), resetDeliverer(h.notifier))
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	// The response is identical whether or not the identifier resolved.
	RespondWithMessage(c, http.StatusOK, "if the account exists, reset instructions have been sent")
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "token and new_password are required", domainErrors.CodeValidation, h.logger)
		return
	}

	if err := h.auth.CompletePasswordReset(c.Request.Context(), req.Token, req.NewPassword, requestContext(c)); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "password reset")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	if principal == nil {
		RespondWithError(c, http.StatusUnauthorized, "authentication required", domainErrors.CodeUnauthorized, h.logger)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "current_password and new_password are required", domainErrors.CodeValidation, h.logger)
		return
	}

	err := h.auth.ChangePassword(c.Request.Context(), principal.UserID,
		req.CurrentPassword, req.NewPassword, principal.SessionKey, requestContext(c))
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "password changed")
}
