package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/handler/http/middleware"
	"github.com/schoolcore/identity-service/internal/service"
)

// VerificationHandler exposes OTP issuance and checking for email and phone
// ownership.
type VerificationHandler struct {
	verification *service.VerificationService
	logger       *zap.Logger
}

func NewVerificationHandler(verification *service.VerificationService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{verification: verification, logger: logger}
}

type sendCodeRequest struct {
	Channel string `json:"channel" binding:"required,oneof=email sms"`
}

func (h *VerificationHandler) Send(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "channel must be email or sms", domainErrors.CodeValidation, h.logger)
		return
	}
	if err := h.verification.Send(c.Request.Context(), principal.UserID, req.Channel, false); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "verification code sent")
}

type verifyCodeRequest struct {
	Channel string `json:"channel" binding:"required,oneof=email sms"`
	Code    string `json:"code" binding:"required"`
}

func (h *VerificationHandler) Verify(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "channel and code are required", domainErrors.CodeValidation, h.logger)
		return
	}
	if err := h.verification.Verify(c.Request.Context(), principal.UserID, req.Channel, req.Code); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "verified")
}

// ForceResend is the admin path for a target user: cooldown and daily caps
// are skipped.
func (h *VerificationHandler) ForceResend(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "channel must be email or sms", domainErrors.CodeValidation, h.logger)
		return
	}
	if err := h.verification.Send(c.Request.Context(), userID, req.Channel, true); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithMessage(c, http.StatusOK, "verification code resent")
}
