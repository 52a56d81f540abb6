package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
)

// ResponseError is the error envelope returned by every endpoint.
type ResponseError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RespondWithError sends an error envelope and logs it.
func RespondWithError(c *gin.Context, statusCode int, message, errorCode string, logger *zap.Logger) {
	logger.Warn("api error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", errorCode),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)
	c.JSON(statusCode, ResponseError{Error: message, Code: errorCode})
}

// RespondWithData sends a plain data payload.
func RespondWithData(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, data)
}

// RespondWithMessage sends a message-only payload.
func RespondWithMessage(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"message": message})
}

// RespondWithNoContent sends 204.
func RespondWithNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// RespondDomainError maps a service error onto a status code and machine
// code. Unknown errors collapse to a 500 without leaking internals.
func RespondDomainError(c *gin.Context, err error, logger *zap.Logger) {
	var appErr *domainErrors.AppError
	msg := err.Error()
	code := domainErrors.CodeInternal
	if errors.As(err, &appErr) {
		msg = appErr.Msg
		code = appErr.Code
	}

	switch {
	case errors.Is(err, domainErrors.ErrRateLimited):
		RespondWithError(c, http.StatusTooManyRequests, msg, orCode(code, domainErrors.CodeRateLimited), logger)
	case errors.Is(err, domainErrors.Err2FARequired):
		RespondWithError(c, http.StatusUnauthorized, msg, domainErrors.Code2FARequired, logger)
	case domainErrors.IsUnauthorized(err):
		RespondWithError(c, http.StatusUnauthorized, msg, orCode(code, domainErrors.CodeUnauthorized), logger)
	case domainErrors.IsForbidden(err):
		RespondWithError(c, http.StatusForbidden, msg, orCode(code, domainErrors.CodeForbidden), logger)
	case domainErrors.IsNotFound(err):
		RespondWithError(c, http.StatusNotFound, msg, orCode(code, domainErrors.CodeNotFound), logger)
	case domainErrors.IsConflict(err):
		RespondWithError(c, http.StatusConflict, msg, orCode(code, domainErrors.CodeConflict), logger)
	case errors.Is(err, domainErrors.ErrCodeExpired):
		RespondWithError(c, http.StatusBadRequest, msg, domainErrors.CodeCodeExpired, logger)
	case errors.Is(err, domainErrors.ErrTooManyAttempts):
		RespondWithError(c, http.StatusTooManyRequests, msg, domainErrors.CodeTooManyAttempts, logger)
	case errors.Is(err, domainErrors.ErrCooldownActive):
		RespondWithError(c, http.StatusTooManyRequests, msg, orCode(code, domainErrors.CodeCooldownActive), logger)
	case errors.Is(err, domainErrors.ErrDailyLimitExceeded):
		RespondWithError(c, http.StatusTooManyRequests, msg, orCode(code, domainErrors.CodeDailyLimit), logger)
	case errors.Is(err, domainErrors.ErrAlreadyVerified):
		RespondWithError(c, http.StatusConflict, msg, domainErrors.CodeConflict, logger)
	case domainErrors.IsBadRequest(err):
		RespondWithError(c, http.StatusBadRequest, msg, orCode(code, domainErrors.CodeValidation), logger)
	default:
		logger.Error("unhandled service error", zap.Error(err),
			zap.String("path", c.Request.URL.Path))
		RespondWithError(c, http.StatusInternalServerError, "internal server error", domainErrors.CodeInternal, logger)
	}
}

func orCode(code, fallback string) string {
	if code != "" && code != domainErrors.CodeInternal {
		return code
	}
	return fallback
}
