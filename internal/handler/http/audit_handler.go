package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/handler/http/middleware"
	"github.com/schoolcore/identity-service/internal/service"
)

// AuditHandler exposes audit queries and the login-statistics view.
type AuditHandler struct {
	audit  *service.AuditService
	logger *zap.Logger
}

func NewAuditHandler(audit *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

func (h *AuditHandler) Query(c *gin.Context) {
	filter, ok := h.parseFilter(c)
	if !ok {
		return
	}
	if v := c.Query("user_id"); v != "" {
		userID, err := uuid.Parse(v)
		if err != nil {
			RespondWithError(c, http.StatusBadRequest, "invalid user_id", domainErrors.CodeValidation, h.logger)
			return
		}
		filter.UserID = &userID
	}
	h.respondEvents(c, filter)
}

// MyEvents serves the caller's own audit trail. The user id filter is pinned
// to the principal, whatever the query string says.
func (h *AuditHandler) MyEvents(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	if principal == nil {
		RespondWithError(c, http.StatusUnauthorized, "authentication required", domainErrors.CodeUnauthorized, h.logger)
		return
	}
	filter, ok := h.parseFilter(c)
	if !ok {
		return
	}
	userID := principal.UserID
	filter.UserID = &userID
	h.respondEvents(c, filter)
}

func (h *AuditHandler) parseFilter(c *gin.Context) (models.AuditFilter, bool) {
	filter := models.AuditFilter{Limit: 50}

	if v := c.Query("actions"); v != "" {
		for _, a := range strings.Split(v, ",") {
			filter.Actions = append(filter.Actions, models.AuditAction(strings.TrimSpace(a)))
		}
	}
	filter.Severity = c.Query("severity")

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			RespondWithError(c, http.StatusBadRequest, "from must be RFC3339", domainErrors.CodeValidation, h.logger)
			return filter, false
		}
		filter.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			RespondWithError(c, http.StatusBadRequest, "to must be RFC3339", domainErrors.CodeValidation, h.logger)
			return filter, false
		}
		filter.To = &t
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	return filter, true
}

func (h *AuditHandler) respondEvents(c *gin.Context, filter models.AuditFilter) {
	events, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"events": events})
}

// Stats serves sign-in counters for a window, defaulting to the last day.
func (h *AuditHandler) Stats(c *gin.Context) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			RespondWithError(c, http.StatusBadRequest, "from must be RFC3339", domainErrors.CodeValidation, h.logger)
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			RespondWithError(c, http.StatusBadRequest, "to must be RFC3339", domainErrors.CodeValidation, h.logger)
			return
		}
		to = t
	}

	stats, err := h.audit.Stats(c.Request.Context(), from, to)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, stats)
}
