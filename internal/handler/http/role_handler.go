package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/handler/http/middleware"
	"github.com/schoolcore/identity-service/internal/service"
)

// RoleHandler exposes role registry CRUD and assignment management.
type RoleHandler struct {
	roles  *service.RoleService
	logger *zap.Logger
}

func NewRoleHandler(roles *service.RoleService, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{roles: roles, logger: logger}
}

func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"roles": roles})
}

func (h *RoleHandler) Get(c *gin.Context) {
	roleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid role id", domainErrors.CodeValidation, h.logger)
		return
	}
	role, err := h.roles.GetRole(c.Request.Context(), roleID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, role)
}

type createRoleRequest struct {
	Name        string               `json:"name" binding:"required"`
	Description string               `json:"description"`
	Permissions models.PermissionMap `json:"permissions" binding:"required"`
}

func (h *RoleHandler) Create(c *gin.Context) {
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "name and permissions are required", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	role, err := h.roles.CreateRole(c.Request.Context(), service.CreateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		ActorID:     &actor.UserID,
	})
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusCreated, role)
}

type updateRoleRequest struct {
	Description *string              `json:"description"`
	Permissions models.PermissionMap `json:"permissions"`
	IsActive    *bool                `json:"is_active"`
}

func (h *RoleHandler) Update(c *gin.Context) {
	roleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid role id", domainErrors.CodeValidation, h.logger)
		return
	}
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid request body", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	role, err := h.roles.UpdateRole(c.Request.Context(), roleID, service.UpdateRoleInput{
		Description: req.Description,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
		ActorID:     &actor.UserID,
	})
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, role)
}

func (h *RoleHandler) Delete(c *gin.Context) {
	roleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid role id", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	if err := h.roles.DeleteRole(c.Request.Context(), roleID, &actor.UserID); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithNoContent(c)
}

type assignRoleRequest struct {
	RoleID    uuid.UUID  `json:"role_id" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
	Notes     string     `json:"notes"`
}

func (h *RoleHandler) Assign(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "role_id is required", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	assignment, err := h.roles.AssignRole(c.Request.Context(), service.AssignRoleInput{
		UserID:    userID,
		RoleID:    req.RoleID,
		ExpiresAt: req.ExpiresAt,
		Notes:     req.Notes,
		ActorID:   &actor.UserID,
	})
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusCreated, assignment)
}

func (h *RoleHandler) Remove(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	roleID, err := uuid.Parse(c.Param("roleId"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid role id", domainErrors.CodeValidation, h.logger)
		return
	}
	actor := middleware.PrincipalFrom(c)
	if err := h.roles.RemoveRole(c.Request.Context(), userID, roleID, &actor.UserID); err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithNoContent(c)
}

func (h *RoleHandler) UserRoles(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid user id", domainErrors.CodeValidation, h.logger)
		return
	}
	roles, err := h.roles.ListUserRoles(c.Request.Context(), userID)
	if err != nil {
		RespondDomainError(c, err, h.logger)
		return
	}
	RespondWithData(c, http.StatusOK, gin.H{"roles": roles})
}
