package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type createUserRequest struct {
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

type setRoleRequest struct {
	Role models.Role `json:"role"`
}

type putSettingRequest struct {
	Value    json.RawMessage `json:"value"`
	Category string          `json:"category"`
}

func (h *Handler) ListAuditLogs(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	logs, err := h.Audit.List(c.Request.Context(), currentUser(c), storage.AuditFilter{
		Action:     c.Query("action"),
		EntityType: c.Query("entityType"),
		EntityID:   c.Query("entityId"),
		Limit:      limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// ListUsers accepts ?role=STAFF,ADMIN.
func (h *Handler) ListUsers(c *gin.Context) {
	var roles []models.Role
	if raw := c.Query("role"); raw != "" {
		for _, r := range strings.Split(raw, ",") {
			roles = append(roles, models.Role(strings.ToUpper(strings.TrimSpace(r))))
		}
	}
	users, err := h.Users.List(c.Request.Context(), currentUser(c), roles...)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleStudent
	}
	u, err := h.Users.Create(c.Request.Context(), currentUser(c), req.Name, req.Email, req.Role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) SetUserRole(c *gin.Context) {
	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	actor := currentUser(c)
	if actor == nil {
		fail(c, apperr.Unauthenticated("authentication required"))
		return
	}
	u, err := h.Users.SetRole(c.Request.Context(), actor, c.Param("id"), models.Role(strings.ToUpper(string(req.Role))))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) ListSettings(c *gin.Context) {
	rows, err := h.Settings.List(c.Request.Context(), currentUser(c), c.Query("category"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) PutSetting(c *gin.Context) {
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if len(req.Value) == 0 {
		badRequest(c, "value is required")
		return
	}
	actor := currentUser(c)
	if actor == nil {
		fail(c, apperr.Unauthenticated("authentication required"))
		return
	}
	st, err := h.Settings.Set(c.Request.Context(), actor, c.Param("key"), req.Value, req.Category)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
