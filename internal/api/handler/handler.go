// Package handler exposes the support services over HTTP with gin.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/chat"
	"studentsupport/backend/internal/chathub"
	"studentsupport/backend/internal/complaint"
	"studentsupport/backend/internal/identity"
	"studentsupport/backend/internal/metrics"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/suggestion"

	"github.com/gin-gonic/gin"
)

const userKey = "user"

// Handler holds the services behind the HTTP routes.
type Handler struct {
	Auth          *identity.Authenticator
	Resolver      *identity.Resolver
	Users         *identity.Users
	Settings      *settings.Service
	Complaints    *complaint.Service
	Suggestions   *suggestion.Service
	Chat          *chat.Service
	Notifications *notification.Dispatcher
	Audit         *audit.Service
	Hub           *chathub.ManagerService
	Metrics       *metrics.Metrics

	chatLimiter *userLimiter
}

// Deps lists the collaborators of NewHandler. Hub and Metrics may be nil.
type Deps struct {
	Auth          *identity.Authenticator
	Resolver      *identity.Resolver
	Users         *identity.Users
	Settings      *settings.Service
	Complaints    *complaint.Service
	Suggestions   *suggestion.Service
	Chat          *chat.Service
	Notifications *notification.Dispatcher
	Audit         *audit.Service
	Hub           *chathub.ManagerService
	Metrics       *metrics.Metrics
	ChatPerMinute int
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		Auth:          d.Auth,
		Resolver:      d.Resolver,
		Users:         d.Users,
		Settings:      d.Settings,
		Complaints:    d.Complaints,
		Suggestions:   d.Suggestions,
		Chat:          d.Chat,
		Notifications: d.Notifications,
		Audit:         d.Audit,
		Hub:           d.Hub,
		Metrics:       d.Metrics,
		chatLimiter:   newUserLimiter(d.ChatPerMinute),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", h.AuthMiddleware())
	api.GET("/me", h.Me)
	api.GET("/categories", h.Categories)

	complaints := api.Group("/complaints")
	complaints.POST("", h.CreateComplaint)
	complaints.GET("", h.ListComplaints)
	complaints.GET("/:id", h.GetComplaint)
	complaints.PATCH("/:id", h.UpdateComplaint)
	complaints.DELETE("/:id", h.DeleteComplaint)
	complaints.POST("/:id/action", h.ComplaintAction)

	suggestions := api.Group("/suggestions")
	suggestions.POST("", h.CreateSuggestion)
	suggestions.GET("", h.ListSuggestions)
	suggestions.GET("/:id", h.GetSuggestion)
	suggestions.PATCH("/:id", h.UpdateSuggestion)
	suggestions.DELETE("/:id", h.DeleteSuggestion)
	suggestions.POST("/:id/action", h.SuggestionAction)
	suggestions.POST("/:id/upvote", h.ToggleUpvote)

	chats := api.Group("/chat")
	chats.POST("/messages", h.chatLimiter.Middleware(), h.SendChatMessage)
	chats.GET("/sessions", h.ListChatSessions)
	chats.GET("/sessions/:id", h.GetChatSession)
	chats.POST("/sessions/:id/request-staff", h.RequestStaff)
	chats.POST("/sessions/:id/messages", h.StaffMessage)
	chats.POST("/sessions/:id/escalate", h.EscalateChat)
	chats.POST("/sessions/:id/close", h.CloseChat)

	notifications := api.Group("/notifications")
	notifications.GET("", h.ListNotifications)
	notifications.POST("/:id/read", h.MarkNotificationRead)
	notifications.POST("/read-all", h.MarkAllNotificationsRead)
	notifications.DELETE("", h.ClearNotifications)

	admin := api.Group("/admin")
	admin.GET("/audit-logs", h.ListAuditLogs)
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.PATCH("/users/:id/role", h.SetUserRole)
	admin.GET("/settings", h.ListSettings)
	admin.PUT("/settings/:key", h.PutSetting)

	api.GET("/ws", h.ServeWebSocket)
}

// fail renders err as {"error": ...}. Internal failures are logged and shown
// generically.
func fail(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// queryLimit parses ?limit=. Zero means the service default.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *Handler) Categories(c *gin.Context) {
	cats, err := h.Settings.Categories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}
