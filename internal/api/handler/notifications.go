package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListNotifications accepts ?unread=true.
func (h *Handler) ListNotifications(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ns, err := h.Notifications.List(c.Request.Context(), currentUser(c), c.Query("unread") == "true", limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ns)
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	if err := h.Notifications.MarkRead(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.Notifications.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) ClearNotifications(c *gin.Context) {
	n, err := h.Notifications.ClearAll(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
