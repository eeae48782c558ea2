package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"studentsupport/backend/internal/chathub"
	"studentsupport/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the configured frontend origin once it is part of Config.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades an authenticated request and registers the client
// with the hub. The client is subscribed to its own user topic and may ask for
// session topics it is allowed to see.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime updates are not enabled"})
		return
	}
	user := currentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, user.ID, h.topicAuthorizer(user))
	client.Run()
}

func (h *Handler) topicAuthorizer(user *models.User) chathub.Authorizer {
	return func(ctx context.Context, userID, topic string) bool {
		if topic == chathub.UserTopic(user.ID) {
			return true
		}
		sessionID, ok := strings.CutPrefix(topic, "session:")
		if !ok || sessionID == "" || h.Chat == nil {
			return false
		}
		return h.Chat.CanSubscribe(ctx, user, sessionID)
	}
}
