package chathub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Authorizer decides whether userID may follow topic.
type Authorizer func(ctx context.Context, userID, topic string) bool

// command is a frame sent by the browser.
type command struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// WebSocketClient implements Client over a gorilla connection. Inbound frames
// only manage subscriptions; messages are posted over HTTP.
type WebSocketClient struct {
	UserID    string
	Conn      *websocket.Conn
	Hub       *ManagerService
	Authorize Authorizer

	send chan Event
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID string, authorize Authorizer) *WebSocketClient {
	return &WebSocketClient{
		UserID:    userID,
		Conn:      conn,
		Hub:       hub,
		Authorize: authorize,
		send:      make(chan Event, sendBuffer),
	}
}

func (c *WebSocketClient) GetUserID() string            { return c.UserID }
func (c *WebSocketClient) GetSendChannel() chan<- Event { return c.send }

// Run registers the client and starts the pumps.
func (c *WebSocketClient) Run() {
	c.Hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *WebSocketClient) Close() {
	c.Conn.Close()
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "user_id", c.UserID, "error", err)
			}
			break
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil || cmd.Action != "subscribe" || cmd.Topic == "" {
			slog.Debug("ignoring websocket frame", "user_id", c.UserID)
			continue
		}
		if c.Authorize != nil && !c.Authorize(context.Background(), c.UserID, cmd.Topic) {
			slog.Info("websocket subscription denied", "user_id", c.UserID, "topic", cmd.Topic)
			continue
		}
		c.Hub.Subscribe(c, cmd.Topic)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped this client.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
