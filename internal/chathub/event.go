package chathub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event types pushed to clients.
const (
	EventMessage      = "chat.message"
	EventSession      = "chat.session"
	EventNotification = "notification"
)

// Event is one realtime update addressed to a topic.
type Event struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// NewEvent encodes data into an Event.
func NewEvent(topic, typ string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", typ, err)
	}
	return Event{Topic: topic, Type: typ, Data: raw}, nil
}

func SessionTopic(sessionID string) string { return "session:" + sessionID }
func UserTopic(userID string) string       { return "user:" + userID }

// Publisher delivers events to every API instance.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
