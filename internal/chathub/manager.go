// Package chathub fans realtime events (chat messages, session changes,
// notifications) out to connected WebSocket clients. Events arrive through
// Redis Pub/Sub so that every API instance sees every event.
package chathub

import (
	"context"
	"log/slog"
)

// ManagerService tracks local clients and their topic subscriptions. All maps
// are owned by the Run goroutine.
type ManagerService struct {
	clients map[Client]map[string]bool

	RegisterCh   chan Client
	UnregisterCh chan Client
	SubscribeCh  chan subscription
	BroadcastCh  chan Event

	done chan struct{}
}

func NewManagerService() *ManagerService {
	return &ManagerService{
		clients:      make(map[Client]map[string]bool),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		SubscribeCh:  make(chan subscription),
		BroadcastCh:  make(chan Event, 256),
		done:         make(chan struct{}),
	}
}

// Register adds c to the hub, subscribed to its user topic.
func (m *ManagerService) Register(c Client) {
	select {
	case m.RegisterCh <- c:
	case <-m.done:
	}
}

// Unregister removes c. It is safe to call after the hub stopped.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// Subscribe adds topic to c's subscriptions. Callers authorize first.
func (m *ManagerService) Subscribe(c Client, topic string) {
	select {
	case m.SubscribeCh <- subscription{client: c, topic: topic}:
	case <-m.done:
	}
}

// Publish hands ev to the local hub. It implements Publisher for single
// instance deployments without Redis.
func (m *ManagerService) Publish(ctx context.Context, ev Event) error {
	select {
	case m.BroadcastCh <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return nil
	}
}

// Run dispatches until ctx is cancelled, then drops every client.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			for c := range m.clients {
				m.drop(c)
			}
			return

		case c := <-m.RegisterCh:
			m.clients[c] = map[string]bool{UserTopic(c.GetUserID()): true}
			slog.Debug("realtime client registered", "user_id", c.GetUserID())

		case c := <-m.UnregisterCh:
			if _, ok := m.clients[c]; ok {
				m.drop(c)
			}

		case sub := <-m.SubscribeCh:
			if topics, ok := m.clients[sub.client]; ok {
				topics[sub.topic] = true
			}

		case ev := <-m.BroadcastCh:
			m.dispatch(ev)
		}
	}
}

func (m *ManagerService) dispatch(ev Event) {
	for c, topics := range m.clients {
		if !topics[ev.Topic] {
			continue
		}
		select {
		case c.GetSendChannel() <- ev:
		default:
			slog.Warn("dropping slow realtime client", "user_id", c.GetUserID())
			m.drop(c)
		}
	}
}

func (m *ManagerService) drop(c Client) {
	delete(m.clients, c)
	close(c.GetSendChannel())
}
