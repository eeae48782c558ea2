package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis Pub/Sub channel shared by every API instance.
const Channel = "support:events"

// RedisPublisher publishes events on Channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// StartPubSubListener subscribes to Channel and feeds events into the hub
// until ctx is cancelled.
func (m *ManagerService) StartPubSubListener(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, Channel)
	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					slog.Warn("bad realtime event", "error", err)
					continue
				}
				if err := m.Publish(ctx, ev); err != nil {
					return
				}
			}
		}
	}()
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.Topic == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("event without topic or type")
	}
	return ev, nil
}
