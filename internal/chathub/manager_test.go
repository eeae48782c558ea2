package chathub_test

import (
	"context"
	"testing"
	"time"

	"studentsupport/backend/internal/chathub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *chathub.ManagerService {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := chathub.NewManagerService()
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func publish(t *testing.T, hub *chathub.ManagerService, topic, typ string, data any) {
	t.Helper()
	ev, err := chathub.NewEvent(topic, typ, data)
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), ev))
}

func receive(t *testing.T, c *MockClient) (chathub.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-c.RecvChannel:
		return ev, ok
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return chathub.Event{}, false
	}
}

func assertNothing(t *testing.T, c *MockClient) {
	t.Helper()
	select {
	case ev := <-c.RecvChannel:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_UserTopicIsImplicit(t *testing.T) {
	hub := startHub(t)
	alice := newMockClient("alice", 4)
	bob := newMockClient("bob", 4)
	hub.Register(alice)
	hub.Register(bob)

	publish(t, hub, chathub.UserTopic("alice"), chathub.EventNotification, map[string]string{"title": "hi"})

	ev, ok := receive(t, alice)
	require.True(t, ok)
	assert.Equal(t, chathub.EventNotification, ev.Type)
	assert.JSONEq(t, `{"title":"hi"}`, string(ev.Data))
	assertNothing(t, bob)
}

func TestManager_SessionSubscription(t *testing.T) {
	hub := startHub(t)
	staff := newMockClient("staff", 4)
	hub.Register(staff)

	publish(t, hub, chathub.SessionTopic("s1"), chathub.EventMessage, "before")
	assertNothing(t, staff)

	hub.Subscribe(staff, chathub.SessionTopic("s1"))
	publish(t, hub, chathub.SessionTopic("s1"), chathub.EventMessage, "after")

	ev, ok := receive(t, staff)
	require.True(t, ok)
	assert.JSONEq(t, `"after"`, string(ev.Data))
}

func TestManager_UnregisterClosesSendChannel(t *testing.T) {
	hub := startHub(t)
	c := newMockClient("alice", 1)
	hub.Register(c)
	hub.Unregister(c)

	_, ok := receive(t, c)
	assert.False(t, ok)

	// A second unregister is ignored.
	hub.Unregister(c)
}

func TestManager_SlowClientIsDropped(t *testing.T) {
	hub := startHub(t)
	slow := newMockClient("slow", 1)
	hub.Register(slow)

	publish(t, hub, chathub.UserTopic("slow"), chathub.EventNotification, 1)
	publish(t, hub, chathub.UserTopic("slow"), chathub.EventNotification, 2)

	ev, ok := receive(t, slow)
	require.True(t, ok)
	assert.JSONEq(t, `1`, string(ev.Data))

	_, ok = receive(t, slow)
	assert.False(t, ok, "overflowing client must be dropped")
}

func TestManager_StopDropsClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := chathub.NewManagerService()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	c := newMockClient("alice", 1)
	hub.Register(c)
	cancel()
	<-done

	_, ok := receive(t, c)
	assert.False(t, ok)

	// Calls after shutdown do not block.
	hub.Unregister(c)
	assert.NoError(t, hub.Publish(context.Background(), chathub.Event{Topic: "x", Type: "y"}))
}
