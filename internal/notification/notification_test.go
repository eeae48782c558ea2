package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studentsupport/backend/internal/chathub"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/storage"
	"studentsupport/backend/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev chathub.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestBroadcastThenPublish(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev chathub.Event) bool {
		return ev.Topic == chathub.UserTopic("staff-1")
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev chathub.Event) bool {
		return ev.Topic == chathub.UserTopic("staff-2")
	})).Return(errors.New("redis down")).Once()

	d := notification.NewDispatcher(store, pub, nil)

	var created []models.Notification
	err := store.Transaction(ctx, func(tx storage.Storage) error {
		var err error
		created, err = d.Broadcast(ctx, tx, []string{"staff-1", "staff-2"}, notification.Input{
			Title: "Staff requested", Type: models.NotifyStaffRequested, RelatedID: "s1", RelatedType: models.EntityChatSession,
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	d.Publish(ctx, created)
	pub.AssertExpectations(t)

	rows, err := d.List(ctx, &models.User{ID: "staff-2"}, false, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", *rows[0].RelatedID)
}

func TestCreateRejectsIncompleteInput(t *testing.T) {
	d := notification.NewDispatcher(memory.New(), nil, nil)
	_, err := d.Create(context.Background(), memory.New(), notification.Input{RecipientID: "u1"})
	assert.Error(t, err)
}

func TestInboxOperations(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d := notification.NewDispatcher(store, nil, nil)
	alice := &models.User{ID: "alice"}
	bob := &models.User{ID: "bob"}

	for _, title := range []string{"a", "b", "c"} {
		_, err := d.Create(ctx, store, notification.Input{RecipientID: alice.ID, Title: title, Type: models.NotifySystem})
		require.NoError(t, err)
	}
	rows, err := d.List(ctx, alice, false, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Bob cannot mark Alice's notification.
	require.NoError(t, d.MarkRead(ctx, bob, rows[0].ID))
	unread, err := d.List(ctx, alice, true, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 3)

	require.NoError(t, d.MarkRead(ctx, alice, rows[0].ID))
	unread, err = d.List(ctx, alice, true, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	n, err := d.MarkAllRead(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	purged, err := d.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged, "fresh notifications are kept")

	cleared, err := d.ClearAll(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)

	_, err = d.Purge(ctx, 0)
	assert.Error(t, err)
}
