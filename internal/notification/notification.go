// Package notification writes per-recipient inbox entries and pushes them to
// connected clients once the surrounding transaction has committed.
package notification

import (
	"context"
	"log/slog"
	"time"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/chathub"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/metrics"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"
)

// Input describes one notification.
type Input struct {
	RecipientID string
	Title       string
	Body        string
	Type        models.NotificationType
	RelatedID   string
	RelatedType string
}

func (in Input) model() models.Notification {
	n := models.Notification{
		UserID: in.RecipientID,
		Title:  in.Title,
		Body:   in.Body,
		Type:   in.Type,
	}
	if in.RelatedID != "" {
		id := in.RelatedID
		n.RelatedID = &id
	}
	if in.RelatedType != "" {
		typ := in.RelatedType
		n.RelatedType = &typ
	}
	return n
}

// Dispatcher creates notifications and publishes them.
type Dispatcher struct {
	store     storage.Storage
	publisher chathub.Publisher
	metrics   *metrics.Metrics
}

func NewDispatcher(store storage.Storage, publisher chathub.Publisher, m *metrics.Metrics) *Dispatcher {
	if publisher == nil {
		publisher = chathub.NopPublisher{}
	}
	return &Dispatcher{store: store, publisher: publisher, metrics: m}
}

// Create inserts one notification through tx.
func (d *Dispatcher) Create(ctx context.Context, tx storage.Storage, in Input) ([]models.Notification, error) {
	return d.insert(ctx, tx, []models.Notification{in.model()})
}

// Broadcast inserts one copy of in per recipient. RecipientID of in is ignored.
func (d *Dispatcher) Broadcast(ctx context.Context, tx storage.Storage, recipients []string, in Input) ([]models.Notification, error) {
	ns := make([]models.Notification, 0, len(recipients))
	for _, id := range recipients {
		in.RecipientID = id
		ns = append(ns, in.model())
	}
	return d.insert(ctx, tx, ns)
}

func (d *Dispatcher) insert(ctx context.Context, tx storage.Storage, ns []models.Notification) ([]models.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	for _, n := range ns {
		if n.UserID == "" || n.Title == "" {
			return nil, apperr.Validation("notification needs a recipient and a title")
		}
	}
	if err := tx.CreateNotifications(ctx, ns); err != nil {
		return nil, apperr.Internal(err)
	}
	d.metrics.NotificationsCreated(string(ns[0].Type), len(ns))
	return ns, nil
}

// Publish pushes committed notifications to their recipients. Failures are
// logged; the inbox row is the durable record.
func (d *Dispatcher) Publish(ctx context.Context, ns []models.Notification) {
	for _, n := range ns {
		ev, err := chathub.NewEvent(chathub.UserTopic(n.UserID), chathub.EventNotification, n)
		if err == nil {
			err = d.publisher.Publish(ctx, ev)
		}
		if err != nil {
			slog.Warn("notification publish failed", "notification_id", n.ID, "error", err)
		}
	}
}

// List returns the caller's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, actor *models.User, unreadOnly bool, limit int) ([]models.Notification, error) {
	ns, err := d.store.ListNotifications(ctx, storage.NotificationFilter{
		UserID:     actor.ID,
		UnreadOnly: unreadOnly,
		Limit:      storage.ClampLimit(limit, config.MaxListLimit),
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return ns, nil
}

// MarkRead flags a notification as read. It is a no-op for notifications that
// belong to someone else.
func (d *Dispatcher) MarkRead(ctx context.Context, actor *models.User, id string) error {
	if _, err := d.store.MarkNotificationRead(ctx, id, actor.ID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, actor *models.User) (int64, error) {
	n, err := d.store.MarkAllNotificationsRead(ctx, actor.ID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// ClearAll hard-deletes every notification of the caller.
func (d *Dispatcher) ClearAll(ctx context.Context, actor *models.User) (int64, error) {
	n, err := d.store.DeleteNotificationsForUser(ctx, actor.ID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// Purge deletes read notifications older than retention.
func (d *Dispatcher) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, apperr.Validation("retention must be positive")
	}
	n, err := d.store.PurgeReadNotifications(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, apperr.Internal(err)
	}
	slog.Info("purged read notifications", "count", n, "retention", retention)
	return n, nil
}
