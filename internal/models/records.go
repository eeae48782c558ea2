package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entity types referenced by audit entries and notifications.
const (
	EntityUser        = "User"
	EntityComplaint   = "Complaint"
	EntitySuggestion  = "Suggestion"
	EntityChatSession = "ChatSession"
	EntitySetting     = "Setting"
)

// AuditLog is an immutable record of who did what to which entity.
type AuditLog struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID    string    `gorm:"type:text;not null;index" json:"actorId"`
	Action     string    `gorm:"type:text;not null;index" json:"action"`
	EntityType string    `gorm:"type:text;not null;index:idx_audit_entity" json:"entityType"`
	EntityID   string    `gorm:"type:text;not null;index:idx_audit_entity" json:"entityId"`
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

// NotificationType classifies inbox entries.
type NotificationType string

const (
	NotifyComplaintUpdate  NotificationType = "COMPLAINT_UPDATE"
	NotifySuggestionUpdate NotificationType = "SUGGESTION_UPDATE"
	NotifyStaffRequested   NotificationType = "STAFF_REQUESTED"
	NotifyStaffReply       NotificationType = "STAFF_REPLY"
	NotifySystem           NotificationType = "SYSTEM"
)

// Notification is a per-recipient inbox entry.
type Notification struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string           `gorm:"type:uuid;not null;index:idx_notification_user" json:"userId"`
	Title       string           `gorm:"type:text;not null" json:"title"`
	Body        string           `gorm:"type:text" json:"body,omitempty"`
	Type        NotificationType `gorm:"type:text;not null" json:"type"`
	RelatedID   *string          `gorm:"type:text" json:"relatedId,omitempty"`
	RelatedType *string          `gorm:"type:text" json:"relatedType,omitempty"`
	Read        bool             `gorm:"column:is_read;not null;default:false;index:idx_notification_user" json:"read"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return
}

// Setting is a key/value configuration entry. Value holds raw JSON, stored as
// text so scalar values keep their encoding on every driver.
type Setting struct {
	Key      string         `gorm:"primaryKey;type:text" json:"key"`
	Value    datatypes.JSON `gorm:"type:text;not null" json:"value"`
	Category string         `gorm:"type:text;index" json:"category"`
	IsSystem bool           `gorm:"not null;default:false" json:"isSystem"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
