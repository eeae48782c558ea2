package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStatus is the state of a chat session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "OPEN"
	SessionClosed SessionStatus = "CLOSED"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser  Sender = "USER"
	SenderAI    Sender = "AI"
	SenderStaff Sender = "STAFF"
)

// ChatSession is a conversation between a student and the assistant.
// Once Escalated is set the assistant stops answering and staff may post.
type ChatSession struct {
	ID           string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string        `gorm:"type:uuid;not null;index" json:"userId"`
	Title        string        `gorm:"type:text;not null" json:"title"`
	Status       SessionStatus `gorm:"type:text;not null;default:OPEN;index" json:"status"`
	Escalated    bool          `gorm:"not null;default:false;index" json:"escalated"`
	LastActivity time.Time     `gorm:"index" json:"lastActivity"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *ChatSession) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = SessionOpen
	}
	return
}

// Message is a single append-only entry of a chat session.
type Message struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID string `gorm:"type:uuid;not null;index:idx_session_msg" json:"sessionId"`
	Sender    Sender `gorm:"type:text;not null" json:"sender"`
	Content   string `gorm:"type:text;not null" json:"content"`
	// Metadata carries sender details, e.g. staffId and staffName for STAFF messages.
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"index:idx_session_msg" json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
