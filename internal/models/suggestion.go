package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SuggestionStatus is the lifecycle state of a suggestion.
type SuggestionStatus string

const (
	SuggestionPending    SuggestionStatus = "PENDING"
	SuggestionInProgress SuggestionStatus = "IN_PROGRESS"
	SuggestionApproved   SuggestionStatus = "APPROVED"
	SuggestionRejected   SuggestionStatus = "REJECTED"
)

func (s SuggestionStatus) Valid() bool {
	switch s {
	case SuggestionPending, SuggestionInProgress, SuggestionApproved, SuggestionRejected:
		return true
	}
	return false
}

// ParseSuggestionStatus upper-cases v before matching it against the enum.
func ParseSuggestionStatus(v string) (SuggestionStatus, bool) {
	s := SuggestionStatus(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Suggestion is an improvement idea filed by a student.
type Suggestion struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string           `gorm:"type:uuid;not null;index" json:"userId"`
	Title       string           `gorm:"type:text;not null" json:"title"`
	Description string           `gorm:"type:text;not null" json:"description"`
	Category    string           `gorm:"type:text;index" json:"category,omitempty"`
	Status      SuggestionStatus `gorm:"type:text;not null;default:PENDING;index" json:"status"`
	Response    *string          `gorm:"type:text" json:"response,omitempty"`
	AssigneeID  *string          `gorm:"type:uuid;index" json:"assigneeId,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Suggestion) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = SuggestionPending
	}
	return
}

// Upvote records that a user supports a suggestion. The (UserID, SuggestionID)
// pair is unique.
type Upvote struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_upvote_user_suggestion" json:"userId"`
	SuggestionID string    `gorm:"type:uuid;not null;uniqueIndex:idx_upvote_user_suggestion;index" json:"suggestionId"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (u *Upvote) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
