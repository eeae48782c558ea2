package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ComplaintStatus is the lifecycle state of a complaint.
type ComplaintStatus string

const (
	ComplaintPending    ComplaintStatus = "PENDING"
	ComplaintInProgress ComplaintStatus = "IN_PROGRESS"
	ComplaintResolved   ComplaintStatus = "RESOLVED"
	ComplaintClosed     ComplaintStatus = "CLOSED"
)

// Valid reports whether s is one of the four complaint statuses.
func (s ComplaintStatus) Valid() bool {
	switch s {
	case ComplaintPending, ComplaintInProgress, ComplaintResolved, ComplaintClosed:
		return true
	}
	return false
}

// ParseComplaintStatus accepts a status name in any letter case.
func ParseComplaintStatus(v string) (ComplaintStatus, bool) {
	s := ComplaintStatus(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Complaint is an issue filed by a student.
type Complaint struct {
	ID          string          `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string          `gorm:"type:uuid;not null;index" json:"userId"`
	Category    string          `gorm:"type:text;not null;index" json:"category"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Status      ComplaintStatus `gorm:"type:text;not null;default:PENDING;index" json:"status"`
	Response    *string         `gorm:"type:text" json:"response,omitempty"`
	// AttachmentURL points at the uploaded file in object storage.
	AttachmentURL *string `gorm:"type:text" json:"attachmentUrl,omitempty"`
	AssigneeID    *string `gorm:"type:uuid;index" json:"assigneeId,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Complaint) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = ComplaintPending
	}
	return
}
