package storage

import (
	"context"
	"errors"
	"time"

	"studentsupport/backend/internal/models"
)

var (
	// ErrNotFound is returned by Get* lookups when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// Default and maximum page sizes applied by List* methods when the filter
// leaves Limit unset or asks for too much.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ClampLimit normalises a requested page size.
func ClampLimit(limit, max int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

type ComplaintFilter struct {
	UserID   string
	Status   models.ComplaintStatus
	Category string
	Limit    int
}

type SuggestionFilter struct {
	UserID   string
	Status   models.SuggestionStatus
	Category string
	Limit    int
}

type ChatSessionFilter struct {
	UserID        string
	Status        models.SessionStatus
	EscalatedOnly bool
	Limit         int
}

type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int
}

type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

// Storage is the relational store used by every service. List methods return
// rows newest first unless stated otherwise.
type Storage interface {
	// Transaction runs fn against a transactional handle. Any error returned
	// by fn rolls back every write made through the handle.
	Transaction(ctx context.Context, fn func(tx Storage) error) error

	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	SaveUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error)

	CreateComplaint(ctx context.Context, c *models.Complaint) error
	GetComplaintByID(ctx context.Context, id string) (*models.Complaint, error)
	SaveComplaint(ctx context.Context, c *models.Complaint) error
	DeleteComplaint(ctx context.Context, id string) error
	ListComplaints(ctx context.Context, f ComplaintFilter) ([]models.Complaint, error)

	CreateSuggestion(ctx context.Context, s *models.Suggestion) error
	GetSuggestionByID(ctx context.Context, id string) (*models.Suggestion, error)
	SaveSuggestion(ctx context.Context, s *models.Suggestion) error
	// DeleteSuggestion removes the suggestion and its upvotes.
	DeleteSuggestion(ctx context.Context, id string) error
	ListSuggestions(ctx context.Context, f SuggestionFilter) ([]models.Suggestion, error)

	// FindUpvote returns nil, nil when the pair has no upvote.
	FindUpvote(ctx context.Context, userID, suggestionID string) (*models.Upvote, error)
	// CreateUpvote returns ErrDuplicate when the pair already exists.
	CreateUpvote(ctx context.Context, u *models.Upvote) error
	DeleteUpvote(ctx context.Context, id string) error
	CountUpvotes(ctx context.Context, suggestionIDs []string) (map[string]int64, error)
	ListUpvotesByUser(ctx context.Context, userID string, suggestionIDs []string) ([]models.Upvote, error)

	CreateChatSession(ctx context.Context, s *models.ChatSession) error
	GetChatSession(ctx context.Context, id string) (*models.ChatSession, error)
	SaveChatSession(ctx context.Context, s *models.ChatSession) error
	// ListChatSessions orders by last activity, most recent first.
	ListChatSessions(ctx context.Context, f ChatSessionFilter) ([]models.ChatSession, error)
	CreateMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns the messages of a session oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	// LatestMessage returns nil, nil when the session has no message from sender.
	LatestMessage(ctx context.Context, sessionID string, sender models.Sender) (*models.Message, error)

	CreateAuditLog(ctx context.Context, a *models.AuditLog) error
	ListAuditLogs(ctx context.Context, f AuditFilter) ([]models.AuditLog, error)

	CreateNotifications(ctx context.Context, ns []models.Notification) error
	ListNotifications(ctx context.Context, f NotificationFilter) ([]models.Notification, error)
	// MarkNotificationRead reports whether a notification owned by userID was updated.
	MarkNotificationRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotificationsForUser(ctx context.Context, userID string) (int64, error)
	PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error)

	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	// UpsertSetting inserts or replaces value and category by key. IsSystem is
	// only written on insert.
	UpsertSetting(ctx context.Context, s *models.Setting) error
	ListSettings(ctx context.Context, category string) ([]models.Setting, error)
}
