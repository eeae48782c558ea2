package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"studentsupport/backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Service is the gorm-backed Storage.
type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// OpenPostgres connects to PostgreSQL and migrates every model.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// Turns driver unique violations into gorm.ErrDuplicatedKey.
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

var _ Storage = (*Service)(nil)

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

// Transaction runs fn inside a database transaction. Nested calls use savepoints.
func (s *Service) Transaction(ctx context.Context, fn func(tx Storage) error) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Service{DB: tx})
	})
}

// invalidTextRepresentation is raised by postgres for a malformed uuid literal.
const invalidTextRepresentation = "22P02"

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// validID reports whether id can name a row. Every primary key is a uuid, so
// anything else is a missing row and never reaches the driver.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func first[T any](q *gorm.DB) (*T, error) {
	var row T
	if err := q.First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// Users

func (s *Service) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return first[models.User](s.db(ctx).Where("id = ?", id))
}

func (s *Service) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return first[models.User](s.db(ctx).Where("external_id = ?", externalID))
}

// GetUserByEmail expects email already normalised to lower case.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return first[models.User](s.db(ctx).Where("email = ?", email))
}

func (s *Service) CreateUser(ctx context.Context, user *models.User) error {
	return translate(s.db(ctx).Create(user).Error)
}

func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return translate(s.db(ctx).Save(user).Error)
}

func (s *Service) ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	var users []models.User
	q := s.db(ctx).Order("created_at asc")
	if len(roles) > 0 {
		q = q.Where("role IN ?", roles)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Complaints

func (s *Service) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	if err := s.db(ctx).Create(c).Error; err != nil {
		slog.Error("failed to save complaint", "user_id", c.UserID, "error", err)
		return translate(err)
	}
	return nil
}

func (s *Service) GetComplaintByID(ctx context.Context, id string) (*models.Complaint, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return first[models.Complaint](s.db(ctx).Where("id = ?", id))
}

func (s *Service) SaveComplaint(ctx context.Context, c *models.Complaint) error {
	return translate(s.db(ctx).Save(c).Error)
}

func (s *Service) DeleteComplaint(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res := s.db(ctx).Where("id = ?", id).Delete(&models.Complaint{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListComplaints(ctx context.Context, f ComplaintFilter) ([]models.Complaint, error) {
	if f.UserID != "" && !validID(f.UserID) {
		return []models.Complaint{}, nil
	}
	q := s.db(ctx).Order("created_at desc").Limit(ClampLimit(f.Limit, MaxLimit))
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}

	var rows []models.Complaint
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Suggestions

func (s *Service) CreateSuggestion(ctx context.Context, sg *models.Suggestion) error {
	return translate(s.db(ctx).Create(sg).Error)
}

func (s *Service) GetSuggestionByID(ctx context.Context, id string) (*models.Suggestion, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return first[models.Suggestion](s.db(ctx).Where("id = ?", id))
}

func (s *Service) SaveSuggestion(ctx context.Context, sg *models.Suggestion) error {
	return translate(s.db(ctx).Save(sg).Error)
}

func (s *Service) DeleteSuggestion(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("suggestion_id = ?", id).Delete(&models.Upvote{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Suggestion{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Service) ListSuggestions(ctx context.Context, f SuggestionFilter) ([]models.Suggestion, error) {
	if f.UserID != "" && !validID(f.UserID) {
		return []models.Suggestion{}, nil
	}
	q := s.db(ctx).Order("created_at desc").Limit(ClampLimit(f.Limit, MaxLimit))
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}

	var rows []models.Suggestion
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Upvotes

func (s *Service) FindUpvote(ctx context.Context, userID, suggestionID string) (*models.Upvote, error) {
	if !validID(userID) || !validID(suggestionID) {
		return nil, nil
	}
	var rows []models.Upvote
	err := s.db(ctx).
		Where("user_id = ? AND suggestion_id = ?", userID, suggestionID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// CreateUpvote inserts with ON CONFLICT DO NOTHING so that a lost race does not
// abort the surrounding transaction; zero affected rows means the pair exists.
func (s *Service) CreateUpvote(ctx context.Context, u *models.Upvote) error {
	res := s.db(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "suggestion_id"}},
			DoNothing: true,
		}).
		Create(u)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *Service) DeleteUpvote(ctx context.Context, id string) error {
	return s.db(ctx).Where("id = ?", id).Delete(&models.Upvote{}).Error
}

func (s *Service) CountUpvotes(ctx context.Context, suggestionIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(suggestionIDs))
	if len(suggestionIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		SuggestionID string
		Count        int64
	}
	err := s.db(ctx).Model(&models.Upvote{}).
		Select("suggestion_id, count(*) as count").
		Where("suggestion_id IN ?", suggestionIDs).
		Group("suggestion_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.SuggestionID] = r.Count
	}
	return counts, nil
}

func (s *Service) ListUpvotesByUser(ctx context.Context, userID string, suggestionIDs []string) ([]models.Upvote, error) {
	var rows []models.Upvote
	if len(suggestionIDs) == 0 {
		return rows, nil
	}
	err := s.db(ctx).
		Where("user_id = ? AND suggestion_id IN ?", userID, suggestionIDs).
		Find(&rows).Error
	return rows, err
}

// Chat

func (s *Service) CreateChatSession(ctx context.Context, cs *models.ChatSession) error {
	return translate(s.db(ctx).Create(cs).Error)
}

func (s *Service) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return first[models.ChatSession](s.db(ctx).Where("id = ?", id))
}

func (s *Service) SaveChatSession(ctx context.Context, cs *models.ChatSession) error {
	return translate(s.db(ctx).Save(cs).Error)
}

func (s *Service) ListChatSessions(ctx context.Context, f ChatSessionFilter) ([]models.ChatSession, error) {
	if f.UserID != "" && !validID(f.UserID) {
		return []models.ChatSession{}, nil
	}
	q := s.db(ctx).Order("last_activity desc").Limit(ClampLimit(f.Limit, MaxLimit))
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.EscalatedOnly {
		q = q.Where("escalated = ?", true)
	}

	var rows []models.ChatSession
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) CreateMessage(ctx context.Context, m *models.Message) error {
	if err := s.db(ctx).Create(m).Error; err != nil {
		slog.Error("failed to save message", "session_id", m.SessionID, "error", err)
		return translate(err)
	}
	return nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var rows []models.Message
	if !validID(sessionID) {
		return rows, nil
	}
	if err := s.db(ctx).Where("session_id = ?", sessionID).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) LatestMessage(ctx context.Context, sessionID string, sender models.Sender) (*models.Message, error) {
	if !validID(sessionID) {
		return nil, nil
	}
	var rows []models.Message
	err := s.db(ctx).
		Where("session_id = ? AND sender = ?", sessionID, sender).
		Order("created_at desc").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Audit

func (s *Service) CreateAuditLog(ctx context.Context, a *models.AuditLog) error {
	return s.db(ctx).Create(a).Error
}

func (s *Service) ListAuditLogs(ctx context.Context, f AuditFilter) ([]models.AuditLog, error) {
	q := s.db(ctx).Order("created_at desc").Limit(ClampLimit(f.Limit, MaxLimit))
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}

	var rows []models.AuditLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Notifications

func (s *Service) CreateNotifications(ctx context.Context, ns []models.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return s.db(ctx).Create(&ns).Error
}

func (s *Service) ListNotifications(ctx context.Context, f NotificationFilter) ([]models.Notification, error) {
	q := s.db(ctx).Where("user_id = ?", f.UserID).Order("created_at desc").Limit(ClampLimit(f.Limit, MaxLimit))
	if f.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id, userID string) (bool, error) {
	if !validID(id) || !validID(userID) {
		return false, nil
	}
	res := s.db(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	return res.RowsAffected > 0, res.Error
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res := s.db(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (s *Service) DeleteNotificationsForUser(ctx context.Context, userID string) (int64, error) {
	res := s.db(ctx).Where("user_id = ?", userID).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

func (s *Service) PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error) {
	res := s.db(ctx).Where("is_read = ? AND created_at < ?", true, before).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

// Settings

func (s *Service) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	return first[models.Setting](s.db(ctx).Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}))
}

func (s *Service) UpsertSetting(ctx context.Context, st *models.Setting) error {
	return s.db(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "category", "updated_at"}),
		}).
		Create(st).Error
}

func (s *Service) ListSettings(ctx context.Context, category string) ([]models.Setting, error) {
	q := s.db(ctx).Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}})
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var rows []models.Setting
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
