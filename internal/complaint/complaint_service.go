// Package complaint implements the complaint lifecycle: filing with an
// optional attachment, staff actions, owner edits, deletion and
// role-scoped listing.
package complaint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/identity"
	"studentsupport/backend/internal/localization"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/objectstore"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"
)

// Attachment is an uploaded file accompanying a new complaint.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type CreateInput struct {
	Category    string
	Description string
	Attachment  *Attachment
}

// UpdateInput holds the owner-editable fields. Nil fields are left alone.
type UpdateInput struct {
	Category    *string
	Description *string
}

// Service handles the business logic for complaints.
type Service struct {
	Storage       storage.Storage
	Settings      *settings.Service
	Uploader      objectstore.Uploader
	Notifier      *notification.Dispatcher
	Localizer     *localization.Localizer
	UploadTimeout time.Duration
}

// NewService creates a new complaint service.
func NewService(s storage.Storage, st *settings.Service, up objectstore.Uploader, n *notification.Dispatcher, l *localization.Localizer, uploadTimeout time.Duration) *Service {
	if up == nil {
		up = objectstore.Disabled{}
	}
	if l == nil {
		l = localization.Default()
	}
	if n == nil {
		n = notification.NewDispatcher(s, nil, nil)
	}
	if uploadTimeout <= 0 {
		uploadTimeout = config.DefaultUploadTimeout
	}
	return &Service{
		Storage:       s,
		Settings:      st,
		Uploader:      up,
		Notifier:      n,
		Localizer:     l,
		UploadTimeout: uploadTimeout,
	}
}

func (s *Service) checkCategory(ctx context.Context, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", apperr.Validation("category is required")
	}
	ok, err := s.Settings.ValidCategory(ctx, category)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Validation("unknown category %q", category)
	}
	return category, nil
}

// Create files a complaint for a student. The attachment, if any, is uploaded
// before the row is written; a failed upload leaves no complaint behind.
func (s *Service) Create(ctx context.Context, actor *models.User, in CreateInput) (*models.Complaint, error) {
	if actor.Role != models.RoleStudent {
		return nil, apperr.Forbidden("only students can file complaints")
	}
	category, err := s.checkCategory(ctx, in.Category)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, apperr.Validation("description is required")
	}

	c := &models.Complaint{
		UserID:      actor.ID,
		Category:    category,
		Description: description,
		Status:      models.ComplaintPending,
	}

	if in.Attachment != nil {
		url, err := s.upload(ctx, in.Attachment)
		if err != nil {
			return nil, err
		}
		c.AttachmentURL = &url
	}

	err = s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		if err := tx.CreateComplaint(ctx, c); err != nil {
			return apperr.Internal(err)
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionCreate,
			EntityType: models.EntityComplaint,
			EntityID:   c.ID,
			Detail:     "category " + category,
		})
	})
	if err != nil {
		if c.AttachmentURL != nil {
			slog.Warn("complaint insert failed after upload", "attachment", *c.AttachmentURL, "error", err)
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) upload(ctx context.Context, a *Attachment) (string, error) {
	limit, err := s.Settings.MaxUploadBytes(ctx)
	if err != nil {
		return "", err
	}
	if a.Size > limit {
		return "", apperr.Validation("attachment exceeds %d MB", limit/(1024*1024))
	}

	ctx, cancel := context.WithTimeout(ctx, s.UploadTimeout)
	defer cancel()

	url, err := s.Uploader.Upload(ctx, a.Name, a.ContentType, io.LimitReader(a.Body, limit+1))
	if err != nil {
		if errors.Is(err, objectstore.ErrDisabled) {
			return "", apperr.Validation("attachments are not enabled")
		}
		slog.Error("attachment upload failed", "name", a.Name, "error", err)
		return "", apperr.Internal(fmt.Errorf("upload attachment: %w", err))
	}
	return url, nil
}

// Act applies a staff action. The mutation, its audit entry and the owner's
// notification commit together.
func (s *Service) Act(ctx context.Context, actor *models.User, id string, action Action) (*models.Complaint, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Forbidden("staff only")
	}
	if action == nil {
		return nil, apperr.Validation("action is required")
	}
	if err := action.validate(); err != nil {
		return nil, err
	}

	var (
		out   *models.Complaint
		notes []models.Notification
	)
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		c, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if a, ok := action.(Assign); ok {
			if to := strings.TrimSpace(a.AssigneeID); to != "" {
				if _, err := identity.Assignee(ctx, tx, to); err != nil {
					return err
				}
			}
		}
		prevStatus := c.Status
		verb, detail := action.apply(c)
		if err := tx.SaveComplaint(ctx, c); err != nil {
			return apperr.Internal(err)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     verb,
			EntityType: models.EntityComplaint,
			EntityID:   c.ID,
			Detail:     detail,
		}); err != nil {
			return err
		}

		for _, in := range s.notificationsFor(actor, c, action, prevStatus) {
			ns, err := s.Notifier.Create(ctx, tx, in)
			if err != nil {
				return err
			}
			notes = append(notes, ns...)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.Publish(ctx, notes)
	return out, nil
}

func (s *Service) notificationsFor(actor *models.User, c *models.Complaint, action Action, prev models.ComplaintStatus) []notification.Input {
	l := s.Localizer
	base := notification.Input{
		RecipientID: c.UserID,
		Type:        models.NotifyComplaintUpdate,
		RelatedID:   c.ID,
		RelatedType: models.EntityComplaint,
	}

	switch a := action.(type) {
	case Respond:
		base.Title = l.GetString(localization.DefaultLang, localization.KeyComplaintResponse)
		base.Body = strings.TrimSpace(a.Response)
		return []notification.Input{base}
	case Assign:
		if c.AssigneeID == nil || *c.AssigneeID == actor.ID {
			return nil
		}
		base.RecipientID = *c.AssigneeID
		base.Title = l.GetString(localization.DefaultLang, localization.KeyComplaintAssigned)
		base.Body = c.Category + ": " + truncate(c.Description, 120)
		return []notification.Input{base}
	default:
		if c.Status == prev {
			return nil
		}
		base.Title = l.GetString(localization.DefaultLang, localization.KeyComplaintStatusTitle)
		base.Body = l.Format(localization.DefaultLang, localization.KeyComplaintStatusBody, c.Category, c.Status)
		return []notification.Input{base}
	}
}

// Update edits category or description. Owners may edit while the complaint
// is PENDING; staff only complaints assigned to them; admins any.
func (s *Service) Update(ctx context.Context, actor *models.User, id string, in UpdateInput) (*models.Complaint, error) {
	if in.Category == nil && in.Description == nil {
		return nil, apperr.Validation("nothing to update")
	}

	var out *models.Complaint
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		c, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := canEdit(actor, c); err != nil {
			return err
		}

		if in.Category != nil {
			category, err := s.checkCategory(ctx, *in.Category)
			if err != nil {
				return err
			}
			c.Category = category
		}
		if in.Description != nil {
			description := strings.TrimSpace(*in.Description)
			if description == "" {
				return apperr.Validation("description must not be empty")
			}
			c.Description = description
		}
		if err := tx.SaveComplaint(ctx, c); err != nil {
			return apperr.Internal(err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func canEdit(actor *models.User, c *models.Complaint) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStaff:
		if c.AssigneeID == nil || *c.AssigneeID != actor.ID {
			return apperr.Forbidden("only the assignee may edit this complaint")
		}
		return nil
	default:
		if c.UserID != actor.ID {
			return apperr.Forbidden("not your complaint")
		}
		if c.Status != models.ComplaintPending {
			return apperr.Validation("complaint is already being processed")
		}
		return nil
	}
}

// Delete hard-deletes a complaint. Owners may delete in any status.
func (s *Service) Delete(ctx context.Context, actor *models.User, id string) error {
	return s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		c, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.Role.IsStaff() && c.UserID != actor.ID {
			return apperr.Forbidden("not your complaint")
		}
		if err := tx.DeleteComplaint(ctx, c.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.NotFound("complaint")
			}
			return apperr.Internal(err)
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionDelete,
			EntityType: models.EntityComplaint,
			EntityID:   c.ID,
			Detail:     fmt.Sprintf("deleted %s complaint in status %s", c.Category, c.Status),
		})
	})
}

// Get returns one complaint. Students only see their own.
func (s *Service) Get(ctx context.Context, actor *models.User, id string) (*models.Complaint, error) {
	c, err := s.load(ctx, s.Storage, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() && c.UserID != actor.ID {
		return nil, apperr.NotFound("complaint")
	}
	return c, nil
}

// List returns complaints newest first. Students are always restricted to
// their own rows.
func (s *Service) List(ctx context.Context, actor *models.User, f storage.ComplaintFilter) ([]models.Complaint, error) {
	if !actor.Role.IsStaff() {
		f.UserID = actor.ID
	}
	f.Limit = storage.ClampLimit(f.Limit, config.MaxListLimit)
	rows, err := s.Storage.ListComplaints(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return rows, nil
}

func (s *Service) load(ctx context.Context, st storage.Storage, id string) (*models.Complaint, error) {
	c, err := st.GetComplaintByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("complaint")
		}
		return nil, apperr.Internal(err)
	}
	return c, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
