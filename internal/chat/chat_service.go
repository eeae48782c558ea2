// Package chat runs assistant conversations and their escalation paths:
// handing a session to staff, staff replies, and turning a session into a
// complaint.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"studentsupport/backend/internal/analysis"
	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/chathub"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/llm"
	"studentsupport/backend/internal/localization"
	"studentsupport/backend/internal/metrics"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"

	"gorm.io/datatypes"
)

// StaffAlerter mirrors staff requests to an out-of-band channel.
type StaffAlerter interface {
	StaffAlert(ctx context.Context, title, body string) error
}

// SendResult is the outcome of SendMessage. AIMessage is nil when the session
// is escalated.
type SendResult struct {
	Session     *models.ChatSession `json:"session"`
	UserMessage *models.Message     `json:"userMessage"`
	AIMessage   *models.Message     `json:"aiMessage,omitempty"`
}

// SessionDetail is a session with its messages oldest first.
type SessionDetail struct {
	Session  *models.ChatSession `json:"session"`
	Messages []models.Message    `json:"messages"`
}

type Service struct {
	Storage   storage.Storage
	Settings  *settings.Service
	Generator llm.Generator
	Notifier  *notification.Dispatcher
	Publisher chathub.Publisher
	Alerts    StaffAlerter
	Localizer *localization.Localizer
	Metrics   *metrics.Metrics
	AITimeout time.Duration
}

// Options carries the optional collaborators of the chat service.
type Options struct {
	Settings  *settings.Service
	Generator llm.Generator
	Notifier  *notification.Dispatcher
	Publisher chathub.Publisher
	Alerts    StaffAlerter
	Localizer *localization.Localizer
	Metrics   *metrics.Metrics
	AITimeout time.Duration
}

func NewService(store storage.Storage, opts Options) *Service {
	s := &Service{
		Storage:   store,
		Settings:  opts.Settings,
		Generator: opts.Generator,
		Notifier:  opts.Notifier,
		Publisher: opts.Publisher,
		Alerts:    opts.Alerts,
		Localizer: opts.Localizer,
		Metrics:   opts.Metrics,
		AITimeout: opts.AITimeout,
	}
	if s.Generator == nil {
		s.Generator = llm.Disabled{}
	}
	if s.Publisher == nil {
		s.Publisher = chathub.NopPublisher{}
	}
	if s.Notifier == nil {
		s.Notifier = notification.NewDispatcher(store, s.Publisher, s.Metrics)
	}
	if s.Localizer == nil {
		s.Localizer = localization.Default()
	}
	if s.AITimeout <= 0 {
		s.AITimeout = config.DefaultAITimeout
	}
	return s
}

func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Validation("message must not be empty")
	}
	if utf8.RuneCountInString(text) > config.MaxMessageRunes {
		return "", apperr.Validation("message exceeds %d characters", config.MaxMessageRunes)
	}
	return text, nil
}

func sessionTitle(text string) string {
	r := []rune(text)
	if len(r) > config.SessionTitleRunes {
		r = r[:config.SessionTitleRunes]
	}
	return strings.TrimSpace(string(r))
}

// SendMessage appends a user message, starting a new session when sessionID
// is empty, and answers it with the assistant unless staff have taken over.
func (s *Service) SendMessage(ctx context.Context, actor *models.User, sessionID, text string) (*SendResult, error) {
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}

	res := &SendResult{}
	err = s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		now := time.Now()
		var cs *models.ChatSession
		if sessionID == "" {
			cs = &models.ChatSession{
				UserID:       actor.ID,
				Title:        sessionTitle(text),
				Status:       models.SessionOpen,
				LastActivity: now,
			}
			if err := tx.CreateChatSession(ctx, cs); err != nil {
				return apperr.Internal(err)
			}
		} else {
			loaded, err := s.load(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			cs = loaded
			if cs.UserID != actor.ID {
				return apperr.NotFound("chat session")
			}
			if cs.Status == models.SessionClosed {
				return apperr.Validation("chat session is closed")
			}
		}

		msg := &models.Message{SessionID: cs.ID, Sender: models.SenderUser, Content: text}
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return apperr.Internal(err)
		}
		cs.LastActivity = now
		if err := tx.SaveChatSession(ctx, cs); err != nil {
			return apperr.Internal(err)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionSendMessage,
			EntityType: models.EntityChatSession,
			EntityID:   cs.ID,
			Detail:     fmt.Sprintf("message %s", msg.ID),
		}); err != nil {
			return err
		}
		res.Session = cs
		res.UserMessage = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, res.Session.ID, chathub.EventMessage, res.UserMessage)

	if res.Session.Escalated {
		return res, nil
	}

	reply := s.generateReply(ctx, actor, text)
	aiMsg := &models.Message{SessionID: res.Session.ID, Sender: models.SenderAI, Content: reply}
	err = s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		if err := tx.CreateMessage(ctx, aiMsg); err != nil {
			return apperr.Internal(err)
		}
		cs, err := s.load(ctx, tx, res.Session.ID)
		if err != nil {
			return err
		}
		cs.LastActivity = time.Now()
		if err := tx.SaveChatSession(ctx, cs); err != nil {
			return apperr.Internal(err)
		}
		res.Session = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.AIMessage = aiMsg
	s.publish(ctx, res.Session.ID, chathub.EventMessage, aiMsg)
	return res, nil
}

// generateReply never fails: any generator error or empty output becomes the
// localized apology.
func (s *Service) generateReply(ctx context.Context, actor *models.User, text string) string {
	apology := s.Localizer.GetString(localization.DefaultLang, localization.KeyAIApology)

	act, err := analysis.Gather(ctx, s.Storage, actor.ID)
	if err != nil {
		slog.Warn("chat context gathering failed", "user_id", actor.ID, "error", err)
		act = analysis.Activity{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.AITimeout)
	defer cancel()

	out, err := s.Generator.Generate(ctx, s.systemPrompt(ctx), analysis.ChatPrompt(act, text))
	switch {
	case errors.Is(err, llm.ErrDisabled):
		s.Metrics.AIGeneration("chat", "disabled")
		return apology
	case err != nil:
		s.Metrics.AIGeneration("chat", "error")
		slog.Warn("chat generation failed", "user_id", actor.ID, "error", err)
		return apology
	case strings.TrimSpace(out) == "":
		s.Metrics.AIGeneration("chat", "empty")
		return apology
	}
	s.Metrics.AIGeneration("chat", "ok")
	return strings.TrimSpace(out)
}

func (s *Service) systemPrompt(ctx context.Context) string {
	preamble := s.Localizer.GetString(localization.DefaultLang, localization.KeyAIPreamble)
	if s.Settings == nil {
		return preamble
	}
	raw, err := s.Settings.Get(ctx, config.KeyAssistantName)
	if err != nil {
		return preamble
	}
	var name string
	if json.Unmarshal(raw, &name) != nil || strings.TrimSpace(name) == "" {
		return preamble
	}
	return fmt.Sprintf("Your name is %s. %s", strings.TrimSpace(name), preamble)
}

// RequestStaff hands the session to staff. Repeating the request on an
// escalated session succeeds without notifying anyone again.
func (s *Service) RequestStaff(ctx context.Context, actor *models.User, id string) (*models.ChatSession, error) {
	var (
		out     *models.ChatSession
		notes   []models.Notification
		changed bool
	)
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		cs, err := s.loadOwned(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if cs.Status == models.SessionClosed {
			return apperr.Validation("chat session is closed")
		}
		out = cs
		if cs.Escalated {
			return nil
		}

		cs.Escalated = true
		cs.LastActivity = time.Now()
		if err := tx.SaveChatSession(ctx, cs); err != nil {
			return apperr.Internal(err)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionRequestStaff,
			EntityType: models.EntityChatSession,
			EntityID:   cs.ID,
			Detail:     "staff requested",
		}); err != nil {
			return err
		}

		staff, err := tx.ListUsers(ctx, models.RoleStaff, models.RoleAdmin)
		if err != nil {
			return apperr.Internal(err)
		}
		recipients := make([]string, 0, len(staff))
		for _, u := range staff {
			recipients = append(recipients, u.ID)
		}
		notes, err = s.Notifier.Broadcast(ctx, tx, recipients, s.staffRequested(actor, cs))
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return out, nil
	}

	s.Notifier.Publish(ctx, notes)
	s.publish(ctx, out.ID, chathub.EventSession, out)
	if s.Alerts != nil {
		in := s.staffRequested(actor, out)
		if err := s.Alerts.StaffAlert(ctx, in.Title, in.Body); err != nil {
			slog.Warn("staff alert mirror failed", "session_id", out.ID, "error", err)
		}
	}
	return out, nil
}

func (s *Service) staffRequested(actor *models.User, cs *models.ChatSession) notification.Input {
	l := s.Localizer
	return notification.Input{
		Title:       l.GetString(localization.DefaultLang, localization.KeyStaffRequestedTitle),
		Body:        l.Format(localization.DefaultLang, localization.KeyStaffRequestedBody, actor.Name, cs.Title),
		Type:        models.NotifyStaffRequested,
		RelatedID:   cs.ID,
		RelatedType: models.EntityChatSession,
	}
}

// StaffMessage posts a staff reply into an escalated, open session.
func (s *Service) StaffMessage(ctx context.Context, actor *models.User, id, text string) (*models.Message, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Forbidden("staff only")
	}
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}

	var (
		msg   *models.Message
		notes []models.Notification
	)
	err = s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		cs, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if cs.Status == models.SessionClosed {
			return apperr.Validation("chat session is closed")
		}
		if !cs.Escalated {
			return apperr.Validation("chat session has not been escalated to staff")
		}

		msg = &models.Message{
			SessionID: cs.ID,
			Sender:    models.SenderStaff,
			Content:   text,
			Metadata:  datatypes.JSONMap{"staffId": actor.ID, "staffName": actor.Name},
		}
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return apperr.Internal(err)
		}
		cs.LastActivity = time.Now()
		if err := tx.SaveChatSession(ctx, cs); err != nil {
			return apperr.Internal(err)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionStaffReply,
			EntityType: models.EntityChatSession,
			EntityID:   cs.ID,
			Detail:     fmt.Sprintf("message %s", msg.ID),
		}); err != nil {
			return err
		}

		notes, err = s.Notifier.Create(ctx, tx, notification.Input{
			RecipientID: cs.UserID,
			Title:       s.Localizer.GetString(localization.DefaultLang, localization.KeyStaffReplyTitle),
			Body:        text,
			Type:        models.NotifyStaffReply,
			RelatedID:   cs.ID,
			RelatedType: models.EntityChatSession,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.Publish(ctx, notes)
	s.publish(ctx, msg.SessionID, chathub.EventMessage, msg)
	return msg, nil
}

// EscalateToComplaint files a General complaint seeded from the latest user
// message and closes the session. It works on closed or escalated sessions
// too. The new complaint id is returned.
func (s *Service) EscalateToComplaint(ctx context.Context, actor *models.User, id string) (string, error) {
	var (
		cs *models.ChatSession
		c  *models.Complaint
	)
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		var err error
		cs, err = s.loadOwned(ctx, tx, actor, id)
		if err != nil {
			return err
		}

		last, err := tx.LatestMessage(ctx, cs.ID, models.SenderUser)
		if err != nil {
			return apperr.Internal(err)
		}
		description := "Escalated from chat session (no user message recorded)"
		if last != nil {
			description = "Escalated from chat: " + last.Content
		}

		c = &models.Complaint{
			UserID:      cs.UserID,
			Category:    config.EscalatedComplaintCategory,
			Description: description,
			Status:      models.ComplaintPending,
		}
		if err := tx.CreateComplaint(ctx, c); err != nil {
			return apperr.Internal(err)
		}

		cs.Status = models.SessionClosed
		cs.LastActivity = time.Now()
		if err := tx.SaveChatSession(ctx, cs); err != nil {
			return apperr.Internal(err)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionEscalate,
			EntityType: models.EntityChatSession,
			EntityID:   cs.ID,
			Detail:     "escalated to complaint " + c.ID,
		}); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionCreate,
			EntityType: models.EntityComplaint,
			EntityID:   c.ID,
			Detail:     "from chat session " + cs.ID,
		})
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, cs.ID, chathub.EventSession, cs)
	return c.ID, nil
}

// CloseSession closes a session. Owners and staff may close.
func (s *Service) CloseSession(ctx context.Context, actor *models.User, id string) (*models.ChatSession, error) {
	var out *models.ChatSession
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		cs, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.Role.IsStaff() && cs.UserID != actor.ID {
			return apperr.NotFound("chat session")
		}
		prev := cs.Status
		cs.Status = models.SessionClosed
		if err := tx.SaveChatSession(ctx, cs); err != nil {
			return apperr.Internal(err)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionClose,
			EntityType: models.EntityChatSession,
			EntityID:   cs.ID,
			Detail:     fmt.Sprintf("status %s -> %s", prev, models.SessionClosed),
		}); err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, out.ID, chathub.EventSession, out)
	return out, nil
}

// ListSessions returns sessions by most recent activity. Students see their
// own; staff see the escalated queue.
func (s *Service) ListSessions(ctx context.Context, actor *models.User, escalatedOnly bool, limit int) ([]models.ChatSession, error) {
	f := storage.ChatSessionFilter{
		EscalatedOnly: escalatedOnly,
		Limit:         storage.ClampLimit(limit, config.MaxListLimit),
	}
	if actor.Role.IsStaff() {
		f.EscalatedOnly = true
	} else {
		f.UserID = actor.ID
	}
	rows, err := s.Storage.ListChatSessions(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return rows, nil
}

// GetSession returns a session and its messages to the owner or to staff.
func (s *Service) GetSession(ctx context.Context, actor *models.User, id string) (*SessionDetail, error) {
	cs, err := s.load(ctx, s.Storage, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() && cs.UserID != actor.ID {
		return nil, apperr.NotFound("chat session")
	}
	msgs, err := s.Storage.ListMessages(ctx, cs.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &SessionDetail{Session: cs, Messages: msgs}, nil
}

// CanSubscribe reports whether userID may follow the realtime topic of a
// session.
func (s *Service) CanSubscribe(ctx context.Context, user *models.User, sessionID string) bool {
	if user.Role.IsStaff() {
		return true
	}
	cs, err := s.Storage.GetChatSession(ctx, sessionID)
	return err == nil && cs.UserID == user.ID
}

func (s *Service) load(ctx context.Context, st storage.Storage, id string) (*models.ChatSession, error) {
	cs, err := st.GetChatSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("chat session")
		}
		return nil, apperr.Internal(err)
	}
	return cs, nil
}

// loadOwned hides other students' sessions and refuses staff acting on a
// student's behalf.
func (s *Service) loadOwned(ctx context.Context, st storage.Storage, actor *models.User, id string) (*models.ChatSession, error) {
	cs, err := s.load(ctx, st, id)
	if err != nil {
		return nil, err
	}
	if cs.UserID != actor.ID {
		if actor.Role.IsStaff() {
			return nil, apperr.Forbidden("only the session owner may do this")
		}
		return nil, apperr.NotFound("chat session")
	}
	return cs, nil
}

func (s *Service) publish(ctx context.Context, sessionID, typ string, data any) {
	ev, err := chathub.NewEvent(chathub.SessionTopic(sessionID), typ, data)
	if err == nil {
		err = s.Publisher.Publish(ctx, ev)
	}
	if err != nil {
		slog.Warn("chat event publish failed", "session_id", sessionID, "type", typ, "error", err)
	}
}
