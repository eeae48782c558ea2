// Package suggestion implements the suggestion lifecycle and the upvote
// toggle.
package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"studentsupport/backend/internal/analysis"
	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/identity"
	"studentsupport/backend/internal/llm"
	"studentsupport/backend/internal/localization"
	"studentsupport/backend/internal/metrics"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"
)

const enrichmentSystemPrompt = "You review student suggestions for a university support office. Be concise and neutral."

type CreateInput struct {
	Title       string
	Description string
	Category    string
}

// UpdateInput holds the editable fields. Nil fields are left alone.
type UpdateInput struct {
	Title       *string
	Description *string
	Category    *string
}

// View is a suggestion with the live upvote projection for one caller.
type View struct {
	models.Suggestion
	UpvoteCount int64 `json:"upvoteCount"`
	HasUpvoted  bool  `json:"hasUpvoted"`
}

// Service handles the business logic for suggestions.
type Service struct {
	Storage   storage.Storage
	Settings  *settings.Service
	Generator llm.Generator
	Notifier  *notification.Dispatcher
	Localizer *localization.Localizer
	Metrics   *metrics.Metrics

	wg sync.WaitGroup
}

func NewService(s storage.Storage, st *settings.Service, gen llm.Generator, n *notification.Dispatcher, l *localization.Localizer, m *metrics.Metrics) *Service {
	if gen == nil {
		gen = llm.Disabled{}
	}
	if n == nil {
		n = notification.NewDispatcher(s, nil, m)
	}
	if l == nil {
		l = localization.Default()
	}
	return &Service{
		Storage:   s,
		Settings:  st,
		Generator: gen,
		Notifier:  n,
		Localizer: l,
		Metrics:   m,
	}
}

// Wait blocks until every enrichment task started by Create has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) checkCategory(ctx context.Context, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", nil
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

// Create files a suggestion and starts the background enrichment.
func (s *Service) Create(ctx context.Context, actor *models.User, in CreateInput) (*models.Suggestion, error) {
	if actor.Role != models.RoleStudent {
		return nil, apperr.Forbidden("only students can submit suggestions")
	}
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	if title == "" || description == "" {
		return nil, apperr.Validation("title and description are required")
	}
	category, err := s.checkCategory(ctx, in.Category)
	if err != nil {
		return nil, err
	}

	sg := &models.Suggestion{
		UserID:      actor.ID,
		Title:       title,
		Description: description,
		Category:    category,
		Status:      models.SuggestionPending,
	}
	err = s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		if err := tx.CreateSuggestion(ctx, sg); err != nil {
			return apperr.Internal(err)
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionCreate,
			EntityType: models.EntitySuggestion,
			EntityID:   sg.ID,
			Detail:     "title " + title,
		})
	})
	if err != nil {
		return nil, err
	}

	s.enrich(*sg)
	return sg, nil
}

// enrich asks the generator for a short assessment. The result is only logged.
func (s *Service) enrich(sg models.Suggestion) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), config.EnrichmentTimeout)
		defer cancel()

		out, err := s.Generator.Generate(ctx, enrichmentSystemPrompt, analysis.SuggestionPrompt(sg))
		switch {
		case errors.Is(err, llm.ErrDisabled):
			s.Metrics.AIGeneration("suggestion_analysis", "disabled")
		case err != nil:
			s.Metrics.AIGeneration("suggestion_analysis", "error")
			slog.Warn("suggestion enrichment failed", "suggestion_id", sg.ID, "error", err)
		default:
			s.Metrics.AIGeneration("suggestion_analysis", "ok")
			slog.Info("suggestion enrichment", "suggestion_id", sg.ID, "analysis", out)
		}
	}()
}

// Act applies a staff action with its audit entry and owner notification.
func (s *Service) Act(ctx context.Context, actor *models.User, id string, action Action) (*models.Suggestion, error) {
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
		out   *models.Suggestion
		notes []models.Notification
	)
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		sg, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if a, ok := action.(Assign); ok {
			if _, err := identity.Assignee(ctx, tx, strings.TrimSpace(a.AssigneeID)); err != nil {
				return err
			}
		}
		prev := sg.Status
		verb, detail := action.apply(sg)
		if err := tx.SaveSuggestion(ctx, sg); err != nil {
			return apperr.Internal(err)
		}
		if err := audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     verb,
			EntityType: models.EntitySuggestion,
			EntityID:   sg.ID,
			Detail:     detail,
		}); err != nil {
			return err
		}

		if in, ok := s.notificationFor(sg, action, prev); ok {
			ns, err := s.Notifier.Create(ctx, tx, in)
			if err != nil {
				return err
			}
			notes = ns
		}
		out = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.Publish(ctx, notes)
	return out, nil
}

func (s *Service) notificationFor(sg *models.Suggestion, action Action, prev models.SuggestionStatus) (notification.Input, bool) {
	l := s.Localizer
	in := notification.Input{
		RecipientID: sg.UserID,
		Type:        models.NotifySuggestionUpdate,
		RelatedID:   sg.ID,
		RelatedType: models.EntitySuggestion,
	}
	if a, ok := action.(AddResponse); ok {
		in.Title = l.GetString(localization.DefaultLang, localization.KeySuggestionResponse)
		in.Body = strings.TrimSpace(a.Response)
		return in, true
	}
	if sg.Status == prev {
		return in, false
	}
	in.Title = l.GetString(localization.DefaultLang, localization.KeySuggestionStatusTitle)
	in.Body = l.Format(localization.DefaultLang, localization.KeySuggestionStatusBody, sg.Title, sg.Status)
	return in, true
}

// Update edits title, description or category; same permissions as complaints.
func (s *Service) Update(ctx context.Context, actor *models.User, id string, in UpdateInput) (*models.Suggestion, error) {
	if in.Title == nil && in.Description == nil && in.Category == nil {
		return nil, apperr.Validation("nothing to update")
	}

	var out *models.Suggestion
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		sg, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := canEdit(actor, sg); err != nil {
			return err
		}

		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return apperr.Validation("title must not be empty")
			}
			sg.Title = title
		}
		if in.Description != nil {
			description := strings.TrimSpace(*in.Description)
			if description == "" {
				return apperr.Validation("description must not be empty")
			}
			sg.Description = description
		}
		if in.Category != nil {
			category, err := s.checkCategory(ctx, *in.Category)
			if err != nil {
				return err
			}
			sg.Category = category
		}
		if err := tx.SaveSuggestion(ctx, sg); err != nil {
			return apperr.Internal(err)
		}
		out = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func canEdit(actor *models.User, sg *models.Suggestion) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStaff:
		if sg.AssigneeID == nil || *sg.AssigneeID != actor.ID {
			return apperr.Forbidden("only the assignee may edit this suggestion")
		}
		return nil
	default:
		if sg.UserID != actor.ID {
			return apperr.Forbidden("not your suggestion")
		}
		if sg.Status != models.SuggestionPending {
			return apperr.Validation("suggestion is already being processed")
		}
		return nil
	}
}

// Delete removes the suggestion and its upvotes.
func (s *Service) Delete(ctx context.Context, actor *models.User, id string) error {
	return s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		sg, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.Role.IsStaff() && sg.UserID != actor.ID {
			return apperr.Forbidden("not your suggestion")
		}
		if err := tx.DeleteSuggestion(ctx, sg.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.NotFound("suggestion")
			}
			return apperr.Internal(err)
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionDelete,
			EntityType: models.EntitySuggestion,
			EntityID:   sg.ID,
			Detail:     fmt.Sprintf("deleted suggestion in status %s", sg.Status),
		})
	})
}

// Get returns one suggestion with its upvote projection.
func (s *Service) Get(ctx context.Context, actor *models.User, id string) (*View, error) {
	sg, err := s.load(ctx, s.Storage, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() && sg.UserID != actor.ID {
		return nil, apperr.NotFound("suggestion")
	}
	views, err := s.project(ctx, actor, []models.Suggestion{*sg})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// List returns suggestions newest first with live upvote counts.
func (s *Service) List(ctx context.Context, actor *models.User, f storage.SuggestionFilter) ([]View, error) {
	if !actor.Role.IsStaff() {
		f.UserID = actor.ID
	}
	f.Limit = storage.ClampLimit(f.Limit, config.MaxListLimit)
	rows, err := s.Storage.ListSuggestions(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return s.project(ctx, actor, rows)
}

func (s *Service) project(ctx context.Context, actor *models.User, rows []models.Suggestion) ([]View, error) {
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	counts, err := s.Storage.CountUpvotes(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	mine, err := s.Storage.ListUpvotesByUser(ctx, actor.ID, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return Project(rows, counts, mine, actor.ID), nil
}

func (s *Service) load(ctx context.Context, st storage.Storage, id string) (*models.Suggestion, error) {
	sg, err := st.GetSuggestionByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("suggestion")
		}
		return nil, apperr.Internal(err)
	}
	return sg, nil
}
