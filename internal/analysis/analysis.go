// Package analysis builds the non-identifying context handed to the text
// generator: a student's recent complaints and suggestions reduced to
// category or title, status and date.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Item is one line of recent activity.
type Item struct {
	Kind   string
	Label  string
	Status string
	Date   time.Time
}

// Activity is the recent activity of one student.
type Activity struct {
	Complaints  []Item
	Suggestions []Item
}

// Gather loads the latest complaints and suggestions of userID in parallel.
func Gather(ctx context.Context, store storage.Storage, userID string) (Activity, error) {
	var act Activity
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := store.ListComplaints(gctx, storage.ComplaintFilter{UserID: userID, Limit: config.ContextComplaints})
		if err != nil {
			return fmt.Errorf("recent complaints: %w", err)
		}
		for _, c := range rows {
			act.Complaints = append(act.Complaints, Item{Kind: "complaint", Label: c.Category, Status: string(c.Status), Date: c.CreatedAt})
		}
		return nil
	})
	g.Go(func() error {
		rows, err := store.ListSuggestions(gctx, storage.SuggestionFilter{UserID: userID, Limit: config.ContextSuggestions})
		if err != nil {
			return fmt.Errorf("recent suggestions: %w", err)
		}
		for _, s := range rows {
			act.Suggestions = append(act.Suggestions, Item{Kind: "suggestion", Label: s.Title, Status: string(s.Status), Date: s.CreatedAt})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Activity{}, err
	}
	return act, nil
}

// String renders the activity as prompt context.
func (a Activity) String() string {
	if len(a.Complaints) == 0 && len(a.Suggestions) == 0 {
		return "The student has no recent complaints or suggestions."
	}
	var b strings.Builder
	writeSection(&b, "Recent complaints", a.Complaints)
	writeSection(&b, "Recent suggestions", a.Suggestions)
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, heading string, items []Item) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading + ":\n")
	for _, it := range items {
		fmt.Fprintf(b, "- %s (%s, %s)\n", it.Label, it.Status, it.Date.Format("2006-01-02"))
	}
}

// ChatPrompt joins the recent activity and the student's message.
func ChatPrompt(act Activity, text string) string {
	return act.String() + "\n\nStudent message:\n" + text
}

// SuggestionPrompt asks for a short assessment of a new suggestion.
func SuggestionPrompt(s models.Suggestion) string {
	category := s.Category
	if category == "" {
		category = "uncategorized"
	}
	return fmt.Sprintf("Assess this campus improvement suggestion in two sentences: feasibility and likely impact.\nTitle: %s\nCategory: %s\nDescription: %s",
		s.Title, category, s.Description)
}
