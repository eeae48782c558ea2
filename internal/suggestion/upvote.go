package suggestion

import (
	"context"
	"errors"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"
)

// ToggleResult is the caller's upvote state after a toggle and the live count.
type ToggleResult struct {
	Upvoted bool  `json:"upvoted"`
	Count   int64 `json:"count"`
}

// Toggle flips the caller's upvote on a suggestion. Losing an insert race to
// a concurrent toggle of the same pair reports upvoted without a second row.
func (s *Service) Toggle(ctx context.Context, actor *models.User, suggestionID string) (*ToggleResult, error) {
	var res ToggleResult
	err := s.Storage.Transaction(ctx, func(tx storage.Storage) error {
		if _, err := s.load(ctx, tx, suggestionID); err != nil {
			return err
		}

		existing, err := tx.FindUpvote(ctx, actor.ID, suggestionID)
		if err != nil {
			return apperr.Internal(err)
		}
		if existing != nil {
			if err := tx.DeleteUpvote(ctx, existing.ID); err != nil {
				return apperr.Internal(err)
			}
			res.Upvoted = false
		} else {
			err := tx.CreateUpvote(ctx, &models.Upvote{UserID: actor.ID, SuggestionID: suggestionID})
			if err != nil && !errors.Is(err, storage.ErrDuplicate) {
				return apperr.Internal(err)
			}
			res.Upvoted = true
		}

		counts, err := tx.CountUpvotes(ctx, []string{suggestionID})
		if err != nil {
			return apperr.Internal(err)
		}
		res.Count = counts[suggestionID]
		return nil
	})
	if err != nil {
		s.Metrics.UpvoteToggle("error")
		return nil, err
	}
	if res.Upvoted {
		s.Metrics.UpvoteToggle("added")
	} else {
		s.Metrics.UpvoteToggle("removed")
	}
	return &res, nil
}

// HasUpvoted reports whether userID is among the voters of suggestionID.
func HasUpvoted(votes []models.Upvote, userID, suggestionID string) bool {
	for _, v := range votes {
		if v.UserID == userID && v.SuggestionID == suggestionID {
			return true
		}
	}
	return false
}

// Project attaches counts and the caller's own upvote state to rows. counts is
// keyed by suggestion id and missing keys mean zero; mine holds the caller's
// upvotes.
func Project(rows []models.Suggestion, counts map[string]int64, mine []models.Upvote, userID string) []View {
	views := make([]View, len(rows))
	for i, sg := range rows {
		views[i] = View{
			Suggestion:  sg,
			UpvoteCount: counts[sg.ID],
			HasUpvoted:  HasUpvoted(mine, userID, sg.ID),
		}
	}
	return views
}
