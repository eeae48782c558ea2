package analysis_test

import (
	"context"
	"strings"
	"testing"

	"studentsupport/backend/internal/analysis"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherKeepsLatestThreeOfOwner(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	for _, cat := range []string{"Facilities", "Academic", "IT Support", "Finance"} {
		require.NoError(t, store.CreateComplaint(ctx, &models.Complaint{UserID: "u1", Category: cat, Description: "private details"}))
	}
	require.NoError(t, store.CreateComplaint(ctx, &models.Complaint{UserID: "u2", Category: "Other", Description: "x"}))
	require.NoError(t, store.CreateSuggestion(ctx, &models.Suggestion{UserID: "u1", Title: "Longer library hours", Description: "d"}))

	act, err := analysis.Gather(ctx, store, "u1")
	require.NoError(t, err)
	require.Len(t, act.Complaints, 3)
	assert.Equal(t, "Finance", act.Complaints[0].Label)
	require.Len(t, act.Suggestions, 1)

	text := act.String()
	assert.Contains(t, text, "Recent complaints:")
	assert.Contains(t, text, "- Longer library hours (PENDING, ")
	assert.NotContains(t, text, "private details")
	assert.NotContains(t, text, "Facilities")
}

func TestEmptyActivity(t *testing.T) {
	act, err := analysis.Gather(context.Background(), memory.New(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "The student has no recent complaints or suggestions.", act.String())

	prompt := analysis.ChatPrompt(act, "My wifi is broken")
	assert.True(t, strings.HasSuffix(prompt, "Student message:\nMy wifi is broken"))
}

func TestSuggestionPrompt(t *testing.T) {
	p := analysis.SuggestionPrompt(models.Suggestion{Title: "Bike racks", Description: "Near the gym"})
	assert.Contains(t, p, "Title: Bike racks")
	assert.Contains(t, p, "Category: uncategorized")
}
