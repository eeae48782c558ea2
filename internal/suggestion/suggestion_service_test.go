package suggestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/llm"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"
	"studentsupport/backend/internal/storage/memory"
	"studentsupport/backend/internal/storage/storagetest"
	"studentsupport/backend/internal/suggestion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	student = &models.User{ID: "5d2e8f40-1c3b-4a6e-8b7d-000000000001", Name: "Ann", Email: "ann@uni.edu", Role: models.RoleStudent}
	other   = &models.User{ID: "5d2e8f40-1c3b-4a6e-8b7d-000000000002", Name: "Bob", Email: "bob@uni.edu", Role: models.RoleStudent}
	staff   = &models.User{ID: "5d2e8f40-1c3b-4a6e-8b7d-000000000003", Name: "Sam", Email: "sam@uni.edu", Role: models.RoleStaff}
	admin   = &models.User{ID: "5d2e8f40-1c3b-4a6e-8b7d-000000000004", Name: "Ada", Email: "ada@uni.edu", Role: models.RoleAdmin}
)

func seedUsers(t *testing.T, store storage.Storage) {
	t.Helper()
	for _, u := range []*models.User{student, other, staff, admin} {
		row := *u
		require.NoError(t, store.CreateUser(context.Background(), &row))
	}
}

func newServiceOn(t *testing.T, store storage.Storage, gen llm.Generator) *suggestion.Service {
	t.Helper()
	seedUsers(t, store)
	svc := suggestion.NewService(store, settings.NewService(store, nil, 0), gen, nil, nil, nil)
	t.Cleanup(svc.Wait)
	return svc
}

func newService(t *testing.T, gen llm.Generator) (*suggestion.Service, storage.Storage) {
	t.Helper()
	store := storagetest.New(t)
	return newServiceOn(t, store, gen), store
}

func mustCreate(t *testing.T, svc *suggestion.Service, actor *models.User, title string) *models.Suggestion {
	t.Helper()
	sg, err := svc.Create(context.Background(), actor, suggestion.CreateInput{Title: title, Description: "details"})
	require.NoError(t, err)
	return sg
}

func TestCreate(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	gen := llm.GeneratorFunc(func(ctx context.Context, system, user string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		prompts = append(prompts, user)
		return "Feasible, moderate impact.", nil
	})
	svc, store := newService(t, gen)

	sg, err := svc.Create(context.Background(), student, suggestion.CreateInput{Title: " More benches ", Description: "In the quad", Category: "Facilities"})
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionPending, sg.Status)
	assert.Equal(t, "More benches", sg.Title)
	assert.Equal(t, "Facilities", sg.Category)

	svc.Wait()
	mu.Lock()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "More benches")
	mu.Unlock()

	got, err := store.GetSuggestionByID(context.Background(), sg.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Response, "enrichment output is not persisted")

	logs, err := store.ListAuditLogs(context.Background(), storage.AuditFilter{EntityID: sg.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "CREATE", logs[0].Action)
}

func TestCreateSurvivesEnrichmentFailure(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("quota exceeded")
	})
	svc, _ := newService(t, gen)

	sg, err := svc.Create(context.Background(), student, suggestion.CreateInput{Title: "Longer library hours", Description: "Exams"})
	require.NoError(t, err)
	assert.NotEmpty(t, sg.ID)
	svc.Wait()
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t, nil)
	tests := []struct {
		name  string
		actor *models.User
		in    suggestion.CreateInput
		kind  apperr.Kind
	}{
		{"staff", staff, suggestion.CreateInput{Title: "t", Description: "d"}, apperr.KindForbidden},
		{"no title", student, suggestion.CreateInput{Description: "d"}, apperr.KindValidation},
		{"no description", student, suggestion.CreateInput{Title: "t"}, apperr.KindValidation},
		{"bad category", student, suggestion.CreateInput{Title: "t", Description: "d", Category: "Parking"}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.actor, tt.in)
			assert.True(t, apperr.Is(err, tt.kind), err)
		})
	}
}

func TestActVariants(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	sg := mustCreate(t, svc, student, "Water fountains")

	a, err := suggestion.ParseAction("update_status", json.RawMessage(`{"status":"in_progress"}`))
	require.NoError(t, err)
	got, err := svc.Act(ctx, staff, sg.ID, a)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionInProgress, got.Status)

	got, err = svc.Act(ctx, staff, sg.ID, suggestion.AddResponse{Response: "Budget requested"})
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionInProgress, got.Status)
	require.NotNil(t, got.Response)
	assert.Equal(t, "Budget requested", *got.Response)

	got, err = svc.Act(ctx, admin, sg.ID, suggestion.Assign{AssigneeID: staff.ID})
	require.NoError(t, err)
	require.NotNil(t, got.AssigneeID)

	got, err = svc.Act(ctx, staff, sg.ID, suggestion.Approve{})
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionApproved, got.Status)

	got, err = svc.Act(ctx, staff, sg.ID, suggestion.Reject{})
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionRejected, got.Status)

	logs, err := store.ListAuditLogs(ctx, storage.AuditFilter{EntityID: sg.ID})
	require.NoError(t, err)
	actions := make([]string, len(logs))
	for i, l := range logs {
		actions[i] = l.Action
	}
	assert.Equal(t, []string{"REJECT", "APPROVE", "ASSIGN", "ADD_RESPONSE", "UPDATE_STATUS", "CREATE"}, actions)

	inbox, err := store.ListNotifications(ctx, storage.NotificationFilter{UserID: student.ID})
	require.NoError(t, err)
	assert.Len(t, inbox, 4, "status changes and the response notify the owner; assign does not")
}

func TestActRejections(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	sg := mustCreate(t, svc, student, "x")

	_, err := svc.Act(ctx, student, sg.ID, suggestion.Approve{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Act(ctx, staff, sg.ID, suggestion.Assign{AssigneeID: " "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Act(ctx, staff, "missing", suggestion.Approve{})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	for name, id := range map[string]string{
		"student":   other.ID,
		"unknown":   "5d2e8f40-1c3b-4a6e-8b7d-0000000000ff",
		"malformed": "staff-9",
	} {
		_, err = svc.Act(ctx, staff, sg.ID, suggestion.Assign{AssigneeID: id})
		assert.True(t, apperr.Is(err, apperr.KindValidation), name)
	}
	got, err := store.GetSuggestionByID(ctx, sg.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssigneeID)
	logs, err := store.ListAuditLogs(ctx, storage.AuditFilter{EntityID: sg.ID})
	require.NoError(t, err)
	assert.Len(t, logs, 1, "rejected assignments leave no audit entry")

	for name, payload := range map[string]string{
		"update_status": `{"status":"RESOLVED"}`,
		"add_response":  `{"response":" "}`,
		"assign":        `{}`,
		"close":         `{}`,
	} {
		_, err := suggestion.ParseAction(name, json.RawMessage(payload))
		assert.True(t, apperr.Is(err, apperr.KindValidation), name)
	}

	a, err := suggestion.ParseAction("APPROVE", nil)
	require.NoError(t, err)
	assert.Equal(t, suggestion.Approve{}, a)
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	sg := mustCreate(t, svc, student, "Bike racks")

	res, err := svc.Toggle(ctx, other, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, &suggestion.ToggleResult{Upvoted: true, Count: 1}, res)

	res, err = svc.Toggle(ctx, student, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, &suggestion.ToggleResult{Upvoted: true, Count: 2}, res)

	res, err = svc.Toggle(ctx, other, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, &suggestion.ToggleResult{Upvoted: false, Count: 1}, res)

	_, err = svc.Toggle(ctx, other, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

// Both toggles observe no upvote before either inserts; exactly one row must
// result and both callers see upvoted. The memory store lets both callers park
// between the lookup and the insert.
func TestConcurrentToggleSameUser(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newServiceOn(t, store, nil)
	sg := mustCreate(t, svc, student, "Quiet rooms")

	var barrier sync.WaitGroup
	barrier.Add(2)
	store.SetHooks(memory.Hooks{BeforeCreateUpvote: func() {
		barrier.Done()
		barrier.Wait()
	}})

	var (
		wg      sync.WaitGroup
		upvoted atomic.Int32
	)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Toggle(ctx, other, sg.ID)
			if err != nil {
				errs <- err
				return
			}
			if res.Upvoted {
				upvoted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	store.SetHooks(memory.Hooks{})

	assert.Equal(t, int32(2), upvoted.Load())
	counts, err := store.CountUpvotes(ctx, []string{sg.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[sg.ID])
}

func TestListProjectsUpvotes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	a := mustCreate(t, svc, student, "A")
	b := mustCreate(t, svc, other, "B")

	_, err := svc.Toggle(ctx, student, b.ID)
	require.NoError(t, err)
	_, err = svc.Toggle(ctx, other, b.ID)
	require.NoError(t, err)
	_, err = svc.Toggle(ctx, staff, a.ID)
	require.NoError(t, err)

	rows, err := svc.List(ctx, staff, storage.SuggestionFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, b.ID, rows[0].ID)
	assert.Equal(t, int64(2), rows[0].UpvoteCount)
	assert.False(t, rows[0].HasUpvoted)
	assert.Equal(t, int64(1), rows[1].UpvoteCount)
	assert.True(t, rows[1].HasUpvoted)

	mine, err := svc.List(ctx, student, storage.SuggestionFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	_, err = svc.Get(ctx, student, b.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	view, err := svc.Get(ctx, other, b.ID)
	require.NoError(t, err)
	assert.True(t, view.HasUpvoted)
	assert.Equal(t, int64(2), view.UpvoteCount)
}

func TestProjectionHelpers(t *testing.T) {
	votes := []models.Upvote{
		{UserID: "u1", SuggestionID: "s1"},
		{UserID: "u2", SuggestionID: "s1"},
		{UserID: "u1", SuggestionID: "s2"},
	}
	assert.True(t, suggestion.HasUpvoted(votes, "u2", "s1"))
	assert.False(t, suggestion.HasUpvoted(votes, "u2", "s2"))

	views := suggestion.Project([]models.Suggestion{{ID: "s1"}, {ID: "s2"}}, map[string]int64{"s1": 2}, votes[:1], "u1")
	assert.Equal(t, int64(2), views[0].UpvoteCount)
	assert.True(t, views[0].HasUpvoted)
	assert.Zero(t, views[1].UpvoteCount)
	assert.False(t, views[1].HasUpvoted)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	sg := mustCreate(t, svc, student, "Old title")
	title := "New title"

	got, err := svc.Update(ctx, student, sg.ID, suggestion.UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)

	_, err = svc.Update(ctx, other, sg.ID, suggestion.UpdateInput{Title: &title})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Update(ctx, staff, sg.ID, suggestion.UpdateInput{Title: &title})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Act(ctx, staff, sg.ID, suggestion.Approve{})
	require.NoError(t, err)
	_, err = svc.Update(ctx, student, sg.ID, suggestion.UpdateInput{Title: &title})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	assert.True(t, strings.Contains(apperr.Message(err), "already being processed"))

	_, err = svc.Toggle(ctx, other, sg.ID)
	require.NoError(t, err)

	assert.True(t, apperr.Is(svc.Delete(ctx, other, sg.ID), apperr.KindForbidden))
	require.NoError(t, svc.Delete(ctx, student, sg.ID))

	counts, err := store.CountUpvotes(ctx, []string{sg.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[sg.ID])

	logs, err := store.ListAuditLogs(ctx, storage.AuditFilter{Action: "DELETE"})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
