package complaint_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/complaint"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/objectstore"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"
	"studentsupport/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	data, _ := io.ReadAll(body)
	args := m.Called(name, contentType, string(data))
	return args.String(0), args.Error(1)
}

var (
	student = &models.User{ID: "0b9d6c1e-5a7f-4c2d-9e31-000000000001", Name: "Ann", Email: "ann@uni.edu", Role: models.RoleStudent}
	other   = &models.User{ID: "0b9d6c1e-5a7f-4c2d-9e31-000000000002", Name: "Bob", Email: "bob@uni.edu", Role: models.RoleStudent}
	staff   = &models.User{ID: "0b9d6c1e-5a7f-4c2d-9e31-000000000003", Name: "Sam", Email: "sam@uni.edu", Role: models.RoleStaff}
	admin   = &models.User{ID: "0b9d6c1e-5a7f-4c2d-9e31-000000000004", Name: "Ada", Email: "ada@uni.edu", Role: models.RoleAdmin}
)

func build(store storage.Storage, up *MockUploader) *complaint.Service {
	st := settings.NewService(store, nil, 0)
	var uploader objectstore.Uploader
	if up != nil {
		uploader = up
	}
	return complaint.NewService(store, st, uploader, notification.NewDispatcher(store, nil, nil), nil, 0)
}

func newService(t *testing.T, up *MockUploader) (*complaint.Service, storage.Storage) {
	t.Helper()
	store := storagetest.New(t)
	for _, u := range []*models.User{student, other, staff, admin} {
		row := *u
		require.NoError(t, store.CreateUser(context.Background(), &row))
	}
	return build(store, up), store
}

// failingAudit rejects every audit insert, including those made in transactions.
type failingAudit struct {
	storage.Storage
}

func (f failingAudit) Transaction(ctx context.Context, fn func(tx storage.Storage) error) error {
	return f.Storage.Transaction(ctx, func(tx storage.Storage) error {
		return fn(failingAudit{tx})
	})
}

func (failingAudit) CreateAuditLog(context.Context, *models.AuditLog) error {
	return errors.New("audit table locked")
}

func mustCreate(t *testing.T, svc *complaint.Service, category, description string) *models.Complaint {
	t.Helper()
	c, err := svc.Create(context.Background(), student, complaint.CreateInput{Category: category, Description: description})
	require.NoError(t, err)
	return c
}

func auditActions(t *testing.T, store storage.Storage, entityID string) []string {
	t.Helper()
	logs, err := store.ListAuditLogs(context.Background(), storage.AuditFilter{EntityID: entityID})
	require.NoError(t, err)
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Action
	}
	return out
}

func TestCreate(t *testing.T) {
	svc, store := newService(t, nil)

	c := mustCreate(t, svc, " IT Support ", "WiFi down")
	assert.Equal(t, models.ComplaintPending, c.Status)
	assert.Equal(t, "IT Support", c.Category)
	assert.Equal(t, []string{"CREATE"}, auditActions(t, store, c.ID))

	tests := []struct {
		name  string
		actor *models.User
		in    complaint.CreateInput
		kind  apperr.Kind
	}{
		{"staff cannot file", staff, complaint.CreateInput{Category: "General", Description: "x"}, apperr.KindForbidden},
		{"missing category", student, complaint.CreateInput{Category: "  ", Description: "x"}, apperr.KindValidation},
		{"unknown category", student, complaint.CreateInput{Category: "Parking", Description: "x"}, apperr.KindValidation},
		{"missing description", student, complaint.CreateInput{Category: "General", Description: " "}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.actor, tt.in)
			assert.True(t, apperr.Is(err, tt.kind), err)
		})
	}
}

func TestCreateWithAttachment(t *testing.T) {
	up := new(MockUploader)
	up.On("Upload", "shot.png", "image/png", "PNGDATA").Return("https://bucket/attachments/x-shot.png", nil).Once()
	svc, _ := newService(t, up)

	c, err := svc.Create(context.Background(), student, complaint.CreateInput{
		Category:    "IT Support",
		Description: "Screen broken",
		Attachment:  &complaint.Attachment{Name: "shot.png", ContentType: "image/png", Size: 7, Body: strings.NewReader("PNGDATA")},
	})
	require.NoError(t, err)
	require.NotNil(t, c.AttachmentURL)
	assert.Equal(t, "https://bucket/attachments/x-shot.png", *c.AttachmentURL)
	up.AssertExpectations(t)
}

func TestCreateUploadFailureLeavesNoRow(t *testing.T) {
	up := new(MockUploader)
	up.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("s3 unavailable"))
	svc, store := newService(t, up)

	_, err := svc.Create(context.Background(), student, complaint.CreateInput{
		Category:    "General",
		Description: "x",
		Attachment:  &complaint.Attachment{Name: "a.txt", Size: 1, Body: strings.NewReader("a")},
	})
	assert.True(t, apperr.Is(err, apperr.KindInternal))

	rows, err := store.ListComplaints(context.Background(), storage.ComplaintFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateRejectsOversizeAttachment(t *testing.T) {
	up := new(MockUploader)
	svc, _ := newService(t, up)

	_, err := svc.Create(context.Background(), student, complaint.CreateInput{
		Category:    "General",
		Description: "x",
		Attachment:  &complaint.Attachment{Name: "big.bin", Size: 11 * 1024 * 1024, Body: strings.NewReader("")},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	up.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateAttachmentWithoutStorage(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Create(context.Background(), student, complaint.CreateInput{
		Category:    "General",
		Description: "x",
		Attachment:  &complaint.Attachment{Name: "a.txt", Size: 1, Body: strings.NewReader("a")},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRespondResolvesAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	c := mustCreate(t, svc, "IT Support", "WiFi down")

	action, err := complaint.ParseAction("respond", json.RawMessage(`{"response":"Ticket opened"}`))
	require.NoError(t, err)

	got, err := svc.Act(ctx, staff, c.ID, action)
	require.NoError(t, err)
	assert.Equal(t, models.ComplaintResolved, got.Status)
	require.NotNil(t, got.Response)
	assert.Equal(t, "Ticket opened", *got.Response)

	logs, err := store.ListAuditLogs(ctx, storage.AuditFilter{Action: "RESPOND"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.EntityComplaint, logs[0].EntityType)

	inbox, err := store.ListNotifications(ctx, storage.NotificationFilter{UserID: student.ID})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Ticket opened", inbox[0].Body)

	// The owner can no longer edit the description.
	desc := "WiFi still down"
	_, err = svc.Update(ctx, student, c.ID, complaint.UpdateInput{Description: &desc})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "complaint is already being processed", apperr.Message(err))
}

func TestActVariants(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	c := mustCreate(t, svc, "Facilities", "Broken heater")

	got, err := svc.Act(ctx, staff, c.ID, complaint.Assign{AssigneeID: staff.ID})
	require.NoError(t, err)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, staff.ID, *got.AssigneeID)

	got, err = svc.Act(ctx, admin, c.ID, complaint.Assign{AssigneeID: ""})
	require.NoError(t, err)
	assert.Nil(t, got.AssigneeID)

	got, err = svc.Act(ctx, staff, c.ID, complaint.UpdateStatus{Status: models.ComplaintInProgress})
	require.NoError(t, err)
	assert.Equal(t, models.ComplaintInProgress, got.Status)

	// Permissive transitions: back to PENDING is allowed.
	got, err = svc.Act(ctx, staff, c.ID, complaint.UpdateStatus{Status: models.ComplaintPending})
	require.NoError(t, err)
	assert.Equal(t, models.ComplaintPending, got.Status)

	got, err = svc.Act(ctx, staff, c.ID, complaint.Close{})
	require.NoError(t, err)
	assert.Equal(t, models.ComplaintClosed, got.Status)

	assert.Equal(t, []string{"CLOSE", "UPDATE_STATUS", "UPDATE_STATUS", "ASSIGN", "ASSIGN", "CREATE"}, auditActions(t, store, c.ID))
}

func TestActRejections(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	c := mustCreate(t, svc, "General", "x")

	_, err := svc.Act(ctx, student, c.ID, complaint.Close{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Act(ctx, staff, c.ID, complaint.UpdateStatus{Status: "DONE"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Act(ctx, staff, c.ID, complaint.Respond{Response: "  "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Act(ctx, staff, "missing", complaint.Close{})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err := store.GetComplaintByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ComplaintPending, got.Status)
	assert.Equal(t, []string{"CREATE"}, auditActions(t, store, c.ID))
}

func TestAssignRequiresStaffMember(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	c := mustCreate(t, svc, "General", "x")

	for name, id := range map[string]string{
		"student":   other.ID,
		"unknown":   "0b9d6c1e-5a7f-4c2d-9e31-0000000000ff",
		"malformed": "staff-9",
	} {
		_, err := svc.Act(ctx, staff, c.ID, complaint.Assign{AssigneeID: id})
		assert.True(t, apperr.Is(err, apperr.KindValidation), name)
	}

	got, err := store.GetComplaintByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssigneeID)
	assert.Equal(t, []string{"CREATE"}, auditActions(t, store, c.ID))

	got, err = svc.Act(ctx, staff, c.ID, complaint.Assign{AssigneeID: admin.ID})
	require.NoError(t, err, "admins count as staff")
	assert.Equal(t, admin.ID, *got.AssigneeID)
}

func TestAuditFailureAbortsMutation(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	c := mustCreate(t, svc, "General", "x")

	_, err := build(failingAudit{store}, nil).Act(ctx, staff, c.ID, complaint.Respond{Response: "done"})
	require.Error(t, err)
	assert.Equal(t, 500, apperr.Status(err))

	got, err := store.GetComplaintByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ComplaintPending, got.Status)
	assert.Nil(t, got.Response)

	inbox, err := store.ListNotifications(ctx, storage.NotificationFilter{UserID: student.ID})
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestParseAction(t *testing.T) {
	a, err := complaint.ParseAction("UPDATE_STATUS", json.RawMessage(`{"status":"in_progress"}`))
	require.NoError(t, err)
	assert.Equal(t, complaint.UpdateStatus{Status: models.ComplaintInProgress}, a)

	a, err = complaint.ParseAction("assign", json.RawMessage(`{"assigneeId":"staff-1"}`))
	require.NoError(t, err)
	assert.Equal(t, complaint.Assign{AssigneeID: "staff-1"}, a)

	a, err = complaint.ParseAction("close", nil)
	require.NoError(t, err)
	assert.Equal(t, complaint.Close{}, a)

	for name, payload := range map[string]string{
		"escalate":      `{}`,
		"update_status": `{"status":""}`,
		"respond":       `{"response":""}`,
	} {
		_, err := complaint.ParseAction(name, json.RawMessage(payload))
		assert.True(t, apperr.Is(err, apperr.KindValidation), name)
	}

	_, err = complaint.ParseAction("respond", json.RawMessage(`[1,2`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdatePermissions(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	c := mustCreate(t, svc, "General", "initial")
	desc := "edited"
	cat := "Academic"

	got, err := svc.Update(ctx, student, c.ID, complaint.UpdateInput{Description: &desc, Category: &cat})
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Description)
	assert.Equal(t, "Academic", got.Category)
	assert.Equal(t, []string{"CREATE"}, auditActions(t, store, c.ID), "plain updates are not audited")

	_, err = svc.Update(ctx, other, c.ID, complaint.UpdateInput{Description: &desc})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Update(ctx, staff, c.ID, complaint.UpdateInput{Description: &desc})
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "staff must be the assignee")

	_, err = svc.Act(ctx, admin, c.ID, complaint.Assign{AssigneeID: staff.ID})
	require.NoError(t, err)
	_, err = svc.Update(ctx, staff, c.ID, complaint.UpdateInput{Description: &desc})
	assert.NoError(t, err)

	_, err = svc.Update(ctx, admin, c.ID, complaint.UpdateInput{Category: &cat})
	assert.NoError(t, err)

	bad := "Parking"
	_, err = svc.Update(ctx, admin, c.ID, complaint.UpdateInput{Category: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Update(ctx, admin, c.ID, complaint.UpdateInput{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Act(ctx, staff, c.ID, complaint.UpdateStatus{Status: models.ComplaintInProgress})
	require.NoError(t, err)
	_, err = svc.Update(ctx, student, c.ID, complaint.UpdateInput{Description: &desc})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	mine := mustCreate(t, svc, "General", "mine")
	_, err := svc.Act(ctx, staff, mine.ID, complaint.Close{})
	require.NoError(t, err)

	assert.True(t, apperr.Is(svc.Delete(ctx, other, mine.ID), apperr.KindForbidden))
	require.NoError(t, svc.Delete(ctx, student, mine.ID), "owners may delete in any status")
	assert.True(t, apperr.Is(svc.Delete(ctx, student, mine.ID), apperr.KindNotFound))

	second := mustCreate(t, svc, "General", "second")
	require.NoError(t, svc.Delete(ctx, staff, second.ID))

	assert.Equal(t, []string{"DELETE", "CLOSE", "CREATE"}, auditActions(t, store, mine.ID))
}

func TestVisibility(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	mine := mustCreate(t, svc, "General", "mine")
	_, err := svc.Create(ctx, other, complaint.CreateInput{Category: "General", Description: "theirs"})
	require.NoError(t, err)

	rows, err := svc.List(ctx, student, storage.ComplaintFilter{UserID: other.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, student.ID, rows[0].UserID)

	rows, err = svc.List(ctx, staff, storage.ComplaintFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = svc.List(ctx, staff, storage.ComplaintFilter{UserID: other.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, other.ID, rows[0].UserID)

	_, err = svc.Get(ctx, other, mine.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err := svc.Get(ctx, staff, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)
}
