// Package audit records and lists accountability entries. Entries are written
// through the caller's transaction handle so that an audit failure aborts the
// mutation it describes.
package audit

import (
	"context"
	"fmt"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"
)

// Action verbs.
const (
	ActionCreate        = "CREATE"
	ActionDelete        = "DELETE"
	ActionAssign        = "ASSIGN"
	ActionUpdateStatus  = "UPDATE_STATUS"
	ActionRespond       = "RESPOND"
	ActionClose         = "CLOSE"
	ActionAddResponse   = "ADD_RESPONSE"
	ActionApprove       = "APPROVE"
	ActionReject        = "REJECT"
	ActionSendMessage   = "SEND_MESSAGE"
	ActionRequestStaff  = "REQUEST_STAFF"
	ActionStaffReply    = "STAFF_REPLY"
	ActionEscalate      = "ESCALATE"
	ActionUpdateRole    = "UPDATE_ROLE"
	ActionUpdateSetting = "UPDATE_SETTING"
)

// Entry describes one audited mutation.
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Detail     string
}

// Record writes e through tx.
func Record(ctx context.Context, tx storage.Storage, e Entry) error {
	if e.ActorID == "" || e.Action == "" || e.EntityType == "" || e.EntityID == "" {
		return apperr.Internal(fmt.Errorf("incomplete audit entry %+v", e))
	}
	err := tx.CreateAuditLog(ctx, &models.AuditLog{
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Detail:     e.Detail,
	})
	if err != nil {
		return apperr.Internal(fmt.Errorf("write audit %s %s/%s: %w", e.Action, e.EntityType, e.EntityID, err))
	}
	return nil
}

// Service is the read side of the audit log.
type Service struct {
	store storage.Storage
}

func NewService(store storage.Storage) *Service {
	return &Service{store: store}
}

// List returns entries newest first. Only admins may read the log.
func (s *Service) List(ctx context.Context, actor *models.User, f storage.AuditFilter) ([]models.AuditLog, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, apperr.Forbidden("admin only")
	}
	f.Limit = storage.ClampLimit(f.Limit, config.MaxAuditListLimit)
	logs, err := s.store.ListAuditLogs(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return logs, nil
}
