package suggestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/models"
)

// Action is a staff operation on a suggestion: UpdateStatus, AddResponse,
// Approve, Reject or Assign.
type Action interface {
	apply(s *models.Suggestion) (verb, detail string)
	validate() error
}

type UpdateStatus struct {
	Status models.SuggestionStatus
}

// AddResponse records a staff response without touching the status.
type AddResponse struct {
	Response string
}

type Approve struct{}

type Reject struct{}

// Assign sets the assignee. Unlike complaints, the assignee is required.
type Assign struct {
	AssigneeID string
}

func (a UpdateStatus) validate() error {
	if a.Status == "" {
		return apperr.Validation("status is required")
	}
	if !a.Status.Valid() {
		return apperr.Validation("invalid status %q", a.Status)
	}
	return nil
}

func (a UpdateStatus) apply(s *models.Suggestion) (string, string) {
	prev := s.Status
	s.Status = a.Status
	return audit.ActionUpdateStatus, fmt.Sprintf("status %s -> %s", prev, a.Status)
}

func (a AddResponse) validate() error {
	if strings.TrimSpace(a.Response) == "" {
		return apperr.Validation("response is required")
	}
	return nil
}

func (a AddResponse) apply(s *models.Suggestion) (string, string) {
	text := strings.TrimSpace(a.Response)
	s.Response = &text
	return audit.ActionAddResponse, "response added"
}

func (Approve) validate() error { return nil }

func (Approve) apply(s *models.Suggestion) (string, string) {
	prev := s.Status
	s.Status = models.SuggestionApproved
	return audit.ActionApprove, fmt.Sprintf("status %s -> %s", prev, models.SuggestionApproved)
}

func (Reject) validate() error { return nil }

func (Reject) apply(s *models.Suggestion) (string, string) {
	prev := s.Status
	s.Status = models.SuggestionRejected
	return audit.ActionReject, fmt.Sprintf("status %s -> %s", prev, models.SuggestionRejected)
}

func (a Assign) validate() error {
	if strings.TrimSpace(a.AssigneeID) == "" {
		return apperr.Validation("assigneeId is required")
	}
	return nil
}

func (a Assign) apply(s *models.Suggestion) (string, string) {
	prev := "none"
	if s.AssigneeID != nil {
		prev = *s.AssigneeID
	}
	id := strings.TrimSpace(a.AssigneeID)
	s.AssigneeID = &id
	return audit.ActionAssign, fmt.Sprintf("assignee %s -> %s", prev, id)
}

type actionPayload struct {
	AssigneeID string `json:"assigneeId"`
	Status     string `json:"status"`
	Response   string `json:"response"`
}

// ParseAction builds an Action from its wire name and JSON payload.
func ParseAction(name string, payload json.RawMessage) (Action, error) {
	var p actionPayload
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, apperr.Validation("invalid action payload")
		}
	}

	var a Action
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "update_status":
		status, _ := models.ParseSuggestionStatus(p.Status)
		a = UpdateStatus{Status: status}
	case "add_response":
		a = AddResponse{Response: p.Response}
	case "approve":
		a = Approve{}
	case "reject":
		a = Reject{}
	case "assign":
		a = Assign{AssigneeID: p.AssigneeID}
	default:
		return nil, apperr.Validation("unknown action %q", name)
	}

	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}
