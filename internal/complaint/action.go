package complaint

import (
	"encoding/json"
	"fmt"
	"strings"

	"studentsupport/backend/internal/apperr"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/models"
)

// Action is a staff operation on a complaint. The set of variants is closed:
// Assign, UpdateStatus, Respond and Close.
type Action interface {
	// apply mutates c and returns the audit verb and detail.
	apply(c *models.Complaint) (verb, detail string)
	validate() error
}

// Assign sets the assignee. An empty AssigneeID clears it.
type Assign struct {
	AssigneeID string
}

// UpdateStatus moves the complaint to any of the four statuses.
type UpdateStatus struct {
	Status models.ComplaintStatus
}

// Respond records a response and resolves the complaint.
type Respond struct {
	Response string
}

// Close moves the complaint to CLOSED from any status.
type Close struct{}

func (a Assign) validate() error { return nil }

func (a Assign) apply(c *models.Complaint) (string, string) {
	prev := "none"
	if c.AssigneeID != nil {
		prev = *c.AssigneeID
	}
	id := strings.TrimSpace(a.AssigneeID)
	if id == "" {
		c.AssigneeID = nil
		return audit.ActionAssign, fmt.Sprintf("assignee %s -> none", prev)
	}
	c.AssigneeID = &id
	return audit.ActionAssign, fmt.Sprintf("assignee %s -> %s", prev, id)
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

func (a UpdateStatus) apply(c *models.Complaint) (string, string) {
	prev := c.Status
	c.Status = a.Status
	return audit.ActionUpdateStatus, fmt.Sprintf("status %s -> %s", prev, a.Status)
}

func (a Respond) validate() error {
	if strings.TrimSpace(a.Response) == "" {
		return apperr.Validation("response is required")
	}
	return nil
}

func (a Respond) apply(c *models.Complaint) (string, string) {
	text := strings.TrimSpace(a.Response)
	prev := c.Status
	c.Response = &text
	c.Status = models.ComplaintResolved
	return audit.ActionRespond, fmt.Sprintf("responded; status %s -> %s", prev, models.ComplaintResolved)
}

func (Close) validate() error { return nil }

func (Close) apply(c *models.Complaint) (string, string) {
	prev := c.Status
	c.Status = models.ComplaintClosed
	return audit.ActionClose, fmt.Sprintf("status %s -> %s", prev, models.ComplaintClosed)
}

type actionPayload struct {
	AssigneeID *string `json:"assigneeId"`
	Status     string  `json:"status"`
	Response   string  `json:"response"`
}

// ParseAction builds an Action from its wire name and JSON payload. Unknown
// names and invalid payloads are validation errors.
func ParseAction(name string, payload json.RawMessage) (Action, error) {
	var p actionPayload
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, apperr.Validation("invalid action payload")
		}
	}

	var a Action
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "assign":
		var id string
		if p.AssigneeID != nil {
			id = *p.AssigneeID
		}
		a = Assign{AssigneeID: id}
	case "update_status":
		status, _ := models.ParseComplaintStatus(p.Status)
		a = UpdateStatus{Status: status}
	case "respond":
		a = Respond{Response: p.Response}
	case "close":
		a = Close{}
	default:
		return nil, apperr.Validation("unknown action %q", name)
	}

	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}
