package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"studentsupport/backend/internal/complaint"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type createComplaintRequest struct {
	Category    string `json:"category" form:"category"`
	Description string `json:"description" form:"description"`
}

type updateComplaintRequest struct {
	Category    *string `json:"category"`
	Description *string `json:"description"`
}

// actionName pulls the "action" field out of an action request body. The rest
// of the body is the action payload.
func actionName(c *gin.Context) (string, json.RawMessage, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "could not read request body")
		return "", nil, false
	}
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		badRequest(c, "invalid JSON body")
		return "", nil, false
	}
	if head.Action == "" {
		badRequest(c, "action is required")
		return "", nil, false
	}
	return head.Action, raw, true
}

// CreateComplaint accepts multipart (category, description, attachment) or JSON.
func (h *Handler) CreateComplaint(c *gin.Context) {
	var req createComplaintRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	in := complaint.CreateInput{Category: req.Category, Description: req.Description}

	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		fh, err := c.FormFile("attachment")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			badRequest(c, "invalid attachment")
			return
		default:
			f, err := fh.Open()
			if err != nil {
				badRequest(c, "invalid attachment")
				return
			}
			defer f.Close()
			in.Attachment = &complaint.Attachment{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Body:        f,
			}
		}
	}

	out, err := h.Complaints.Create(c.Request.Context(), currentUser(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListComplaints(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	f := storage.ComplaintFilter{
		UserID:   c.Query("userId"),
		Category: c.Query("category"),
		Limit:    limit,
	}
	if raw := c.Query("status"); raw != "" {
		status, valid := models.ParseComplaintStatus(raw)
		if !valid {
			badRequest(c, "invalid status")
			return
		}
		f.Status = status
	}

	rows, err := h.Complaints.List(c.Request.Context(), currentUser(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetComplaint(c *gin.Context) {
	out, err := h.Complaints.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateComplaint(c *gin.Context) {
	var req updateComplaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	out, err := h.Complaints.Update(c.Request.Context(), currentUser(c), c.Param("id"), complaint.UpdateInput{
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteComplaint(c *gin.Context) {
	if err := h.Complaints.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ComplaintAction handles {"action": "assign|update_status|respond|close", ...}.
func (h *Handler) ComplaintAction(c *gin.Context) {
	name, payload, ok := actionName(c)
	if !ok {
		return
	}
	action, err := complaint.ParseAction(name, payload)
	if err != nil {
		fail(c, err)
		return
	}
	out, err := h.Complaints.Act(c.Request.Context(), currentUser(c), c.Param("id"), action)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
