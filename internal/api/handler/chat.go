package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type staffMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	res, err := h.Chat.SendMessage(c.Request.Context(), currentUser(c), req.SessionID, req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListChatSessions accepts ?escalated=true to restrict to escalated sessions.
func (h *Handler) ListChatSessions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	rows, err := h.Chat.ListSessions(c.Request.Context(), currentUser(c), c.Query("escalated") == "true", limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetChatSession(c *gin.Context) {
	detail, err := h.Chat.GetSession(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) RequestStaff(c *gin.Context) {
	cs, err := h.Chat.RequestStaff(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (h *Handler) StaffMessage(c *gin.Context) {
	var req staffMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	msg, err := h.Chat.StaffMessage(c.Request.Context(), currentUser(c), c.Param("id"), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) EscalateChat(c *gin.Context) {
	id, err := h.Chat.EscalateToComplaint(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"complaintId": id})
}

func (h *Handler) CloseChat(c *gin.Context) {
	cs, err := h.Chat.CloseSession(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}
