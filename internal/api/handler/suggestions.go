package handler

import (
	"net/http"

	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/storage"
	"studentsupport/backend/internal/suggestion"

	"github.com/gin-gonic/gin"
)

type createSuggestionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type updateSuggestionRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

func (h *Handler) CreateSuggestion(c *gin.Context) {
	var req createSuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	out, err := h.Suggestions.Create(c.Request.Context(), currentUser(c), suggestion.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListSuggestions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	f := storage.SuggestionFilter{
		UserID:   c.Query("userId"),
		Category: c.Query("category"),
		Limit:    limit,
	}
	if raw := c.Query("status"); raw != "" {
		status, valid := models.ParseSuggestionStatus(raw)
		if !valid {
			badRequest(c, "invalid status")
			return
		}
		f.Status = status
	}

	rows, err := h.Suggestions.List(c.Request.Context(), currentUser(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetSuggestion(c *gin.Context) {
	out, err := h.Suggestions.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateSuggestion(c *gin.Context) {
	var req updateSuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	out, err := h.Suggestions.Update(c.Request.Context(), currentUser(c), c.Param("id"), suggestion.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteSuggestion(c *gin.Context) {
	if err := h.Suggestions.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SuggestionAction(c *gin.Context) {
	name, payload, ok := actionName(c)
	if !ok {
		return
	}
	action, err := suggestion.ParseAction(name, payload)
	if err != nil {
		fail(c, err)
		return
	}
	out, err := h.Suggestions.Act(c.Request.Context(), currentUser(c), c.Param("id"), action)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ToggleUpvote(c *gin.Context) {
	res, err := h.Suggestions.Toggle(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
