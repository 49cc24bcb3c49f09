package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/repository"
	"github.com/user/streamtrack/internal/utils"
)

// noteID 校验路径中的笔记 ID
func noteID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		utils.BadRequest(c, "Invalid note ID format")
		return "", false
	}
	return id, true
}

// CreateNote 新建笔记
func (h *Handler) CreateNote(c *gin.Context) {
	var req model.NoteCreate
	if !bindJSON(c, &req) {
		return
	}

	note := &model.Note{
		UserID:    middleware.GetUserID(c),
		MovieID:   req.MovieID,
		MediaType: req.MediaType,
		Content:   req.Content,
	}
	if err := h.Repos.Note.Create(note); err != nil {
		serverError(c, "Failed to insert note into database", err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// ListNotes 当前用户的全部笔记
func (h *Handler) ListNotes(c *gin.Context) {
	notes, err := h.Repos.Note.ListByUser(middleware.GetUserID(c))
	if err != nil {
		serverError(c, "Error fetching notes from database", err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

// MediaNotes 当前用户对某部作品的笔记
func (h *Handler) MediaNotes(c *gin.Context) {
	notes, err := h.Repos.Note.ListByUserAndMedia(middleware.GetUserID(c), c.Param("mediaId"))
	if err != nil {
		serverError(c, "Error fetching notes from database", err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

// GetNote 单条笔记
func (h *Handler) GetNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	note, err := h.Repos.Note.FindForUser(id, middleware.GetUserID(c))
	if err != nil {
		serverError(c, "Error fetching note from database", err)
		return
	}
	if note == nil {
		utils.NotFound(c, "Note not found or access denied")
		return
	}
	c.JSON(http.StatusOK, note)
}

// UpdateNote 修改笔记内容
func (h *Handler) UpdateNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	var req model.NoteUpdate
	if !bindJSON(c, &req) {
		return
	}
	if req.Content == nil {
		utils.BadRequest(c, "No update data provided")
		return
	}

	note, err := h.Repos.Note.UpdateContent(id, middleware.GetUserID(c), *req.Content)
	if errors.Is(err, repository.ErrNotFound) {
		// 区分不存在与不属于当前用户
		existing, ferr := h.Repos.Note.FindByID(id)
		if ferr != nil {
			serverError(c, "Error fetching note from database", ferr)
			return
		}
		if existing == nil {
			utils.NotFound(c, "Note not found")
			return
		}
		utils.Forbidden(c, "Access denied or no changes made")
		return
	}
	if err != nil {
		serverError(c, "Failed to update note", err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// DeleteNote 删除笔记
func (h *Handler) DeleteNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	deleted, err := h.Repos.Note.Delete(id, middleware.GetUserID(c))
	if err != nil {
		serverError(c, "Failed to delete note", err)
		return
	}
	if !deleted {
		utils.NotFound(c, "Note not found or you don't have permission to delete it")
		return
	}
	c.JSON(http.StatusOK, model.NoteDeleted{
		Message:       "Note deleted successfully",
		DeletedNoteID: id,
	})
}
