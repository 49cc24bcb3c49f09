package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/streamtrack/internal/model"
)

// ==================== 管理后台 ====================

// AdminNotes 所有用户的笔记
func (h *Handler) AdminNotes(c *gin.Context) {
	notes, err := h.Repos.Note.ListAll()
	if err != nil {
		serverError(c, "Error fetching notes from database", err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

// AdminNotesActivity 写过笔记的用户 ID
func (h *Handler) AdminNotesActivity(c *gin.Context) {
	ids, err := h.Repos.Note.DistinctUserIDs()
	if err != nil {
		serverError(c, "Error fetching notes activity", err)
		return
	}
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"message": "No users have created notes yet.",
			"users":   []string{},
		})
		return
	}
	c.JSON(http.StatusOK, model.NotesActivity{UsersWithNotesActivity: ids})
}
