package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/repository"
	"github.com/user/streamtrack/internal/utils"
)

// AddToWatchlist 加入待看，同一作品只能加入一次
func (h *Handler) AddToWatchlist(c *gin.Context) {
	var req model.WatchlistItemCreate
	if !bindJSON(c, &req) {
		return
	}

	item := &model.WatchlistItem{
		UserID:    middleware.GetUserID(c),
		MovieID:   req.MovieID,
		Title:     req.Title,
		MediaType: req.MediaType,
	}
	if err := h.Repos.Watchlist.Add(item); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			utils.Conflict(c, "Item already in watchlist")
			return
		}
		serverError(c, "Failed to add item to watchlist", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// ListWatchlist 当前用户的待看列表
func (h *Handler) ListWatchlist(c *gin.Context) {
	items, err := h.Repos.Watchlist.ListByUser(middleware.GetUserID(c))
	if err != nil {
		serverError(c, "Error fetching watchlist", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// RemoveFromWatchlist 移出待看
func (h *Handler) RemoveFromWatchlist(c *gin.Context) {
	movieID := c.Param("movieId")
	removed, err := h.Repos.Watchlist.Remove(middleware.GetUserID(c), movieID)
	if err != nil {
		serverError(c, "Failed to remove item from watchlist", err)
		return
	}
	if !removed {
		utils.NotFound(c, "Item not found in watchlist or you don't have permission")
		return
	}
	c.JSON(http.StatusOK, model.WatchlistRemoved{
		Message:        "Item removed from watchlist successfully",
		RemovedMovieID: movieID,
	})
}

// CheckWatchlist 是否已在待看列表，返回裸布尔值
func (h *Handler) CheckWatchlist(c *gin.Context) {
	exists, err := h.Repos.Watchlist.Exists(middleware.GetUserID(c), c.Param("movieId"))
	if err != nil {
		serverError(c, "Error checking watchlist", err)
		return
	}
	c.JSON(http.StatusOK, exists)
}
