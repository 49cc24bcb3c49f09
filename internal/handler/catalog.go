package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/service"
	"github.com/user/streamtrack/internal/utils"
)

const jsonContentType = "application/json; charset=utf-8"

// CatalogHandler TMDB 代理处理器
type CatalogHandler struct {
	TMDB *service.TMDBService
}

// NewCatalogHandler 创建代理处理器
func NewCatalogHandler(tmdb *service.TMDBService) *CatalogHandler {
	return &CatalogHandler{TMDB: tmdb}
}

// label 错误信息中的类型名
func label(mediaType, movie, tv string) string {
	if mediaType == model.MediaTypeTV {
		return tv
	}
	return movie
}

// MediaType 固定路径中的媒体类型，供 /movie 与 /tv 分组使用
func MediaType(mediaType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Params = append(c.Params, gin.Param{Key: "type", Value: mediaType})
		c.Next()
	}
}

// RequireMediaType 路径参数 type 只能是 movie 或 tv
func RequireMediaType() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !model.ValidMediaType(c.Param("type")) {
			utils.NotFound(c, "Not Found")
			return
		}
		c.Next()
	}
}

func pageParam(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// upstreamFailure 使用上游状态码返回固定的错误信息
func upstreamFailure(c *gin.Context, err error, detail string) {
	utils.Error(c, service.UpstreamCode(err), detail)
}

// Search 多类型搜索
func (h *CatalogHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		utils.Error(c, http.StatusUnprocessableEntity, "query is required")
		return
	}
	body, err := h.TMDB.Search(c.Request.Context(), query)
	if err != nil {
		upstreamFailure(c, err, "Error fetching data from TMDB")
		return
	}
	c.Data(http.StatusOK, jsonContentType, body)
}

// Genres 类型列表
func (h *CatalogHandler) Genres(c *gin.Context) {
	mediaType := c.Param("type")
	body, err := h.TMDB.Genres(c.Request.Context(), mediaType)
	if err != nil {
		upstreamFailure(c, err, label(mediaType, "Error fetching movie genres from TMDB", "Error fetching TV genres from TMDB"))
		return
	}
	c.Data(http.StatusOK, jsonContentType, body)
}

// Providers 平台列表
func (h *CatalogHandler) Providers(c *gin.Context) {
	mediaType := c.Param("type")
	body, err := h.TMDB.Providers(c.Request.Context(), mediaType, c.Query("watch_region"))
	if err != nil {
		upstreamFailure(c, err, label(mediaType, "Error fetching movie providers from TMDB", "Error fetching TV providers from TMDB"))
		return
	}
	c.Data(http.StatusOK, jsonContentType, body)
}

// Discover 按类型与平台发现
func (h *CatalogHandler) Discover(c *gin.Context) {
	mediaType := c.Param("type")
	body, err := h.TMDB.Discover(c.Request.Context(), mediaType, service.DiscoverParams{
		WithGenres:         c.Query("with_genres"),
		WithWatchProviders: c.Query("with_watch_providers"),
		WatchRegion:        c.Query("watch_region"),
		Page:               pageParam(c),
		SortBy:             c.Query("sort_by"),
	})
	if err != nil {
		upstreamFailure(c, err, label(mediaType, "Error discovering movies from TMDB", "Error discovering TV shows from TMDB"))
		return
	}
	c.Data(http.StatusOK, jsonContentType, body)
}

// MediaDetails /details/:type/:id，透传上游的 status_message
func (h *CatalogHandler) MediaDetails(c *gin.Context) {
	mediaType := c.Param("type")
	if !model.ValidMediaType(mediaType) {
		utils.BadRequest(c, "Invalid media_type. Must be 'movie' or 'tv'.")
		return
	}
	body, err := h.TMDB.Details(c.Request.Context(), mediaType, c.Param("id"), c.Query("language"))
	if err != nil {
		utils.Error(c, service.UpstreamCode(err), service.UpstreamMessage(err, "Error fetching data from TMDB"))
		return
	}
	c.Data(http.StatusOK, jsonContentType, body)
}

// Details /movie/:id 与 /tv/:id
func (h *CatalogHandler) Details(c *gin.Context) {
	mediaType := c.Param("type")
	body, err := h.TMDB.Details(c.Request.Context(), mediaType, c.Param("id"), "")
	if err != nil {
		upstreamFailure(c, err, label(mediaType, "Error fetching data from TMDB", "Error fetching TV details from TMDB"))
		return
	}
	c.Data(http.StatusOK, jsonContentType, body)
}

// Reviews 评论，上游失败时返回空列表
func (h *CatalogHandler) Reviews(c *gin.Context) {
	body := h.TMDB.Reviews(c.Request.Context(), c.Param("type"), c.Param("id"), c.Query("language"), pageParam(c))
	c.Data(http.StatusOK, jsonContentType, body)
}

// Credits 演职员
func (h *CatalogHandler) Credits(c *gin.Context) {
	c.Data(http.StatusOK, jsonContentType, h.TMDB.Credits(c.Request.Context(), c.Param("type"), c.Param("id")))
}

// Similar 相似作品
func (h *CatalogHandler) Similar(c *gin.Context) {
	c.Data(http.StatusOK, jsonContentType, h.TMDB.Similar(c.Request.Context(), c.Param("type"), c.Param("id"), pageParam(c)))
}

// Videos 视频
func (h *CatalogHandler) Videos(c *gin.Context) {
	c.Data(http.StatusOK, jsonContentType, h.TMDB.Videos(c.Request.Context(), c.Param("type"), c.Param("id")))
}

// ExternalIDs 外部 ID
func (h *CatalogHandler) ExternalIDs(c *gin.Context) {
	c.Data(http.StatusOK, jsonContentType, h.TMDB.ExternalIDs(c.Request.Context(), c.Param("type"), c.Param("id")))
}

// WatchProviders 单个作品的观看渠道
func (h *CatalogHandler) WatchProviders(c *gin.Context) {
	body := h.TMDB.WatchProviders(c.Request.Context(), c.Param("type"), c.Param("id"), c.Query("watch_region"))
	c.Data(http.StatusOK, jsonContentType, body)
}
