package router

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/user/streamtrack/internal/handler"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/model"
)

// RegisterCommon 健康检查与指标
func RegisterCommon(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RegisterStatic 以 afero 文件系统提供 /static，禁止浏览器嗅探类型
func RegisterStatic(r *gin.Engine, fs afero.Fs) {
	r.Group("", middleware.Security()).StaticFS("/static", afero.NewHttpFs(fs))
}

// RegisterRoutes 注册后端 API 路由，根路径与 /api 前缀各挂载一份
func RegisterRoutes(r *gin.Engine, h *handler.Handler, auth *handler.AuthHandler, authn *middleware.Authenticator) {
	// ==================== 浏览器登录 ====================
	if auth != nil {
		login := r.Group("/auth")
		{
			login.GET("/login", auth.Login)
			login.GET("/callback", auth.Callback)
			login.GET("/logout", auth.Logout)
			login.POST("/logout", auth.Logout)
			login.GET("/session", auth.Session)
		}
	}

	registerAPI(r.Group(""), h, authn)
	registerAPI(r.Group("/api"), h, authn)
}

func registerAPI(g *gin.RouterGroup, h *handler.Handler, authn *middleware.Authenticator) {
	g.POST("/register", h.Register)

	// ==================== 用户（需要登录）====================
	user := g.Group("")
	user.Use(authn.RequireAuth())
	{
		user.POST("/notes", h.CreateNote)
		user.GET("/notes", h.ListNotes)
		user.GET("/notes/media/:mediaId", h.MediaNotes)
		user.GET("/notes/:id", h.GetNote)
		user.PUT("/notes/:id", h.UpdateNote)
		user.DELETE("/notes/:id", h.DeleteNote)

		user.POST("/watchlist", h.AddToWatchlist)
		user.GET("/watchlist", h.ListWatchlist)
		user.GET("/watchlist/check/:movieId", h.CheckWatchlist)
		user.DELETE("/watchlist/:movieId", h.RemoveFromWatchlist)

		user.GET("/profile", h.GetProfile)
		user.PUT("/profile", h.UpdateProfile)
		user.POST("/avatar", h.UploadAvatar)
	}

	// ==================== 管理后台 ====================
	admin := g.Group("")
	admin.Use(authn.RequireAuth(), middleware.RequireRole(model.RoleAdmin))
	{
		admin.GET("/users", h.ListUsers)
		admin.GET("/users/:id", h.GetUser)
		admin.DELETE("/users/:id", h.DeactivateUser)
		admin.PUT("/users/:id/activate", h.ActivateUser)
		admin.POST("/promote", h.PromoteUser)
		admin.GET("/admin/notes", h.AdminNotes)
		admin.GET("/admin/users", h.AdminNotesActivity)
	}
}

// RegisterCatalogRoutes 注册 TMDB 代理路由
func RegisterCatalogRoutes(r *gin.Engine, h *handler.CatalogHandler) {
	r.GET("/search", h.Search)
	r.GET("/details/:type/:id", h.MediaDetails)

	typed := r.Group("", handler.RequireMediaType())
	{
		typed.GET("/genres/:type", h.Genres)
		typed.GET("/providers/:type", h.Providers)
		typed.GET("/discover/:type", h.Discover)
	}

	for _, mediaType := range []string{model.MediaTypeMovie, model.MediaTypeTV} {
		g := r.Group("/"+mediaType, handler.MediaType(mediaType))
		{
			g.GET("/:id", h.Details)
			g.GET("/:id/reviews", h.Reviews)
			g.GET("/:id/credits", h.Credits)
			g.GET("/:id/similar", h.Similar)
			g.GET("/:id/videos", h.Videos)
			g.GET("/:id/external_ids", h.ExternalIDs)
			g.GET("/:id/watch/providers", h.WatchProviders)
		}
	}
}

// LoadTemplates 使用 multitemplate 加载模板，页面模板作为根模板与布局一起解析
func LoadTemplates(fsys fs.FS) (multitemplate.Renderer, error) {
	r := multitemplate.NewRenderer()

	layouts, err := fs.Glob(fsys, "templates/layouts/*.html")
	if err != nil {
		return nil, err
	}
	pages, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}

	// 模板函数
	funcMap := template.FuncMap{
		"default": func(defaultValue, value any) any {
			if s, ok := value.(string); ok && s == "" {
				return defaultValue
			}
			if value == nil {
				return defaultValue
			}
			return value
		},
	}

	for _, page := range pages {
		name := path.Base(page)
		files := append([]string{page}, layouts...)
		tmpl, err := template.New(name).Funcs(funcMap).ParseFS(fsys, files...)
		if err != nil {
			return nil, fmt.Errorf("解析模板 %s 失败: %w", name, err)
		}
		r.Add(name, tmpl)
	}
	return r, nil
}
