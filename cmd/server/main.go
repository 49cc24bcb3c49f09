package main

import (
	"context"
	"encoding/gob"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/handler"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/repository"
	"github.com/user/streamtrack/internal/router"
	"github.com/user/streamtrack/internal/service"
	"github.com/user/streamtrack/web"
)

const sessionMaxAge = 7 * 24 * time.Hour

func main() {
	// 注册 Session 模型
	gob.Register(model.SessionUser{})

	// 加载环境变量
	envErr := godotenv.Load()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("加载配置失败")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if envErr != nil {
		logging.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}

	// 初始化数据库
	db, err := repository.InitDB(cfg.Database.DSN())
	if err != nil {
		logging.Fatal().Err(err).Msg("数据库连接失败")
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := repository.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("数据库迁移失败")
	}

	// 初始化仓库
	repos := repository.NewRepositories(db)

	// 外部服务
	httpClient := &http.Client{Timeout: cfg.Server.Timeout}
	identity := service.NewKeycloakService(cfg.Keycloak, httpClient)
	jwks := middleware.NewJWKSCache(cfg.Keycloak.JWKSEndpoint(), httpClient, cfg.Keycloak.JWKSCacheTTL)
	loginConfig := service.NewLoginConfig(cfg.Keycloak)
	vault := service.NewTokenVault(loginConfig, sessionMaxAge)
	authn := middleware.NewAuthenticator(jwks, repos.User, vault)

	// 头像存储
	if err := os.MkdirAll(cfg.Storage.StaticDir, 0o755); err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Storage.StaticDir).Msg("创建静态目录失败")
	}
	staticFs := afero.NewBasePathFs(afero.NewOsFs(), cfg.Storage.StaticDir)
	avatars := service.NewAvatarService(staticFs, cfg.Storage.MaxAvatarBytes)

	// 初始化 Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger("api"))
	r.Use(middleware.Security())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 设置 Session 中间件
	store := cookie.NewStore([]byte(cfg.Server.AppSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("streamtrack_session", store))

	// 加载模板（使用 multitemplate 解决继承问题）
	renderer, err := router.LoadTemplates(web.Templates)
	if err != nil {
		logging.Fatal().Err(err).Msg("加载模板失败")
	}
	r.HTMLRender = renderer

	if err := handler.RegisterValidators(); err != nil {
		logging.Fatal().Err(err).Msg("注册校验规则失败")
	}

	// 初始化 Handler
	h := handler.NewHandler(repos, cfg, identity, avatars)
	authHandler := handler.NewAuthHandler(cfg, loginConfig, vault, authn, repos.User)

	// 注册路由
	router.RegisterCommon(r)
	router.RegisterStatic(r, staticFs)
	router.RegisterRoutes(r, h, authHandler, authn)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动定时清理任务
	service.NewCleanupService(repos.User, avatars, cfg.Storage.CleanupInterval).Start(ctx)

	srv := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("API 服务启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	<-ctx.Done()
	logging.Info().Msg("正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("服务器强制关闭")
	}

	logging.Info().Msg("服务器已退出")
}
