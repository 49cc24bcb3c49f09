package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/handler"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/router"
	"github.com/user/streamtrack/internal/service"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("加载配置失败")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if envErr != nil {
		logging.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}
	if cfg.TMDB.APIKey == "" && cfg.TMDB.Token == "" {
		logging.Warn().Msg("未配置 TMDB_API_KEY 或 TMDB_TOKEN，上游请求将失败")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger("catalog"))
	r.Use(middleware.Security())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	tmdb := service.NewTMDBService(cfg.TMDB, nil)
	router.RegisterCommon(r)
	router.RegisterCatalogRoutes(r, handler.NewCatalogHandler(tmdb))

	srv := &http.Server{
		Addr:           ":" + cfg.Server.CatalogPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("TMDB 代理启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("服务器强制关闭")
	}
}
