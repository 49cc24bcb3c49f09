package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/repository"
	"github.com/user/streamtrack/internal/service"
	"github.com/user/streamtrack/internal/utils"
)

// IdentityAdmin Keycloak 管理操作
type IdentityAdmin interface {
	CreateUser(ctx context.Context, u service.NewIdentityUser) (string, error)
	UpdateUser(ctx context.Context, id string, u service.IdentityUserUpdate) error
	AssignRole(ctx context.Context, id, role string) error
	RemoveRole(ctx context.Context, id, role string) error
}

// Handler 后端 API 处理器
type Handler struct {
	Repos    *repository.Repositories
	Config   *config.Config
	Identity IdentityAdmin
	Avatars  *service.AvatarService
}

// NewHandler 创建处理器
func NewHandler(repos *repository.Repositories, cfg *config.Config, identity IdentityAdmin, avatars *service.AvatarService) *Handler {
	return &Handler{
		Repos:    repos,
		Config:   cfg,
		Identity: identity,
		Avatars:  avatars,
	}
}

// RegisterValidators 注册自定义校验标签
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected validator engine")
	}
	return errors.Join(
		v.RegisterValidation("mediatype", func(fl validator.FieldLevel) bool {
			return model.ValidMediaType(fl.Field().String())
		}),
		v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return model.ValidRole(fl.Field().String())
		}),
	)
}

// bindJSON 解析请求体，失败时返回 422
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		utils.Error(c, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// serverError 记录日志并返回 500
func serverError(c *gin.Context, detail string, err error) {
	logging.Error().Err(err).Str("path", c.FullPath()).Msg(detail)
	utils.InternalServerError(c, detail)
}
