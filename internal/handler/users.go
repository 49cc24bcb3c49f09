package handler

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/repository"
	"github.com/user/streamtrack/internal/service"
	"github.com/user/streamtrack/internal/utils"
)

// identityFailure 将 Keycloak 错误映射为响应
func identityFailure(c *gin.Context, detail string, err error) {
	switch {
	case errors.Is(err, service.ErrUserExists):
		utils.Conflict(c, "User already exists")
	case errors.Is(err, service.ErrIdentityUnavailable):
		utils.Error(c, http.StatusServiceUnavailable, "Could not connect to Keycloak: "+err.Error())
	default:
		serverError(c, detail, err)
	}
}

// Register 注册：先在 Keycloak 建号并分配 user 角色，再写本地资料
func (h *Handler) Register(c *gin.Context) {
	var req model.UserCreate
	if !bindJSON(c, &req) {
		return
	}

	existing, err := h.Repos.User.FindByUsernameOrEmail(req.Username, req.Email)
	if err != nil {
		serverError(c, "Failed to register user", err)
		return
	}
	if existing != nil {
		utils.Conflict(c, "User with this username or email already exists")
		return
	}

	ctx := c.Request.Context()
	keycloakID, err := h.Identity.CreateUser(ctx, service.NewIdentityUser{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: deref(req.FirstName),
		LastName:  deref(req.LastName),
	})
	if err != nil {
		identityFailure(c, "Failed to register user", err)
		return
	}
	if err := h.Identity.AssignRole(ctx, keycloakID, model.RoleUser); err != nil {
		identityFailure(c, "Failed to register user", err)
		return
	}

	email := req.Email
	user := &model.User{
		KeycloakID: keycloakID,
		Username:   req.Username,
		Email:      &email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Roles:      []string{model.RoleUser},
		IsActive:   true,
	}
	if err := h.Repos.User.Create(user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			utils.Conflict(c, "User with this username or email already exists")
			return
		}
		serverError(c, "Failed to register user", err)
		return
	}

	logging.Info().Str("username", user.Username).Str("keycloak_id", keycloakID).Msg("[User] 注册成功")
	c.JSON(http.StatusOK, user)
}

// GetProfile 当前用户资料，首次访问时自动创建
func (h *Handler) GetProfile(c *gin.Context) {
	sub := middleware.GetUserID(c)
	user, err := h.Repos.User.FindByKeycloakID(sub)
	if err != nil {
		serverError(c, "Failed to fetch user profile", err)
		return
	}
	if user != nil {
		c.JSON(http.StatusOK, user)
		return
	}

	user = &model.User{
		KeycloakID: sub,
		Username:   "user_" + sub[:min(8, len(sub))],
		Roles:      []string{model.RoleUser},
		IsActive:   true,
	}
	if err := h.Repos.User.Create(user); err != nil {
		// 并发请求可能已经创建
		if errors.Is(err, repository.ErrDuplicate) {
			if user, err = h.Repos.User.FindByKeycloakID(sub); err == nil && user != nil {
				c.JSON(http.StatusOK, user)
				return
			}
		}
		serverError(c, "Failed to create user profile", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile 修改资料，邮箱与姓名同步到 Keycloak
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req model.UserUpdate
	if !bindJSON(c, &req) {
		return
	}

	sub := middleware.GetUserID(c)
	user, err := h.Repos.User.FindByKeycloakID(sub)
	if err != nil {
		serverError(c, "Failed to update user profile", err)
		return
	}
	if user == nil {
		utils.NotFound(c, "User not found")
		return
	}
	if req.Empty() {
		c.JSON(http.StatusOK, user)
		return
	}

	fields := map[string]any{}
	if req.Email != nil {
		fields["email"] = *req.Email
	}
	if req.FirstName != nil {
		fields["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		fields["last_name"] = *req.LastName
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = *req.AvatarURL
	}

	if req.Email != nil || req.FirstName != nil || req.LastName != nil {
		err := h.Identity.UpdateUser(c.Request.Context(), sub, service.IdentityUserUpdate{
			Email:     deref(req.Email),
			FirstName: deref(req.FirstName),
			LastName:  deref(req.LastName),
		})
		if err != nil {
			identityFailure(c, "Failed to update user profile", err)
			return
		}
	}

	if err := h.Repos.User.UpdateFields(sub, fields); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			utils.Conflict(c, "User with this username or email already exists")
			return
		}
		serverError(c, "Failed to update user profile", err)
		return
	}
	updated, err := h.Repos.User.FindByKeycloakID(sub)
	if err != nil || updated == nil {
		serverError(c, "Failed to update user profile", errors.Join(err, repository.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, updated)
}

// UploadAvatar 上传头像，multipart 字段名 file
func (h *Handler) UploadAvatar(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		utils.Error(c, http.StatusUnprocessableEntity, "file is required")
		return
	}
	if fh.Size > h.Config.Storage.MaxAvatarBytes {
		utils.BadRequest(c, service.ErrAvatarTooBig.Error())
		return
	}

	f, err := fh.Open()
	if err != nil {
		serverError(c, "Failed to upload avatar", err)
		return
	}
	defer f.Close()

	url, err := h.Avatars.Save(f)
	if errors.Is(err, service.ErrNotImage) || errors.Is(err, service.ErrAvatarTooBig) {
		utils.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		serverError(c, "Failed to upload avatar", err)
		return
	}

	sub := middleware.GetUserID(c)
	previous, _ := h.Repos.User.FindByKeycloakID(sub)
	if err := h.Repos.User.UpdateFields(sub, map[string]any{"avatar_url": url}); err != nil {
		_ = h.Avatars.Remove(url)
		serverError(c, "Failed to upload avatar", err)
		return
	}
	if previous != nil && previous.AvatarURL != nil && *previous.AvatarURL != url {
		if err := h.Avatars.Remove(*previous.AvatarURL); err != nil && !errors.Is(err, service.ErrAvatarMissing) {
			logging.Warn().Err(err).Str("avatar", *previous.AvatarURL).Msg("[User] 删除旧头像失败")
		}
	}

	c.JSON(http.StatusOK, model.AvatarUploaded{
		AvatarURL: url,
		Message:   "Avatar uploaded successfully",
	})
}

// PromoteUser 授予或撤销管理员角色，重复操作只返回提示
func (h *Handler) PromoteUser(c *gin.Context) {
	var req model.PromoteRequest
	if !bindJSON(c, &req) {
		return
	}

	user := h.findUser(c, req.UserID)
	if user == nil {
		return
	}
	ctx := c.Request.Context()
	isAdmin := user.HasRole(model.RoleAdmin)

	var roles []string
	var message string
	switch req.Role {
	case model.RoleAdmin:
		if isAdmin {
			utils.Message(c, fmt.Sprintf("User %s is already an admin", user.Username))
			return
		}
		if err := h.Identity.AssignRole(ctx, user.KeycloakID, model.RoleAdmin); err != nil {
			identityFailure(c, "Failed to change user role", err)
			return
		}
		roles = append(slices.Clone(user.Roles), model.RoleAdmin)
		message = fmt.Sprintf("User %s has been promoted to admin", user.Username)
	default:
		if !isAdmin {
			utils.Message(c, fmt.Sprintf("User %s is not an admin", user.Username))
			return
		}
		if err := h.Identity.RemoveRole(ctx, user.KeycloakID, model.RoleAdmin); err != nil {
			identityFailure(c, "Failed to change user role", err)
			return
		}
		roles = slices.DeleteFunc(slices.Clone(user.Roles), func(r string) bool { return r == model.RoleAdmin })
		message = fmt.Sprintf("User %s has been demoted from admin", user.Username)
	}

	if err := h.Repos.User.SetRoles(user.ID, roles); err != nil {
		serverError(c, "Failed to change user role", err)
		return
	}
	utils.Message(c, message)
}

// ListUsers 全部用户（管理员）
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.Repos.User.ListAll()
	if err != nil {
		serverError(c, "Failed to fetch users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetUser 单个用户（管理员）
func (h *Handler) GetUser(c *gin.Context) {
	if user := h.findUser(c, c.Param("id")); user != nil {
		c.JSON(http.StatusOK, user)
	}
}

// DeactivateUser 停用账号（管理员）
func (h *Handler) DeactivateUser(c *gin.Context) {
	h.setActive(c, false)
}

// ActivateUser 启用账号（管理员）
func (h *Handler) ActivateUser(c *gin.Context) {
	h.setActive(c, true)
}

func (h *Handler) setActive(c *gin.Context, active bool) {
	user := h.findUser(c, c.Param("id"))
	if user == nil {
		return
	}
	if err := h.Repos.User.SetActive(user.ID, active); err != nil {
		serverError(c, "Failed to update user status", err)
		return
	}
	state := "deactivated"
	if active {
		state = "activated"
	}
	utils.Message(c, fmt.Sprintf("User %s has been %s", user.Username, state))
}

// findUser 按本地 ID 查找，找不到时已写入 404
func (h *Handler) findUser(c *gin.Context, id string) *model.User {
	user, err := h.Repos.User.FindByID(id)
	if err != nil {
		serverError(c, "Failed to fetch user", err)
		return nil
	}
	if user == nil {
		utils.NotFound(c, "User not found")
		return nil
	}
	return user
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
