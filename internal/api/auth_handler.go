package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/account"
	"studyhub/internal/api/middleware"
	"studyhub/internal/errcode"
)

// AuthHandler 处理注册、登录与账号资料。
type AuthHandler struct {
	accounts  *account.AccountService
	limiter   *loginLimiter
	presenter presenter
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(accounts *account.AccountService, redisClient redis.UniversalClient, limits LoginLimits, p presenter) *AuthHandler {
	return &AuthHandler{accounts: accounts, limiter: newLoginLimiter(redisClient, limits), presenter: p}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	FullName string `json:"fullName" binding:"required,min=2,max=128"`
	Phone    string `json:"phone" binding:"omitempty,max=32"`
}

type authResponse struct {
	Message string   `json:"message"`
	User    userView `json:"user"`
	Token   string   `json:"token"`
}

// Register 创建新用户账号。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	user, token, err := h.accounts.Register(ctx, account.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	middleware.LoggerFromContext(c).Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusCreated, authResponse{
		Message: "User registered successfully",
		User:    h.presenter.user(ctx, user),
		Token:   token,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login 校验口令并返回 Token，按 IP+邮箱限流，连续失败后临时锁定账号。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := middleware.LoggerFromContext(c).With(slog.String("email", email))

	if err := h.limiter.admit(ctx, c.ClientIP(), email, logger); err != nil {
		RespondError(c, err)
		return
	}

	user, token, err := h.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errcode.IsCode(err, errcode.Unauthorized) {
			logger.Info("login failed")
			h.limiter.fail(ctx, email, logger)
		}
		RespondError(c, err)
		return
	}

	h.limiter.succeed(ctx, email)
	c.JSON(http.StatusOK, authResponse{
		Message: "Login successful",
		User:    h.presenter.user(ctx, user),
		Token:   token,
	})
}

// Me 返回当前用户资料。
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.accounts.Me(c.Request.Context(), identity(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": h.presenter.user(c.Request.Context(), user)})
}

type updateProfileRequest struct {
	FullName *string `json:"fullName" binding:"omitempty,min=2,max=128"`
	Phone    *string `json:"phone" binding:"omitempty,max=32"`
}

// UpdateProfile 修改姓名与电话。
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.accounts.UpdateProfile(c.Request.Context(), identity(c), req.FullName, req.Phone)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Profile updated successfully",
		"user":    h.presenter.user(c.Request.Context(), user),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6,max=72"`
}

// ChangePassword 校验当前密码并更新为新密码。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.NewPassword == req.CurrentPassword {
		BadRequest(c, "New password must be different from current password",
			errcode.Detail{Field: "newPassword", Message: "must differ from current password"})
		return
	}

	if err := h.accounts.ChangePassword(c.Request.Context(), identity(c), req.CurrentPassword, req.NewPassword); err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("password changed")
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}
