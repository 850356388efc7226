package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyhub/internal/account"
	"studyhub/internal/config"
	"studyhub/internal/errcode"
	"studyhub/internal/storage"
)

// UserHandler 处理个人中心、搜索与公开主页。
type UserHandler struct {
	accounts  *account.AccountService
	files     fileStore
	limits    config.UploadConfig
	presenter presenter
}

// NewUserHandler 构造用户处理器。
func NewUserHandler(accounts *account.AccountService, files fileStore, limits config.UploadConfig, p presenter) *UserHandler {
	return &UserHandler{accounts: accounts, files: files, limits: limits, presenter: p}
}

// Stats 返回调用者的上传、购买与收入统计。
func (h *UserHandler) Stats(c *gin.Context) {
	st, err := h.accounts.Stats(c.Request.Context(), identity(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": h.presenter.stats(c.Request.Context(), st)})
}

// Avatar 上传头像图片。
func (h *UserHandler) Avatar(c *gin.Context) {
	caller := identity(c)
	fh, err := c.FormFile("avatar")
	if err != nil {
		BadRequest(c, "Avatar image is required", errcode.Detail{Field: "avatar", Message: "is required"})
		return
	}
	ctx := c.Request.Context()
	key, err := h.files.put(ctx, fh, fileRule{
		field:    "avatar",
		kind:     storage.KindAvatar,
		maxBytes: h.limits.MaxImageBytes,
		accept:   "image/",
	}, caller.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}
	user, err := h.accounts.SetAvatar(ctx, caller, key)
	if err != nil {
		h.files.discard(ctx, []string{key}, "avatar rejected")
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Avatar updated successfully",
		"user":    h.presenter.user(ctx, user),
	})
}

// Search 按邮箱或姓名搜索用户，type=uploaders 时只返回已审核上传者。
func (h *UserHandler) Search(c *gin.Context) {
	uploadersOnly := strings.EqualFold(c.Query("type"), "uploaders")
	users, err := h.accounts.Search(c.Request.Context(), identity(c), c.Query("q"), uploadersOnly)
	if err != nil {
		RespondError(c, err)
		return
	}
	out := make([]userSummary, 0, len(users))
	for i := range users {
		out = append(out, *h.presenter.summary(c.Request.Context(), &users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// Notifications 返回最近七天的审核与付款通知。
func (h *UserHandler) Notifications(c *gin.Context) {
	events, err := h.accounts.Notifications(c.Request.Context(), identity(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": events})
}

// Profile 返回用户公开主页。
func (h *UserHandler) Profile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	profile, err := h.accounts.PublicProfile(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": h.presenter.publicProfile(c.Request.Context(), profile)})
}
