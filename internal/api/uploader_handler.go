package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyhub/internal/api/middleware"
	"studyhub/internal/store"
	"studyhub/internal/uploader"
)

const uploaderPageSize = 20

// UploaderHandler 处理上传者申请与审核。
type UploaderHandler struct {
	uploaders *uploader.UploaderService
	presenter presenter
}

// NewUploaderHandler 构造上传者处理器。
func NewUploaderHandler(uploaders *uploader.UploaderService, p presenter) *UploaderHandler {
	return &UploaderHandler{uploaders: uploaders, presenter: p}
}

type applyRequest struct {
	PenName     string `json:"penName" binding:"required,min=2,max=128"`
	Faculty     string `json:"faculty" binding:"required,min=2,max=128"`
	Major       string `json:"major" binding:"required,min=2,max=128"`
	Year        int    `json:"year" binding:"required,min=1,max=10"`
	PhoneNumber string `json:"phoneNumber" binding:"required,min=6,max=32"`
	BankAccount string `json:"bankAccount" binding:"required,min=6,max=64"`
}

// Apply 提交上传者申请，每个用户只能申请一次。
func (h *UploaderHandler) Apply(c *gin.Context) {
	var req applyRequest
	if !bindJSON(c, &req) {
		return
	}
	profile, err := h.uploaders.Apply(c.Request.Context(), identity(c), uploader.ApplyInput{
		PenName:     req.PenName,
		Faculty:     req.Faculty,
		Major:       req.Major,
		Year:        req.Year,
		PhoneNumber: req.PhoneNumber,
		BankAccount: req.BankAccount,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("uploader application submitted", slog.Uint64("profile_id", uint64(profile.ID)))
	c.JSON(http.StatusCreated, gin.H{
		"message": "Uploader application submitted successfully",
		"profile": h.presenter.uploader(c.Request.Context(), profile, true),
	})
}

type updateUploaderRequest struct {
	PenName     *string `json:"penName" binding:"omitempty,min=2,max=128"`
	Faculty     *string `json:"faculty" binding:"omitempty,min=2,max=128"`
	Major       *string `json:"major" binding:"omitempty,min=2,max=128"`
	Year        *int    `json:"year" binding:"omitempty,min=1,max=10"`
	PhoneNumber *string `json:"phoneNumber" binding:"omitempty,min=6,max=32"`
	BankAccount *string `json:"bankAccount" binding:"omitempty,min=6,max=64"`
}

// UpdateProfile 修改自己的上传者资料，不影响审核状态。
func (h *UploaderHandler) UpdateProfile(c *gin.Context) {
	var req updateUploaderRequest
	if !bindJSON(c, &req) {
		return
	}
	profile, err := h.uploaders.UpdateOwn(c.Request.Context(), identity(c), store.UploaderPatch{
		PenName:     req.PenName,
		Faculty:     req.Faculty,
		Major:       req.Major,
		Year:        req.Year,
		PhoneNumber: req.PhoneNumber,
		BankAccount: req.BankAccount,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Uploader profile updated successfully",
		"profile": h.presenter.uploader(c.Request.Context(), profile, true),
	})
}

// Pending 列出待审核的申请。
func (h *UploaderHandler) Pending(c *gin.Context) {
	page := pageFromQuery(c, uploaderPageSize)
	profiles, total, err := h.uploaders.Pending(c.Request.Context(), identity(c), page)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles":   h.presenter.uploaders(c.Request.Context(), profiles, true),
		"pagination": newPagination(page, total),
	})
}

type reviewUploaderRequest struct {
	IsApproved *bool `json:"isApproved" binding:"required"`
}

// Review 批准或撤销上传者资格，可反复切换。
func (h *UploaderHandler) Review(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewUploaderRequest
	if !bindJSON(c, &req) {
		return
	}
	profile, err := h.uploaders.Review(c.Request.Context(), identity(c), id, *req.IsApproved)
	if err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("uploader reviewed",
		slog.Uint64("profile_id", uint64(profile.ID)),
		slog.Bool("approved", profile.IsApproved),
	)
	message := "Uploader approved successfully"
	if !profile.IsApproved {
		message = "Uploader approval revoked"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": message,
		"profile": h.presenter.uploader(c.Request.Context(), profile, true),
	})
}

// Approved 公开列出已通过审核的上传者。
func (h *UploaderHandler) Approved(c *gin.Context) {
	page := pageFromQuery(c, uploaderPageSize)
	items, total, err := h.uploaders.ListApproved(c.Request.Context(), page)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uploaders":  h.presenter.approvedUploaders(c.Request.Context(), items),
		"pagination": newPagination(page, total),
	})
}
