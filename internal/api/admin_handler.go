package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyhub/internal/admin"
	"studyhub/internal/api/middleware"
	"studyhub/internal/catalog"
	"studyhub/internal/database"
	"studyhub/internal/metrics"
	"studyhub/internal/ordering"
)

const adminPageSize = 20

// AdminHandler 处理后台统计、审核与付款确认。
type AdminHandler struct {
	admin     *admin.AdminService
	sheets    *catalog.SheetService
	orders    *ordering.OrderService
	presenter presenter
}

// NewAdminHandler 构造后台处理器。
func NewAdminHandler(adminService *admin.AdminService, sheets *catalog.SheetService, orders *ordering.OrderService, p presenter) *AdminHandler {
	return &AdminHandler{admin: adminService, sheets: sheets, orders: orders, presenter: p}
}

// Dashboard 返回后台首页统计。
func (h *AdminHandler) Dashboard(c *gin.Context) {
	d, err := h.admin.Dashboard(c.Request.Context(), identity(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard": h.presenter.dashboard(c.Request.Context(), d)})
}

// Users 列出用户。
func (h *AdminHandler) Users(c *gin.Context) {
	page := pageFromQuery(c, adminPageSize)
	rows, total, err := h.admin.Users(c.Request.Context(), identity(c), c.Query("search"), strings.ToUpper(c.Query("role")), page)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":      h.presenter.adminUsers(c.Request.Context(), rows),
		"pagination": newPagination(page, total),
	})
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=USER ADMIN"`
}

// SetRole 修改用户角色。
func (h *AdminHandler) SetRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req setRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.admin.SetRole(c.Request.Context(), identity(c), id, req.Role)
	if err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("user role changed",
		slog.Uint64("target_user_id", uint64(user.ID)),
		slog.String("role", user.Role),
	)
	c.JSON(http.StatusOK, gin.H{
		"message": "User role updated successfully",
		"user":    h.presenter.user(c.Request.Context(), user),
	})
}

// Sheets 按状态与关键字列出所有讲义。
func (h *AdminHandler) Sheets(c *gin.Context) {
	h.listSheets(c, strings.ToUpper(c.Query("status")))
}

// PendingSheets 列出待审核讲义。
func (h *AdminHandler) PendingSheets(c *gin.Context) {
	h.listSheets(c, database.SheetPending)
}

func (h *AdminHandler) listSheets(c *gin.Context, status string) {
	page := pageFromQuery(c, adminPageSize)
	sheets, total, err := h.sheets.AdminList(c.Request.Context(), identity(c), status, c.Query("search"), page)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sheets":     h.presenter.sheets(c.Request.Context(), sheets),
		"pagination": newPagination(page, total),
	})
}

type reviewSheetRequest struct {
	Status          string `json:"status" binding:"required,oneof=APPROVED REJECTED"`
	RejectionReason string `json:"rejectionReason" binding:"max=512"`
}

// ReviewSheet 审核待审核讲义，驳回时必须填写原因。
func (h *AdminHandler) ReviewSheet(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewSheetRequest
	if !bindJSON(c, &req) {
		return
	}
	sheet, err := h.sheets.Review(c.Request.Context(), identity(c), id, req.Status, req.RejectionReason)
	if err != nil {
		RespondError(c, err)
		return
	}
	metrics.RecordSheetReview(sheet.Status)
	middleware.LoggerFromContext(c).Info("sheet reviewed",
		slog.Uint64("sheet_id", uint64(sheet.ID)),
		slog.String("status", sheet.Status),
	)
	c.JSON(http.StatusOK, gin.H{
		"message": "Sheet " + strings.ToLower(sheet.Status) + " successfully",
		"sheet":   h.presenter.sheet(c.Request.Context(), sheet),
	})
}

// Orders 按状态列出所有订单。
func (h *AdminHandler) Orders(c *gin.Context) {
	page := pageFromQuery(c, adminPageSize)
	orders, total, err := h.orders.AdminList(c.Request.Context(), identity(c), strings.ToUpper(c.Query("status")), page)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":     h.presenter.orders(c.Request.Context(), orders),
		"pagination": newPagination(page, total),
	})
}

// ConfirmPayment 确认已上传凭证的订单付款，授予下载权限。
func (h *AdminHandler) ConfirmPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.Confirm(c.Request.Context(), identity(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	metrics.RecordOrderTransition(order.Status)
	middleware.LoggerFromContext(c).Info("payment confirmed", slog.Uint64("order_id", uint64(order.ID)))
	c.JSON(http.StatusOK, gin.H{
		"message": "Payment confirmed successfully",
		"order":   h.presenter.order(c.Request.Context(), order),
	})
}
