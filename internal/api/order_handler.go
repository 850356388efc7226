package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyhub/internal/api/middleware"
	"studyhub/internal/config"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/metrics"
	"studyhub/internal/ordering"
	"studyhub/internal/storage"
)

const myOrderPageSize = 10

// OrderHandler 处理下单、上传付款凭证与取消。
type OrderHandler struct {
	orders    *ordering.OrderService
	files     fileStore
	limits    config.UploadConfig
	presenter presenter
}

// NewOrderHandler 构造订单处理器。
func NewOrderHandler(orders *ordering.OrderService, files fileStore, limits config.UploadConfig, p presenter) *OrderHandler {
	return &OrderHandler{orders: orders, files: files, limits: limits, presenter: p}
}

type createOrderRequest struct {
	SheetID uint `json:"sheetId" binding:"required,min=1"`
}

// Create 为付费讲义创建待付款订单。重复下单返回 409 并附带已有订单。
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	order, err := h.orders.Create(ctx, identity(c), req.SheetID)
	if err != nil {
		if e, ok := errcode.From(err); ok {
			if existing, ok := e.Data.(*database.Order); ok {
				e.Data = gin.H{"order": h.presenter.order(ctx, existing)}
			}
		}
		RespondError(c, err)
		return
	}

	metrics.RecordOrderTransition(order.Status)
	middleware.LoggerFromContext(c).Info("order created",
		slog.Uint64("order_id", uint64(order.ID)),
		slog.Uint64("sheet_id", uint64(order.SheetID)),
	)
	c.JSON(http.StatusCreated, gin.H{
		"message": "Order created successfully",
		"order":   h.presenter.order(ctx, order),
	})
}

// UploadPayment 上传付款凭证图片，订单保持待确认状态。
func (h *OrderHandler) UploadPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	caller := identity(c)
	ctx := c.Request.Context()

	// 先确认订单属于调用者且仍待付款，避免为无效请求写入对象。
	if err := h.orders.CanAttachSlip(ctx, caller, id); err != nil {
		RespondError(c, err)
		return
	}

	fh, err := c.FormFile("paymentSlip")
	if err != nil {
		BadRequest(c, "Payment slip image is required", errcode.Detail{Field: "paymentSlip", Message: "is required"})
		return
	}
	key, err := h.files.put(ctx, fh, fileRule{
		field:    "paymentSlip",
		kind:     storage.KindPaymentSlip,
		maxBytes: h.limits.MaxImageBytes,
		accept:   "image/",
	}, caller.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}

	order, err := h.orders.AttachSlip(ctx, caller, id, key)
	if err != nil {
		h.files.discard(ctx, []string{key}, "payment slip rejected")
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Payment slip uploaded successfully",
		"order":   h.presenter.order(ctx, order),
	})
}

// My 返回调用者的订单，可按状态过滤。
func (h *OrderHandler) My(c *gin.Context) {
	page := pageFromQuery(c, myOrderPageSize)
	orders, total, err := h.orders.Mine(c.Request.Context(), identity(c), strings.ToUpper(c.Query("status")), page)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":     h.presenter.orders(c.Request.Context(), orders),
		"pagination": newPagination(page, total),
	})
}

// Purchased 返回已付款订单，最近付款的在前。
func (h *OrderHandler) Purchased(c *gin.Context) {
	orders, err := h.orders.Purchased(c.Request.Context(), identity(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": h.presenter.orders(c.Request.Context(), orders)})
}

// Cancel 取消调用者自己的待付款订单。
func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.Cancel(c.Request.Context(), identity(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	metrics.RecordOrderTransition(order.Status)
	c.JSON(http.StatusOK, gin.H{
		"message": "Order cancelled successfully",
		"order":   h.presenter.order(c.Request.Context(), order),
	})
}

// Get 返回订单详情，仅买家与管理员可见。
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.Get(c.Request.Context(), identity(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": h.presenter.order(c.Request.Context(), order)})
}
