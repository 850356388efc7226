// Package ordering 实现订单与付款确认状态机：PENDING 只能流转到 PAID 或 CANCELLED。
package ordering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"studyhub/internal/access"
	"studyhub/internal/database"
	"studyhub/internal/errcode"
	"studyhub/internal/notify"
	"studyhub/internal/store"
	"studyhub/internal/tasks"
)

// OrderService 负责下单、上传付款凭证、确认付款、取消订单和下载权限判定。
type OrderService struct {
	store    store.Store
	notifier notify.Publisher
	cleanup  tasks.Enqueuer
	logger   *slog.Logger
}

// NewOrderService 创建订单服务，notifier 与 cleanup 可为 nil。
func NewOrderService(s store.Store, notifier notify.Publisher, cleanup tasks.Enqueuer, logger *slog.Logger) *OrderService {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{store: s, notifier: notifier, cleanup: cleanup, logger: logger}
}

var orderStatuses = map[string]bool{
	database.OrderPending:   true,
	database.OrderPaid:      true,
	database.OrderCancelled: true,
}

// ValidOrderStatus 判断状态过滤参数是否合法。
func ValidOrderStatus(status string) bool { return orderStatuses[status] }

func errOrderNotFound() *errcode.Error { return errcode.New(errcode.NotFound, "Order not found") }

func invalidTransition(status string) *errcode.Error {
	return errcode.Newf(errcode.Conflict, "invalid transition: order is %s", status)
}

// Create 为买家创建一笔待付款订单，金额取讲义当前价格。
// 前置条件按顺序检查，第一个失败即返回。
func (s *OrderService) Create(ctx context.Context, buyer access.Identity, sheetID uint) (*database.Order, error) {
	if err := access.RequireAuthenticated(buyer); err != nil {
		return nil, err
	}

	sheet, err := s.store.GetSheet(ctx, sheetID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sheet.Status != database.SheetApproved) {
		return nil, errcode.New(errcode.NotFound, "Sheet not found or not approved")
	}
	if err != nil {
		return nil, fmt.Errorf("load sheet %d: %w", sheetID, err)
	}
	if sheet.Price <= 0 {
		return nil, errcode.New(errcode.ValidationFailed, "This sheet is free, no order needed")
	}
	if sheet.UploaderID == buyer.UserID {
		return nil, errcode.New(errcode.ValidationFailed, "You cannot purchase your own sheet")
	}

	if existing, err := s.store.FindOrder(ctx, buyer.UserID, sheetID); err == nil {
		return nil, alreadyOrdered(existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find order: %w", err)
	}

	order := &database.Order{UserID: buyer.UserID, SheetID: sheetID, Amount: sheet.Price}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// 并发下单由唯一索引兜底，返回胜出的那一笔
			existing, findErr := s.store.FindOrder(ctx, buyer.UserID, sheetID)
			if findErr != nil {
				return nil, fmt.Errorf("load existing order: %w", findErr)
			}
			return nil, alreadyOrdered(existing)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	return s.store.GetOrder(ctx, order.ID)
}

func alreadyOrdered(existing *database.Order) *errcode.Error {
	return errcode.New(errcode.Conflict, "You have already ordered this sheet").WithData(existing)
}

// slipTarget 加载可以接收付款凭证的订单：调用者必须是买家且订单仍为 PENDING。
func (s *OrderService) slipTarget(ctx context.Context, caller access.Identity, orderID uint) (*database.Order, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errOrderNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if !caller.Owns(order.UserID) {
		return nil, errcode.New(errcode.Forbidden, "You can only upload payment slips for your own orders")
	}
	if order.Status != database.OrderPending {
		return nil, errcode.New(errcode.Conflict, "Payment slip can only be uploaded for pending orders")
	}
	return order, nil
}

// CanAttachSlip 在写入对象存储之前做只读预检，最终以 AttachSlip 的条件更新为准。
func (s *OrderService) CanAttachSlip(ctx context.Context, caller access.Identity, orderID uint) error {
	_, err := s.slipTarget(ctx, caller, orderID)
	return err
}

// AttachSlip 记录付款凭证，不改变订单状态。被替换的旧凭证交给后台清理。
func (s *OrderService) AttachSlip(ctx context.Context, caller access.Identity, orderID uint, slipKey string) (*database.Order, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	if slipKey == "" {
		return nil, errcode.New(errcode.ValidationFailed, "Payment slip is required")
	}
	order, err := s.slipTarget(ctx, caller, orderID)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.AttachPaymentSlip(ctx, orderID, caller.UserID, slipKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, errOrderNotFound()
	case errors.Is(err, store.ErrStaleState):
		return nil, errcode.New(errcode.Conflict, "Payment slip can only be uploaded for pending orders")
	case err != nil:
		return nil, fmt.Errorf("attach payment slip: %w", err)
	}

	if order.PaymentSlipKey != "" && order.PaymentSlipKey != slipKey {
		s.enqueueCleanup(ctx, []string{order.PaymentSlipKey}, "payment slip replaced")
	}
	return updated, nil
}

// Confirm 由管理员确认付款，是授予下载权限的唯一入口。
// 状态检查与写入是同一条条件更新，并发确认只有一个成功。
func (s *OrderService) Confirm(ctx context.Context, admin access.Identity, orderID uint) (*database.Order, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, err
	}

	updated, err := s.store.TransitionOrder(ctx, orderID, database.OrderPending, database.OrderPaid, true)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errOrderNotFound()
	}
	if errors.Is(err, store.ErrStaleState) {
		current, getErr := s.store.GetOrder(ctx, orderID)
		if getErr != nil {
			return nil, fmt.Errorf("reload order %d: %w", orderID, getErr)
		}
		if current.Status != database.OrderPending {
			return nil, invalidTransition(current.Status)
		}
		return nil, errcode.New(errcode.Conflict, "cannot confirm payment without a payment slip")
	}
	if err != nil {
		return nil, fmt.Errorf("confirm order %d: %w", orderID, err)
	}

	if err := s.notifier.Publish(ctx, updated.UserID, notify.PaymentConfirmed(updated)); err != nil {
		s.logger.Warn("publish payment confirmation failed", slog.Uint64("order_id", uint64(orderID)), slog.Any("error", err))
	}
	return updated, nil
}

// Cancel 由买家取消仍在待付款的订单。
func (s *OrderService) Cancel(ctx context.Context, caller access.Identity, orderID uint) (*database.Order, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errOrderNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if !caller.Owns(order.UserID) {
		return nil, errcode.New(errcode.Forbidden, "You can only cancel your own orders")
	}
	if order.Status != database.OrderPending {
		return nil, errcode.New(errcode.Conflict, "Only pending orders can be cancelled")
	}

	updated, err := s.store.TransitionOrder(ctx, orderID, database.OrderPending, database.OrderCancelled, false)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, errOrderNotFound()
	case errors.Is(err, store.ErrStaleState):
		return nil, errcode.New(errcode.Conflict, "Only pending orders can be cancelled")
	case err != nil:
		return nil, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return updated, nil
}

// HasPaid 判断用户是否有该讲义的已付款订单。
func (s *OrderService) HasPaid(ctx context.Context, userID, sheetID uint) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	order, err := s.store.FindOrder(ctx, userID, sheetID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find order: %w", err)
	}
	return order.Status == database.OrderPaid, nil
}

// CanDownload 是下载与暴露 PDF 地址前的唯一判定：
// 免费讲义、讲义上传者本人，或持有已付款订单。
func (s *OrderService) CanDownload(ctx context.Context, userID uint, sheet *database.Sheet) (bool, error) {
	if sheet.Price == 0 {
		return true, nil
	}
	if userID != 0 && userID == sheet.UploaderID {
		return true, nil
	}
	return s.HasPaid(ctx, userID, sheet.ID)
}

// Get 返回订单详情，仅买家本人或管理员可见。
func (s *OrderService) Get(ctx context.Context, caller access.Identity, orderID uint) (*database.Order, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errOrderNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if !caller.Owns(order.UserID) && !caller.IsAdmin() {
		return nil, errcode.New(errcode.Forbidden, "Access denied")
	}
	return order, nil
}

// Mine 列出调用者自己的订单，可按状态过滤。
func (s *OrderService) Mine(ctx context.Context, caller access.Identity, status string, page store.Page) ([]database.Order, int64, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, 0, err
	}
	q := store.OrderQuery{UserID: caller.UserID, Page: page}
	if err := applyStatus(&q, status); err != nil {
		return nil, 0, err
	}
	return s.store.ListOrders(ctx, q)
}

// Purchased 列出已付款订单，最近付款的在前。
func (s *OrderService) Purchased(ctx context.Context, caller access.Identity) ([]database.Order, error) {
	if err := access.RequireAuthenticated(caller); err != nil {
		return nil, err
	}
	orders, _, err := s.store.ListOrders(ctx, store.OrderQuery{
		UserID:   caller.UserID,
		Statuses: []string{database.OrderPaid},
		Sort:     store.OrderSortPaidFirst,
	})
	return orders, err
}

// AdminList 供管理员查看全部订单。
func (s *OrderService) AdminList(ctx context.Context, admin access.Identity, status string, page store.Page) ([]database.Order, int64, error) {
	if err := access.RequireAdmin(admin); err != nil {
		return nil, 0, err
	}
	q := store.OrderQuery{Page: page}
	if err := applyStatus(&q, status); err != nil {
		return nil, 0, err
	}
	return s.store.ListOrders(ctx, q)
}

func applyStatus(q *store.OrderQuery, status string) error {
	if status == "" {
		return nil
	}
	if !ValidOrderStatus(status) {
		return errcode.New(errcode.ValidationFailed, "Invalid order status").
			WithDetails(errcode.Detail{Field: "status", Message: "must be PENDING, PAID or CANCELLED"})
	}
	q.Statuses = []string{status}
	return nil
}

func (s *OrderService) enqueueCleanup(ctx context.Context, keys []string, reason string) {
	if s.cleanup == nil {
		return
	}
	if err := s.cleanup.EnqueueBlobCleanup(ctx, keys, reason, ""); err != nil {
		s.logger.Warn("enqueue blob cleanup failed", slog.String("reason", reason), slog.Any("error", err))
	}
}
