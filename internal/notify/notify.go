package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"studyhub/internal/database"
)

// 事件类型，与前端通知中心保持一致。
const (
	TypeSheetApproved    = "sheet_approved"
	TypeSheetRejected    = "sheet_rejected"
	TypePaymentConfirmed = "payment_confirmed"
	TypeUploaderApproved = "uploader_approved"
	TypeUploaderRevoked  = "uploader_revoked"
)

// Event 是推送给单个用户的通知消息，同时用于 WebSocket 推送和通知列表。
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher 将事件投递给用户。
type Publisher interface {
	Publish(ctx context.Context, userID uint, event Event) error
}

// Channel 返回用户专属的 Redis 频道名。
func Channel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// RedisPublisher 通过 Redis Pub/Sub 发布事件，由 WebSocket 连接订阅转发。
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher 构造基于 Redis 的发布器。
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID uint, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel(userID), err)
	}
	return nil
}

// Discard 丢弃所有事件。
type Discard struct{}

func (Discard) Publish(context.Context, uint, Event) error { return nil }

// SheetReviewed 构造讲义审核结果事件。
func SheetReviewed(sheet *database.Sheet) Event {
	ev := Event{
		CreatedAt: sheet.UpdatedAt,
		Data:      map[string]any{"sheetId": sheet.ID},
	}
	if sheet.Status == database.SheetApproved {
		ev.ID = fmt.Sprintf("sheet-approved-%d", sheet.ID)
		ev.Type = TypeSheetApproved
		ev.Title = "Sheet Approved"
		ev.Message = fmt.Sprintf("Your sheet %q has been approved", sheet.SubjectName)
		return ev
	}
	ev.ID = fmt.Sprintf("sheet-rejected-%d", sheet.ID)
	ev.Type = TypeSheetRejected
	ev.Title = "Sheet Rejected"
	ev.Message = fmt.Sprintf("Your sheet %q has been rejected", sheet.SubjectName)
	if sheet.RejectionReason != "" {
		ev.Data["reason"] = sheet.RejectionReason
	}
	return ev
}

// PaymentConfirmed 构造付款确认事件，order 需预加载 Sheet。
func PaymentConfirmed(order *database.Order) Event {
	ev := Event{
		ID:        fmt.Sprintf("order-confirmed-%d", order.ID),
		Type:      TypePaymentConfirmed,
		Title:     "Payment Confirmed",
		CreatedAt: order.UpdatedAt,
		Data:      map[string]any{"orderId": order.ID, "sheetId": order.SheetID},
	}
	name := "your sheet"
	if order.Sheet != nil {
		name = fmt.Sprintf("%q", order.Sheet.SubjectName)
	}
	ev.Message = fmt.Sprintf("Your payment for %s has been confirmed", name)
	return ev
}

// UploaderReviewed 构造上传者资格变更事件。
func UploaderReviewed(profile *database.UploaderProfile) Event {
	ev := Event{
		CreatedAt: profile.UpdatedAt,
		Data:      map[string]any{"profileId": profile.ID},
	}
	if profile.IsApproved {
		ev.ID = fmt.Sprintf("uploader-approved-%d", profile.ID)
		ev.Type = TypeUploaderApproved
		ev.Title = "Uploader Approved"
		ev.Message = "Your uploader application has been approved"
		return ev
	}
	ev.ID = fmt.Sprintf("uploader-revoked-%d", profile.ID)
	ev.Type = TypeUploaderRevoked
	ev.Title = "Uploader Access Revoked"
	ev.Message = "Your uploader access has been revoked"
	return ev
}
