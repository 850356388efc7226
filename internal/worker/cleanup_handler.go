package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"studyhub/internal/tasks"
)

// ObjectRemover 是清理任务依赖的对象存储能力。
type ObjectRemover interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

// CleanupTaskHandler 删除已下架讲义遗留的 PDF 与预览图。
type CleanupTaskHandler struct {
	storage ObjectRemover
	logger  *slog.Logger
}

// NewCleanupTaskHandler 构造清理任务处理器。
func NewCleanupTaskHandler(storage ObjectRemover, logger *slog.Logger) *CleanupTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupTaskHandler{storage: storage, logger: logger}
}

// ProcessTask 实现 asynq.Handler。单个对象失败时整体返回错误，由 asynq 重试；
// DeleteObject 对不存在的对象是幂等的，重试安全。
func (h *CleanupTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.BlobCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("reason", payload.Reason),
		slog.Int("keys", len(payload.Keys)),
	)

	var errs []error
	for _, key := range payload.Keys {
		if err := h.storage.DeleteObject(ctx, key); err != nil {
			log.Error("delete object failed", slog.String("object_key", key), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	log.Info("blob cleanup completed")
	return nil
}
