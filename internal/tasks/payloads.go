package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"studyhub/internal/logging"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeBlobCleanup = "blob:cleanup"
)

// BlobCleanupPayload 描述需要从对象存储中删除的对象。
type BlobCleanupPayload struct {
	Keys          []string `json:"keys"`
	Reason        string   `json:"reason"`
	CorrelationID string   `json:"correlation_id"`
}

// NewBlobCleanupTask 构造一个对象清理任务。
func NewBlobCleanupTask(keys []string, reason, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(BlobCleanupPayload{
		Keys:          keys,
		Reason:        reason,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBlobCleanup, payload, asynq.MaxRetry(5), asynq.Timeout(2*time.Minute)), nil
}

// Enqueuer 投递后台任务。correlationID 为空时取 ctx 中的值。
type Enqueuer interface {
	EnqueueBlobCleanup(ctx context.Context, keys []string, reason, correlationID string) error
}

// AsynqEnqueuer 基于 asynq.Client 投递任务。
type AsynqEnqueuer struct {
	client *asynq.Client
}

// NewAsynqEnqueuer 构造任务投递器。
func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) EnqueueBlobCleanup(ctx context.Context, keys []string, reason, correlationID string) error {
	if len(keys) == 0 {
		return nil
	}
	if correlationID == "" {
		correlationID = logging.CorrelationID(ctx)
	}
	task, err := NewBlobCleanupTask(keys, reason, correlationID)
	if err != nil {
		return fmt.Errorf("build cleanup task: %w", err)
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue cleanup task: %w", err)
	}
	return nil
}
