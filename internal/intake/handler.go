package intake

import (
	"context"
	"encoding/json"
	"fmt"

	contracts "eznotify/contracts/mq"
	"eznotify/internal/model"
	"eznotify/internal/queue"

	"go.uber.org/zap"
)

// Enqueuer is the slice of the queue engine the intake needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// deadLetterer parks poison messages instead of requeueing them forever.
type deadLetterer interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

type NotificationRequestedHandler struct {
	engine Enqueuer
	dlq    deadLetterer
	logger *zap.Logger
}

func NewNotificationRequestedHandler(engine Enqueuer, dlq deadLetterer, logger *zap.Logger) *NotificationRequestedHandler {
	return &NotificationRequestedHandler{
		engine: engine,
		dlq:    dlq,
		logger: logger,
	}
}

// HandleNotificationRequested -- 消费 notification.requested 并入队
// 格式错误和校验失败走死信，不再重回队列；存储故障才 nack 重试
func (h *NotificationRequestedHandler) HandleNotificationRequested(ctx context.Context, raw json.RawMessage) error {
	var p contracts.NotificationRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal notification request", zap.Error(err))
		h.deadLetter(raw, err)
		return nil
	}

	req := queue.EnqueueRequest{
		Type:        model.JobType(p.Type),
		Recipient:   p.Recipient,
		TenantID:    p.TenantID,
		Payload:     p.Payload,
		Priority:    model.Priority(p.Priority),
		MaxAttempts: p.MaxAttempts,
	}
	if p.ScheduledFor != nil {
		req.ScheduledFor = *p.ScheduledFor
	}

	id, err := h.engine.Enqueue(ctx, req)
	if err != nil {
		if queue.IsValidationError(err) {
			h.logger.Warn("Rejected invalid notification request",
				zap.String("type", p.Type),
				zap.String("recipient", p.Recipient),
				zap.Error(err),
			)
			h.deadLetter(raw, err)
			return nil
		}
		// 存储暂时不可用，交还给 MQ 重试
		return fmt.Errorf("failed to enqueue notification request: %w", err)
	}

	h.logger.Info("Notification request enqueued",
		zap.String("job_id", id),
		zap.String("type", p.Type),
	)
	return nil
}

func (h *NotificationRequestedHandler) deadLetter(raw []byte, cause error) {
	if h.dlq == nil {
		h.logger.Error("Dropping invalid notification request, no DLQ configured", zap.Error(cause))
		return
	}
	if err := h.dlq.PublishToDLQ(contracts.RoutingKeyNotificationRequested, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to dead-letter notification request",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}
