// Package relay broadcasts terminal job states to the message bus so
// downstream services can react to delivery outcomes.
package relay

import (
	"context"
	"fmt"
	"time"

	contracts "eznotify/contracts/mq"
	"eznotify/internal/model"

	"go.uber.org/zap"
)

// eventPublisher is the slice of the MQ publisher the relay needs.
type eventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Publisher translates completed and failed jobs into bus events.
type Publisher struct {
	pub    eventPublisher
	logger *zap.Logger
}

func NewPublisher(pub eventPublisher, logger *zap.Logger) *Publisher {
	return &Publisher{pub: pub, logger: logger}
}

// JobCompleted publishes a notification.sent event.
func (p *Publisher) JobCompleted(ctx context.Context, job model.Job) error {
	sentAt := time.Now().UTC()
	if job.CompletedAt != nil {
		sentAt = *job.CompletedAt
	}

	payload := contracts.NotificationSentPayload{
		JobID:     job.ID,
		Type:      string(job.Type),
		Recipient: job.Recipient,
		TenantID:  job.TenantID,
		Attempts:  job.Attempts,
		SentAt:    sentAt,
	}

	if err := p.pub.PublishWithContext(ctx, contracts.RoutingKeyNotificationSent, payload); err != nil {
		return fmt.Errorf("failed to publish sent event: %w", err)
	}

	p.logger.Debug("Published sent event", zap.String("job_id", job.ID))
	return nil
}

// JobFailed publishes a notification.failed event.
func (p *Publisher) JobFailed(ctx context.Context, job model.Job) error {
	failedAt := time.Now().UTC()
	if job.CompletedAt != nil {
		failedAt = *job.CompletedAt
	}

	payload := contracts.NotificationFailedPayload{
		JobID:     job.ID,
		Type:      string(job.Type),
		Recipient: job.Recipient,
		TenantID:  job.TenantID,
		Attempts:  job.Attempts,
		Error:     job.LastError,
		FailedAt:  failedAt,
	}

	if err := p.pub.PublishWithContext(ctx, contracts.RoutingKeyNotificationFailed, payload); err != nil {
		return fmt.Errorf("failed to publish failed event: %w", err)
	}

	p.logger.Debug("Published failed event", zap.String("job_id", job.ID))
	return nil
}
