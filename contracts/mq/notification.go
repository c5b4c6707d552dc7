package mq

import (
	"encoding/json"
	"time"
)

// Routing keys on the notifications exchange.
const (
	RoutingKeyNotificationRequested = "notification.requested"
	RoutingKeyNotificationSent      = "notification.sent"
	RoutingKeyNotificationFailed    = "notification.failed"
)

// NotificationRequestedPayload asks the queue to deliver a notification.
// Priority, ScheduledFor and MaxAttempts are optional and fall back to
// queue defaults when omitted.
type NotificationRequestedPayload struct {
	Type         string          `json:"type"` // confirmation / reminder / cancellation / reschedule
	Recipient    string          `json:"recipient"`
	TenantID     string          `json:"tenant_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     string          `json:"priority,omitempty"` // high / normal / low
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	MaxAttempts  int             `json:"max_attempts,omitempty"`
}

// NotificationSentPayload is published after a job completes.
type NotificationSentPayload struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Recipient string    `json:"recipient"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Attempts  int       `json:"attempts"`
	SentAt    time.Time `json:"sent_at"`
}

// NotificationFailedPayload is published after a job exhausts its attempts.
type NotificationFailedPayload struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Recipient string    `json:"recipient"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}
