package intake

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	contracts "eznotify/contracts/mq"
	"eznotify/internal/model"
	"eznotify/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	reqs []queue.EnqueueRequest
	id   string
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

type fakeDLQ struct {
	keys    []string
	bodies  [][]byte
	reasons []string
	err     error
}

func (f *fakeDLQ) PublishToDLQ(routingKey string, payload []byte, originalError string) error {
	f.keys = append(f.keys, routingKey)
	f.bodies = append(f.bodies, payload)
	f.reasons = append(f.reasons, originalError)
	return f.err
}

func TestHandleNotificationRequested_Enqueues(t *testing.T) {
	eq := &fakeEnqueuer{id: "job-1"}
	dlq := &fakeDLQ{}
	h := NewNotificationRequestedHandler(eq, dlq, zap.NewNop())

	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(contracts.NotificationRequestedPayload{
		Type:         "reminder",
		Recipient:    "patient@example.com",
		TenantID:     "clinic-42",
		Payload:      json.RawMessage(`{"doctor":"Dr. Wu"}`),
		Priority:     "high",
		ScheduledFor: &at,
		MaxAttempts:  5,
	})
	require.NoError(t, err)

	err = h.HandleNotificationRequested(context.Background(), raw)

	require.NoError(t, err)
	require.Len(t, eq.reqs, 1)
	got := eq.reqs[0]
	assert.Equal(t, model.JobTypeReminder, got.Type)
	assert.Equal(t, "patient@example.com", got.Recipient)
	assert.Equal(t, "clinic-42", got.TenantID)
	assert.JSONEq(t, `{"doctor":"Dr. Wu"}`, string(got.Payload))
	assert.Equal(t, model.PriorityHigh, got.Priority)
	assert.Equal(t, at, got.ScheduledFor)
	assert.Equal(t, 5, got.MaxAttempts)
	assert.Empty(t, dlq.keys)
}

func TestHandleNotificationRequested_MalformedBodyGoesToDLQ(t *testing.T) {
	eq := &fakeEnqueuer{}
	dlq := &fakeDLQ{}
	h := NewNotificationRequestedHandler(eq, dlq, zap.NewNop())

	raw := []byte(`{"type": "reminder",`)

	err := h.HandleNotificationRequested(context.Background(), raw)

	// 解析失败返回 nil，让消费者 ack，避免毒消息无限重投
	require.NoError(t, err)
	assert.Empty(t, eq.reqs)
	require.Len(t, dlq.keys, 1)
	assert.Equal(t, contracts.RoutingKeyNotificationRequested, dlq.keys[0])
	assert.Equal(t, raw, dlq.bodies[0])
	assert.NotEmpty(t, dlq.reasons[0])
}

func TestHandleNotificationRequested_ValidationFailureGoesToDLQ(t *testing.T) {
	eq := &fakeEnqueuer{err: queue.ErrEmptyRecipient}
	dlq := &fakeDLQ{}
	h := NewNotificationRequestedHandler(eq, dlq, zap.NewNop())

	raw := []byte(`{"type":"reminder","recipient":""}`)

	err := h.HandleNotificationRequested(context.Background(), raw)

	require.NoError(t, err)
	require.Len(t, dlq.keys, 1)
	assert.Contains(t, dlq.reasons[0], "recipient is empty")
}

func TestHandleNotificationRequested_TransientFailureRequeues(t *testing.T) {
	eq := &fakeEnqueuer{err: errors.New("connection refused")}
	dlq := &fakeDLQ{}
	h := NewNotificationRequestedHandler(eq, dlq, zap.NewNop())

	raw := []byte(`{"type":"reminder","recipient":"patient@example.com"}`)

	err := h.HandleNotificationRequested(context.Background(), raw)

	// 存储故障要返回错误，让消息 nack 后重回队列
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enqueue notification request")
	assert.Empty(t, dlq.keys, "transient failures must not be dead-lettered")
}

func TestHandleNotificationRequested_NoDLQConfigured(t *testing.T) {
	eq := &fakeEnqueuer{}
	h := NewNotificationRequestedHandler(eq, nil, zap.NewNop())

	err := h.HandleNotificationRequested(context.Background(), []byte(`not json`))

	require.NoError(t, err)
	assert.Empty(t, eq.reqs)
}

func TestHandleNotificationRequested_DLQPublishFailureStillAcks(t *testing.T) {
	eq := &fakeEnqueuer{}
	dlq := &fakeDLQ{err: errors.New("channel closed")}
	h := NewNotificationRequestedHandler(eq, dlq, zap.NewNop())

	err := h.HandleNotificationRequested(context.Background(), []byte(`not json`))

	require.NoError(t, err)
	require.Len(t, dlq.keys, 1)
}
