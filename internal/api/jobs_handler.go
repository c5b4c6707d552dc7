package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"eznotify/internal/model"
	"eznotify/internal/queue"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Producer is the slice of the queue engine the API needs.
type Producer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Retry(ctx context.Context, id string) (bool, error)
}

type JobsHandler struct {
	producer Producer
	observer Observer
	logger   *zap.Logger
}

func NewJobsHandler(producer Producer, observer Observer, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		producer: producer,
		observer: observer,
		logger:   logger,
	}
}

type enqueueRequest struct {
	Type         string          `json:"type"`
	Recipient    string          `json:"recipient"`
	TenantID     string          `json:"tenant_id"`
	Payload      json.RawMessage `json:"payload"`
	Priority     string          `json:"priority"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
	MaxAttempts  int             `json:"max_attempts"`
}

type jobResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Recipient    string          `json:"recipient"`
	TenantID     string          `json:"tenant_id,omitempty"`
	Priority     string          `json:"priority"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func toJobResponse(j model.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		Type:         string(j.Type),
		Recipient:    j.Recipient,
		TenantID:     j.TenantID,
		Priority:     string(j.Priority),
		Status:       string(j.Status),
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		Payload:      j.Payload,
		ScheduledFor: j.ScheduledFor,
		LastError:    j.LastError,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// EnqueueJob 入队一条通知任务
// POST /api/v1/jobs
func (h *JobsHandler) EnqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	enq := queue.EnqueueRequest{
		Type:        model.JobType(req.Type),
		Recipient:   req.Recipient,
		TenantID:    req.TenantID,
		Payload:     req.Payload,
		Priority:    model.Priority(req.Priority),
		MaxAttempts: req.MaxAttempts,
	}
	if req.ScheduledFor != nil {
		enq.ScheduledFor = *req.ScheduledFor
	}

	id, err := h.producer.Enqueue(c.Request.Context(), enq)
	if err != nil {
		if queue.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to enqueue job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":     id,
		"status": "queued",
	})
}

// GetJob 查询单个任务
// GET /api/v1/jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	id := c.Param("id")

	job, err := h.observer.Job(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("Failed to fetch job", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch job"})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(*job))
}

// CancelJob 取消任务
// POST /api/v1/jobs/:id/cancel
func (h *JobsHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")

	cancelled, err := h.producer.Cancel(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to cancel job", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        id,
		"cancelled": cancelled,
	})
}

// RetryJob 人工重放失败任务
// POST /api/v1/jobs/:id/retry
func (h *JobsHandler) RetryJob(c *gin.Context) {
	id := c.Param("id")

	retried, err := h.producer.Retry(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to retry job", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"retried": retried,
	})
}
