package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"eznotify/internal/model"
	"eznotify/internal/queue"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Observer is the read-only queue surface the API needs.
type Observer interface {
	Stats(ctx context.Context) (queue.Stats, error)
	Job(ctx context.Context, id string) (*model.Job, error)
	ListFailed(ctx context.Context, limit int) ([]model.Job, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

type QueueHandler struct {
	observer Observer
	logger   *zap.Logger
}

func NewQueueHandler(observer Observer, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{
		observer: observer,
		logger:   logger,
	}
}

// GetStats 队列各状态计数
// GET /api/v1/queue/stats
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.observer.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to fetch queue stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch queue stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ListFailed 最近失败的任务
// GET /api/v1/queue/failed?limit=50
func (h *QueueHandler) ListFailed(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 50
	}

	jobs, err := h.observer.ListFailed(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list failed jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failed jobs"})
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  out,
		"count": len(out),
	})
}

// Cleanup 删除超过保留期的已完成任务
// POST /api/v1/queue/cleanup
func (h *QueueHandler) Cleanup(c *gin.Context) {
	var req struct {
		OlderThanDays int `json:"older_than_days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	removed, err := h.observer.Cleanup(c.Request.Context(), req.OlderThanDays)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidRetention) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to clean up jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clean up jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"removed":         removed,
		"older_than_days": req.OlderThanDays,
	})
}
