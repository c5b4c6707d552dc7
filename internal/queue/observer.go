package queue

import (
	"context"
	"fmt"
	"time"

	"eznotify/internal/model"

	"go.uber.org/zap"
)

// Stats 各状态的任务数快照
// 多条查询间无事务一致性要求，计数仅用于观测
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// Observer 只读观测与清理入口，不参与任务状态机
type Observer struct {
	store  Store
	logger *zap.Logger
}

func NewObserver(store Store, log *zap.Logger) *Observer {
	return &Observer{store: store, logger: log}
}

// Stats 统计当前各状态的任务数
func (o *Observer) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	stats := Stats{
		Pending:    counts[model.StatusPending],
		Processing: counts[model.StatusProcessing],
		Completed:  counts[model.StatusCompleted],
		Failed:     counts[model.StatusFailed],
		Cancelled:  counts[model.StatusCancelled],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

// Job 按 ID 查询单个任务
func (o *Observer) Job(ctx context.Context, id string) (*model.Job, error) {
	return o.store.GetJob(ctx, id)
}

// ListFailed 返回最近失败的任务，按创建时间倒序
// limit 不合法时使用默认值 50
func (o *Observer) ListFailed(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	jobs, err := o.store.ListByStatus(ctx, model.StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	return jobs, nil
}

// Cleanup 删除完成时间早于保留期的 completed 任务，返回删除条数
// 只动 completed：failed 留给人工处理，cancelled 保留审计痕迹
func (o *Observer) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	deleted, err := o.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}

	if deleted > 0 {
		o.logger.Info("Cleaned up completed jobs",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
