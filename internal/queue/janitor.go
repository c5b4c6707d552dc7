package queue

import (
	"context"
	"fmt"
	"time"

	"eznotify/pkg/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Locker 保证同一个维护任务在多实例部署中只跑一次
// 为 nil 时所有实例都执行，维护任务本身幂等，重复执行无害
type Locker interface {
	AcquireOnce(ctx context.Context, task, slot string) bool
}

// Janitor 定时维护任务：
// reaper 把卡在 processing 的过期任务放回队列，
// cleanup 按保留期删除已完成任务
type Janitor struct {
	store    Store
	observer *Observer
	locker   Locker
	logger   *zap.Logger

	cron          *cron.Cron
	staleAfter    time.Duration
	retentionDays int
	reaperSpec    string
	cleanupSpec   string
}

func NewJanitor(store Store, observer *Observer, log *zap.Logger) *Janitor {
	return &Janitor{
		store:         store,
		observer:      observer,
		logger:        log,
		staleAfter:    15 * time.Minute,
		retentionDays: 30,
		reaperSpec:    "*/5 * * * *", // 每5分钟
		cleanupSpec:   "0 3 * * *",   // 每天凌晨3点
	}
}

// WithLocker 设置跨实例互斥锁
func (j *Janitor) WithLocker(locker Locker) *Janitor {
	j.locker = locker
	return j
}

// WithStaleAfter 设置 processing 任务被判定为失联的时长
// 必须明显大于发送超时，否则会和在途派发打架
func (j *Janitor) WithStaleAfter(d time.Duration) *Janitor {
	if d > 0 {
		j.staleAfter = d
	}
	return j
}

// WithRetentionDays 设置 completed 任务的保留天数
func (j *Janitor) WithRetentionDays(days int) *Janitor {
	if days > 0 {
		j.retentionDays = days
	}
	return j
}

// WithSchedules 覆盖默认的 cron 表达式
func (j *Janitor) WithSchedules(reaperSpec, cleanupSpec string) *Janitor {
	if reaperSpec != "" {
		j.reaperSpec = reaperSpec
	}
	if cleanupSpec != "" {
		j.cleanupSpec = cleanupSpec
	}
	return j
}

// Start 注册并启动定时任务
func (j *Janitor) Start() error {
	j.cron = cron.New()

	if _, err := j.cron.AddFunc(j.reaperSpec, func() {
		j.RunReaper(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}

	if _, err := j.cron.AddFunc(j.cleanupSpec, func() {
		j.RunCleanup(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	j.cron.Start()
	j.logger.Info("Janitor started",
		zap.String("reaper_schedule", j.reaperSpec),
		zap.String("cleanup_schedule", j.cleanupSpec),
		zap.Duration("stale_after", j.staleAfter),
		zap.Int("retention_days", j.retentionDays),
	)
	return nil
}

// Stop 停止调度并等待正在执行的维护任务结束
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.logger.Info("Janitor stopped")
}

// RunReaper 把领取后超过 staleAfter 仍未写回的任务放回 pending
// attempts 不回退：失联前的那次派发可能已经送达，
// 重新入队只是恢复可见性，消耗的次数照算
func (j *Janitor) RunReaper(ctx context.Context) {
	if !j.acquire(ctx, "reaper") {
		metrics.IncrementJanitorRun("reaper", "skipped")
		return
	}

	requeued, err := j.store.RequeueStale(ctx, j.staleAfter, time.Now().UTC())
	if err != nil {
		metrics.IncrementJanitorRun("reaper", "error")
		j.logger.Error("Failed to requeue stale jobs", zap.Error(err))
		return
	}

	metrics.IncrementJanitorRun("reaper", "success")
	if requeued > 0 {
		j.logger.Warn("Requeued stale processing jobs",
			zap.Int64("requeued", requeued),
			zap.Duration("stale_after", j.staleAfter),
		)
	}
}

// RunCleanup 按保留期删除已完成任务
func (j *Janitor) RunCleanup(ctx context.Context) {
	if !j.acquire(ctx, "cleanup") {
		metrics.IncrementJanitorRun("cleanup", "skipped")
		return
	}

	deleted, err := j.observer.Cleanup(ctx, j.retentionDays)
	if err != nil {
		metrics.IncrementJanitorRun("cleanup", "error")
		j.logger.Error("Scheduled cleanup failed", zap.Error(err))
		return
	}

	metrics.IncrementJanitorRun("cleanup", "success")
	j.logger.Info("Scheduled cleanup finished", zap.Int64("deleted", deleted))
}

// acquire 以当前时间片为粒度抢锁，同一时间片内只有一个实例执行
func (j *Janitor) acquire(ctx context.Context, task string) bool {
	if j.locker == nil {
		return true
	}
	slot := time.Now().UTC().Format("200601021504")
	return j.locker.AcquireOnce(ctx, task, slot)
}
