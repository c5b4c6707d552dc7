package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"eznotify/internal/model"
	"eznotify/internal/sender"
	"eznotify/pkg/backoff"
	"eznotify/pkg/logger"
	"eznotify/pkg/metrics"
	"eznotify/pkg/trace"
	"eznotify/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Store 任务存储接口，所有状态变更都是原子条件更新
// 由 PostgreSQL 仓库实现，测试中由内存实现替代
type Store interface {
	Insert(ctx context.Context, job *model.Job) error
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]model.Job, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkRetry(ctx context.Context, id, reason string, nextRun time.Time) error
	MarkFailed(ctx context.Context, id, reason string, now time.Time) error
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)
	Retry(ctx context.Context, id string) (bool, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]model.Job, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RequeueStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)
}

// EventSink 接收终态事件，用于向下游广播投递结果
// 发布失败只记日志，绝不影响任务状态
type EventSink interface {
	JobCompleted(ctx context.Context, job model.Job) error
	JobFailed(ctx context.Context, job model.Job) error
}

// EnqueueRequest 入队参数
type EnqueueRequest struct {
	Type         model.JobType
	Recipient    string
	TenantID     string
	Payload      json.RawMessage
	Priority     model.Priority
	ScheduledFor time.Time
	MaxAttempts  int
}

// Engine 队列引擎，负责任务的整个生命周期：
// 入队、领取、派发、重试、完成、取消
// 显式构造、显式 Start/Stop，不持有任何包级状态
type Engine struct {
	store  Store
	sender sender.Sender
	logger *zap.Logger
	sink   EventSink

	pollInterval       time.Duration
	batchSize          int
	concurrency        int64
	sendTimeout        time.Duration
	defaultMaxAttempts int
	backoff            backoff.Strategy

	sem     *semaphore.Weighted
	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stop    sync.Once
}

// New 创建引擎，依赖显式注入
func New(store Store, s sender.Sender, log *zap.Logger) *Engine {
	e := &Engine{
		store:              store,
		sender:             s,
		logger:             log,
		pollInterval:       10 * time.Second, // 默认每10秒扫描一次
		batchSize:          50,               // 默认每次最多领取50个任务
		concurrency:        5,                // 默认最多5个并发派发
		sendTimeout:        30 * time.Second,
		defaultMaxAttempts: 3,
		backoff:            backoff.NewNone(),
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
	e.sem = semaphore.NewWeighted(e.concurrency)
	return e
}

// WithInterval 设置轮询间隔
func (e *Engine) WithInterval(interval time.Duration) *Engine {
	if interval > 0 {
		e.pollInterval = interval
	}
	return e
}

// WithBatchSize 设置每个周期领取的任务上限
func (e *Engine) WithBatchSize(n int) *Engine {
	if n > 0 {
		e.batchSize = n
	}
	return e
}

// WithConcurrency 设置单周期内的并发派发上限
func (e *Engine) WithConcurrency(n int) *Engine {
	if n > 0 {
		e.concurrency = int64(n)
		e.sem = semaphore.NewWeighted(e.concurrency)
	}
	return e
}

// WithSendTimeout 设置单次发送的超时，超时按发送失败处理
func (e *Engine) WithSendTimeout(timeout time.Duration) *Engine {
	if timeout > 0 {
		e.sendTimeout = timeout
	}
	return e
}

// WithDefaultMaxAttempts 设置入队时的默认尝试上限
func (e *Engine) WithDefaultMaxAttempts(n int) *Engine {
	if n > 0 {
		e.defaultMaxAttempts = n
	}
	return e
}

// WithBackoff 设置重试延迟策略
func (e *Engine) WithBackoff(s backoff.Strategy) *Engine {
	if s != nil {
		e.backoff = s
	}
	return e
}

// WithEventSink 设置终态事件接收器
func (e *Engine) WithEventSink(sink EventSink) *Engine {
	e.sink = sink
	return e
}

// Enqueue 校验并插入一个新任务，返回生成的任务 ID
// 收件地址是否可达不在这里校验，那是 Sender 的职责
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if !req.Type.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobType, req.Type)
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return "", ErrEmptyRecipient
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Known() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, req.Priority)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = e.defaultMaxAttempts
	}
	if maxAttempts < 0 {
		return "", ErrInvalidMaxAttempts
	}

	now := time.Now().UTC()
	scheduledFor := req.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	job := model.Job{
		ID:           uuid.New().String(),
		Type:         req.Type,
		Recipient:    req.Recipient,
		TenantID:     req.TenantID,
		Priority:     priority,
		Payload:      req.Payload,
		Status:       model.StatusPending,
		Attempts:     0,
		MaxAttempts:  maxAttempts,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
	}

	if err := e.store.Insert(ctx, &job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.IncrementJobsEnqueued(string(job.Type))
	e.logger.Info("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("priority", string(job.Priority)),
		zap.Time("scheduled_for", job.ScheduledFor),
	)

	return job.ID, nil
}

// Cancel 取消一个 pending 或 processing 的任务
// 已终态或不存在时返回 false，不算错误；取消是建议性的，
// 与正在进行的派发竞争时以后到的条件写入为准
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := e.store.Cancel(ctx, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	if ok {
		e.logger.Info("Job cancelled", zap.String("job_id", id))
	}
	return ok, nil
}

// Retry 把 failed 任务重置回 pending，清除 lastError
// attempts 保留，原有的尝试上限继续生效
func (e *Engine) Retry(ctx context.Context, id string) (bool, error) {
	ok, err := e.store.Retry(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to retry job: %w", err)
	}

	if ok {
		e.logger.Info("Job released for manual retry", zap.String("job_id", id))
	}
	return ok, nil
}

// Start 启动后台轮询循环（只生效一次）
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}

	e.logger.Info("Starting queue engine",
		zap.Duration("poll_interval", e.pollInterval),
		zap.Int("batch_size", e.batchSize),
		zap.Int64("concurrency", e.concurrency),
		zap.Duration("send_timeout", e.sendTimeout),
	)

	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Queue engine context cancelled")
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.ProcessTick(ctx)
		}
	}
}

// Stop 停止轮询并等待在途派发结束，超过 ctx 截止时间则放弃等待
// 被放弃的任务停留在 processing，由 janitor 的 reaper 重新入队
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}

	e.stop.Do(func() { close(e.stopCh) })

	select {
	case <-e.doneCh:
		e.logger.Info("Queue engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("Queue engine stop timed out, abandoning in-flight jobs to the reaper")
		return ctx.Err()
	}
}

// ProcessTick 执行一个完整的处理周期：领取一批到期任务并并发派发，
// 等整批结束后返回。循环每个 tick 调用一次，测试可以直接驱动
func (e *Engine) ProcessTick(ctx context.Context) {
	now := time.Now().UTC()

	jobs, err := e.store.ClaimBatch(ctx, e.batchSize, now)
	if err != nil {
		// 存储不可用：这个周期放弃，下个周期重试，状态不会被破坏
		e.logger.Error("Failed to claim jobs", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	metrics.RecordClaimBatchSize(len(jobs))
	e.logger.Debug("Claimed jobs", zap.Int("count", len(jobs)))

	var wg sync.WaitGroup
	for i, job := range jobs {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// 关停中：剩余已领取的任务交给 reaper
			e.logger.Warn("Dispatch interrupted, leaving claimed jobs to the reaper",
				zap.Int("undispatched", len(jobs)-i),
				zap.Error(err),
			)
			break
		}

		wg.Add(1)
		go func(j model.Job) {
			defer wg.Done()
			defer e.sem.Release(1)
			e.dispatch(ctx, j)
		}(job)
	}

	wg.Wait()
}

// dispatch 派发单个已领取的任务并写回结果状态
func (e *Engine) dispatch(ctx context.Context, job model.Job) {
	ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	log := logger.WithTrace(ctx, e.logger)

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	start := time.Now()
	err := e.send(sendCtx, job)
	cancel()
	duration := time.Since(start)

	if err != nil {
		metrics.RecordSendDuration(string(job.Type), "failure", duration)
		e.handleFailure(ctx, log, job, err)
		return
	}

	metrics.RecordSendDuration(string(job.Type), "success", duration)
	e.handleSuccess(ctx, log, job)
}

// send 调用 Sender，panic 一律按发送失败处理
func (e *Engine) send(ctx context.Context, job model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return e.sender.Send(ctx, job)
}

func (e *Engine) handleSuccess(ctx context.Context, log *zap.Logger, job model.Job) {
	now := time.Now().UTC()

	if err := e.store.MarkCompleted(ctx, job.ID, now); err != nil {
		// 写回失败：任务停留在 processing，由 reaper 兜底，至少一次语义不变
		log.Error("Failed to mark job completed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	metrics.IncrementJobsProcessed(string(job.Type), "completed")
	log.Info("Job completed",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("attempts", job.Attempts),
	)

	if e.sink != nil {
		job.Status = model.StatusCompleted
		job.CompletedAt = &now
		job.LastError = ""
		if err := e.sink.JobCompleted(ctx, job); err != nil {
			log.Warn("Failed to publish completion event",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) handleFailure(ctx context.Context, log *zap.Logger, job model.Job, sendErr error) {
	now := time.Now().UTC()
	reason := sendErr.Error()
	retryable, kind := util.ClassifySendError(sendErr)

	if job.Attempts >= job.MaxAttempts {
		if err := e.store.MarkFailed(ctx, job.ID, reason, now); err != nil {
			log.Error("Failed to mark job failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			return
		}

		metrics.IncrementJobsProcessed(string(job.Type), "failed")
		log.Error("Job failed permanently",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.Int("attempts", job.Attempts),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.String("error_kind", kind),
			zap.Error(sendErr),
		)

		if e.sink != nil {
			job.Status = model.StatusFailed
			job.CompletedAt = &now
			job.LastError = reason
			if err := e.sink.JobFailed(ctx, job); err != nil {
				log.Warn("Failed to publish failure event",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
			}
		}
		return
	}

	delay := e.backoff.NextDelay(job.Attempts)
	if err := e.store.MarkRetry(ctx, job.ID, reason, now.Add(delay)); err != nil {
		log.Error("Failed to mark job for retry",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	metrics.IncrementJobsProcessed(string(job.Type), "retried")
	log.Warn("Job dispatch failed, returned to queue",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Bool("retryable", retryable),
		zap.String("error_kind", kind),
		zap.Duration("retry_delay", delay),
		zap.Error(sendErr),
	)
}
