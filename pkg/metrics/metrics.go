package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 入队计数
	JobsEnqueuedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_jobs_enqueued_count",
			Help: "Total number of notification jobs enqueued",
		},
		[]string{"type"},
	)

	// 派发结果计数
	JobsProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_jobs_processed_count",
			Help: "Total number of dispatch outcomes",
		},
		[]string{"type", "outcome"}, // outcome: completed, retried, failed
	)

	// 发送延迟（秒）
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_send_duration_seconds",
			Help:    "Sender dispatch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"type", "outcome"},
	)

	// 每次 claim 的批次大小
	ClaimBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notify_claim_batch_size",
			Help:    "Number of jobs claimed per tick",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		},
	)

	// 各状态任务数量
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_queue_depth",
			Help: "Number of jobs per status",
		},
		[]string{"status"},
	)

	// 定时任务执行计数
	JanitorRunsCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_janitor_runs_count",
			Help: "Total number of janitor task runs",
		},
		[]string{"task", "outcome"}, // task: reaper, cleanup
	)

	// 慢查询计数，语句详情见日志
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_slow_queries_count",
			Help: "Total number of database queries over the slow threshold",
		},
	)
)

// IncrementJobsEnqueued 增加入队计数
func IncrementJobsEnqueued(jobType string) {
	JobsEnqueuedCount.WithLabelValues(jobType).Inc()
}

// IncrementJobsProcessed 增加派发结果计数
func IncrementJobsProcessed(jobType, outcome string) {
	JobsProcessedCount.WithLabelValues(jobType, outcome).Inc()
}

// RecordSendDuration 记录发送延迟
func RecordSendDuration(jobType, outcome string, duration time.Duration) {
	SendDuration.WithLabelValues(jobType, outcome).Observe(duration.Seconds())
}

// RecordClaimBatchSize 记录批次大小
func RecordClaimBatchSize(n int) {
	ClaimBatchSize.Observe(float64(n))
}

// SetQueueDepth 更新状态数量
func SetQueueDepth(status string, n int) {
	QueueDepth.WithLabelValues(status).Set(float64(n))
}

// IncrementJanitorRun 增加定时任务执行计数
func IncrementJanitorRun(task, outcome string) {
	JanitorRunsCount.WithLabelValues(task, outcome).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
