package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"eznotify/config"
	contracts "eznotify/contracts/mq"
	"eznotify/internal/intake"
	"eznotify/internal/queue"
	"eznotify/internal/relay"
	"eznotify/internal/repository"
	"eznotify/internal/sender"
	"eznotify/pkg/backoff"
	"eznotify/pkg/db"
	"eznotify/pkg/logger"
	"eznotify/pkg/metrics"
	"eznotify/pkg/mq"
	redisclient "eznotify/pkg/redis"
	"eznotify/pkg/util"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load .env in local development; ignored when absent
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notify worker...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := repository.EnsureSchema(context.Background(), dbConn); err != nil {
		log.Fatal("Schema bootstrap failed", zap.Error(err))
	}

	jobRepo := repository.NewJobRepository(dbConn)

	// Init Redis (janitor run locking across replicas)
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	locker := util.NewSingleFlight(rdb, 10*time.Minute, log)

	// Init senders
	registry, err := sender.FromConfig(cfg.Senders, log)
	if err != nil {
		log.Fatal("Sender initialization failed", zap.Error(err))
	}

	strategy, err := backoff.FromConfig(
		cfg.Queue.RetryBackoff,
		time.Duration(cfg.Queue.RetryBackoffBaseSeconds)*time.Second,
		time.Duration(cfg.Queue.RetryBackoffMaxSeconds)*time.Second,
	)
	if err != nil {
		log.Fatal("Invalid retry backoff config", zap.Error(err))
	}

	engine := queue.New(jobRepo, registry, log).
		WithInterval(time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second).
		WithBatchSize(cfg.Queue.BatchSize).
		WithConcurrency(cfg.Queue.Concurrency).
		WithSendTimeout(time.Duration(cfg.Queue.SendTimeoutSeconds) * time.Second).
		WithDefaultMaxAttempts(cfg.Queue.DefaultMaxAttempts).
		WithBackoff(strategy)

	observer := queue.NewObserver(jobRepo, log)

	// MQ intake and result relay are optional: without a broker the worker
	// still serves jobs enqueued through the API
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("MQ publisher initialization failed", zap.Error(err))
		}
		defer publisher.Close()

		if err := publisher.EnsureDLQ(contracts.RoutingKeyNotificationRequested); err != nil {
			log.Fatal("DLQ setup failed", zap.Error(err))
		}

		engine = engine.WithEventSink(relay.NewPublisher(publisher, log))

		log.Info("Initializing intake consumer", zap.String("queue", "notification.requested.q"))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, "notification.requested.q", contracts.RoutingKeyNotificationRequested, log)
		if err != nil {
			log.Fatal("failed to init intake consumer", zap.Error(err))
		}
		defer consumer.Close()

		intakeHandler := intake.NewNotificationRequestedHandler(engine, publisher, log)
		consumer.SetHandler(intakeHandler.HandleNotificationRequested)
		go func() {
			log.Info("Starting intake consumer")
			if err := consumer.StartConsuming(); err != nil {
				log.Fatal("intake consumer failed", zap.Error(err))
			}
		}()
	}

	janitor := queue.NewJanitor(jobRepo, observer, log).
		WithLocker(locker).
		WithStaleAfter(time.Duration(cfg.Janitor.StaleAfterMinutes) * time.Minute).
		WithRetentionDays(cfg.Janitor.RetentionDays).
		WithSchedules(cfg.Janitor.ReaperSchedule, cfg.Janitor.CleanupSchedule)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 工作上下文独立于信号上下文，关停通过 Stop 排空在途任务
	engine.Start(context.Background())
	if err := janitor.Start(); err != nil {
		log.Fatal("Janitor start failed", zap.Error(err))
	}

	metricsSrv := &http.Server{Addr: cfg.Server.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		log.Info("Metrics endpoint listening", zap.String("addr", cfg.Server.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// 周期刷新队列深度指标
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := observer.Stats(ctx)
				if err != nil {
					log.Warn("Failed to refresh queue depth", zap.Error(err))
					continue
				}
				metrics.SetQueueDepth("pending", stats.Pending)
				metrics.SetQueueDepth("processing", stats.Processing)
				metrics.SetQueueDepth("completed", stats.Completed)
				metrics.SetQueueDepth("failed", stats.Failed)
				metrics.SetQueueDepth("cancelled", stats.Cancelled)
			}
		}
	}()

	log.Info("Worker is ready to process jobs")

	<-ctx.Done()
	log.Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		log.Warn("Engine did not stop cleanly", zap.Error(err))
	}
	janitor.Stop()

	srvCtx, srvCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer srvCancel()
	_ = metricsSrv.Shutdown(srvCtx)

	log.Info("Worker stopped")
}
