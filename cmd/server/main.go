// 单进程部署：API、派发引擎和 Janitor 跑在一起，适合单节点环境。
// 多副本部署用 cmd/api + cmd/worker 拆开。
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"eznotify/config"
	contracts "eznotify/contracts/mq"
	"eznotify/internal/api"
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
	"go.uber.org/zap"
)

func main() {
	// Load .env in local development; ignored when absent
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notify server (api + worker)...")

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

	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	locker := util.NewSingleFlight(rdb, 10*time.Minute, log)

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

		consumer, err := mq.NewConsumer(cfg.MQ.URL, "notification.requested.q", contracts.RoutingKeyNotificationRequested, log)
		if err != nil {
			log.Fatal("failed to init intake consumer", zap.Error(err))
		}
		defer consumer.Close()

		intakeHandler := intake.NewNotificationRequestedHandler(engine, publisher, log)
		consumer.SetHandler(intakeHandler.HandleNotificationRequested)
		go func() {
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

	jobsHandler := api.NewJobsHandler(engine, observer, log)
	queueHandler := api.NewQueueHandler(observer, log)
	router := api.NewRouter(jobsHandler, queueHandler, dbConn)

	// /metrics 已挂在 gin 路由上，单进程无需独立的指标端口
	srv := &http.Server{Addr: cfg.Server.Port, Handler: router.Engine}
	go func() {
		log.Info("API listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server start failed", zap.Error(err))
		}
	}()

	log.Info("Server is ready")

	<-ctx.Done()
	log.Info("Shutdown signal received")

	srvCtx, srvCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer srvCancel()
	if err := srv.Shutdown(srvCtx); err != nil {
		log.Warn("API server did not stop cleanly", zap.Error(err))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		log.Warn("Engine did not stop cleanly", zap.Error(err))
	}
	janitor.Stop()

	log.Info("Server stopped")
}
