package main

import (
	"context"

	"eznotify/config"
	"eznotify/internal/api"
	"eznotify/internal/queue"
	"eznotify/internal/repository"
	"eznotify/pkg/db"
	"eznotify/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env in local development; ignored when absent
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

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

	// The API process only produces and inspects jobs; the engine here is
	// never started, dispatch belongs to the worker, so no sender is wired
	engine := queue.New(jobRepo, nil, log)
	observer := queue.NewObserver(jobRepo, log)

	// Init Handlers
	jobsHandler := api.NewJobsHandler(engine, observer, log)
	queueHandler := api.NewQueueHandler(observer, log)

	// Router
	router := api.NewRouter(jobsHandler, queueHandler, dbConn)

	// Start API server
	log.Info("Starting notify API", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}
}
