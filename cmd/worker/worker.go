package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"docqa-platform/internal/bootstrap"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
)

const serviceName = "docqa-worker"

func main() {
	app, err := bootstrap.New(context.Background(), serviceName)
	if err != nil {
		log.Fatal("Failed to start worker:", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Shutdown finished with errors", "error", err)
		}
	}()
	cfg := app.Config

	redisOpt, err := app.RedisOpt()
	if err != nil {
		log.Fatal("Failed to configure queue:", err)
	}

	processor := app.Processor()
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:    cfg.WorkerConcurrency,
			Queues:         queue.QueueWeights,
			RetryDelayFunc: app.Policies.RetryDelay,
			ErrorHandler:   asynq.ErrorHandlerFunc(processor.HandleError),
		},
	)

	mux := asynq.NewServeMux()
	processor.Register(mux)

	scheduler := queue.NewScheduler(app.Queue)
	for _, p := range queue.DefaultPeriodic(cfg.TaskRetentionDays) {
		if err := scheduler.Schedule(p); err != nil {
			log.Fatalf("Failed to schedule %s: %v", p.Tag, err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	if err := server.Start(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
	logger.Info("Worker started",
		"concurrency", cfg.WorkerConcurrency,
		"queues", queue.QueueWeights,
		"periodic_jobs", len(scheduler.Jobs()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	server.Shutdown()
	logger.Info("Worker exited")
}
