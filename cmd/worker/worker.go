package main

import (
	"context"
	"log"

	"lesson-content-engine/internal/app"
	"lesson-content-engine/internal/config"
	"lesson-content-engine/internal/logger"
	"lesson-content-engine/internal/queue"
	"lesson-content-engine/internal/telemetry"

	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg, "lesson-content-worker")

	shutdownTracer, err := telemetry.InitTracer("lesson-content-worker", cfg.OTLPEndpoint, cfg.OTelSampleRatio)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	a, err := app.New(context.Background(), cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize services:", err)
	}
	defer a.Close()

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Failed to configure queue:", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				logger.Error("Task failed", "type", task.Type(), "retried", retried, "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(a.Indexing, a.MCQ, a.Quizzes, a.Blobs)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	logger.Info("Starting asynq worker", "concurrency", 10, "redis", cfg.RedisURL)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
