package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lesson-content-engine/internal/app"
	"lesson-content-engine/internal/config"
	"lesson-content-engine/internal/logger"
	"lesson-content-engine/internal/queue"
	"lesson-content-engine/internal/scheduler"
	"lesson-content-engine/internal/telemetry"
	"lesson-content-engine/middleware"
	"lesson-content-engine/routes"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg, "lesson-content-api")

	shutdownTracer, err := telemetry.InitTracer("lesson-content-api", cfg.OTLPEndpoint, cfg.OTelSampleRatio)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize services:", err)
	}
	defer a.Close()

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Failed to configure queue:", err)
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	sched := scheduler.New()
	staleAfter := time.Duration(cfg.StaleJobMinutes) * time.Minute
	if err := sched.ScheduleStaleSweep(a.Documents, staleAfter, 5*time.Minute); err != nil {
		log.Fatal("Failed to schedule stale sweep:", err)
	}
	sched.Start()
	defer sched.Stop()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.RateLimitMiddleware(a.Redis, cfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
	if cfg.BlobStore == "local" {
		router.Static("/files", cfg.FileStorageDir)
	}

	routes.SetupContentRoutes(router, routes.Dependencies{
		Config:     cfg,
		Indexer:    a.Indexing,
		Documents:  a.Documents,
		Blobs:      a.Blobs,
		Retriever:  a.Retrieval,
		Summarizer: a.Summarization,
		Quizzes:    a.MCQ,
		QuizStore:  a.Quizzes,
		Quota:      a.Quota,
		Queue:      queue.NewEnqueuer(queueClient),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
