package app

import (
	"context"
	"fmt"
	"time"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/config"
	"lesson-content-engine/internal/storage"
	"lesson-content-engine/internal/telemetry"
	"lesson-content-engine/internal/vectorindex"
	"lesson-content-engine/models"
	"lesson-content-engine/services"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// App holds the connections and services shared by the API server and the worker.
type App struct {
	Config  *config.Config
	Metrics *telemetry.Metrics
	Mongo   *mongo.Client
	Redis   *redis.Client

	Documents *storage.DocumentRepository
	Images    *storage.MongoImageRepository
	Quizzes   *storage.QuizRepository
	Blobs     storage.BlobStore
	Quota     *ai.QuotaStore
	Index     *vectorindex.QdrantIndex

	Indexing      *services.IndexingService
	Retrieval     *services.RetrievalService
	Summarization *services.SummarizationService
	MCQ           *services.MCQPipeline
}

// New connects to every backing service and builds the content services.
func New(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return nil, err
	}
	a.Mongo = mongoClient
	db := mongoClient.Database(cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb

	a.Blobs, err = storage.NewBlobStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init blob store: %w", err)
	}

	a.Index, err = vectorindex.NewQdrantIndex(ctx, vectorindex.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     cfg.QdrantUseTLS,
		Collection: cfg.QdrantCollection,
		Dimensions: cfg.VectorDimensions,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init vector index: %w", err)
	}

	completer, err := ai.NewCompleter(ctx, cfg, metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init completion client: %w", err)
	}
	embedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init embedder: %w", err)
	}

	a.Documents = storage.NewDocumentRepository(db)
	a.Images = storage.NewMongoImageRepository(db)
	a.Quizzes = storage.NewQuizRepository(db)
	a.Quota = ai.NewQuotaStore(db, cfg.DailyTokenLimit)

	cache := services.NewContentCache(rdb, cfg.SummaryCacheTTL)

	a.Indexing = services.NewIndexingService(
		services.NewTextExtractor(), embedder, a.Index,
		a.Documents, a.Images, a.Blobs, cache, metrics,
		models.ChunkingConfig{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
	)
	a.Retrieval = services.NewRetrievalService(embedder, a.Index, a.Images, a.Blobs, cache, metrics, cfg.RetrievalTopK)
	a.Summarization = services.NewSummarizationService(completer, cache, metrics, services.SummaryOptions{
		MaxInputTokens: cfg.SummaryMaxInputTokens,
		CacheTTL:       cfg.SummaryCacheTTL,
	})
	a.MCQ = services.NewMCQPipeline(completer, metrics, services.MCQOptions{
		BlockSize:      cfg.MCQBlockSize,
		MaxConcurrency: cfg.MCQMaxConcurrency,
	})

	return a, nil
}

// Close releases every connection that was opened.
func (a *App) Close() {
	if a.Index != nil {
		a.Index.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Mongo.Disconnect(ctx)
	}
}
