package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI        string
	DBName          string
	Port            string
	GinMode         string
	CORSOrigins     []string
	MaxFileSize     int64
	AllowedTypes    []string
	RateLimitReqs   int
	RateLimitWindow int
	FileStorageDir  string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Chunking / retrieval
	ChunkSize     int
	ChunkOverlap  int
	RetrievalTopK int

	// Completion providers
	CompletionProvider string // "gemini" (default), "openai"
	GeminiAPIKey       string
	GeminiModel        string
	GeminiTier         string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string

	// Embeddings configuration
	EmbeddingsProvider    string // "openai" (default), "google"
	OpenAIEmbeddingsModel string
	GoogleEmbeddingsModel string
	VectorDimensions      int
	EmbeddingCacheSize    int
	EmbeddingCacheTTL     time.Duration

	// Qdrant
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantUseTLS     bool
	QdrantCollection string

	// Image blobs
	BlobStore      string // "local" (default), "s3"
	PublicBaseURL  string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3PublicURL    string
	S3UsePathStyle bool

	// Quiz / summary pipelines
	MCQMaxConcurrency     int
	MCQBlockSize          int
	SummaryMaxInputTokens int
	SummaryCacheTTL       time.Duration
	DailyTokenLimit       int

	// Telemetry
	OTLPEndpoint    string
	OTelSampleRatio float64

	// Maintenance
	StaleJobMinutes int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017/lesson_content"),
		DBName:          getEnv("DB_NAME", "lesson_content"),
		Port:            getEnv("PORT", "8080"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		CORSOrigins:     strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize:     getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		AllowedTypes:    strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain,text/markdown,text/html,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"), ","),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
		FileStorageDir:  getEnv("FILE_STORAGE_DIR", "./storage"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ChunkSize:     getEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 200),
		RetrievalTopK: getEnvInt("RETRIEVAL_TOP_K", 8),

		CompletionProvider: getEnv("COMPLETION_PROVIDER", "gemini"),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:         getEnv("GEMINI_TIER", "free"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "openai"),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions:      getEnvInt("VECTOR_DIM", 1536),
		EmbeddingCacheSize:    getEnvInt("EMBEDDING_CACHE_SIZE", 2048),
		EmbeddingCacheTTL:     getEnvDuration("EMBEDDING_CACHE_TTL", 30*time.Minute),

		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantUseTLS:     getEnvBool("QDRANT_USE_TLS", false),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "lesson_chunks"),

		BlobStore:      getEnv("BLOB_STORE", "local"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080/files"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3PublicURL:    getEnv("S3_PUBLIC_URL", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", true),

		MCQMaxConcurrency:     getEnvInt("MCQ_MAX_CONCURRENCY", 6),
		MCQBlockSize:          getEnvInt("MCQ_BLOCK_SIZE", 5),
		SummaryMaxInputTokens: getEnvInt("SUMMARY_MAX_INPUT_TOKENS", 12000),
		SummaryCacheTTL:       getEnvDuration("SUMMARY_CACHE_TTL", 24*time.Hour),
		DailyTokenLimit:       getEnvInt("DAILY_TOKEN_LIMIT", 500000),

		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),

		StaleJobMinutes: getEnvInt("STALE_JOB_MINUTES", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural settings only. Provider API keys are checked
// lazily by the ai package so a missing key fails the first call, not startup.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("VECTOR_DIM must be positive, got %d", c.VectorDimensions)
	}
	if c.MCQMaxConcurrency <= 0 {
		return fmt.Errorf("MCQ_MAX_CONCURRENCY must be positive, got %d", c.MCQMaxConcurrency)
	}
	if c.MCQBlockSize <= 0 {
		return fmt.Errorf("MCQ_BLOCK_SIZE must be positive, got %d", c.MCQBlockSize)
	}
	switch c.CompletionProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown COMPLETION_PROVIDER: %s", c.CompletionProvider)
	}
	switch c.EmbeddingsProvider {
	case "openai", "google":
	default:
		return fmt.Errorf("unknown EMBEDDINGS_PROVIDER: %s", c.EmbeddingsProvider)
	}
	switch c.BlobStore {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_STORE=s3")
		}
	default:
		return fmt.Errorf("unknown BLOB_STORE: %s", c.BlobStore)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "24h") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
