package ai

import (
	"context"
	"errors"
	"fmt"

	"lesson-content-engine/internal/config"

	"github.com/google/generative-ai-go/genai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"
)

// maxEmbedBatch is the largest batch sent to a provider in one request.
const maxEmbedBatch = 100

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder turns N texts into N vectors of one fixed dimension, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// NewEmbedder builds the provider selected by EMBEDDINGS_PROVIDER, wrapped in an LRU cache.
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.EmbeddingsProvider {
	case "openai", "":
		e, err = NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIEmbeddingsModel, cfg.VectorDimensions)
	case "google":
		e, err = NewGoogleEmbedder(ctx, cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel, cfg.VectorDimensions)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
	if err != nil {
		return nil, err
	}
	return WrapLRUCache(e, cfg.EmbeddingCacheSize, cfg.EmbeddingCacheTTL), nil
}

// OpenAIEmbedder uses langchaingo against an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	embedder  *embeddings.EmbedderImpl
	model     string
	dimension int
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, dimension int) (*OpenAIEmbedder, error) {
	oe := &OpenAIEmbedder{model: model, dimension: dimension}
	if apiKey == "" {
		return oe, nil
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(maxEmbedBatch))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	oe.embedder = embedder
	return oe, nil
}

func (oe *OpenAIEmbedder) ModelName() string { return oe.model }

func (oe *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if oe.embedder == nil {
		return nil, fmt.Errorf("openai embeddings: %w (set OPENAI_API_KEY)", ErrMissingAPIKey)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := otel.Tracer("embeddings").Start(ctx, "embeddings.openai")
	defer span.End()
	span.SetAttributes(attribute.Int("embeddings.count", len(texts)), attribute.String("embeddings.model", oe.model))

	vectors, err := oe.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if err := checkVectors(vectors, len(texts), oe.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// GoogleEmbedder uses the Generative Language batch embedding endpoint.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
}

func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dimension int) (*GoogleEmbedder, error) {
	ge := &GoogleEmbedder{model: model, dimension: dimension}
	if apiKey == "" {
		return ge, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	ge.client = client
	return ge, nil
}

func (ge *GoogleEmbedder) ModelName() string { return ge.model }

func (ge *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if ge.client == nil {
		return nil, fmt.Errorf("google embeddings: %w (set GEMINI_API_KEY)", ErrMissingAPIKey)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := otel.Tracer("embeddings").Start(ctx, "embeddings.google")
	defer span.End()
	span.SetAttributes(attribute.Int("embeddings.count", len(texts)), attribute.String("embeddings.model", ge.model))

	em := ge.client.EmbeddingModel(ge.model)
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("google embeddings: %w", err)
		}
		for _, e := range resp.Embeddings {
			if e == nil {
				return nil, fmt.Errorf("google embeddings: no embedding returned")
			}
			vectors = append(vectors, e.Values)
		}
	}

	if err := checkVectors(vectors, len(texts), ge.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (ge *GoogleEmbedder) Close() error {
	if ge.client != nil {
		return ge.client.Close()
	}
	return nil
}

// checkVectors enforces one vector per input and a constant dimension; an
// index built at one dimension cannot be queried at another.
func checkVectors(vectors [][]float32, want, dimension int) error {
	if len(vectors) != want {
		return fmt.Errorf("embeddings: got %d vectors for %d texts", len(vectors), want)
	}
	if dimension <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), dimension)
		}
	}
	return nil
}
