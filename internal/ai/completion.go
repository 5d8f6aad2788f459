package ai

import (
	"context"
	"errors"
	"fmt"

	"lesson-content-engine/internal/config"
	"lesson-content-engine/internal/telemetry"
)

var (
	// ErrMissingAPIKey is returned by the first call to a provider whose key is not configured.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrEmptyCompletion means the provider answered without any text.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrRateLimited is returned when the local token budget for the tier is spent.
	ErrRateLimited = errors.New("rate limit exceeded: wait before retry")
)

// CompletionOptions tunes a single completion request. Zero values fall back to provider defaults.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completer is a single-turn text completion service. Each call carries its full context.
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string, opts CompletionOptions) (string, error)
}

// NewCompleter builds the completion client selected by COMPLETION_PROVIDER.
func NewCompleter(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (Completer, error) {
	switch cfg.CompletionProvider {
	case "gemini", "":
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTier, metrics)
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, metrics)
	default:
		return nil, fmt.Errorf("unknown completion provider: %s", cfg.CompletionProvider)
	}
}

// estimateTokens uses the 4 characters per token rule of thumb.
func estimateTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len([]rune(t))
	}
	return (n + 3) / 4
}
