package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lesson-content-engine/internal/telemetry"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// OpenAIClient talks to any OpenAI-compatible chat gateway.
type OpenAIClient struct {
	llm         *openai.LLM
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	metrics     *telemetry.Metrics
}

func NewOpenAIClient(apiKey, baseURL, model string, metrics *telemetry.Metrics) (*OpenAIClient, error) {
	oc := &OpenAIClient{
		model:       model,
		breaker:     newBreaker("OpenAIGateway", metrics),
		rateLimiter: newLimiter(getRateLimits("tier1")),
		metrics:     metrics,
	}
	if apiKey == "" {
		return oc, nil
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
	oc.llm = llm
	return oc, nil
}

func (oc *OpenAIClient) Complete(ctx context.Context, prompt, systemPrompt string, opts CompletionOptions) (string, error) {
	if oc.llm == nil {
		return "", fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrMissingAPIKey)
	}

	modelName := oc.model
	if opts.Model != "" {
		modelName = opts.Model
	}

	ctx, span := otel.Tracer("openai-client").Start(ctx, "openai.complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", modelName))

	if err := oc.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}

	messages := make([]llms.MessageContent, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	callOpts := []llms.CallOption{llms.WithModel(modelName)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}

	result, err := oc.breaker.Execute(func() (interface{}, error) {
		return oc.llm.GenerateContent(ctx, messages, callOpts...)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			span.SetAttributes(attribute.Bool("llm.circuit_breaker_open", true))
		}
		span.SetAttributes(attribute.Bool("llm.error", true))
		return "", fmt.Errorf("openai completion: %w", err)
	}

	resp := result.(*llms.ContentResponse)
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	if tokens, ok := choice.GenerationInfo["TotalTokens"].(int); ok {
		oc.metrics.RecordTokensUsed(ctx, int64(tokens), modelName)
		span.SetAttributes(attribute.Int("llm.total_tokens", tokens))
	}
	return choice.Content, nil
}
