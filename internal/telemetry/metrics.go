package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	TokensUsed          metric.Int64Counter
	StageQuestions      metric.Int64Histogram
	PipelineDuration    metric.Float64Histogram
	ChunksIndexed       metric.Int64Counter
	RetrievalDuration   metric.Float64Histogram
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("lesson-content-engine")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"completion.tokens.used",
		metric.WithDescription("Total completion tokens used"),
	)
	if err != nil {
		return nil, err
	}

	stageQuestions, err := meter.Int64Histogram(
		"mcq.stage.questions",
		metric.WithDescription("Questions surviving each quiz pipeline stage"),
	)
	if err != nil {
		return nil, err
	}

	pipelineDuration, err := meter.Float64Histogram(
		"pipeline.duration",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"index.chunks.total",
		metric.WithDescription("Chunks embedded and upserted"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"retrieval.duration",
		metric.WithDescription("Retrieval latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		TokensUsed:          tokensUsed,
		StageQuestions:      stageQuestions,
		PipelineDuration:    pipelineDuration,
		ChunksIndexed:       chunksIndexed,
		RetrievalDuration:   retrievalDuration,
		CircuitBreakerState: circuitBreakerState,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

// RecordTokensUsed records completion token usage per provider model
func (m *Metrics) RecordTokensUsed(ctx context.Context, tokens int64, model string) {
	if m == nil {
		return
	}
	m.TokensUsed.Add(ctx, tokens, metric.WithAttributes(attribute.String("model", model)))
}

// RecordStage records how many questions a quiz pipeline stage produced
func (m *Metrics) RecordStage(ctx context.Context, stage string, count int) {
	if m == nil {
		return
	}
	m.StageQuestions.Record(ctx, int64(count), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordPipeline records a summary, quiz or indexing run
func (m *Metrics) RecordPipeline(ctx context.Context, pipeline, status string, duration float64) {
	if m == nil {
		return
	}
	m.PipelineDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordChunksIndexed(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.ChunksIndexed.Add(ctx, int64(n))
}

func (m *Metrics) RecordRetrieval(ctx context.Context, duration float64, matches int) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Record(ctx, duration, metric.WithAttributes(attribute.Int("matches", matches)))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}
