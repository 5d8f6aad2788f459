package ai

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"lesson-content-engine/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingAPIKeyFailsOnFirstCall(t *testing.T) {
	ctx := context.Background()

	gemini, err := NewGeminiClient(ctx, "", "", "free", nil)
	require.NoError(t, err)
	_, err = gemini.Complete(ctx, "hi", "", CompletionOptions{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	gateway, err := NewOpenAIClient("", "", "gpt-4o-mini", nil)
	require.NoError(t, err)
	_, err = gateway.Complete(ctx, "hi", "sys", CompletionOptions{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	oe, err := NewOpenAIEmbedder("", "", "text-embedding-3-small", 1536)
	require.NoError(t, err)
	_, err = oe.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	ge, err := NewGoogleEmbedder(ctx, "", "text-embedding-004", 768)
	require.NoError(t, err)
	_, err = ge.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewCompleterRejectsUnknownProvider(t *testing.T) {
	_, err := NewCompleter(context.Background(), &config.Config{CompletionProvider: "llama"}, nil)
	assert.Error(t, err)
}

type countingEmbedder struct {
	calls atomic.Int32
	seen  [][]string
	fail  bool
}

func (c *countingEmbedder) ModelName() string { return "fake-3" }

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.seen = append(c.seen, append([]string(nil), texts...))
	if c.fail {
		return nil, errors.New("upstream down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 2}
	}
	return out, nil
}

func TestLRUCacheSendsOnlyMisses(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLRUCache(next, 16, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"alpha", "be"})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := e.Embed(ctx, []string{"be", "gamma!", "alpha"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, []string{"gamma!"}, next.seen[1])
	assert.Equal(t, []float32{2, 1, 2}, second[0])
	assert.Equal(t, []float32{6, 1, 2}, second[1])
	assert.Equal(t, first[0], second[2])

	// fully cached batch makes no upstream call
	_, err = e.Embed(ctx, []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestLRUCachePropagatesErrors(t *testing.T) {
	e := WrapLRUCache(&countingEmbedder{fail: true}, 4, time.Minute)
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestLRUCacheDisabled(t *testing.T) {
	next := &countingEmbedder{}
	assert.Same(t, Embedder(next), WrapLRUCache(next, 0, time.Minute))
}

func TestCheckVectors(t *testing.T) {
	assert.NoError(t, checkVectors([][]float32{{1, 2}, {3, 4}}, 2, 2))
	assert.ErrorIs(t, checkVectors([][]float32{{1, 2}, {3}}, 2, 2), ErrDimensionMismatch)
	assert.Error(t, checkVectors([][]float32{{1, 2}}, 2, 2))
}

func TestTokenCounterLimits(t *testing.T) {
	tc := NewTokenCounter(RateLimits{RPM: 2, TPM: 100, RPD: 3})
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	tc.now = func() time.Time { return now }

	require.True(t, tc.CanConsume(40, 1))
	tc.RecordUsage(40, 1)
	require.True(t, tc.CanConsume(40, 1))
	tc.RecordUsage(40, 1)

	assert.False(t, tc.CanConsume(1, 1), "minute request budget spent")

	now = now.Add(time.Minute)
	assert.True(t, tc.CanConsume(40, 1))
	tc.RecordUsage(40, 1)

	now = now.Add(time.Minute)
	assert.False(t, tc.CanConsume(1, 1), "daily request budget spent")
	assert.False(t, tc.CanConsume(101, 0), "token budget exceeded")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 2, estimateTokens("abcd", "e"))
	assert.Equal(t, 1, estimateTokens("çğış"))
}

func TestGeminiCompletionLive(t *testing.T) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	client, err := NewGeminiClient(context.Background(), key, "", "free", nil)
	require.NoError(t, err)
	defer client.Close()

	out, err := client.Complete(context.Background(), "Reply with the single word: pong", "", CompletionOptions{MaxTokens: 16})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
