package provider

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	embedder := NewMockEmbedder(64)

	a, err := embedder.Embed(ctx, "the dragon sleeps")
	require.NoError(t, err)
	b, err := embedder.Embed(ctx, "the dragon sleeps")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestMockEmbedder_DifferentTextsDiffer(t *testing.T) {
	ctx := context.Background()
	embedder := NewMockEmbedder(64)

	a, err := embedder.Embed(ctx, "a quiet village")
	require.NoError(t, err)
	b, err := embedder.Embed(ctx, "a burning citadel")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestMockEmbedder_UnitVector(t *testing.T) {
	ctx := context.Background()
	embedder := NewMockEmbedder(128)

	vec, err := embedder.Embed(ctx, "anything")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockEmbedder_DefaultDimensions(t *testing.T) {
	embedder := NewMockEmbedder(0)
	assert.Equal(t, 384, embedder.Dimensions())
}

func TestMockExtractor_Heuristic(t *testing.T) {
	extractor := &MockExtractor{}

	facts, err := extractor.ExtractFacts(context.Background(), []Turn{
		{Role: "user", Content: "The wizard Aldren lives in the high tower"},
		{Role: "assistant", Content: "Noted, the tower looms over the valley"},
		{Role: "user", Content: "ok"},
	})

	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "The wizard Aldren lives in the high tower", facts[0].Content)
	assert.Equal(t, "general", facts[0].Category)
}

func TestMockExtractor_Scripted(t *testing.T) {
	scripted := []CandidateFact{{Content: "fact", Category: "rule", Importance: 7}}
	extractor := &MockExtractor{Facts: scripted}

	facts, err := extractor.ExtractFacts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, scripted, facts)
}

func TestMockSummarizer_TruncatesToMostRecent(t *testing.T) {
	summarizer := &MockSummarizer{}

	result, err := summarizer.Summarize(context.Background(), []Turn{
		{Role: "user", Content: "first", Participant: "p1"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third", Participant: "p2"},
	}, 2)

	require.NoError(t, err)
	assert.Equal(t, "second / third", result.Summary)
	assert.Equal(t, []string{"p2"}, result.Participants)
}

func TestMockSummarizer_Error(t *testing.T) {
	summarizer := &MockSummarizer{Err: errors.New("down")}

	_, err := summarizer.Summarize(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
