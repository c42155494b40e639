package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// LangChainEmbedder adapts langchaingo's embeddings.Embedder to the Embedder
// interface, so any embedding backend langchaingo supports can serve the
// memory store.
type LangChainEmbedder struct {
	embedder embeddings.Embedder
	dims     int
}

var _ Embedder = (*LangChainEmbedder)(nil)

// NewLangChainEmbedder creates a new adapter for langchaingo embedders.
// dims must match the wrapped model's output dimension; pass 0 to detect it
// lazily with a test embedding on the first Dimensions call.
func NewLangChainEmbedder(embedder embeddings.Embedder, dims int) *LangChainEmbedder {
	return &LangChainEmbedder{
		embedder: embedder,
		dims:     dims,
	}
}

// Embed embeds a single text using the underlying langchaingo embedder
func (l *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	result := make([]float32, len(embedding))
	for i, val := range embedding {
		result[i] = float32(val)
	}
	return result, nil
}

// Dimensions returns the embedding dimension
func (l *LangChainEmbedder) Dimensions() int {
	if l.dims > 0 {
		return l.dims
	}

	// LangChain embedders don't typically expose dimension directly
	testEmbedding, err := l.embedder.EmbedQuery(context.Background(), "test")
	if err != nil {
		return 0
	}
	l.dims = len(testEmbedding)
	return l.dims
}

// LangChainModel adapts a langchaingo llms.Model into an Extractor and
// Summarizer, so any chat backend langchaingo supports can serve the
// extraction and summarization paths.
type LangChainModel struct {
	llm llms.Model
}

var (
	_ Extractor  = (*LangChainModel)(nil)
	_ Summarizer = (*LangChainModel)(nil)
)

// NewLangChainModel creates a new adapter for langchaingo chat models
func NewLangChainModel(llm llms.Model) *LangChainModel {
	return &LangChainModel{llm: llm}
}

// ExtractFacts identifies durable facts in a batch of conversation turns
func (l *LangChainModel) ExtractFacts(ctx context.Context, turns []Turn) ([]CandidateFact, error) {
	content, err := l.generate(ctx, extractionSystemPrompt, formatTurns(turns))
	if err != nil {
		return nil, fmt.Errorf("fact extraction failed: %w", err)
	}

	var parsed struct {
		Facts []CandidateFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	return parsed.Facts, nil
}

// Summarize condenses a batch of conversation turns
func (l *LangChainModel) Summarize(ctx context.Context, turns []Turn, maxMessages int) (*SummaryResult, error) {
	if maxMessages > 0 && len(turns) > maxMessages {
		turns = turns[len(turns)-maxMessages:]
	}

	content, err := l.generate(ctx, summarySystemPrompt, formatTurns(turns))
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	var result SummaryResult
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &result); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}

	return &result, nil
}

func (l *LangChainModel) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts("system", systemPrompt),
		llms.TextParts("human", userPrompt),
	}

	response, err := l.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("generation returned no choices")
	}

	return response.Choices[0].Content, nil
}

// stripCodeFence removes a surrounding markdown code fence. Chat models
// without a JSON response mode tend to wrap JSON output in one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
