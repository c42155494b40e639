package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	extractionSystemPrompt = `You extract durable campaign facts from tabletop-style story conversations.
Return JSON: {"facts":[{"content":"...","category":"...","importance":1-10,"tags":["..."]}]}.
Categories: general, character, location, event, rule, preference, story_beat.
Only include facts worth remembering across sessions. Return {"facts":[]} when there are none.`

	summarySystemPrompt = `You condense story conversations.
Return JSON: {"summary":"...","topics":["..."],"participants":["..."]}.
The summary is a short narrative recap; topics are the key subjects discussed.`
)

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	EmbeddingModel openai.EmbeddingModel
	ChatModel      string
	EmbeddingDims  int
	Temperature    float32
}

// DefaultOpenAIConfig returns a default OpenAI provider configuration
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		EmbeddingModel: openai.SmallEmbedding3,
		ChatModel:      openai.GPT4oMini,
		EmbeddingDims:  1536,
		Temperature:    0.0,
	}
}

// OpenAIProvider implements Embedder, Extractor and Summarizer against the
// OpenAI API. One client serves all three contracts so a deployment can
// share connection state and configuration.
type OpenAIProvider struct {
	client *openai.Client
	config *OpenAIConfig
}

var (
	_ Embedder   = (*OpenAIProvider)(nil)
	_ Extractor  = (*OpenAIProvider)(nil)
	_ Summarizer = (*OpenAIProvider)(nil)
)

// NewOpenAIProvider creates a provider using an API token.
func NewOpenAIProvider(token string, config *OpenAIConfig) *OpenAIProvider {
	return NewOpenAIProviderWithClient(openai.NewClient(token), config)
}

// NewOpenAIProviderWithClient creates a provider from an existing client.
// Useful for custom base URLs (Azure, proxies) and for testing.
func NewOpenAIProviderWithClient(client *openai.Client, config *OpenAIConfig) *OpenAIProvider {
	if config == nil {
		config = DefaultOpenAIConfig()
	}
	return &OpenAIProvider{
		client: client,
		config: config,
	}
}

// Embed converts a single text to an embedding vector
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.config.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding returned no data")
	}

	return resp.Data[0].Embedding, nil
}

// Dimensions returns the embedding vector size
func (p *OpenAIProvider) Dimensions() int {
	return p.config.EmbeddingDims
}

// ExtractFacts identifies durable facts in a batch of conversation turns
func (p *OpenAIProvider) ExtractFacts(ctx context.Context, turns []Turn) ([]CandidateFact, error) {
	content, err := p.complete(ctx, extractionSystemPrompt, formatTurns(turns))
	if err != nil {
		return nil, fmt.Errorf("fact extraction failed: %w", err)
	}

	var parsed struct {
		Facts []CandidateFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	return parsed.Facts, nil
}

// Summarize condenses a batch of conversation turns
func (p *OpenAIProvider) Summarize(ctx context.Context, turns []Turn, maxMessages int) (*SummaryResult, error) {
	if maxMessages > 0 && len(turns) > maxMessages {
		turns = turns[len(turns)-maxMessages:]
	}

	content, err := p.complete(ctx, summarySystemPrompt, formatTurns(turns))
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	var result SummaryResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}

	return &result, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.config.ChatModel,
		Temperature: p.config.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// formatTurns renders turns into the plain transcript format both prompts expect.
func formatTurns(turns []Turn) string {
	var sb strings.Builder
	for _, turn := range turns {
		if turn.Participant != "" {
			sb.WriteString(fmt.Sprintf("%s (%s): %s\n", turn.Role, turn.Participant, turn.Content))
			continue
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
	}
	return sb.String()
}
