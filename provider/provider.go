package provider

import (
	"context"
	"time"
)

// Turn is a single conversation turn handed to a provider. It is a
// deliberately narrow view of the conversation log: providers never see
// sequence numbers or storage concerns.
type Turn struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Participant string    `json:"participant,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// Embedder converts text to a fixed-dimension vector.
// Implementations: OpenAIProvider (production), LangChainEmbedder (adapter),
// MockEmbedder (testing).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// CandidateFact is a memory candidate identified by the extraction provider.
// Category and importance are advisory: the caller normalizes them before
// persisting.
type CandidateFact struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Importance int      `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
}

// Extractor identifies durable facts in a batch of conversation turns.
type Extractor interface {
	ExtractFacts(ctx context.Context, turns []Turn) ([]CandidateFact, error)
}

// SummaryResult is the condensed output of a summarization call.
type SummaryResult struct {
	Summary      string   `json:"summary"`
	Topics       []string `json:"topics,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// Summarizer condenses a batch of conversation turns into a short narrative
// summary with key topics and participants.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn, maxMessages int) (*SummaryResult, error)
}
