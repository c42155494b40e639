package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockEmbedder is a deterministic embedder for tests and local development.
// It generates embeddings from a text hash, so the same text always maps to
// the same unit vector and similar deployments stay reproducible.
type MockEmbedder struct {
	dims int
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &MockEmbedder{dims: dims}
}

// Embed creates a deterministic embedding from the text hash.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dims)
	for i := 0; i < m.dims; i++ {
		// Linear congruential step keeps the sequence deterministic per seed
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dims
}

// normalize converts an embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}

// MockExtractor returns scripted facts, or derives one fact per substantive
// user turn when no script is set. Useful for assembler tests.
type MockExtractor struct {
	// Facts, when non-nil, is returned verbatim by every call.
	Facts []CandidateFact
	// Err, when set, fails every call.
	Err error
}

var _ Extractor = (*MockExtractor)(nil)

// ExtractFacts implements Extractor
func (m *MockExtractor) ExtractFacts(ctx context.Context, turns []Turn) ([]CandidateFact, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Facts != nil {
		return m.Facts, nil
	}

	var facts []CandidateFact
	for _, turn := range turns {
		if turn.Role != "user" || len(strings.TrimSpace(turn.Content)) < 12 {
			continue
		}
		facts = append(facts, CandidateFact{
			Content:    turn.Content,
			Category:   "general",
			Importance: 5,
		})
	}
	return facts, nil
}

// MockSummarizer produces a deterministic summary from the turns themselves.
type MockSummarizer struct {
	// Err, when set, fails every call.
	Err error
}

var _ Summarizer = (*MockSummarizer)(nil)

// Summarize implements Summarizer
func (m *MockSummarizer) Summarize(ctx context.Context, turns []Turn, maxMessages int) (*SummaryResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	if maxMessages > 0 && len(turns) > maxMessages {
		turns = turns[len(turns)-maxMessages:]
	}

	participants := make([]string, 0)
	seen := make(map[string]bool)
	var contents []string
	for _, turn := range turns {
		contents = append(contents, turn.Content)
		if turn.Participant != "" && !seen[turn.Participant] {
			seen[turn.Participant] = true
			participants = append(participants, turn.Participant)
		}
	}

	return &SummaryResult{
		Summary:      strings.Join(contents, " / "),
		Topics:       []string{"conversation"},
		Participants: participants,
	}, nil
}
