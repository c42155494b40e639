package assembler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/assembler"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/log"
	"github.com/talecraft/lorebook/memory"
	"github.com/talecraft/lorebook/memory/index"
	"github.com/talecraft/lorebook/provider"
	"github.com/talecraft/lorebook/storage/memstore"
)

func fastRetry() *provider.RetryConfig {
	return &provider.RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	}
}

// flakyEmbedder embeds normally until brought down, then fails every call.
type flakyEmbedder struct {
	inner *provider.MockEmbedder
	down  bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.down {
		return nil, errors.New("embedding service unreachable")
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) Dimensions() int {
	return f.inner.Dimensions()
}

type fixture struct {
	assembler *assembler.Assembler
	memories  *memory.Store
	manager   *conversation.Manager
	extractor *provider.MockExtractor
	embedder  *flakyEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := &log.NoOpLogger{}
	embedder := &flakyEmbedder{inner: provider.NewMockEmbedder(64)}
	memories := memory.NewStore(
		memstore.NewMemoryRepository(), index.New(), embedder,
		&memory.Config{Retry: fastRetry(), Logger: logger},
	)
	manager := conversation.NewManager(
		memstore.NewMessageRepository(),
		&conversation.Config{Retry: fastRetry(), Logger: logger},
	)
	extractor := &provider.MockExtractor{}

	return &fixture{
		assembler: assembler.New(memories, manager, extractor, &assembler.Config{
			Retry:       fastRetry(),
			ExcerptSize: 3,
			Logger:      logger,
		}),
		memories:  memories,
		manager:   manager,
		extractor: extractor,
		embedder:  embedder,
	}
}

func userTurn(content string) provider.Turn {
	return provider.Turn{Role: "user", Content: content, Timestamp: time.Now().UTC()}
}

func TestAssembler_ProcessConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.extractor.Facts = []provider.CandidateFact{
		{Content: "Elara is the party's ranger", Category: "character", Importance: 8, Tags: []string{"party"}},
		{Content: "The keep lies north of Dunmore", Category: "location", Importance: 6},
	}

	result, err := f.assembler.ProcessConversation(ctx, "campaign-1", "player-1", []provider.Turn{
		userTurn("Elara scouts ahead toward the keep"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Failed)

	entries, err := f.memories.List(ctx, "campaign-1", memory.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAssembler_ProcessConversationNormalizesCandidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.extractor.Facts = []provider.CandidateFact{
		{Content: "Something with a made-up category", Category: "weather", Importance: 5},
		{Content: "Importance out of range", Category: "event", Importance: 99},
		{Content: "Importance unset", Category: "event"},
		{Content: "   "}, // blank content is skipped entirely
	}

	result, err := f.assembler.ProcessConversation(ctx, "campaign-1", "", []provider.Turn{
		userTurn("a long enough user turn"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
	assert.Zero(t, result.Failed)

	entries, err := f.memories.List(ctx, "campaign-1", memory.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byContent := make(map[string]*memory.Entry)
	for _, entry := range entries {
		byContent[entry.Content] = entry
	}
	assert.Equal(t, memory.CategoryGeneral, byContent["Something with a made-up category"].Category)
	assert.Equal(t, memory.MaxImportance, byContent["Importance out of range"].Importance)
	assert.Equal(t, 5, byContent["Importance unset"].Importance)
}

func TestAssembler_ProcessConversationExtractorDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.extractor.Err = errors.New("extraction service down")

	_, err := f.assembler.ProcessConversation(context.Background(), "campaign-1", "", []provider.Turn{
		userTurn("a long enough user turn"),
	})
	var derr *lorebook.DependencyError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "extractor", derr.Provider)
}

func TestAssembler_ProcessConversationEmptyBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	result, err := f.assembler.ProcessConversation(context.Background(), "campaign-1", "", nil)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Zero(t, result.Failed)
}

func TestAssembler_ProcessConversationValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.assembler.ProcessConversation(context.Background(), " ", "", nil)
	var verr *lorebook.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "session_id", verr.Field)
}

func TestAssembler_MemoryContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, seed := range []struct {
		content    string
		importance int
	}{
		{"The dragon guards the mountain pass", 9},
		{"The innkeeper owes the party a favor", 4},
	} {
		_, err := f.memories.Create(ctx, memory.CreateInput{
			SessionID:  "campaign-1",
			Content:    seed.content,
			Category:   memory.CategoryGeneral,
			Importance: seed.importance,
		})
		require.NoError(t, err)
	}

	_, err := f.manager.AddMessages(ctx, "campaign-1", []conversation.IncomingMessage{
		{Role: conversation.RoleUser, Content: "We approach the pass"},
		{Role: conversation.RoleAssistant, Content: "The wind howls"},
	})
	require.NoError(t, err)

	t.Run("by importance", func(t *testing.T) {
		payload, err := f.assembler.MemoryContext(ctx, assembler.ContextOptions{SessionID: "campaign-1"})
		require.NoError(t, err)

		require.Len(t, payload.Memories, 2)
		assert.Equal(t, 9, payload.Memories[0].Entry.Importance)
		assert.Len(t, payload.Excerpt, 2)

		assert.Contains(t, payload.Prompt, "=== CAMPAIGN MEMORY ===")
		assert.Contains(t, payload.Prompt, "=== RECENT CONVERSATION ===")
		assert.Contains(t, payload.Prompt, "The dragon guards the mountain pass")
		assert.Contains(t, payload.Prompt, "user: We approach the pass")
	})

	t.Run("by similarity", func(t *testing.T) {
		payload, err := f.assembler.MemoryContext(ctx, assembler.ContextOptions{
			SessionID: "campaign-1",
			Query:     "The dragon guards the mountain pass",
			Limit:     1,
		})
		require.NoError(t, err)

		require.Len(t, payload.Memories, 1)
		assert.Equal(t, "The dragon guards the mountain pass", payload.Memories[0].Entry.Content)
		assert.Positive(t, payload.Memories[0].Score)
	})

	t.Run("limit respected", func(t *testing.T) {
		payload, err := f.assembler.MemoryContext(ctx, assembler.ContextOptions{
			SessionID: "campaign-1",
			Limit:     1,
		})
		require.NoError(t, err)
		assert.Len(t, payload.Memories, 1)
	})
}

func TestAssembler_MemoryContextEmbedderDownFallsBackToImportance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, seed := range []struct {
		content    string
		importance int
	}{
		{"The dragon guards the mountain pass", 9},
		{"The innkeeper owes the party a favor", 4},
	} {
		_, err := f.memories.Create(ctx, memory.CreateInput{
			SessionID:  "campaign-1",
			Content:    seed.content,
			Category:   memory.CategoryGeneral,
			Importance: seed.importance,
		})
		require.NoError(t, err)
	}

	f.embedder.down = true

	payload, err := f.assembler.MemoryContext(ctx, assembler.ContextOptions{
		SessionID: "campaign-1",
		Query:     "dragon",
	})
	require.NoError(t, err)

	require.Len(t, payload.Memories, 2)
	assert.Equal(t, 9, payload.Memories[0].Entry.Importance)
	assert.Contains(t, payload.Prompt, "The dragon guards the mountain pass")
}

func TestAssembler_MemoryContextEmptySession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	payload, err := f.assembler.MemoryContext(context.Background(), assembler.ContextOptions{
		SessionID: "brand-new",
	})
	require.NoError(t, err)
	assert.Empty(t, payload.Memories)
	assert.Empty(t, payload.Excerpt)
	assert.Empty(t, payload.Prompt)
}

func TestAssembler_MemoryContextValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.assembler.MemoryContext(context.Background(), assembler.ContextOptions{})
	var verr *lorebook.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestTurnsFromMessages(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	turns := assembler.TurnsFromMessages([]*conversation.Message{
		{Role: conversation.RoleUser, Content: "hello", UserID: "alice", Timestamp: now},
	})
	require.Len(t, turns, 1)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "alice", turns[0].Participant)
	assert.Equal(t, now, turns[0].Timestamp)
}
