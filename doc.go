// Lorebook - Campaign-Scoped Narrative Memory for AI Storytelling
//
// Lorebook is the memory and retrieval core for AI-driven storytelling
// applications. It retains durable facts learned during play (characters,
// locations, rules, events), keeps an append-only log of conversation turns
// per session, and assembles both into a bounded context payload for a
// downstream narrative generator.
//
// # Components
//
// The library is organized as a set of focused packages:
//
//   - memory: durable memory entries with categories, importance scores,
//     similarity search, and an importance/recency retention policy
//   - memory/index: the in-process similarity index (cosine similarity,
//     filtered search, downtime-free rebuild)
//   - conversation: the per-session conversation log with pagination,
//     windowed search, summarization, statistics, and cleanup
//   - assembler: extracts memory candidates from conversation batches and
//     builds the combined narrative context
//   - provider: contracts and implementations for the external embedding
//     and extraction/summarization services (OpenAI, langchaingo, mocks)
//   - storage: durable repositories for both record sets with in-memory,
//     SQLite, PostgreSQL, and Redis backends
//   - log: the logging facade used across the library
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/talecraft/lorebook
//
// Wire a memory store against the in-memory backend:
//
//	repo := memstore.NewMemoryRepository()
//	idx := index.New()
//	embedder := provider.NewMockEmbedder(384)
//	store := memory.NewStore(repo, idx, embedder, nil)
//
//	entry, err := store.Create(ctx, memory.CreateInput{
//		SessionID:  "campaign-1",
//		Content:    "Queen Maraz rules the Ember Court",
//		Category:   memory.CategoryCharacter,
//		Importance: 8,
//	})
//
// # Error Taxonomy
//
// All operations return plain structured results or one of three typed
// failures, matched with errors.As:
//
//   - *ValidationError: malformed input (importance out of range, unknown
//     category, empty message content). Never retried.
//   - *NotFoundError: the requested entry or session record is absent or
//     inactive.
//   - *DependencyError: an external provider (embedding, extraction,
//     summarization) stayed unreachable after bounded retries.
//
// An empty result set is a normal response, never an error.
//
// # Concurrency
//
// All operations are session-scoped and safe for concurrent use. Message
// appends receive a server-assigned monotonic sequence so concurrent
// batches interleave without reordering inside a batch. The similarity
// index rebuild constructs a replacement off to the side and swaps it in
// atomically, so searches never block on a rebuild.
//
// # License
//
// This project is licensed under the MIT License - see the LICENSE file for details.
package lorebook // import "github.com/talecraft/lorebook"
