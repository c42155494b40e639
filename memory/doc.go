// Package memory implements the durable fact store at the heart of
// Lorebook: campaign facts with a closed category taxonomy, an importance
// score in [1,10], optional tags and an embedding vector for similarity
// search.
//
// # Store
//
// Store owns the entry lifecycle and is the only writer to the similarity
// index, so repository writes and index mutations always travel together:
//
//	repo := memstore.NewStore()
//	store := memory.NewStore(repo, index.New(), embedder, nil)
//
//	entry, err := store.Create(ctx, memory.CreateInput{
//		SessionID:  "campaign-1",
//		Content:    "The Ember Court convenes under a dead volcano",
//		Category:   memory.CategoryLocation,
//		Importance: 7,
//		Tags:       []string{"court", "volcano"},
//	})
//
// Entries are soft-deleted: Delete flips the active flag and removes the
// vector from the index, but the tombstone keeps statistics honest.
//
// # Degraded Creation
//
// When the embedding provider is down past its retry budget, Create and
// Update still persist the entry and return it together with a
// *lorebook.DependencyError. Such entries stay out of similarity search
// until RebuildIndex runs after a backfill.
//
// # Retention
//
// CleanupMemories evicts a session's least valuable entries: everything
// below the importance floor goes, then everything past the keepCount
// window ordered by importance and recency. The pass is idempotent.
package memory
