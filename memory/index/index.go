// Package index implements the in-process similarity index over memory
// entry embeddings. It supports filtered cosine-similarity search and a
// downtime-free rebuild: a replacement index is built off to the side and
// swapped in atomically, so concurrent searches never block on a rebuild.
package index

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Metadata is the filterable shadow of an entry kept alongside its vector.
// The index never sees full entries; the memory store hydrates results.
type Metadata struct {
	SessionID  string
	UserID     string
	Category   string
	Importance int
	UpdatedAt  time.Time
}

// Filters restricts a search before scoring. Zero values mean unrestricted.
type Filters struct {
	SessionID     string
	UserID        string
	Category      string
	MinImportance int
}

// Result is a ranked search hit.
type Result struct {
	ID    string
	Score float64
}

type indexed struct {
	vector []float32
	meta   Metadata
}

// Index maps entry identifiers to vectors and answers nearest-neighbor
// queries. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[string]indexed
}

// New creates an empty index.
func New() *Index {
	return &Index{
		entries: make(map[string]indexed),
	}
}

// Insert adds or replaces a vector. Vectors are replaced whole, so readers
// never observe a partially-updated embedding.
func (idx *Index) Insert(id string, vector []float32, meta Metadata) {
	vec := append([]float32(nil), vector...)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[id] = indexed{vector: vec, meta: meta}
}

// Remove drops an entry. Removing an absent ID is a no-op.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
}

// Len returns the number of indexed vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Search returns up to limit entries ranked by descending cosine similarity
// to the query vector, restricted by the filters. Ties are broken by
// descending recency of the underlying entry.
func (idx *Index) Search(query []float32, filters Filters, limit int) []Result {
	if limit <= 0 {
		return []Result{}
	}

	type scored struct {
		id        string
		score     float64
		updatedAt time.Time
	}

	idx.mu.RLock()
	matches := make([]scored, 0, len(idx.entries))
	for id, entry := range idx.entries {
		if !matchesFilters(entry.meta, filters) {
			continue
		}
		matches = append(matches, scored{
			id:        id,
			score:     cosineSimilarity32(query, entry.vector),
			updatedAt: entry.meta.UpdatedAt,
		})
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].updatedAt.After(matches[j].updatedAt)
	})

	if limit > len(matches) {
		limit = len(matches)
	}

	results := make([]Result, limit)
	for i := 0; i < limit; i++ {
		results[i] = Result{ID: matches[i].id, Score: matches[i].score}
	}
	return results
}

// Rebuild replaces the whole index with the given entries. The replacement
// map is constructed before the swap; readers keep searching the old index
// until the single atomic exchange.
func (idx *Index) Rebuild(ids []string, vectors [][]float32, metas []Metadata) {
	rebuilt := make(map[string]indexed, len(ids))
	for i, id := range ids {
		if i >= len(vectors) || i >= len(metas) {
			break
		}
		rebuilt[id] = indexed{
			vector: append([]float32(nil), vectors[i]...),
			meta:   metas[i],
		}
	}

	idx.mu.Lock()
	idx.entries = rebuilt
	idx.mu.Unlock()
}

func matchesFilters(meta Metadata, filters Filters) bool {
	if filters.SessionID != "" && meta.SessionID != filters.SessionID {
		return false
	}
	if filters.UserID != "" && meta.UserID != filters.UserID {
		return false
	}
	if filters.Category != "" && meta.Category != filters.Category {
		return false
	}
	if filters.MinImportance > 0 && meta.Importance < filters.MinImportance {
		return false
	}
	return true
}

// cosineSimilarity32 calculates cosine similarity between two float32
// vectors. Mismatched dimensions score zero rather than failing: entries
// from a different vector space should never rank.
func cosineSimilarity32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct float64
	var normA float64
	var normB float64

	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
