package memory

import (
	"context"
	"fmt"
	"time"
)

// Category classifies a memory entry. The taxonomy is closed: unknown
// values are rejected at the boundary instead of silently accepted.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryCharacter  Category = "character"
	CategoryLocation   Category = "location"
	CategoryEvent      Category = "event"
	CategoryRule       Category = "rule"
	CategoryPreference Category = "preference"
	CategoryStoryBeat  Category = "story_beat"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{
		CategoryGeneral,
		CategoryCharacter,
		CategoryLocation,
		CategoryEvent,
		CategoryRule,
		CategoryPreference,
		CategoryStoryBeat,
	}
}

// Valid reports whether the category is part of the taxonomy.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryCharacter, CategoryLocation, CategoryEvent,
		CategoryRule, CategoryPreference, CategoryStoryBeat:
		return true
	}
	return false
}

// ParseCategory converts a raw string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category: %q", s)
	}
	return c, nil
}

// Importance bounds for memory entries.
const (
	MinImportance = 1
	MaxImportance = 10
)

// Entry is a durable fact learned during play. Inactive entries are
// tombstones: excluded from search and listing, retained for statistics.
type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	Content    string    `json:"content"`
	Category   Category  `json:"category"`
	Importance int       `json:"importance"`
	Tags       []string  `json:"tags,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Active     bool      `json:"active"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Tags != nil {
		clone.Tags = append([]string(nil), e.Tags...)
	}
	if e.Embedding != nil {
		clone.Embedding = append([]float32(nil), e.Embedding...)
	}
	return &clone
}

// CreateInput carries the caller-supplied fields for a new entry.
type CreateInput struct {
	SessionID  string
	UserID     string
	Content    string
	Category   Category
	Importance int
	Tags       []string
}

// UpdatePatch mutates an existing entry. Nil pointer fields are left
// unchanged; a nil Tags slice is left unchanged, an empty one clears tags.
type UpdatePatch struct {
	Content    *string
	Category   *Category
	Importance *int
	Tags       []string
}

// ListOptions bounds a listing call. A zero Category means all categories.
type ListOptions struct {
	Category Category
	Limit    int
	Offset   int
}

// SearchOptions restricts a similarity search. Zero values mean
// unrestricted.
type SearchOptions struct {
	SessionID     string
	UserID        string
	Category      Category
	MinImportance int
	Limit         int
}

// SearchResult pairs an entry with its similarity score.
type SearchResult struct {
	Entry *Entry  `json:"entry"`
	Score float64 `json:"score"`
}

// Stats aggregates a session's entries. Inactive entries still count
// toward TotalCount so history-dependent numbers stay correct.
type Stats struct {
	SessionID         string           `json:"session_id"`
	TotalCount        int              `json:"total_count"`
	ActiveCount       int              `json:"active_count"`
	CountByCategory   map[Category]int `json:"count_by_category"`
	AverageImportance float64          `json:"average_importance"`
}

// Repository is the durable storage contract for memory entries.
// Implementations: storage/memstore, storage/sqlite, storage/postgres,
// storage/redis.
type Repository interface {
	// Insert persists a new entry.
	Insert(ctx context.Context, entry *Entry) error

	// Get retrieves an entry by ID, active or not. Returns
	// *lorebook.NotFoundError when absent.
	Get(ctx context.Context, id string) (*Entry, error)

	// Update overwrites a persisted entry.
	Update(ctx context.Context, entry *Entry) error

	// SetActive flips the tombstone flag, reporting whether the stored
	// value actually changed. A flip to the value already stored returns
	// false with no error, so concurrent retention passes never count the
	// same entry twice.
	SetActive(ctx context.Context, id string, active bool) (bool, error)

	// List returns active entries for a session ordered newest-first,
	// with optional category filter and paging.
	List(ctx context.Context, sessionID string, opts ListOptions) ([]*Entry, error)

	// ListActive returns every active entry for a session, unordered.
	ListActive(ctx context.Context, sessionID string) ([]*Entry, error)

	// AllActive returns every active entry across sessions. Used for
	// similarity-index rebuilds.
	AllActive(ctx context.Context) ([]*Entry, error)

	// Stats aggregates counts over a session's entries.
	Stats(ctx context.Context, sessionID string) (*Stats, error)
}
