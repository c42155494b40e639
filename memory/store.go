package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/log"
	"github.com/talecraft/lorebook/memory/index"
	"github.com/talecraft/lorebook/provider"
)

// Config holds Store configuration.
type Config struct {
	// Retry governs embedding provider calls.
	Retry *provider.RetryConfig
	// Logger receives operational output. Defaults to the package-level
	// logger in the log package.
	Logger log.Logger
}

// DefaultConfig returns a default store configuration
func DefaultConfig() *Config {
	return &Config{
		Retry:  provider.DefaultRetryConfig(),
		Logger: log.GetDefaultLogger(),
	}
}

// Store owns the MemoryEntry lifecycle. It is the only writer to the
// similarity index: repository writes and index mutations are applied
// together per entry.
type Store struct {
	repo     Repository
	index    *index.Index
	embedder provider.Embedder
	config   *Config
}

// NewStore creates a memory store over a repository, similarity index and
// embedding provider.
func NewStore(repo Repository, idx *index.Index, embedder provider.Embedder, config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Retry == nil {
		config.Retry = provider.DefaultRetryConfig()
	}
	if config.Logger == nil {
		config.Logger = log.GetDefaultLogger()
	}
	if idx == nil {
		idx = index.New()
	}
	return &Store{
		repo:     repo,
		index:    idx,
		embedder: embedder,
		config:   config,
	}
}

// Create validates the input, obtains an embedding and persists the entry.
//
// When the embedding provider stays unreachable after bounded retries, the
// entry is still persisted with its known fields and excluded from
// similarity search until backfilled; the returned *lorebook.DependencyError
// informs the caller alongside the persisted entry.
func (s *Store) Create(ctx context.Context, input CreateInput) (*Entry, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:         uuid.NewString(),
		SessionID:  input.SessionID,
		UserID:     input.UserID,
		Content:    input.Content,
		Category:   input.Category,
		Importance: input.Importance,
		Tags:       input.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
		Active:     true,
	}

	embedding, embedErr := s.embed(ctx, input.Content)
	if embedErr == nil {
		entry.Embedding = embedding
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to persist memory entry: %w", err)
	}

	if embedErr != nil {
		s.config.Logger.Warn("memory %s persisted without embedding: %v", entry.ID, embedErr)
		return entry, lorebook.NewDependencyError("embedder", embedErr)
	}

	s.index.Insert(entry.ID, entry.Embedding, indexMetadata(entry))
	s.config.Logger.Debug("memory %s created in session %s (%s)", entry.ID, entry.SessionID, entry.Category)
	return entry, nil
}

// Get retrieves an active entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.Active {
		return nil, lorebook.NewNotFoundError("memory entry", id)
	}
	return entry, nil
}

// Update applies a patch to an active entry. The entry is re-embedded only
// when its content changed; a re-embedding failure leaves the entry
// persisted without an embedding and out of the similarity index, reported
// through a *lorebook.DependencyError.
func (s *Store) Update(ctx context.Context, id string, patch UpdatePatch) (*Entry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged := false
	if patch.Content != nil && *patch.Content != entry.Content {
		if strings.TrimSpace(*patch.Content) == "" {
			return nil, lorebook.NewValidationError("content", "must not be empty")
		}
		entry.Content = *patch.Content
		contentChanged = true
	}
	if patch.Category != nil {
		if !patch.Category.Valid() {
			return nil, lorebook.NewValidationError("category", fmt.Sprintf("unknown category %q", *patch.Category))
		}
		entry.Category = *patch.Category
	}
	if patch.Importance != nil {
		if *patch.Importance < MinImportance || *patch.Importance > MaxImportance {
			return nil, lorebook.NewValidationError("importance",
				fmt.Sprintf("must be within [%d,%d], got %d", MinImportance, MaxImportance, *patch.Importance))
		}
		entry.Importance = *patch.Importance
	}
	if patch.Tags != nil {
		entry.Tags = patch.Tags
	}
	entry.UpdatedAt = time.Now().UTC()

	var embedErr error
	if contentChanged {
		var embedding []float32
		embedding, embedErr = s.embed(ctx, entry.Content)
		if embedErr == nil {
			entry.Embedding = embedding
		} else {
			entry.Embedding = nil
		}
	}

	if err := s.repo.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to update memory entry: %w", err)
	}

	if embedErr != nil {
		s.index.Remove(entry.ID)
		s.config.Logger.Warn("memory %s updated without embedding: %v", entry.ID, embedErr)
		return entry, lorebook.NewDependencyError("embedder", embedErr)
	}

	if entry.Embedding != nil {
		s.index.Insert(entry.ID, entry.Embedding, indexMetadata(entry))
	}
	return entry, nil
}

// Delete soft-deletes an entry: the tombstone stays for statistics, the
// vector leaves the similarity index.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if _, err := s.repo.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("failed to delete memory entry: %w", err)
	}

	s.index.Remove(id)
	s.config.Logger.Debug("memory %s soft-deleted", id)
	return nil
}

// List returns active entries for a session ordered by recency, paginated.
func (s *Store) List(ctx context.Context, sessionID string, opts ListOptions) ([]*Entry, error) {
	if opts.Category != "" && !opts.Category.Valid() {
		return nil, lorebook.NewValidationError("category", fmt.Sprintf("unknown category %q", opts.Category))
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return s.repo.List(ctx, sessionID, opts)
}

// Search embeds the query text and returns entries ranked by descending
// similarity. An empty result set is a normal response.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, lorebook.NewValidationError("query", "must not be empty")
	}
	if opts.Category != "" && !opts.Category.Valid() {
		return nil, lorebook.NewValidationError("category", fmt.Sprintf("unknown category %q", opts.Category))
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	queryVec, err := s.embed(ctx, query)
	if err != nil {
		return nil, lorebook.NewDependencyError("embedder", err)
	}

	hits := s.index.Search(queryVec, index.Filters{
		SessionID:     opts.SessionID,
		UserID:        opts.UserID,
		Category:      string(opts.Category),
		MinImportance: opts.MinImportance,
	}, opts.Limit)

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		entry, err := s.repo.Get(ctx, hit.ID)
		if err != nil || !entry.Active {
			// The index can briefly trail the repository; skip strays.
			continue
		}
		results = append(results, SearchResult{Entry: entry, Score: hit.Score})
	}
	return results, nil
}

// GetStats aggregates counts over a session's entries.
func (s *Store) GetStats(ctx context.Context, sessionID string) (*Stats, error) {
	return s.repo.Stats(ctx, sessionID)
}

// TopByImportance returns up to limit active entries for a session ordered
// by importance (descending), recency breaking ties, optionally restricted
// to the given categories.
func (s *Store) TopByImportance(ctx context.Context, sessionID string, categories []Category, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.repo.ListActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(categories) > 0 {
		wanted := make(map[Category]bool, len(categories))
		for _, c := range categories {
			if !c.Valid() {
				return nil, lorebook.NewValidationError("category", fmt.Sprintf("unknown category %q", c))
			}
			wanted[c] = true
		}
		filtered := entries[:0]
		for _, entry := range entries {
			if wanted[entry.Category] {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	sortByImportance(entries)

	if limit > len(entries) {
		limit = len(entries)
	}
	return entries[:limit], nil
}

// RebuildIndex re-indexes every active embedded entry from the durable
// store. The replacement index is built off to the side; searches keep
// hitting the previous one until the swap.
func (s *Store) RebuildIndex(ctx context.Context) error {
	entries, err := s.repo.AllActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load entries for reindex: %w", err)
	}

	ids := make([]string, 0, len(entries))
	vectors := make([][]float32, 0, len(entries))
	metas := make([]index.Metadata, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		ids = append(ids, entry.ID)
		vectors = append(vectors, entry.Embedding)
		metas = append(metas, indexMetadata(entry))
	}

	s.index.Rebuild(ids, vectors, metas)
	s.config.Logger.Info("similarity index rebuilt with %d entries", len(ids))
	return nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := provider.Retry(ctx, s.config.Retry, "embedder", func(ctx context.Context) error {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		embedding = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

func validateCreate(input CreateInput) error {
	if strings.TrimSpace(input.SessionID) == "" {
		return lorebook.NewValidationError("session_id", "must not be empty")
	}
	if strings.TrimSpace(input.Content) == "" {
		return lorebook.NewValidationError("content", "must not be empty")
	}
	if !input.Category.Valid() {
		return lorebook.NewValidationError("category", fmt.Sprintf("unknown category %q", input.Category))
	}
	if input.Importance < MinImportance || input.Importance > MaxImportance {
		return lorebook.NewValidationError("importance",
			fmt.Sprintf("must be within [%d,%d], got %d", MinImportance, MaxImportance, input.Importance))
	}
	return nil
}

func indexMetadata(entry *Entry) index.Metadata {
	return index.Metadata{
		SessionID:  entry.SessionID,
		UserID:     entry.UserID,
		Category:   string(entry.Category),
		Importance: entry.Importance,
		UpdatedAt:  entry.UpdatedAt,
	}
}

// sortByImportance orders entries by importance descending, most recently
// updated first within equal importance.
func sortByImportance(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
}
