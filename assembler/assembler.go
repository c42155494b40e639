package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/log"
	"github.com/talecraft/lorebook/memory"
	"github.com/talecraft/lorebook/provider"
)

// Config holds Assembler configuration.
type Config struct {
	// Retry governs extraction provider calls.
	Retry *provider.RetryConfig
	// ExcerptSize is the number of recent conversation messages included
	// in every context payload. Defaults to 10.
	ExcerptSize int
	// DefaultLimit caps the number of memories in a context payload when
	// the caller does not set one. Defaults to 10.
	DefaultLimit int
	// Logger receives operational output.
	Logger log.Logger
}

// DefaultConfig returns a default assembler configuration
func DefaultConfig() *Config {
	return &Config{
		Retry:        provider.DefaultRetryConfig(),
		ExcerptSize:  10,
		DefaultLimit: 10,
		Logger:       log.GetDefaultLogger(),
	}
}

// Assembler composes the bounded narrative context for the downstream
// generator, and feeds the memory store with facts extracted from
// conversation batches.
type Assembler struct {
	memories      *memory.Store
	conversations *conversation.Manager
	extractor     provider.Extractor
	config        *Config
}

// New creates a context assembler.
func New(memories *memory.Store, conversations *conversation.Manager, extractor provider.Extractor, config *Config) *Assembler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Retry == nil {
		config.Retry = provider.DefaultRetryConfig()
	}
	if config.ExcerptSize <= 0 {
		config.ExcerptSize = 10
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.Logger == nil {
		config.Logger = log.GetDefaultLogger()
	}
	return &Assembler{
		memories:      memories,
		conversations: conversations,
		extractor:     extractor,
		config:        config,
	}
}

// ProcessResult reports the outcome of one extraction batch.
type ProcessResult struct {
	// Created counts memories persisted, including entries persisted
	// without an embedding because the embedder was degraded.
	Created int `json:"created"`
	// Failed counts candidates that could not be persisted at all.
	Failed int `json:"failed"`
}

// ProcessConversation sends a batch of turns to the extraction provider and
// persists each candidate fact as a memory entry. Partial failures never
// abort the batch: failures are counted and reported, successes are kept.
//
// Extraction output is advisory, so candidates are normalized rather than
// rejected: unknown categories fall back to General and the importance is
// clamped into the valid range.
func (a *Assembler) ProcessConversation(ctx context.Context, sessionID, userID string, turns []provider.Turn) (*ProcessResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, lorebook.NewValidationError("session_id", "must not be empty")
	}
	if len(turns) == 0 {
		return &ProcessResult{}, nil
	}

	var candidates []provider.CandidateFact
	err := provider.Retry(ctx, a.config.Retry, "extractor", func(ctx context.Context) error {
		facts, err := a.extractor.ExtractFacts(ctx, turns)
		if err != nil {
			return err
		}
		candidates = facts
		return nil
	})
	if err != nil {
		return nil, lorebook.NewDependencyError("extractor", err)
	}

	result := &ProcessResult{}
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate.Content) == "" {
			continue
		}

		entry, err := a.memories.Create(ctx, memory.CreateInput{
			SessionID:  sessionID,
			UserID:     userID,
			Content:    candidate.Content,
			Category:   normalizeCategory(candidate.Category),
			Importance: clampImportance(candidate.Importance),
			Tags:       candidate.Tags,
		})
		if entry != nil {
			// Persisted; a DependencyError here only means the entry
			// is waiting for an embedding backfill.
			result.Created++
			continue
		}
		if err != nil {
			a.config.Logger.Warn("failed to store extracted fact: %v", err)
			result.Failed++
		}
	}

	a.config.Logger.Info("extraction for session %s: %d created, %d failed from %d candidates",
		sessionID, result.Created, result.Failed, len(candidates))
	return result, nil
}

// ContextOptions selects what goes into a context payload.
type ContextOptions struct {
	SessionID string
	// Query, when set, selects memories by similarity; otherwise the most
	// important active entries are used.
	Query string
	// Categories restricts the no-query listing.
	Categories []memory.Category
	// Limit caps the number of memories included.
	Limit int
}

// Context is the bounded payload handed to the narrative generator.
type Context struct {
	Memories []memory.SearchResult   `json:"memories"`
	Excerpt  []*conversation.Message `json:"excerpt"`
	// Prompt is the payload rendered as prompt-ready text.
	Prompt string `json:"prompt"`
}

// MemoryContext builds the combined payload: top-ranked memories (by
// similarity when a query is given, by importance otherwise) plus the most
// recent conversation excerpt.
//
// When the embedder is unreachable, the query path degrades to the
// importance ranking instead of failing: a reduced-quality payload is still
// a payload.
func (a *Assembler) MemoryContext(ctx context.Context, opts ContextOptions) (*Context, error) {
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, lorebook.NewValidationError("session_id", "must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = a.config.DefaultLimit
	}

	var results []memory.SearchResult
	byImportance := strings.TrimSpace(opts.Query) == ""
	if !byImportance {
		found, err := a.memories.Search(ctx, opts.Query, memory.SearchOptions{
			SessionID: opts.SessionID,
			Limit:     opts.Limit,
		})
		var depErr *lorebook.DependencyError
		switch {
		case err == nil:
			results = found
		case errors.As(err, &depErr):
			a.config.Logger.Warn("similarity search degraded for session %s, ranking by importance: %v",
				opts.SessionID, err)
			byImportance = true
		default:
			return nil, err
		}
	}
	if byImportance {
		entries, err := a.memories.TopByImportance(ctx, opts.SessionID, opts.Categories, opts.Limit)
		if err != nil {
			return nil, err
		}
		results = make([]memory.SearchResult, len(entries))
		for i, entry := range entries {
			results[i] = memory.SearchResult{Entry: entry}
		}
	}

	excerpt, err := a.conversations.Recent(ctx, opts.SessionID, a.config.ExcerptSize)
	if err != nil {
		return nil, err
	}

	return &Context{
		Memories: results,
		Excerpt:  excerpt,
		Prompt:   renderPrompt(results, excerpt),
	}, nil
}

// renderPrompt formats memories and the excerpt into a prompt-ready block.
func renderPrompt(results []memory.SearchResult, excerpt []*conversation.Message) string {
	var sb strings.Builder

	if len(results) > 0 {
		sb.WriteString("=== CAMPAIGN MEMORY ===\n")
		for i, result := range results {
			sb.WriteString(fmt.Sprintf("%d. [%s, importance %d] %s\n",
				i+1, result.Entry.Category, result.Entry.Importance, result.Entry.Content))
		}
	}

	if len(excerpt) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("=== RECENT CONVERSATION ===\n")
		for _, msg := range excerpt {
			sb.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
		}
	}

	return sb.String()
}

// normalizeCategory maps raw extraction output onto the closed taxonomy.
func normalizeCategory(raw string) memory.Category {
	category, err := memory.ParseCategory(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return memory.CategoryGeneral
	}
	return category
}

// clampImportance forces advisory importance scores into [1,10]; an unset
// score lands mid-scale.
func clampImportance(importance int) int {
	if importance == 0 {
		return 5
	}
	if importance < memory.MinImportance {
		return memory.MinImportance
	}
	if importance > memory.MaxImportance {
		return memory.MaxImportance
	}
	return importance
}

// TurnsFromMessages converts log messages into provider turns, for callers
// that extract from a batch already appended to the history.
func TurnsFromMessages(messages []*conversation.Message) []provider.Turn {
	turns := make([]provider.Turn, len(messages))
	for i, msg := range messages {
		turns[i] = provider.Turn{
			Role:        string(msg.Role),
			Content:     msg.Content,
			Participant: msg.UserID,
			Timestamp:   msg.Timestamp,
		}
	}
	return turns
}
