package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/log"
	"github.com/talecraft/lorebook/provider"
)

// Config holds Manager configuration.
type Config struct {
	// Summarizer condenses message windows; nil disables summarization
	// and every Summarize call returns the fallback.
	Summarizer provider.Summarizer
	// Retry governs summarization provider calls.
	Retry *provider.RetryConfig
	// Logger receives operational output.
	Logger log.Logger
}

// DefaultConfig returns a default manager configuration
func DefaultConfig() *Config {
	return &Config{
		Retry:  provider.DefaultRetryConfig(),
		Logger: log.GetDefaultLogger(),
	}
}

// Manager owns the append-only conversation log for each session and
// provides paginated retrieval, windowed search, summarization, statistics
// and cleanup over it.
type Manager struct {
	repo   Repository
	config *Config
}

// NewManager creates a conversation history manager over a repository.
func NewManager(repo Repository, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Retry == nil {
		config.Retry = provider.DefaultRetryConfig()
	}
	if config.Logger == nil {
		config.Logger = log.GetDefaultLogger()
	}
	return &Manager{
		repo:   repo,
		config: config,
	}
}

// AddMessages appends a batch to the session log atomically, assigning a
// monotonic sequence to each message in the order given. The whole batch is
// rejected with a *lorebook.ValidationError when any message has empty
// content or an unknown role.
func (m *Manager) AddMessages(ctx context.Context, sessionID string, messages []IncomingMessage) ([]*Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, lorebook.NewValidationError("session_id", "must not be empty")
	}
	if len(messages) == 0 {
		return []*Message{}, nil
	}

	now := time.Now().UTC()
	batch := make([]*Message, len(messages))
	for i, incoming := range messages {
		if strings.TrimSpace(incoming.Content) == "" {
			return nil, lorebook.NewValidationError("content",
				fmt.Sprintf("message %d has empty content", i))
		}
		if !incoming.Role.Valid() {
			return nil, lorebook.NewValidationError("role",
				fmt.Sprintf("message %d has unknown role %q", i, incoming.Role))
		}

		timestamp := incoming.Timestamp
		if timestamp.IsZero() {
			timestamp = now
		}
		batch[i] = &Message{
			SessionID: sessionID,
			Role:      incoming.Role,
			Content:   incoming.Content,
			UserID:    incoming.UserID,
			Timestamp: timestamp,
		}
	}

	if err := m.repo.Append(ctx, sessionID, batch); err != nil {
		return nil, fmt.Errorf("failed to append messages: %w", err)
	}

	m.config.Logger.Debug("appended %d messages to session %s", len(batch), sessionID)
	return batch, nil
}

// History returns one page of the ordered log, oldest to newest, bounded
// by the optional date range.
func (m *Manager) History(ctx context.Context, opts HistoryOptions) (*Page, error) {
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, lorebook.NewValidationError("session_id", "must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	bounds := RangeOptions{Start: opts.StartDate, End: opts.EndDate}
	total, err := m.repo.Count(ctx, opts.SessionID, bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	bounds.Limit = opts.Limit
	bounds.Offset = opts.Offset
	messages, err := m.repo.Range(ctx, opts.SessionID, bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return &Page{
		Messages:   messages,
		TotalCount: total,
		HasMore:    opts.Offset+opts.Limit < total,
	}, nil
}

// Recent returns the newest n messages of a session in chronological order.
func (m *Manager) Recent(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	if n <= 0 {
		n = 10
	}

	total, err := m.repo.Count(ctx, sessionID, RangeOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	offset := total - n
	if offset < 0 {
		offset = 0
	}
	return m.repo.Range(ctx, sessionID, RangeOptions{Limit: n, Offset: offset})
}

// Cleanup removes messages that are both older than keepDays AND outside
// the newest keepCount messages. A message inside either window survives,
// so the pass is safe to re-run. Returns the count removed.
func (m *Manager) Cleanup(ctx context.Context, sessionID string, keepDays, keepCount int) (int, error) {
	if keepDays < 0 {
		return 0, lorebook.NewValidationError("keep_days", "must not be negative")
	}
	if keepCount < 0 {
		return 0, lorebook.NewValidationError("keep_count", "must not be negative")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)
	removed, err := m.repo.Cleanup(ctx, sessionID, cutoff, keepCount)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up conversation: %w", err)
	}

	if removed > 0 {
		m.config.Logger.Info("conversation cleanup removed %d messages from session %s (keepDays=%d, keepCount=%d)",
			removed, sessionID, keepDays, keepCount)
	}
	return removed, nil
}
