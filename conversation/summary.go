package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/provider"
)

// FallbackSummary is returned as the summary text when the summarization
// provider is unreachable past its retry budget.
const FallbackSummary = "summary unavailable"

// Summarize condenses a window of the session log through the external
// summarization provider. When the provider keeps failing, the call
// degrades: the summary text becomes FallbackSummary while participants,
// message count and the covered time range are still computed locally.
func (m *Manager) Summarize(ctx context.Context, opts SummaryOptions) (*Summary, error) {
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, lorebook.NewValidationError("session_id", "must not be empty")
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 100
	}

	bounds := RangeOptions{Start: opts.StartDate, End: opts.EndDate}
	total, err := m.repo.Count(ctx, opts.SessionID, bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	// Keep the most recent messages when truncating; the slice itself
	// stays in chronological order.
	if total > opts.MaxMessages {
		bounds.Offset = total - opts.MaxMessages
	}
	bounds.Limit = opts.MaxMessages
	messages, err := m.repo.Range(ctx, opts.SessionID, bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	summary := &Summary{
		SessionID:    opts.SessionID,
		MessageCount: len(messages),
		Participants: participants(messages),
	}
	if len(messages) == 0 {
		summary.Summary = FallbackSummary
		return summary, nil
	}
	summary.StartTime = messages[0].Timestamp
	summary.EndTime = messages[len(messages)-1].Timestamp

	if m.config.Summarizer == nil {
		summary.Summary = FallbackSummary
		return summary, nil
	}

	var result *provider.SummaryResult
	err = provider.Retry(ctx, m.config.Retry, "summarizer", func(ctx context.Context) error {
		r, err := m.config.Summarizer.Summarize(ctx, toTurns(messages), opts.MaxMessages)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		m.config.Logger.Warn("summarization degraded for session %s: %v", opts.SessionID, err)
		summary.Summary = FallbackSummary
		return summary, nil
	}

	summary.Summary = result.Summary
	summary.Topics = result.Topics
	if len(result.Participants) > 0 {
		summary.Participants = result.Participants
	}
	return summary, nil
}

// toTurns converts log messages into the narrow view providers receive.
func toTurns(messages []*Message) []provider.Turn {
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

// participants collects unique user identifiers in first-seen order.
func participants(messages []*Message) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, msg := range messages {
		if msg.UserID == "" || seen[msg.UserID] {
			continue
		}
		seen[msg.UserID] = true
		ids = append(ids, msg.UserID)
	}
	return ids
}
