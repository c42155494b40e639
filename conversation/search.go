package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/talecraft/lorebook"
)

// Search scans a session's log for messages containing the query
// (case-insensitive). Each match carries up to ContextSize messages on
// either side, clipped at the log boundaries; overlapping windows are
// merged so no message is returned twice.
func (m *Manager) Search(ctx context.Context, opts SearchOptions) ([]*SearchMatch, error) {
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, lorebook.NewValidationError("session_id", "must not be empty")
	}
	if strings.TrimSpace(opts.Query) == "" {
		return nil, lorebook.NewValidationError("query", "must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.ContextSize < 0 {
		opts.ContextSize = 0
	}

	messages, err := m.repo.Range(ctx, opts.SessionID, RangeOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	needle := strings.ToLower(opts.Query)
	var matchIdx []int
	for i, msg := range messages {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			matchIdx = append(matchIdx, i)
			if len(matchIdx) >= opts.Limit {
				break
			}
		}
	}
	if len(matchIdx) == 0 {
		return []*SearchMatch{}, nil
	}

	windows := mergeWindows(matchIdx, opts.ContextSize, len(messages))

	results := make([]*SearchMatch, 0, len(windows))
	matched := make(map[int]bool, len(matchIdx))
	for _, i := range matchIdx {
		matched[i] = true
	}
	for _, w := range windows {
		match := &SearchMatch{}
		for i := w.start; i <= w.end; i++ {
			match.Window = append(match.Window, messages[i])
			if matched[i] {
				match.Matches = append(match.Matches, messages[i])
			}
		}
		results = append(results, match)
	}
	return results, nil
}

type window struct {
	start, end int
}

// mergeWindows expands each match index by contextSize on both sides,
// clips at the log boundaries, and merges windows that overlap or touch.
func mergeWindows(matchIdx []int, contextSize, logLen int) []window {
	windows := make([]window, 0, len(matchIdx))
	for _, i := range matchIdx {
		start := i - contextSize
		if start < 0 {
			start = 0
		}
		end := i + contextSize
		if end >= logLen {
			end = logLen - 1
		}
		windows = append(windows, window{start: start, end: end})
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].start < windows[j].start })

	merged := windows[:1]
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if w.start <= last.end+1 {
			if w.end > last.end {
				last.end = w.end
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
