package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/talecraft/lorebook"
)

// Stats computes message counts per role, average message length, session
// duration (first to last timestamp), the messages-per-hour rate and the
// hour-of-day bucket holding the most messages.
func (m *Manager) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, lorebook.NewValidationError("session_id", "must not be empty")
	}

	messages, err := m.repo.Range(ctx, sessionID, RangeOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	stats := &Stats{
		SessionID:      sessionID,
		TotalMessages:  len(messages),
		MessagesByRole: make(map[Role]int),
	}
	if len(messages) == 0 {
		return stats, nil
	}

	totalLength := 0
	var hourBuckets [24]int
	for _, msg := range messages {
		stats.MessagesByRole[msg.Role]++
		totalLength += len(msg.Content)
		hourBuckets[msg.Timestamp.UTC().Hour()]++
	}

	stats.AverageLength = float64(totalLength) / float64(len(messages))
	stats.FirstMessage = messages[0].Timestamp
	stats.LastMessage = messages[len(messages)-1].Timestamp
	stats.Duration = stats.LastMessage.Sub(stats.FirstMessage)

	// Rate over at least one hour so short sessions don't explode.
	hours := stats.Duration.Hours()
	if hours < 1 {
		hours = 1
	}
	stats.MessagesPerHour = float64(len(messages)) / hours

	busiest := 0
	for hour, count := range hourBuckets {
		if count > hourBuckets[busiest] {
			busiest = hour
		}
	}
	stats.BusiestHour = busiest

	return stats, nil
}
