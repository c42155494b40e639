package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
)

func TestManager_Stats(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)
	_, err := m.AddMessages(ctx, "campaign-1", []conversation.IncomingMessage{
		{Role: conversation.RoleUser, Content: "abcd", Timestamp: base},
		{Role: conversation.RoleAssistant, Content: "abcdefgh", Timestamp: base.Add(30 * time.Minute)},
		{Role: conversation.RoleUser, Content: "abcdefghijkl", Timestamp: base.Add(3 * time.Hour)},
	})
	require.NoError(t, err)

	stats, err := m.Stats(ctx, "campaign-1")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 2, stats.MessagesByRole[conversation.RoleUser])
	assert.Equal(t, 1, stats.MessagesByRole[conversation.RoleAssistant])
	assert.InDelta(t, 8.0, stats.AverageLength, 1e-9)
	assert.Equal(t, base, stats.FirstMessage)
	assert.Equal(t, base.Add(3*time.Hour), stats.LastMessage)
	assert.Equal(t, 3*time.Hour, stats.Duration)
	assert.InDelta(t, 1.0, stats.MessagesPerHour, 1e-9)
	assert.Equal(t, 14, stats.BusiestHour)
}

func TestManager_StatsShortSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := m.AddMessages(ctx, "campaign-1", []conversation.IncomingMessage{
		{Role: conversation.RoleUser, Content: "hi", Timestamp: now},
		{Role: conversation.RoleAssistant, Content: "hello", Timestamp: now.Add(time.Minute)},
	})
	require.NoError(t, err)

	stats, err := m.Stats(ctx, "campaign-1")
	require.NoError(t, err)

	// Rate is computed over at least one hour
	assert.InDelta(t, 2.0, stats.MessagesPerHour, 1e-9)
}

func TestManager_StatsEmptySession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	stats, err := m.Stats(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
	assert.Empty(t, stats.MessagesByRole)
	assert.True(t, stats.FirstMessage.IsZero())
}

func TestManager_StatsValidation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	_, err := m.Stats(context.Background(), " ")
	var verr *lorebook.ValidationError
	require.ErrorAs(t, err, &verr)
}
