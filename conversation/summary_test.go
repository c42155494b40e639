package conversation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/provider"
)

func TestManager_Summarize(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &provider.MockSummarizer{})
	ctx := context.Background()

	_, err := m.AddMessages(ctx, "campaign-1", []conversation.IncomingMessage{
		incoming(conversation.RoleUser, "We reached the keep", "alice"),
		incoming(conversation.RoleAssistant, "The gates are sealed", ""),
		incoming(conversation.RoleUser, "Bran tries the postern door", "bob"),
	})
	require.NoError(t, err)

	summary, err := m.Summarize(ctx, conversation.SummaryOptions{SessionID: "campaign-1"})
	require.NoError(t, err)

	assert.Equal(t, "campaign-1", summary.SessionID)
	assert.Equal(t, 3, summary.MessageCount)
	assert.Contains(t, summary.Summary, "We reached the keep")
	assert.Equal(t, []string{"alice", "bob"}, summary.Participants)
	assert.False(t, summary.StartTime.IsZero())
	assert.False(t, summary.EndTime.Before(summary.StartTime))
}

func TestManager_SummarizeTruncatesToNewest(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &provider.MockSummarizer{})
	ctx := context.Background()
	seedMessages(t, m, "campaign-1", "first", "second", "third", "fourth")

	summary, err := m.Summarize(ctx, conversation.SummaryOptions{
		SessionID:   "campaign-1",
		MaxMessages: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.MessageCount)
	assert.NotContains(t, summary.Summary, "first")
	assert.Contains(t, summary.Summary, "third")
	assert.Contains(t, summary.Summary, "fourth")
}

func TestManager_SummarizeDegradesToFallback(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &provider.MockSummarizer{Err: errors.New("model overloaded")})
	ctx := context.Background()

	_, err := m.AddMessages(ctx, "campaign-1", []conversation.IncomingMessage{
		incoming(conversation.RoleUser, "Something happened", "alice"),
	})
	require.NoError(t, err)

	summary, err := m.Summarize(ctx, conversation.SummaryOptions{SessionID: "campaign-1"})
	require.NoError(t, err)

	// The text degrades while locally computed fields stay intact
	assert.Equal(t, conversation.FallbackSummary, summary.Summary)
	assert.Equal(t, 1, summary.MessageCount)
	assert.Equal(t, []string{"alice"}, summary.Participants)
	assert.False(t, summary.StartTime.IsZero())
}

func TestManager_SummarizeWithoutProvider(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	seedMessages(t, m, "campaign-1", "a turn")

	summary, err := m.Summarize(context.Background(), conversation.SummaryOptions{SessionID: "campaign-1"})
	require.NoError(t, err)
	assert.Equal(t, conversation.FallbackSummary, summary.Summary)
	assert.Equal(t, 1, summary.MessageCount)
}

func TestManager_SummarizeEmptyWindow(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &provider.MockSummarizer{})

	summary, err := m.Summarize(context.Background(), conversation.SummaryOptions{SessionID: "empty"})
	require.NoError(t, err)
	assert.Equal(t, conversation.FallbackSummary, summary.Summary)
	assert.Zero(t, summary.MessageCount)
}

func TestManager_SummarizeValidation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	_, err := m.Summarize(context.Background(), conversation.SummaryOptions{SessionID: ""})
	var verr *lorebook.ValidationError
	require.ErrorAs(t, err, &verr)
}
