package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/memory"
)

func testEntry(id, sessionID string, importance int) *memory.Entry {
	now := time.Now().UTC()
	return &memory.Entry{
		ID:         id,
		SessionID:  sessionID,
		Content:    "content of " + id,
		Category:   memory.CategoryGeneral,
		Importance: importance,
		Embedding:  []float32{1, 0},
		CreatedAt:  now,
		UpdatedAt:  now,
		Active:     true,
	}
}

func TestMemoryRepository_CRUD(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	entry := testEntry("e1", "s1", 5)
	require.NoError(t, repo.Insert(ctx, entry))

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, entry.Content, got.Content)

	// Mutating the returned copy never leaks into the store
	got.Content = "mutated"
	again, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, entry.Content, again.Content)

	entry.Importance = 8
	require.NoError(t, repo.Update(ctx, entry))
	got, err = repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 8, got.Importance)

	changed, err := repo.SetActive(ctx, "e1", false)
	require.NoError(t, err)
	assert.True(t, changed)
	got, err = repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	// Flipping to the value already stored reports no change
	changed, err = repo.SetActive(ctx, "e1", false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMemoryRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()
	var nerr *lorebook.NotFoundError

	_, err := repo.Get(ctx, "ghost")
	require.ErrorAs(t, err, &nerr)

	require.ErrorAs(t, repo.Update(ctx, testEntry("ghost", "s1", 5)), &nerr)
	_, err = repo.SetActive(ctx, "ghost", false)
	require.ErrorAs(t, err, &nerr)
}

func TestMemoryRepository_List(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		entry := testEntry(fmt.Sprintf("e%d", i), "s1", 5)
		entry.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 3 {
			entry.Category = memory.CategoryCharacter
		}
		require.NoError(t, repo.Insert(ctx, entry))
	}
	inactive := testEntry("dead", "s1", 5)
	inactive.Active = false
	require.NoError(t, repo.Insert(ctx, inactive))
	require.NoError(t, repo.Insert(ctx, testEntry("other", "s2", 5)))

	t.Run("newest first, active only, session scoped", func(t *testing.T) {
		entries, err := repo.List(ctx, "s1", memory.ListOptions{})
		require.NoError(t, err)
		require.Len(t, entries, 4)
		assert.Equal(t, "e3", entries[0].ID)
		assert.Equal(t, "e0", entries[3].ID)
	})

	t.Run("category filter", func(t *testing.T) {
		entries, err := repo.List(ctx, "s1", memory.ListOptions{Category: memory.CategoryCharacter})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e3", entries[0].ID)
	})

	t.Run("paging", func(t *testing.T) {
		entries, err := repo.List(ctx, "s1", memory.ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "e2", entries[0].ID)

		entries, err = repo.List(ctx, "s1", memory.ListOptions{Offset: 99})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestMemoryRepository_Stats(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, testEntry("a", "s1", 4)))
	require.NoError(t, repo.Insert(ctx, testEntry("b", "s1", 8)))
	dead := testEntry("c", "s1", 10)
	dead.Active = false
	require.NoError(t, repo.Insert(ctx, dead))

	stats, err := repo.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 2, stats.ActiveCount)
	assert.Equal(t, 2, stats.CountByCategory[memory.CategoryGeneral])
	assert.InDelta(t, 6.0, stats.AverageImportance, 1e-9)
}

func testMessage(role conversation.Role, content string, ts time.Time) *conversation.Message {
	return &conversation.Message{
		SessionID: "s1",
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
}

func TestMessageRepository_AppendAssignsSequences(t *testing.T) {
	t.Parallel()

	repo := NewMessageRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []*conversation.Message{
		testMessage(conversation.RoleUser, "one", now),
		testMessage(conversation.RoleAssistant, "two", now),
	}
	require.NoError(t, repo.Append(ctx, "s1", batch))
	assert.Equal(t, int64(1), batch[0].Seq)
	assert.Equal(t, int64(2), batch[1].Seq)

	// Sessions count independently
	other := []*conversation.Message{testMessage(conversation.RoleUser, "hello", now)}
	require.NoError(t, repo.Append(ctx, "s2", other))
	assert.Equal(t, int64(1), other[0].Seq)
}

func TestMessageRepository_ConcurrentAppendsStayContiguous(t *testing.T) {
	t.Parallel()

	repo := NewMessageRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := []*conversation.Message{
				testMessage(conversation.RoleUser, "a", now),
				testMessage(conversation.RoleAssistant, "b", now),
			}
			_ = repo.Append(ctx, "s1", batch)
		}()
	}
	wg.Wait()

	messages, err := repo.Range(ctx, "s1", conversation.RangeOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 20)

	seen := make(map[int64]bool)
	for _, msg := range messages {
		assert.False(t, seen[msg.Seq])
		seen[msg.Seq] = true
	}
	assert.Len(t, seen, 20)
}

func TestMessageRepository_RangeAndCount(t *testing.T) {
	t.Parallel()

	repo := NewMessageRepository()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	batch := make([]*conversation.Message, 5)
	for i := range batch {
		batch[i] = testMessage(conversation.RoleUser, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Hour))
	}
	require.NoError(t, repo.Append(ctx, "s1", batch))

	t.Run("ordered ascending", func(t *testing.T) {
		messages, err := repo.Range(ctx, "s1", conversation.RangeOptions{})
		require.NoError(t, err)
		require.Len(t, messages, 5)
		assert.Equal(t, "m0", messages[0].Content)
		assert.Equal(t, "m4", messages[4].Content)
	})

	t.Run("limit and offset", func(t *testing.T) {
		messages, err := repo.Range(ctx, "s1", conversation.RangeOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "m2", messages[0].Content)
	})

	t.Run("date bounds", func(t *testing.T) {
		messages, err := repo.Range(ctx, "s1", conversation.RangeOptions{
			Start: base.Add(time.Hour),
			End:   base.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		assert.Len(t, messages, 3)

		count, err := repo.Count(ctx, "s1", conversation.RangeOptions{Start: base.Add(4 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestMessageRepository_Cleanup(t *testing.T) {
	t.Parallel()

	repo := NewMessageRepository()
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10)
	fresh := time.Now().UTC()
	batch := []*conversation.Message{
		testMessage(conversation.RoleUser, "old-1", old),
		testMessage(conversation.RoleUser, "old-2", old),
		testMessage(conversation.RoleUser, "old-3", old),
		testMessage(conversation.RoleUser, "fresh", fresh),
	}
	require.NoError(t, repo.Append(ctx, "s1", batch))

	// The newest two are protected by count even when old
	removed, err := repo.Cleanup(ctx, "s1", time.Now().UTC().AddDate(0, 0, -5), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	messages, err := repo.Range(ctx, "s1", conversation.RangeOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "old-3", messages[0].Content)
	assert.Equal(t, "fresh", messages[1].Content)
}
