package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/memory"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStoreWithPool(mock), mock
}

func testEntry(id string) *memory.Entry {
	now := time.Now().UTC()
	return &memory.Entry{
		ID:         id,
		SessionID:  "s1",
		UserID:     "player-1",
		Content:    "content of " + id,
		Category:   memory.CategoryEvent,
		Importance: 7,
		Tags:       []string{"quest"},
		Embedding:  []float32{0.5, -0.25},
		CreatedAt:  now,
		UpdatedAt:  now,
		Active:     true,
	}
}

func TestStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)
	entry := testEntry("e1")

	tagsJSON, _ := json.Marshal(entry.Tags)
	embeddingJSON, _ := json.Marshal(entry.Embedding)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memory_entries")).
		WithArgs(
			entry.ID, entry.SessionID, entry.UserID, entry.Content,
			string(entry.Category), entry.Importance, tagsJSON, embeddingJSON,
			entry.CreatedAt, entry.UpdatedAt, entry.Active,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	entry := testEntry("e1")

	tagsJSON, _ := json.Marshal(entry.Tags)
	embeddingJSON, _ := json.Marshal(entry.Embedding)

	rows := pgxmock.NewRows([]string{
		"id", "session_id", "user_id", "content", "category", "importance",
		"tags", "embedding", "created_at", "updated_at", "active",
	}).AddRow(
		entry.ID, entry.SessionID, entry.UserID, entry.Content,
		string(entry.Category), entry.Importance, tagsJSON, embeddingJSON,
		entry.CreatedAt, entry.UpdatedAt, entry.Active,
	)

	mock.ExpectQuery(regexp.QuoteMeta("FROM memory_entries WHERE id = $1")).
		WithArgs(entry.ID).
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Content, got.Content)
	assert.Equal(t, entry.Category, got.Category)
	assert.Equal(t, entry.Tags, got.Tags)
	assert.Equal(t, entry.Embedding, got.Embedding)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM memory_entries WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "user_id", "content", "category", "importance",
			"tags", "embedding", "created_at", "updated_at", "active",
		}))

	_, err := store.Get(context.Background(), "ghost")
	var nerr *lorebook.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetActive(t *testing.T) {
	store, mock := newMockStore(t)

	setActiveSQL := regexp.QuoteMeta("UPDATE memory_entries SET active = $1 WHERE id = $2 AND active <> $1")

	t.Run("flips the flag", func(t *testing.T) {
		mock.ExpectExec(setActiveSQL).
			WithArgs(false, "e1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		changed, err := store.SetActive(context.Background(), "e1", false)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("flag already at target reports no change", func(t *testing.T) {
		mock.ExpectExec(setActiveSQL).
			WithArgs(false, "e1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM memory_entries WHERE id = $1")).
			WithArgs("e1").
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

		changed, err := store.SetActive(context.Background(), "e1", false)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("missing row reports not found", func(t *testing.T) {
		mock.ExpectExec(setActiveSQL).
			WithArgs(false, "ghost").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM memory_entries WHERE id = $1")).
			WithArgs("ghost").
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

		_, err := store.SetActive(context.Background(), "ghost", false)
		var nerr *lorebook.NotFoundError
		require.ErrorAs(t, err, &nerr)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendAssignsSequences(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	batch := []*conversation.Message{
		{SessionID: "s1", Role: conversation.RoleUser, Content: "one", Timestamp: now},
		{SessionID: "s1", Role: conversation.RoleAssistant, Content: "two", Timestamp: now},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("s1", "user", "one", "", now).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(41)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("s1", "assistant", "two", "", now).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(42)))
	mock.ExpectCommit()

	require.NoError(t, store.Append(context.Background(), "s1", batch))
	assert.Equal(t, int64(41), batch[0].Seq)
	assert.Equal(t, int64(42), batch[1].Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Count(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM messages WHERE session_id = $1")).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))

	count, err := store.Count(context.Background(), "s1", conversation.RangeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 12, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Cleanup(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().UTC().AddDate(0, 0, -7)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages")).
		WithArgs("s1", cutoff, 100).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := store.Cleanup(context.Background(), "s1", cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RangeAppendsBounds(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"seq", "session_id", "role", "content", "user_id", "timestamp"}).
		AddRow(int64(7), "s1", "user", "hello", "player-1", now)

	mock.ExpectQuery(regexp.QuoteMeta("AND timestamp >= $2")).
		WithArgs("s1", start, 10).
		WillReturnRows(rows)

	messages, err := store.Range(context.Background(), "s1", conversation.RangeOptions{
		Start: start,
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, int64(7), messages[0].Seq)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}
