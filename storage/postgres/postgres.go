package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/memory"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements memory.Repository and conversation.Repository using
// PostgreSQL. Message sequences come from a BIGSERIAL column, assigned
// inside a transaction so a batch stays contiguous.
type Store struct {
	pool DBPool
}

var (
	_ memory.Repository       = (*Store)(nil)
	_ conversation.Repository = (*Store)(nil)
)

// Options configuration for the Postgres connection
type Options struct {
	ConnString string
}

// NewStore creates a store with its own connection pool.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool creates a store with an existing pool.
// Useful for testing with mocks
func NewStoreWithPool(pool DBPool) *Store {
	return &Store{pool: pool}
}

// InitSchema creates the necessary tables if they don't exist
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			importance INTEGER NOT NULL,
			tags JSONB,
			embedding JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_session ON memory_entries (session_id, active);

		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Insert persists a new entry
func (s *Store) Insert(ctx context.Context, entry *memory.Entry) error {
	tagsJSON, embeddingJSON, err := encodeEntryBlobs(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO memory_entries
			(id, session_id, user_id, content, category, importance, tags, embedding, created_at, updated_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.pool.Exec(ctx, query,
		entry.ID, entry.SessionID, entry.UserID, entry.Content,
		string(entry.Category), entry.Importance, tagsJSON, embeddingJSON,
		entry.CreatedAt, entry.UpdatedAt, entry.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID, active or not
func (s *Store) Get(ctx context.Context, id string) (*memory.Entry, error) {
	query := `
		SELECT id, session_id, user_id, content, category, importance, tags, embedding, created_at, updated_at, active
		FROM memory_entries WHERE id = $1
	`
	entry, err := scanEntry(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lorebook.NewNotFoundError("memory entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return entry, nil
}

// Update overwrites a persisted entry
func (s *Store) Update(ctx context.Context, entry *memory.Entry) error {
	tagsJSON, embeddingJSON, err := encodeEntryBlobs(entry)
	if err != nil {
		return err
	}

	query := `
		UPDATE memory_entries
		SET session_id = $1, user_id = $2, content = $3, category = $4, importance = $5,
			tags = $6, embedding = $7, created_at = $8, updated_at = $9, active = $10
		WHERE id = $11
	`
	tag, err := s.pool.Exec(ctx, query,
		entry.SessionID, entry.UserID, entry.Content, string(entry.Category),
		entry.Importance, tagsJSON, embeddingJSON, entry.CreatedAt,
		entry.UpdatedAt, entry.Active, entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lorebook.NewNotFoundError("memory entry", entry.ID)
	}
	return nil
}

// SetActive flips the tombstone flag, reporting whether the stored value
// changed. The update is conditional on the current flag, so concurrent
// flips of the same entry resolve to exactly one changed=true.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_entries SET active = $1 WHERE id = $2 AND active <> $1`, active, id)
	if err != nil {
		return false, fmt.Errorf("failed to set active flag: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Zero rows covers both an entry already at the target value and a
	// missing entry; look the row up to tell them apart.
	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM memory_entries WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, lorebook.NewNotFoundError("memory entry", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to set active flag: %w", err)
	}
	return false, nil
}

// List returns active entries for a session ordered newest-first
func (s *Store) List(ctx context.Context, sessionID string, opts memory.ListOptions) ([]*memory.Entry, error) {
	query := `
		SELECT id, session_id, user_id, content, category, importance, tags, embedding, created_at, updated_at, active
		FROM memory_entries
		WHERE session_id = $1 AND active
	`
	args := []any{sessionID}
	if opts.Category != "" {
		args = append(args, string(opts.Category))
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	return s.queryEntries(ctx, query, args...)
}

// ListActive returns every active entry for a session
func (s *Store) ListActive(ctx context.Context, sessionID string) ([]*memory.Entry, error) {
	query := `
		SELECT id, session_id, user_id, content, category, importance, tags, embedding, created_at, updated_at, active
		FROM memory_entries
		WHERE session_id = $1 AND active
	`
	return s.queryEntries(ctx, query, sessionID)
}

// AllActive returns every active entry across sessions
func (s *Store) AllActive(ctx context.Context) ([]*memory.Entry, error) {
	query := `
		SELECT id, session_id, user_id, content, category, importance, tags, embedding, created_at, updated_at, active
		FROM memory_entries
		WHERE active
	`
	return s.queryEntries(ctx, query)
}

// Stats aggregates counts over a session's entries
func (s *Store) Stats(ctx context.Context, sessionID string) (*memory.Stats, error) {
	stats := &memory.Stats{
		SessionID:       sessionID,
		CountByCategory: make(map[memory.Category]int),
	}

	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE session_id = $1`, sessionID)
	if err := row.Scan(&stats.TotalCount); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT category, COUNT(*), SUM(importance)
		FROM memory_entries
		WHERE session_id = $1 AND active
		GROUP BY category
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate entries: %w", err)
	}
	defer rows.Close()

	importanceSum := 0
	for rows.Next() {
		var category string
		var count, sum int
		if err := rows.Scan(&category, &count, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		stats.CountByCategory[memory.Category(category)] = count
		stats.ActiveCount += count
		importanceSum += sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read aggregate rows: %w", err)
	}

	if stats.ActiveCount > 0 {
		stats.AverageImportance = float64(importanceSum) / float64(stats.ActiveCount)
	}
	return stats, nil
}

// Append persists a batch atomically, assigning monotonic sequences
func (s *Store) Append(ctx context.Context, sessionID string, messages []*conversation.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range messages {
		row := tx.QueryRow(ctx, `
			INSERT INTO messages (session_id, role, content, user_id, timestamp)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING seq
		`, sessionID, string(msg.Role), msg.Content, msg.UserID, msg.Timestamp)
		if err := row.Scan(&msg.Seq); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// Range returns messages ordered by sequence ascending
func (s *Store) Range(ctx context.Context, sessionID string, opts conversation.RangeOptions) ([]*conversation.Message, error) {
	query := `
		SELECT seq, session_id, role, content, user_id, timestamp
		FROM messages
		WHERE session_id = $1
	`
	args := []any{sessionID}
	query, args = appendDateBounds(query, args, opts)
	query += ` ORDER BY seq ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*conversation.Message, 0)
	for rows.Next() {
		msg := &conversation.Message{}
		var role string
		if err := rows.Scan(&msg.Seq, &msg.SessionID, &role, &msg.Content, &msg.UserID, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = conversation.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

// Count returns the number of messages within the date bounds
func (s *Store) Count(ctx context.Context, sessionID string, opts conversation.RangeOptions) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE session_id = $1`
	args := []any{sessionID}
	query, args = appendDateBounds(query, args, opts)

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Cleanup removes messages both older than the cutoff and outside the
// newest keepNewest messages
func (s *Store) Cleanup(ctx context.Context, sessionID string, olderThan time.Time, keepNewest int) (int, error) {
	query := `
		DELETE FROM messages
		WHERE session_id = $1 AND timestamp < $2
			AND seq NOT IN (
				SELECT seq FROM messages WHERE session_id = $1
				ORDER BY seq DESC LIMIT $3
			)
	`
	tag, err := s.pool.Exec(ctx, query, sessionID, olderThan, keepNewest)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*memory.Entry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*memory.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*memory.Entry, error) {
	entry := &memory.Entry{}
	var category string
	var tagsJSON, embeddingJSON []byte

	err := row.Scan(&entry.ID, &entry.SessionID, &entry.UserID, &entry.Content,
		&category, &entry.Importance, &tagsJSON, &embeddingJSON,
		&entry.CreatedAt, &entry.UpdatedAt, &entry.Active)
	if err != nil {
		return nil, err
	}

	entry.Category = memory.Category(category)
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &entry.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &entry.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return entry, nil
}

func encodeEntryBlobs(entry *memory.Entry) (tagsJSON, embeddingJSON []byte, err error) {
	if entry.Tags != nil {
		tagsJSON, err = json.Marshal(entry.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode tags: %w", err)
		}
	}
	if entry.Embedding != nil {
		embeddingJSON, err = json.Marshal(entry.Embedding)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode embedding: %w", err)
		}
	}
	return tagsJSON, embeddingJSON, nil
}

func appendDateBounds(query string, args []any, opts conversation.RangeOptions) (string, []any) {
	if !opts.Start.IsZero() {
		args = append(args, opts.Start)
		query += fmt.Sprintf(` AND timestamp >= $%d`, len(args))
	}
	if !opts.End.IsZero() {
		args = append(args, opts.End)
		query += fmt.Sprintf(` AND timestamp <= $%d`, len(args))
	}
	return query, args
}
