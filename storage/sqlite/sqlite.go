package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/memory"
)

// Store implements memory.Repository and conversation.Repository backed by
// a SQLite database. Message sequences come from the messages table's
// autoincrement rowid, so they are monotonic per session without an extra
// counter table.
type Store struct {
	db *sql.DB
}

var (
	_ memory.Repository       = (*Store)(nil)
	_ conversation.Repository = (*Store)(nil)
)

// Options configuration for the SQLite connection
type Options struct {
	// Path is the database file, or ":memory:" for an in-process database.
	Path string
}

// NewStore opens the database and creates the schema if needed.
func NewStore(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
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
			tags TEXT,
			embedding TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_session ON memory_entries (session_id, active);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.SessionID, entry.UserID, entry.Content,
		string(entry.Category), entry.Importance, tagsJSON, embeddingJSON,
		entry.CreatedAt, entry.UpdatedAt, boolToInt(entry.Active),
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
		FROM memory_entries WHERE id = ?
	`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
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
		SET session_id = ?, user_id = ?, content = ?, category = ?, importance = ?,
			tags = ?, embedding = ?, created_at = ?, updated_at = ?, active = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		entry.SessionID, entry.UserID, entry.Content, string(entry.Category),
		entry.Importance, tagsJSON, embeddingJSON, entry.CreatedAt,
		entry.UpdatedAt, boolToInt(entry.Active), entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return requireRow(result, "memory entry", entry.ID)
}

// SetActive flips the tombstone flag, reporting whether the stored value
// changed. The update is conditional on the current flag, so concurrent
// flips of the same entry resolve to exactly one changed=true.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE memory_entries SET active = ? WHERE id = ? AND active != ?`,
		boolToInt(active), id, boolToInt(active),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set active flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to set active flag: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Zero rows covers both an entry already at the target value and a
	// missing entry; look the row up to tell them apart.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM memory_entries WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
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
		WHERE session_id = ? AND active = 1
	`
	args := []any{sessionID}
	if opts.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(opts.Category))
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, opts.Offset)
	}

	return s.queryEntries(ctx, query, args...)
}

// ListActive returns every active entry for a session
func (s *Store) ListActive(ctx context.Context, sessionID string) ([]*memory.Entry, error) {
	query := `
		SELECT id, session_id, user_id, content, category, importance, tags, embedding, created_at, updated_at, active
		FROM memory_entries
		WHERE session_id = ? AND active = 1
	`
	return s.queryEntries(ctx, query, sessionID)
}

// AllActive returns every active entry across sessions
func (s *Store) AllActive(ctx context.Context) ([]*memory.Entry, error) {
	query := `
		SELECT id, session_id, user_id, content, category, importance, tags, embedding, created_at, updated_at, active
		FROM memory_entries
		WHERE active = 1
	`
	return s.queryEntries(ctx, query)
}

// Stats aggregates counts over a session's entries
func (s *Store) Stats(ctx context.Context, sessionID string) (*memory.Stats, error) {
	stats := &memory.Stats{
		SessionID:       sessionID,
		CountByCategory: make(map[memory.Category]int),
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE session_id = ?`, sessionID)
	if err := row.Scan(&stats.TotalCount); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*), SUM(importance)
		FROM memory_entries
		WHERE session_id = ? AND active = 1
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range messages {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, user_id, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`, sessionID, string(msg.Role), msg.Content, msg.UserID, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		seq, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message sequence: %w", err)
		}
		msg.Seq = seq
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// Range returns messages ordered by sequence ascending
func (s *Store) Range(ctx context.Context, sessionID string, opts conversation.RangeOptions) ([]*conversation.Message, error) {
	query := `
		SELECT seq, session_id, role, content, user_id, timestamp
		FROM messages
		WHERE session_id = ?
	`
	args := []any{sessionID}
	query, args = appendDateBounds(query, args, opts)
	query += ` ORDER BY seq ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	query := `SELECT COUNT(*) FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	query, args = appendDateBounds(query, args, opts)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Cleanup removes messages both older than the cutoff and outside the
// newest keepNewest messages
func (s *Store) Cleanup(ctx context.Context, sessionID string, olderThan time.Time, keepNewest int) (int, error) {
	query := `
		DELETE FROM messages
		WHERE session_id = ? AND timestamp < ?
			AND seq NOT IN (
				SELECT seq FROM messages WHERE session_id = ?
				ORDER BY seq DESC LIMIT ?
			)
	`
	result, err := s.db.ExecContext(ctx, query, sessionID, olderThan, sessionID, keepNewest)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up messages: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed messages: %w", err)
	}
	return int(removed), nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*memory.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	var tagsJSON, embeddingJSON sql.NullString
	var active int

	err := row.Scan(&entry.ID, &entry.SessionID, &entry.UserID, &entry.Content,
		&category, &entry.Importance, &tagsJSON, &embeddingJSON,
		&entry.CreatedAt, &entry.UpdatedAt, &active)
	if err != nil {
		return nil, err
	}

	entry.Category = memory.Category(category)
	entry.Active = active != 0
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &entry.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &entry.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return entry, nil
}

func encodeEntryBlobs(entry *memory.Entry) (tagsJSON, embeddingJSON string, err error) {
	if entry.Tags != nil {
		data, err := json.Marshal(entry.Tags)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode tags: %w", err)
		}
		tagsJSON = string(data)
	}
	if entry.Embedding != nil {
		data, err := json.Marshal(entry.Embedding)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode embedding: %w", err)
		}
		embeddingJSON = string(data)
	}
	return tagsJSON, embeddingJSON, nil
}

func appendDateBounds(query string, args []any, opts conversation.RangeOptions) (string, []any) {
	if !opts.Start.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, opts.Start)
	}
	if !opts.End.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, opts.End)
	}
	return query, args
}

func requireRow(result sql.Result, kind, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return lorebook.NewNotFoundError(kind, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
