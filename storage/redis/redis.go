package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/memory"
)

// Store implements memory.Repository and conversation.Repository using
// Redis. Entries live as JSON values indexed by per-session sets; messages
// live in a per-session sorted set scored by sequence, with sequences
// reserved in blocks from an INCRBY counter so batches stay contiguous.
type Store struct {
	client *redis.Client
	prefix string
}

var (
	_ memory.Repository       = (*Store)(nil)
	_ conversation.Repository = (*Store)(nil)
)

// Options configuration for the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Key prefix, default "lorebook:"
}

// NewStore creates a Redis-backed store.
func NewStore(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewStoreWithClient(client, opts.Prefix)
}

// NewStoreWithClient creates a store around an existing client.
// Useful for testing with miniredis
func NewStoreWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "lorebook:"
	}
	return &Store{client: client, prefix: prefix}
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) entryKey(id string) string {
	return fmt.Sprintf("%sentry:%s", s.prefix, id)
}

func (s *Store) sessionEntriesKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:entries", s.prefix, sessionID)
}

func (s *Store) allEntriesKey() string {
	return s.prefix + "entries"
}

func (s *Store) messagesKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:messages", s.prefix, sessionID)
}

func (s *Store) seqKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:seq", s.prefix, sessionID)
}

// Insert persists a new entry
func (s *Store) Insert(ctx context.Context, entry *memory.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.entryKey(entry.ID), data, 0)
	pipe.SAdd(ctx, s.sessionEntriesKey(entry.SessionID), entry.ID)
	pipe.SAdd(ctx, s.allEntriesKey(), entry.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save entry to redis: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID, active or not
func (s *Store) Get(ctx context.Context, id string) (*memory.Entry, error) {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if err == redis.Nil {
		return nil, lorebook.NewNotFoundError("memory entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry from redis: %w", err)
	}

	var entry memory.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Update overwrites a persisted entry
func (s *Store) Update(ctx context.Context, entry *memory.Entry) error {
	exists, err := s.client.Exists(ctx, s.entryKey(entry.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check entry existence: %w", err)
	}
	if exists == 0 {
		return lorebook.NewNotFoundError("memory entry", entry.ID)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.entryKey(entry.ID), data, 0)
	pipe.SAdd(ctx, s.sessionEntriesKey(entry.SessionID), entry.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save entry to redis: %w", err)
	}
	return nil
}

// SetActive flips the tombstone flag, reporting whether the stored value
// changed. The read-modify-write runs under WATCH, so concurrent flips of
// the same entry resolve to exactly one changed=true.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	key := s.entryKey(id)
	changed := false

	flip := func(tx *redis.Tx) error {
		changed = false

		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return lorebook.NewNotFoundError("memory entry", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load entry from redis: %w", err)
		}

		var entry memory.Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		if entry.Active == active {
			return nil
		}
		entry.Active = active

		updated, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		changed = true
		return nil
	}

	for {
		err := s.client.Watch(ctx, flip, key)
		if err == redis.TxFailedErr {
			continue // key changed under us, retry against the new value
		}
		if err != nil {
			return false, err
		}
		return changed, nil
	}
}

// List returns active entries for a session ordered newest-first
func (s *Store) List(ctx context.Context, sessionID string, opts memory.ListOptions) ([]*memory.Entry, error) {
	entries, err := s.sessionEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	matched := make([]*memory.Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Active {
			continue
		}
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}
		matched = append(matched, entry)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if opts.Offset >= len(matched) {
		return []*memory.Entry{}, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// ListActive returns every active entry for a session
func (s *Store) ListActive(ctx context.Context, sessionID string) ([]*memory.Entry, error) {
	entries, err := s.sessionEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	matched := make([]*memory.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Active {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

// AllActive returns every active entry across sessions
func (s *Store) AllActive(ctx context.Context) ([]*memory.Entry, error) {
	ids, err := s.client.SMembers(ctx, s.allEntriesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entry ids: %w", err)
	}

	entries, err := s.fetchEntries(ctx, ids)
	if err != nil {
		return nil, err
	}

	matched := make([]*memory.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Active {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

// Stats aggregates counts over a session's entries
func (s *Store) Stats(ctx context.Context, sessionID string) (*memory.Stats, error) {
	entries, err := s.sessionEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats := &memory.Stats{
		SessionID:       sessionID,
		CountByCategory: make(map[memory.Category]int),
	}
	importanceSum := 0
	for _, entry := range entries {
		stats.TotalCount++
		if !entry.Active {
			continue
		}
		stats.ActiveCount++
		stats.CountByCategory[entry.Category]++
		importanceSum += entry.Importance
	}
	if stats.ActiveCount > 0 {
		stats.AverageImportance = float64(importanceSum) / float64(stats.ActiveCount)
	}
	return stats, nil
}

// Append persists a batch atomically, assigning monotonic sequences
func (s *Store) Append(ctx context.Context, sessionID string, messages []*conversation.Message) error {
	if len(messages) == 0 {
		return nil
	}

	// Reserve a contiguous block of sequences for the whole batch.
	maxSeq, err := s.client.IncrBy(ctx, s.seqKey(sessionID), int64(len(messages))).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve sequences: %w", err)
	}
	firstSeq := maxSeq - int64(len(messages)) + 1

	pipe := s.client.Pipeline()
	for i, msg := range messages {
		msg.Seq = firstSeq + int64(i)
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		pipe.ZAdd(ctx, s.messagesKey(sessionID), redis.Z{
			Score:  float64(msg.Seq),
			Member: string(data),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save messages to redis: %w", err)
	}
	return nil
}

// Range returns messages ordered by sequence ascending
func (s *Store) Range(ctx context.Context, sessionID string, opts conversation.RangeOptions) ([]*conversation.Message, error) {
	matched, err := s.rangeMessages(ctx, sessionID, opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*conversation.Message{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Count returns the number of messages within the date bounds
func (s *Store) Count(ctx context.Context, sessionID string, opts conversation.RangeOptions) (int, error) {
	matched, err := s.rangeMessages(ctx, sessionID, opts.Start, opts.End)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Cleanup removes messages both older than the cutoff and outside the
// newest keepNewest messages
func (s *Store) Cleanup(ctx context.Context, sessionID string, olderThan time.Time, keepNewest int) (int, error) {
	members, err := s.client.ZRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to load messages from redis: %w", err)
	}

	protectedFrom := len(members) - keepNewest
	toRemove := make([]any, 0)
	for i, member := range members {
		if i >= protectedFrom {
			break
		}
		var msg conversation.Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			return 0, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if msg.Timestamp.Before(olderThan) {
			toRemove = append(toRemove, member)
		}
	}

	if len(toRemove) == 0 {
		return 0, nil
	}
	removed, err := s.client.ZRem(ctx, s.messagesKey(sessionID), toRemove...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to remove messages from redis: %w", err)
	}
	return int(removed), nil
}

func (s *Store) sessionEntries(ctx context.Context, sessionID string) ([]*memory.Entry, error) {
	ids, err := s.client.SMembers(ctx, s.sessionEntriesKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entry ids: %w", err)
	}

	entries, err := s.fetchEntries(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Index sets can hold stale members after a session change; trust the
	// entry payload.
	matched := make([]*memory.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.SessionID == sessionID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (s *Store) fetchEntries(ctx context.Context, ids []string) ([]*memory.Entry, error) {
	if len(ids) == 0 {
		return []*memory.Entry{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.entryKey(id))
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entries: %w", err)
	}

	entries := make([]*memory.Entry, 0, len(results))
	for _, result := range results {
		data, ok := result.(string)
		if !ok {
			continue // expired or deleted key
		}
		var entry memory.Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *Store) rangeMessages(ctx context.Context, sessionID string, start, end time.Time) ([]*conversation.Message, error) {
	members, err := s.client.ZRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages from redis: %w", err)
	}

	matched := make([]*conversation.Message, 0, len(members))
	for _, member := range members {
		var msg conversation.Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if !start.IsZero() && msg.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && msg.Timestamp.After(end) {
			continue
		}
		matched = append(matched, &msg)
	}
	return matched, nil
}
