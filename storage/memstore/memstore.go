// Package memstore provides in-memory implementations of both Lorebook
// repositories. It is the reference backend: tests run against it, and it
// serves local development where durability does not matter.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talecraft/lorebook"
	"github.com/talecraft/lorebook/conversation"
	"github.com/talecraft/lorebook/memory"
)

// MemoryRepository is an in-memory memory.Repository. Safe for concurrent
// use.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*memory.Entry
}

var _ memory.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory entry repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]*memory.Entry),
	}
}

// Insert persists a new entry
func (r *MemoryRepository) Insert(ctx context.Context, entry *memory.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry.Clone()
	return nil
}

// Get retrieves an entry by ID, active or not
func (r *MemoryRepository) Get(ctx context.Context, id string) (*memory.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, lorebook.NewNotFoundError("memory entry", id)
	}
	return entry.Clone(), nil
}

// Update overwrites a persisted entry
func (r *MemoryRepository) Update(ctx context.Context, entry *memory.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[entry.ID]; !ok {
		return lorebook.NewNotFoundError("memory entry", entry.ID)
	}
	r.entries[entry.ID] = entry.Clone()
	return nil
}

// SetActive flips the tombstone flag, reporting whether the stored value
// changed
func (r *MemoryRepository) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return false, lorebook.NewNotFoundError("memory entry", id)
	}
	if entry.Active == active {
		return false, nil
	}
	entry.Active = active
	return true, nil
}

// List returns active entries for a session ordered newest-first
func (r *MemoryRepository) List(ctx context.Context, sessionID string, opts memory.ListOptions) ([]*memory.Entry, error) {
	r.mu.RLock()
	matched := make([]*memory.Entry, 0)
	for _, entry := range r.entries {
		if !entry.Active || entry.SessionID != sessionID {
			continue
		}
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}
		matched = append(matched, entry.Clone())
	}
	r.mu.RUnlock()

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
func (r *MemoryRepository) ListActive(ctx context.Context, sessionID string) ([]*memory.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*memory.Entry, 0)
	for _, entry := range r.entries {
		if entry.Active && entry.SessionID == sessionID {
			matched = append(matched, entry.Clone())
		}
	}
	return matched, nil
}

// AllActive returns every active entry across sessions
func (r *MemoryRepository) AllActive(ctx context.Context) ([]*memory.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*memory.Entry, 0)
	for _, entry := range r.entries {
		if entry.Active {
			matched = append(matched, entry.Clone())
		}
	}
	return matched, nil
}

// Stats aggregates counts over a session's entries
func (r *MemoryRepository) Stats(ctx context.Context, sessionID string) (*memory.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &memory.Stats{
		SessionID:       sessionID,
		CountByCategory: make(map[memory.Category]int),
	}

	importanceSum := 0
	for _, entry := range r.entries {
		if entry.SessionID != sessionID {
			continue
		}
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

// MessageRepository is an in-memory conversation.Repository. Sequence
// assignment happens inside the append critical section, so concurrent
// batches never interleave internally.
type MessageRepository struct {
	mu   sync.RWMutex
	logs map[string][]*conversation.Message
	seqs map[string]int64
}

var _ conversation.Repository = (*MessageRepository)(nil)

// NewMessageRepository creates an empty in-memory message repository.
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		logs: make(map[string][]*conversation.Message),
		seqs: make(map[string]int64),
	}
}

// Append persists a batch atomically, assigning monotonic sequences
func (r *MessageRepository) Append(ctx context.Context, sessionID string, messages []*conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range messages {
		r.seqs[sessionID]++
		msg.Seq = r.seqs[sessionID]

		stored := *msg
		r.logs[sessionID] = append(r.logs[sessionID], &stored)
	}
	return nil
}

// Range returns messages ordered by sequence ascending
func (r *MessageRepository) Range(ctx context.Context, sessionID string, opts conversation.RangeOptions) ([]*conversation.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*conversation.Message, 0)
	for _, msg := range r.logs[sessionID] {
		if !inRange(msg.Timestamp, opts.Start, opts.End) {
			continue
		}
		stored := *msg
		matched = append(matched, &stored)
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
func (r *MessageRepository) Count(ctx context.Context, sessionID string, opts conversation.RangeOptions) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, msg := range r.logs[sessionID] {
		if inRange(msg.Timestamp, opts.Start, opts.End) {
			count++
		}
	}
	return count, nil
}

// Cleanup removes messages both older than the cutoff and outside the
// newest keepNewest messages
func (r *MessageRepository) Cleanup(ctx context.Context, sessionID string, olderThan time.Time, keepNewest int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.logs[sessionID]
	protectedFrom := len(log) - keepNewest

	kept := make([]*conversation.Message, 0, len(log))
	removed := 0
	for i, msg := range log {
		withinCount := i >= protectedFrom
		youngEnough := !msg.Timestamp.Before(olderThan)
		if withinCount || youngEnough {
			kept = append(kept, msg)
			continue
		}
		removed++
	}

	r.logs[sessionID] = kept
	return removed, nil
}

func inRange(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}
