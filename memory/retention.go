package memory

import (
	"context"
	"fmt"

	"github.com/talecraft/lorebook"
)

// CleanupMemories enforces the retention policy for a session: entries
// below minImportance are always eligible for removal regardless of
// recency; the remainder are sorted by importance (descending) then recency
// (descending) and only the top keepCount survive. Removed entries are
// soft-deleted and leave the similarity index.
//
// Returns the number of entries removed. Idempotent: a second run with the
// same arguments removes zero additional entries.
func (s *Store) CleanupMemories(ctx context.Context, sessionID string, keepCount, minImportance int) (int, error) {
	if keepCount < 0 {
		return 0, lorebook.NewValidationError("keep_count", "must not be negative")
	}
	if minImportance < 0 || minImportance > MaxImportance {
		return 0, lorebook.NewValidationError("min_importance",
			fmt.Sprintf("must be within [0,%d], got %d", MaxImportance, minImportance))
	}

	entries, err := s.repo.ListActive(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session entries: %w", err)
	}

	var evict []*Entry
	var survivors []*Entry
	for _, entry := range entries {
		if entry.Importance < minImportance {
			evict = append(evict, entry)
			continue
		}
		survivors = append(survivors, entry)
	}

	sortByImportance(survivors)
	if keepCount < len(survivors) {
		evict = append(evict, survivors[keepCount:]...)
	}

	removed := 0
	for _, entry := range evict {
		changed, err := s.repo.SetActive(ctx, entry.ID, false)
		if err != nil {
			return removed, fmt.Errorf("failed to evict memory %s: %w", entry.ID, err)
		}
		s.index.Remove(entry.ID)
		// A concurrent pass may have evicted this entry between our
		// snapshot and the flip; only count flips this pass performed.
		if changed {
			removed++
		}
	}

	if removed > 0 {
		s.config.Logger.Info("retention removed %d memories from session %s (keep=%d, floor=%d)",
			removed, sessionID, keepCount, minImportance)
	}
	return removed, nil
}
