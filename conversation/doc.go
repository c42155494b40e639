// Package conversation manages the append-only, session-scoped log of
// story turns.
//
// Messages enter through AddMessages, which assigns each one a
// server-side monotonic sequence so concurrent batches interleave
// deterministically without reordering inside a batch. The log is never
// edited in place; only the cleanup policy removes messages.
//
// # Reading the Log
//
//	page, err := mgr.History(ctx, conversation.HistoryOptions{
//		SessionID: "campaign-1",
//		Limit:     50,
//		Offset:    100,
//	})
//
// Pages are stable and non-overlapping: concatenating pages from offset 0
// upward reconstructs the full ordered log exactly once.
//
// Search performs case-insensitive matching and returns each hit inside a
// context window of neighboring messages, with overlapping windows merged.
//
// # Summaries and Statistics
//
// Summarize condenses a date-bounded window through the external
// summarization provider, degrading to a deterministic fallback when the
// provider stays unreachable. Stats aggregates counts per role, average
// length, duration and the busiest hour of day, entirely locally.
//
// # Cleanup
//
// Cleanup removes messages that are BOTH older than keepDays AND outside
// the newest keepCount. Satisfying either retention condition keeps a
// message, which makes the pass idempotent.
package conversation
