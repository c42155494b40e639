// Package sqlite provides a SQLite-backed storage implementation of both
// Lorebook repositories. It suits single-process deployments; use the
// ":memory:" path in tests.
package sqlite
