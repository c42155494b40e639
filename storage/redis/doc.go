// Package redis provides a Redis-backed storage implementation of both
// Lorebook repositories. It fits deployments that already run Redis for
// session state and accept in-memory durability semantics.
package redis
