// Package postgres provides a PostgreSQL-backed storage implementation of
// both Lorebook repositories, built on pgx. The DBPool interface lets
// tests substitute pgxmock for a real pool.
package postgres
