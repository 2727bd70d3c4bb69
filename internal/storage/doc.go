// Package storage persists what a restart needs to pick up where it left off:
// active event snapshots (with their counts), the scheduler's retained
// next-start/next-end pairs, and the append-only history of event results.
//
// Drivers: "file" (JSON snapshot + JSON Lines), "sqlite" (modernc.org/sqlite)
// and "postgres" (pgx pool).
package storage
