// Package store persists ledger snapshots in a SQL database.
//
// A snapshot is one row per account holding its ordered bucket sequence, plus
// the global scalars: locked supply, the shutdown flag, and the last WAL
// sequence the snapshot covers. Save replaces the whole snapshot inside one
// transaction, so a reader always sees a complete snapshot.
//
// SQLite (github.com/mattn/go-sqlite3) is the default embedded backend;
// PostgreSQL (github.com/lib/pq) is supported for shared deployments.
package store
