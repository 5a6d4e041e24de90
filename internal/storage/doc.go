// Package storage persists pending revocation deadlines across restarts.
//
// The schema is a single key/value mapping: Telegram user ID -> revoke-at
// timestamp (unix milliseconds). The expiry scheduler is the only writer;
// everything here is a thin driver behind the Store interface.
//
// Drivers:
//   - "sqlite": SQLite database file (default)
//   - "badger": embedded BadgerDB directory
//   - "file": dependency-free jsonl journal + snapshot
//   - "postgres": shared PostgreSQL database (DSN required)
package storage
