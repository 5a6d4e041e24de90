package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "badger": embedded BadgerDB directory
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Grant is one persisted revocation obligation: revoke the capability from
// UserID at Until. The action itself is not persisted; it is rebuilt from
// UserID at reload time.
type Grant struct {
	UserID int64
	Until  time.Time
}
