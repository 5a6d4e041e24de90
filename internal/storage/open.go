package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "streambot/pkg/logx"
)

// Store is the durable record API used by the expiry scheduler.
//
// All operations are per-user; no cross-key transactional guarantee is
// offered or needed. Put and Delete are idempotent.
type Store interface {
	Put(ctx context.Context, userID int64, until time.Time) error
	Delete(ctx context.Context, userID int64) error
	// List returns a finite, unordered snapshot of all records.
	// Used only during startup reconciliation.
	List(ctx context.Context) ([]Grant, error)
	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "badger":
		return openBadger(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
