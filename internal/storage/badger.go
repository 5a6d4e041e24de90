package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"

	logx "streambot/pkg/logx"
)

// badgerStore keeps one key per user: "grant/<8-byte big-endian user id>",
// value is the revoke-at time as 8-byte big-endian unix milliseconds.
type badgerStore struct {
	db  *badger.DB
	log logx.Logger
}

var badgerPrefix = []byte("grant/")

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerStore{db: db, log: log}, nil
}

func (s *badgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *badgerStore) Put(ctx context.Context, userID int64, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(until.UnixMilli()))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(userID), val[:])
	})
}

func (s *badgerStore) Delete(ctx context.Context, userID int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(userID))
	})
}

func (s *badgerStore) List(ctx context.Context) ([]Grant, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var out []Grant
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(badgerPrefix)+8 {
				continue
			}
			id := int64(binary.BigEndian.Uint64(key[len(badgerPrefix):]))
			err := item.Value(func(v []byte) error {
				if len(v) != 8 {
					return nil
				}
				ms := int64(binary.BigEndian.Uint64(v))
				out = append(out, Grant{UserID: id, Until: time.UnixMilli(ms)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RunGC runs one round of badger value-log garbage collection.
// Wired to the maintenance janitor; ErrNoRewrite means nothing to do.
func (s *badgerStore) RunGC() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func badgerKey(userID int64) []byte {
	key := make([]byte, 0, len(badgerPrefix)+8)
	key = append(key, badgerPrefix...)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(userID))
	return append(key, id[:]...)
}

// GarbageCollector is implemented by drivers with background compaction
// worth scheduling (currently badger).
type GarbageCollector interface {
	RunGC() error
}
