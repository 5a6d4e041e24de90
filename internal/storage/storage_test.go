package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "streambot/pkg/logx"
)

func openTestStore(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s store: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func listMap(t *testing.T, st Store) map[int64]time.Time {
	t.Helper()
	grants, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	out := map[int64]time.Time{}
	for _, g := range grants {
		out[g.UserID] = g.Until
	}
	return out
}

func testDriver(t *testing.T, driver string) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "grants.db")

	st := openTestStore(t, driver, path)

	until1 := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	until2 := until1.Add(30 * time.Minute)

	if err := st.Put(ctx, 100, until1); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Put(ctx, 200, until2); err != nil {
		t.Fatalf("put: %v", err)
	}

	got := listMap(t, st)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if !got[100].Equal(until1) {
		t.Fatalf("user 100 until = %v, want %v", got[100], until1)
	}

	// Put is an upsert.
	if err := st.Put(ctx, 100, until2); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	if got := listMap(t, st); !got[100].Equal(until2) {
		t.Fatalf("user 100 until = %v after upsert, want %v", got[100], until2)
	}

	// Delete is idempotent, including for unknown keys.
	if err := st.Delete(ctx, 100); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, 100); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if err := st.Delete(ctx, 9999); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	if got := listMap(t, st); len(got) != 1 {
		t.Fatalf("got %d records after delete, want 1", len(got))
	}

	// Records survive a close/reopen cycle.
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	st2 := openTestStore(t, driver, path)
	got = listMap(t, st2)
	if len(got) != 1 || !got[200].Equal(until2) {
		t.Fatalf("after reopen got %v, want user 200 at %v", got, until2)
	}
}

func TestSQLiteStore(t *testing.T) { testDriver(t, "sqlite") }

func TestFileStore(t *testing.T) { testDriver(t, "file") }

func TestBadgerStore(t *testing.T) { testDriver(t, "badger") }

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "etcd", Path: "x"}, logx.Nop())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
