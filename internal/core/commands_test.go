package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"streambot/internal/adapters/telegram"
	"streambot/internal/config"
	"streambot/internal/expiry"
	"streambot/internal/storage"
	logx "streambot/pkg/logx"
)

const (
	modID    = int64(1)
	targetID = int64(100)
)

type memStore struct {
	mu     sync.Mutex
	grants map[int64]time.Time
}

func newMemStore() *memStore { return &memStore{grants: map[int64]time.Time{}} }

func (s *memStore) Put(ctx context.Context, userID int64, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[userID] = until
	return nil
}

func (s *memStore) Delete(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, userID)
	return nil
}

func (s *memStore) List(ctx context.Context) ([]storage.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Grant, 0, len(s.grants))
	for id, until := range s.grants {
		out = append(out, storage.Grant{UserID: id, Until: until})
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) has(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.grants[userID]
	return ok
}

type fakeRights struct {
	mu        sync.Mutex
	video     map[int64]bool
	departed  map[int64]bool
	usernames map[string]int64
	grants    int
	revokes   int
}

func newFakeRights() *fakeRights {
	return &fakeRights{
		video:     map[int64]bool{},
		departed:  map[int64]bool{},
		usernames: map[string]int64{},
	}
}

func (f *fakeRights) CheckMember(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.departed[userID] {
		return telegram.ErrMemberNotFound
	}
	return nil
}

func (f *fakeRights) HasVideo(ctx context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.departed[userID] {
		return false, telegram.ErrMemberNotFound
	}
	return f.video[userID], nil
}

func (f *fakeRights) GrantVideo(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video[userID] = true
	f.grants++
	return nil
}

func (f *fakeRights) RevokeVideo(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video[userID] = false
	f.revokes++
	return nil
}

func (f *fakeRights) UserIDByUsername(ctx context.Context, username string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.usernames[username]
	if !ok {
		return 0, telegram.ErrMemberNotFound
	}
	return id, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.Telegram{ModeratorIDs: []int64{modID}},
		Video:    config.Video{DefaultDuration: "1h"},
	}
}

func newTestCommands(t *testing.T) (*Commands, *fakeRights, *memStore, *expiry.Scheduler) {
	t.Helper()
	store := newMemStore()
	rights := newFakeRights()
	sched := expiry.New(store, logx.Nop(), nil, expiry.Config{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})
	cfg := testConfig()
	cmds := NewCommands(logx.Nop(), rights, sched, store, func() *config.Config { return cfg })
	return cmds, rights, store, sched
}

func msg(from int64, payload string) telegram.Message {
	return telegram.Message{ChatID: -100, FromID: from, Payload: payload}
}

func TestStreamGrantsAndArms(t *testing.T) {
	cmds, rights, store, sched := newTestCommands(t)

	reply, err := cmds.Stream(context.Background(), msg(modID, "100 2h"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !strings.Contains(reply, "can now stream") {
		t.Fatalf("reply = %q", reply)
	}
	if got, _ := rights.HasVideo(context.Background(), targetID); !got {
		t.Fatal("video permission not granted")
	}
	if !sched.IsPending(targetID) {
		t.Fatal("no pending revocation")
	}
	if !store.has(targetID) {
		t.Fatal("no persisted record")
	}
}

func TestStreamIgnoresNonModerator(t *testing.T) {
	cmds, rights, _, sched := newTestCommands(t)

	reply, err := cmds.Stream(context.Background(), msg(999, "100 2h"))
	if err != nil || reply != "" {
		t.Fatalf("reply=%q err=%v, want silence", reply, err)
	}
	if rights.grants != 0 || sched.IsPending(targetID) {
		t.Fatal("non-moderator command had effect")
	}
}

func TestStreamAlreadyAllowed(t *testing.T) {
	cmds, rights, _, sched := newTestCommands(t)
	rights.video[targetID] = true

	reply, err := cmds.Stream(context.Background(), msg(modID, "100"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !strings.Contains(reply, "already") {
		t.Fatalf("reply = %q", reply)
	}
	if sched.IsPending(targetID) {
		t.Fatal("revocation armed for an already-permitted user")
	}
}

func TestStreamAlreadyAllowedWithPendingGrant(t *testing.T) {
	cmds, rights, store, sched := newTestCommands(t)

	if _, err := cmds.Stream(context.Background(), msg(modID, "100 2h")); err != nil {
		t.Fatalf("stream: %v", err)
	}
	recorded, err := store.List(context.Background())
	if err != nil || len(recorded) != 1 {
		t.Fatalf("records = %v, err = %v", recorded, err)
	}

	// A second /stream must not touch the existing grant, and the reply
	// must not advertise the deadline of a request that was never armed.
	reply, err := cmds.Stream(context.Background(), msg(modID, "100 5h"))
	if err != nil {
		t.Fatalf("second stream: %v", err)
	}
	if !strings.Contains(reply, "already") || strings.Contains(reply, "until") {
		t.Fatalf("reply = %q", reply)
	}
	after, err := store.List(context.Background())
	if err != nil || len(after) != 1 || !after[0].Until.Equal(recorded[0].Until) {
		t.Fatalf("due time changed: %v -> %v (err %v)", recorded, after, err)
	}
	if !sched.IsPending(targetID) {
		t.Fatal("original revocation lost")
	}
	if rights.grants != 1 {
		t.Fatalf("grants = %d, want 1", rights.grants)
	}
}

func TestStreamRejectsBadExpiry(t *testing.T) {
	cmds, _, _, sched := newTestCommands(t)

	reply, err := cmds.Stream(context.Background(), msg(modID, "100 whenever"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !strings.Contains(reply, "Cannot parse expiry") {
		t.Fatalf("reply = %q", reply)
	}
	if sched.IsPending(targetID) {
		t.Fatal("revocation armed despite bad expiry")
	}
}

func TestStreamRejectsPastAbsoluteExpiry(t *testing.T) {
	cmds, rights, store, sched := newTestCommands(t)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	reply, err := cmds.Stream(context.Background(), msg(modID, "100 "+past))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !strings.Contains(reply, "Cannot parse expiry") {
		t.Fatalf("reply = %q", reply)
	}
	// An elapsed deadline must never hand out an untracked permission.
	if rights.grants != 0 {
		t.Fatal("permission granted for a past expiry")
	}
	if sched.IsPending(targetID) || store.has(targetID) {
		t.Fatal("revocation armed for a past expiry")
	}
}

func TestStreamTargetFromReply(t *testing.T) {
	cmds, _, _, sched := newTestCommands(t)

	m := msg(modID, "30m")
	m.ReplyToUserID = targetID
	if _, err := cmds.Stream(context.Background(), m); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !sched.IsPending(targetID) {
		t.Fatal("no pending revocation for replied-to user")
	}
}

func TestStreamTargetByUsername(t *testing.T) {
	cmds, rights, _, sched := newTestCommands(t)
	rights.usernames["@streamer"] = targetID

	if _, err := cmds.Stream(context.Background(), msg(modID, "@streamer 30m")); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !sched.IsPending(targetID) {
		t.Fatal("no pending revocation for username target")
	}
}

func TestPermanentStreamUpgradesTemporary(t *testing.T) {
	cmds, rights, store, sched := newTestCommands(t)

	if _, err := cmds.Stream(context.Background(), msg(modID, "100 2h")); err != nil {
		t.Fatalf("stream: %v", err)
	}
	reply, err := cmds.PermanentStream(context.Background(), msg(modID, "100"))
	if err != nil {
		t.Fatalf("pstream: %v", err)
	}
	if !strings.Contains(reply, "permanent") {
		t.Fatalf("reply = %q", reply)
	}
	if sched.IsPending(targetID) {
		t.Fatal("revocation still pending after upgrade")
	}
	if store.has(targetID) {
		t.Fatal("record kept after upgrade")
	}
	if got, _ := rights.HasVideo(context.Background(), targetID); !got {
		t.Fatal("permission lost during upgrade")
	}
}

func TestUnstreamRevokesTemporary(t *testing.T) {
	cmds, rights, store, sched := newTestCommands(t)

	if _, err := cmds.Stream(context.Background(), msg(modID, "100 2h")); err != nil {
		t.Fatalf("stream: %v", err)
	}
	reply, err := cmds.Unstream(context.Background(), msg(modID, "100"))
	if err != nil {
		t.Fatalf("unstream: %v", err)
	}
	if !strings.Contains(reply, "Revoked") {
		t.Fatalf("reply = %q", reply)
	}
	if sched.IsPending(targetID) || store.has(targetID) {
		t.Fatal("state left behind after unstream")
	}
	if got, _ := rights.HasVideo(context.Background(), targetID); got {
		t.Fatal("permission not revoked")
	}
}

func TestUnstreamWithoutPermission(t *testing.T) {
	cmds, _, _, _ := newTestCommands(t)

	reply, err := cmds.Unstream(context.Background(), msg(modID, "100"))
	if err != nil {
		t.Fatalf("unstream: %v", err)
	}
	if !strings.Contains(reply, "does not have") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestResolveDepartedMember(t *testing.T) {
	cmds, rights, _, _ := newTestCommands(t)
	rights.departed[targetID] = true

	if _, err := cmds.Resolve(context.Background(), targetID); err != expiry.ErrNotFound {
		t.Fatalf("resolve err = %v, want ErrNotFound", err)
	}

	rights.departed[targetID] = false
	action, err := cmds.Resolve(context.Background(), targetID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := action(context.Background()); err != nil {
		t.Fatalf("action: %v", err)
	}
	if rights.revokes != 1 {
		t.Fatalf("revokes = %d, want 1", rights.revokes)
	}
}
