package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"streambot/internal/observability/metrics"
	"streambot/internal/storage"
	logx "streambot/pkg/logx"
)

var (
	// ErrNotFound is returned by a Resolver when the user is no longer a
	// member of the moderated chat. Expected and non-fatal: the pending
	// revocation is moot and its record gets pruned.
	ErrNotFound = errors.New("member not found")

	// ErrStopped is returned by Arm after Stop.
	ErrStopped = errors.New("expiry scheduler stopped")
)

// Action is the deferred unit of work bound to one user at arm time.
// Its own failures are logged but otherwise opaque to the scheduler.
type Action func(ctx context.Context) error

// Resolver rebuilds the action for a persisted record at reload time.
// It returns ErrNotFound when the user left the chat; any other error is
// treated as transient and leaves the record untouched.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (Action, error)
}

// Gate blocks reconciliation until member lookups are usable.
type Gate interface {
	AwaitReady(ctx context.Context) error
}

type Config struct {
	// FireTimeout bounds one revocation action. 0 disables the bound.
	FireTimeout time.Duration
}

// Scheduler holds at most one pending revocation per user ID and keeps the
// in-memory timer set consistent with the storage records.
type Scheduler struct {
	log   logx.Logger
	store storage.Store
	met   *metrics.Set
	cfg   Config

	runCtx    context.Context
	runCancel context.CancelFunc

	// mu guards pending, locks and closed. Held briefly; never across I/O.
	mu      sync.Mutex
	pending map[int64]*grant
	locks   map[int64]*userLock
	closed  bool

	fires sync.WaitGroup
}

type grant struct {
	userID int64
	dueAt  time.Time
	timer  *time.Timer
	action Action
}

func New(store storage.Store, log logx.Logger, met *metrics.Set, cfg Config) *Scheduler {
	if met == nil {
		met = metrics.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:       log,
		store:     store,
		met:       met,
		cfg:       cfg,
		runCtx:    ctx,
		runCancel: cancel,
		pending:   map[int64]*grant{},
		locks:     map[int64]*userLock{},
	}
}

// Arm schedules the revocation of userID's capability at dueAt, superseding
// any pending revocation for the same user without an unscheduled window.
// The record is persisted before the timer starts; if persistence fails no
// timer is armed and the previous obligation (if any) is restored.
func (s *Scheduler) Arm(ctx context.Context, userID int64, dueAt time.Time, action Action) error {
	return s.arm(ctx, userID, dueAt, action, true)
}

// arm is the single supersede-safe entry point; reconciliation uses it with
// persist=false because the due time is already on disk.
func (s *Scheduler) arm(ctx context.Context, userID int64, dueAt time.Time, action Action, persist bool) error {
	if action == nil {
		return errors.New("nil action")
	}

	l := s.lockUser(userID)
	defer s.unlockUser(userID, l)

	s.mu.Lock()
	closed := s.closed
	prev := s.pending[userID]
	s.mu.Unlock()
	if closed {
		return ErrStopped
	}

	// Supersede: the old timer must be dead before the record is overwritten.
	if prev != nil {
		prev.timer.Stop()
	}

	if persist {
		if err := s.store.Put(ctx, userID, dueAt); err != nil {
			if prev != nil {
				// Restore the prior obligation; the caller sees a failed
				// arm, not a lost one.
				prev.timer.Reset(delayUntil(prev.dueAt))
			}
			return fmt.Errorf("persist grant: %w", err)
		}
	}

	g := &grant{userID: userID, dueAt: dueAt, action: action}
	s.mu.Lock()
	if s.closed {
		// Stop won the race; the record (if any) stays for the next start.
		s.mu.Unlock()
		return ErrStopped
	}
	// Publish and start under one lock hold so Stop never observes a grant
	// without its timer.
	s.pending[userID] = g
	g.timer = time.AfterFunc(delayUntil(dueAt), func() { s.fire(g) })
	s.mu.Unlock()

	if prev != nil {
		s.met.Superseded.Inc()
	}
	s.met.Armed.Inc()
	s.met.PendingGrants.Set(float64(s.Pending()))
	s.log.Debug("revocation armed",
		logx.Int64("user_id", userID),
		logx.Time("due_at", dueAt),
		logx.Bool("superseded", prev != nil))
	return nil
}

// fire runs on the timer goroutine once the due time elapses.
func (s *Scheduler) fire(g *grant) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.fires.Add(1)
	s.mu.Unlock()
	defer s.fires.Done()

	l := s.lockUser(g.userID)
	defer s.unlockUser(g.userID, l)

	s.mu.Lock()
	cur := s.pending[g.userID]
	closed := s.closed
	s.mu.Unlock()
	// Cancelled or superseded while this fire waited on the user lock.
	if closed || cur != g {
		return
	}

	ctx := s.runCtx
	if s.cfg.FireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FireTimeout)
		defer cancel()
	}

	if err := g.action(ctx); err != nil {
		// Logged only: the capability may already be gone, and retrying a
		// best-effort cleanup forever is worse than moving on.
		s.met.FireErrors.Inc()
		s.log.Warn("revocation action failed",
			logx.Int64("user_id", g.userID), logx.Err(err))
	}
	s.met.Fired.Inc()

	// Delete the record even when the action failed, so a broken action is
	// not reattempted at every restart.
	dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.store.Delete(dctx, g.userID); err != nil {
		s.log.Error("failed to delete fired grant record",
			logx.Int64("user_id", g.userID), logx.Err(err))
	}
	cancel()

	s.mu.Lock()
	if s.pending[g.userID] == g {
		delete(s.pending, g.userID)
	}
	s.mu.Unlock()
	s.met.PendingGrants.Set(float64(s.Pending()))
	s.log.Debug("revocation fired", logx.Int64("user_id", g.userID))
}

// Cancel invalidates the pending timer for userID, if any. The action will
// not run even when the due time has already elapsed. The storage record is
// left in place; use CancelAndForget to remove it too.
// Reports whether a pending revocation existed.
func (s *Scheduler) Cancel(userID int64) bool {
	l := s.lockUser(userID)
	defer s.unlockUser(userID, l)
	return s.cancelLocked(userID)
}

// CancelAndForget cancels like Cancel and deletes the record under the same
// per-user critical section, so no ghost record survives a restart.
func (s *Scheduler) CancelAndForget(ctx context.Context, userID int64) error {
	l := s.lockUser(userID)
	defer s.unlockUser(userID, l)
	s.cancelLocked(userID)
	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete grant record: %w", err)
	}
	return nil
}

func (s *Scheduler) cancelLocked(userID int64) bool {
	s.mu.Lock()
	g := s.pending[userID]
	if g != nil {
		delete(s.pending, userID)
	}
	s.mu.Unlock()
	if g == nil {
		return false
	}
	g.timer.Stop()
	s.met.Cancelled.Inc()
	s.met.PendingGrants.Set(float64(s.Pending()))
	s.log.Debug("revocation cancelled", logx.Int64("user_id", userID))
	return true
}

// IsPending reports whether a revocation is currently armed for userID.
func (s *Scheduler) IsPending(userID int64) bool {
	s.mu.Lock()
	_, ok := s.pending[userID]
	s.mu.Unlock()
	return ok
}

// Pending returns the number of currently armed revocations.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	return n
}

// Reconcile rebuilds the timer set from storage. It waits for the gate, then
// handles every record independently: departed members are pruned, transient
// resolver failures keep their record for the next restart, and everything
// else is re-armed with its original due time (past-due records fire
// promptly). Per-record failures never abort the remaining records.
func (s *Scheduler) Reconcile(ctx context.Context, gate Gate, resolver Resolver) error {
	if err := gate.AwaitReady(ctx); err != nil {
		return fmt.Errorf("await readiness: %w", err)
	}

	grants, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list grant records: %w", err)
	}

	var rearmed, pruned, skipped int
	for _, rec := range grants {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		action, err := resolver.Resolve(ctx, rec.UserID)
		switch {
		case errors.Is(err, ErrNotFound):
			// The member left before we could revoke anything.
			if derr := s.store.Delete(ctx, rec.UserID); derr != nil {
				s.log.Warn("failed to prune departed member's record",
					logx.Int64("user_id", rec.UserID), logx.Err(derr))
				skipped++
				continue
			}
			s.met.Pruned.Inc()
			pruned++
			s.log.Debug("pruned record for departed member",
				logx.Int64("user_id", rec.UserID))
			continue
		case err != nil:
			// Transient; the record stays eligible for the next restart.
			s.log.Warn("member resolve failed; keeping record",
				logx.Int64("user_id", rec.UserID), logx.Err(err))
			skipped++
			continue
		}

		// Same supersede-safe path as live arms; the due time is already
		// persisted, so no re-put.
		if aerr := s.arm(ctx, rec.UserID, rec.Until, action, false); aerr != nil {
			s.log.Warn("failed to re-arm record",
				logx.Int64("user_id", rec.UserID), logx.Err(aerr))
			skipped++
			continue
		}
		s.met.Reconciled.Inc()
		rearmed++
	}

	s.log.Info("grant reconciliation complete",
		logx.Int("rearmed", rearmed),
		logx.Int("pruned", pruned),
		logx.Int("skipped", skipped))
	return nil
}

// Stop stops accepting arms and fires, cancels every pending timer, and
// waits for in-flight actions to finish (bounded by ctx).
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, g := range s.pending {
		g.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.fires.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.runCancel()
		return ctx.Err()
	}
	s.runCancel()
	s.log.Info("expiry scheduler stopped")
	return nil
}

func delayUntil(t time.Time) time.Duration {
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return d
}
