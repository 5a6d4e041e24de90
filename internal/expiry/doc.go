// Package expiry owns the durable revocation schedule.
//
// One pending, cancellable, time-triggered action is held per user ID. Arming
// persists the due time first, then starts an in-memory timer; firing runs the
// action and removes the record; cancellation invalidates the timer without
// touching the record (CancelAndForget does both). On startup, Reconcile
// rebuilds the timer set from storage, pruning users that left while the
// process was down.
//
// Operations on the same user are linearized through a per-user lock;
// unrelated users never serialize on each other. Timers are multiplexed by
// the runtime (time.AfterFunc), so thousands of pending grants stay cheap.
package expiry
