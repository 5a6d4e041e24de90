// Package maintenance runs periodic housekeeping: storage garbage collection
// and a ghost-record audit.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"streambot/internal/storage"
	logx "streambot/pkg/logx"
)

// Pending is the live-timer view the audit compares storage against.
type Pending interface {
	IsPending(userID int64) bool
}

type Config struct {
	// GCInterval is a cron spec ("@every 10m") for storage GC.
	// Empty disables GC.
	GCInterval string
	// AuditSchedule is a cron spec for the ghost-record audit.
	// Empty defaults to nightly.
	AuditSchedule string
}

// Janitor owns the cron runner. Jobs are registered at construction and run
// between Start and Stop.
type Janitor struct {
	log logx.Logger
	cr  *cron.Cron
}

func New(cfg Config, store storage.Store, pending Pending, log logx.Logger) (*Janitor, error) {
	j := &Janitor{
		log: log,
		cr:  cron.New(),
	}

	if gc, ok := store.(storage.GarbageCollector); ok && cfg.GCInterval != "" {
		if _, err := j.cr.AddFunc(cfg.GCInterval, func() { j.runGC(gc) }); err != nil {
			return nil, fmt.Errorf("gc_interval %q: %w", cfg.GCInterval, err)
		}
	}

	audit := cfg.AuditSchedule
	if audit == "" {
		audit = "30 4 * * *"
	}
	if _, err := j.cr.AddFunc(audit, func() { j.runAudit(store, pending) }); err != nil {
		return nil, fmt.Errorf("audit_schedule %q: %w", audit, err)
	}

	return j, nil
}

func (j *Janitor) Start() { j.cr.Start() }

// Stop halts scheduling and waits for a running job to finish.
func (j *Janitor) Stop() {
	<-j.cr.Stop().Done()
}

func (j *Janitor) runGC(gc storage.GarbageCollector) {
	start := time.Now()
	if err := gc.RunGC(); err != nil {
		j.log.Warn("storage gc failed", logx.Err(err))
		return
	}
	j.log.Debug("storage gc complete", logx.Duration("took", time.Since(start)))
}

// runAudit logs records that have no live timer. Ghosts can appear after a
// crash between a cancel and its record delete; pruning stays with startup
// reconciliation, the audit only makes them visible.
func (j *Janitor) runAudit(store storage.Store, pending Pending) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	grants, err := store.List(ctx)
	if err != nil {
		j.log.Warn("audit list failed", logx.Err(err))
		return
	}

	ghosts := 0
	for _, g := range grants {
		if pending.IsPending(g.UserID) {
			continue
		}
		ghosts++
		j.log.Warn("ghost grant record",
			logx.Int64("user_id", g.UserID),
			logx.Time("until", g.Until))
	}
	j.log.Info("grant audit complete",
		logx.Int("records", len(grants)),
		logx.Int("ghosts", ghosts))
}
