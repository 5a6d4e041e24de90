// Package metrics defines the prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set holds the counters incremented by the expiry scheduler.
type Set struct {
	Armed      prometheus.Counter
	Superseded prometheus.Counter
	Fired      prometheus.Counter
	FireErrors prometheus.Counter
	Cancelled  prometheus.Counter
	Reconciled prometheus.Counter
	Pruned     prometheus.Counter

	PendingGrants prometheus.Gauge
}

// New registers the instrument set with reg. A nil reg creates unregistered
// instruments, which is what tests and Nop use.
func New(reg prometheus.Registerer) *Set {
	f := promauto.With(reg)
	return &Set{
		Armed: f.NewCounter(prometheus.CounterOpts{
			Name: "streambot_grants_armed_total",
			Help: "Revocations armed (live commands plus reconciliation).",
		}),
		Superseded: f.NewCounter(prometheus.CounterOpts{
			Name: "streambot_grants_superseded_total",
			Help: "Pending revocations replaced by a newer arm for the same user.",
		}),
		Fired: f.NewCounter(prometheus.CounterOpts{
			Name: "streambot_grants_fired_total",
			Help: "Revocation timers that elapsed and ran their action.",
		}),
		FireErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "streambot_grant_fire_errors_total",
			Help: "Revocation actions that returned an error.",
		}),
		Cancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "streambot_grants_cancelled_total",
			Help: "Pending revocations cancelled before firing.",
		}),
		Reconciled: f.NewCounter(prometheus.CounterOpts{
			Name: "streambot_grants_reconciled_total",
			Help: "Records re-armed from storage at startup.",
		}),
		Pruned: f.NewCounter(prometheus.CounterOpts{
			Name: "streambot_grants_pruned_total",
			Help: "Records dropped at startup because the member left.",
		}),
		PendingGrants: f.NewGauge(prometheus.GaugeOpts{
			Name: "streambot_grants_pending",
			Help: "Revocations currently pending in memory.",
		}),
	}
}

// Nop returns an unregistered set, safe to increment and discard.
func Nop() *Set { return New(nil) }
