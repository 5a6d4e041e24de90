// Package core wires the bot together: configuration, logging, storage, the
// expiry scheduler, the telegram adapter and the moderator commands.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"streambot/internal/adapters/telegram"
	"streambot/internal/config"
	"streambot/internal/expiry"
	"streambot/internal/maintenance"
	"streambot/internal/observability/debugsrv"
	"streambot/internal/observability/metrics"
	"streambot/internal/runtime/supervisor"
	"streambot/internal/storage"
	logx "streambot/pkg/logx"
)

type App struct {
	log    logx.Logger
	logSvc *logx.Service
	mgr    *config.Manager

	store   storage.Store
	sched   *expiry.Scheduler
	adapter *telegram.Adapter
	cmds    *Commands
	janitor *maintenance.Janitor
	debug   *debugsrv.Server
	sup     *supervisor.Supervisor
}

// New builds the app from the config file at path. Nothing is started yet.
func New(ctx context.Context, path string) (*App, error) {
	a := &App{mgr: config.NewManager(path)}

	cfg, err := a.mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// The telegram log sink is bound late: the adapter does not exist yet
	// when the logger is built.
	a.logSvc, a.log = logx.New(logCfg(cfg.Logging), func(ctx context.Context, msg string) error {
		ad, chatID := a.adapter, a.mgr.Get().Telegram.LogChatID
		if ad == nil || chatID == 0 {
			return nil
		}
		return ad.SendLog(ctx, chatID, msg)
	})
	a.mgr.SetLogger(a.log.With(logx.String("component", "config")))

	busy, err := parseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, a.log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	fireTimeout, err := parseDurationOrDefault("video.fire_timeout", cfg.Video.FireTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	a.sched = expiry.New(a.store,
		a.log.With(logx.String("component", "expiry")),
		met, expiry.Config{FireTimeout: fireTimeout})

	pollTimeout, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("component", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	a.cmds = NewCommands(a.log.With(logx.String("component", "commands")),
		a.adapter, a.sched, a.store, a.mgr.Get)
	a.adapter.Command("/stream", a.cmds.Stream)
	a.adapter.Command("/pstream", a.cmds.PermanentStream)
	a.adapter.Command("/unstream", a.cmds.Unstream)

	a.janitor, err = maintenance.New(maintenance.Config{
		GCInterval:    cfg.Maintenance.GCInterval,
		AuditSchedule: cfg.Maintenance.AuditSchedule,
	}, a.store, a.sched, a.log.With(logx.String("component", "maintenance")))
	if err != nil {
		return nil, fmt.Errorf("maintenance: %w", err)
	}

	if cfg.Debug.Enabled {
		a.debug = debugsrv.New(cfg.Debug.Address, reg,
			a.log.With(logx.String("component", "debug")))
	}
	return a, nil
}

// Run starts everything and blocks until ctx is cancelled or a supervised
// goroutine fails, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}

	a.sup.Go0("reconcile", func(ctx context.Context) {
		if err := a.sched.Reconcile(ctx, a.adapter, a.cmds); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Startup keeps going: live commands work either way, and the
			// un-rearmed records get another chance next restart.
			a.log.Error("startup reconciliation failed", logx.Err(err))
		}
	})

	a.sup.GoRestart("config-watch", a.mgr.Watch)
	a.sup.Go0("config-apply", func(ctx context.Context) {
		ch := a.mgr.Subscribe(1)
		defer a.mgr.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-ch:
				if cfg == nil {
					return
				}
				a.logSvc.Apply(logCfg(cfg.Logging))
				a.log.Info("configuration reloaded")
			}
		}
	})

	a.janitor.Start()

	if a.debug != nil {
		a.sup.GoRestart("debugsrv", a.debug.Run)
	}

	a.log.Info("streambot up")
	err := a.sup.Wait(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.shutdown(sctx)
	return err
}

func (a *App) shutdown(ctx context.Context) {
	a.janitor.Stop()
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram adapter stop", logx.Err(err))
	}
	if err := a.sched.Stop(ctx); err != nil {
		a.log.Warn("expiry scheduler stop", logx.Err(err))
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("streambot down")
	_ = a.logSvc.Close()
}

func logCfg(l config.Logging) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
