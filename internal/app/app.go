// Package app wires recibod's services together: config, logging, store,
// delivery, dispatcher, admin HTTP, and the fixed-cadence tick.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"recibod/internal/config"
	"recibod/internal/delivery"
	"recibod/internal/dispatch"
	"recibod/internal/domain"
	"recibod/internal/lock"
	"recibod/internal/server"
	"recibod/internal/store"
	"recibod/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	st    store.Store
	disp  *dispatch.Service
	admin *server.Server
	cron  *cron.Cron

	tickTimeout time.Duration
	tickRunning atomic.Bool

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	return &App{
		cfgm: cfgm,
		logs: logs,
		log:  log.With(logx.String("comp", "app")),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Current()

	a.runCtx, a.runCancel = context.WithCancel(context.Background())

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	a.st = st

	sender, err := a.buildSender(cfg)
	if err != nil {
		return err
	}

	moduleSlots := make(map[domain.Module]string, len(cfg.Dispatch.ModuleSlots))
	for mod, slot := range cfg.Dispatch.ModuleSlots {
		moduleSlots[domain.Module(mod)] = slot
	}
	rules := domain.DueRules{
		Classifier: domain.NewKeywordClassifier(cfg.Dispatch.ModuleKeywords),
		DueFields:  cfg.Dispatch.DueDateFields,
	}
	a.disp = dispatch.New(dispatch.Config{
		WindowMinutes:        cfg.Dispatch.WindowMinutes,
		Workers:              cfg.Dispatch.Workers,
		DefaultOffsetMinutes: cfg.Dispatch.DefaultOffsetMinutes,
		Title:                cfg.Dispatch.Title,
		DailySlot:            cfg.Dispatch.DailySlot,
		ModuleSlots:          moduleSlots,
	}, st, sender, lock.NewManager(st, a.log.With(logx.String("comp", "lock"))), rules,
		a.log.With(logx.String("comp", "dispatch")))

	a.admin = server.New(server.Config{
		Enabled: cfg.Admin.Enabled,
		Addr:    cfg.Admin.Addr,
		Token:   cfg.Admin.Token,
		Pprof:   cfg.Admin.Pprof,
	}, a.disp, a.log)
	if err := a.admin.Start(); err != nil {
		return fmt.Errorf("admin server: %w", err)
	}

	interval, err := config.ParseDurationOrDefault("dispatch.tick_interval", cfg.Dispatch.TickInterval, 5*time.Minute)
	if err != nil {
		return err
	}
	a.tickTimeout = interval

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", interval), a.runTick); err != nil {
		return fmt.Errorf("tick schedule: %w", err)
	}
	a.cron.Start()

	go a.watchConfig(a.runCtx)

	// Best-effort readiness signal when running under systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("started",
		logx.String("driver", cfg.Storage.Driver),
		logx.String("delivery", cfg.Delivery.Mode),
		logx.Duration("tick", interval))
	return nil
}

func (a *App) buildSender(cfg *config.Config) (delivery.Sender, error) {
	log := a.log.With(logx.String("comp", "delivery"))
	switch cfg.Delivery.Mode {
	case "push":
		timeout, err := config.ParseDurationField("delivery.timeout", cfg.Delivery.Timeout)
		if err != nil {
			return nil, err
		}
		return delivery.NewPushSender(delivery.PushConfig{
			URL:        cfg.Delivery.URL,
			Token:      cfg.Delivery.Token,
			BatchSize:  cfg.Delivery.BatchSize,
			RatePerSec: cfg.Delivery.RatePerSec,
			RetryMax:   cfg.Delivery.RetryMax,
			Timeout:    timeout,
		}, log)
	default:
		return delivery.NewLogSender(log), nil
	}
}

// runTick executes one dispatcher invocation. The external cadence is a
// single serialized trigger: if the previous tick is somehow still running,
// this one is skipped rather than overlapped.
func (a *App) runTick() {
	if !a.tickRunning.CompareAndSwap(false, true) {
		a.log.Warn("previous tick still running; skipping")
		return
	}
	defer a.tickRunning.Store(false)

	ctx, cancel := context.WithTimeout(a.runCtx, a.tickTimeout)
	defer cancel()
	_, _ = a.disp.Tick(ctx)
}

// watchConfig hot-applies what is safe to change at runtime. Everything else
// (store driver, slot layout, delivery mode) takes effect on restart.
func (a *App) watchConfig(ctx context.Context) {
	_ = a.cfgm.Watch(ctx, func(cfg *config.Config) {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
		a.log.Info("logging config applied; other sections need a restart")
	})
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if a.runCancel != nil {
		a.runCancel()
	}
	if a.admin != nil {
		a.admin.Stop(ctx)
	}
	if a.st != nil {
		_ = a.st.Close()
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
