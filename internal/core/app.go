package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"presenced/internal/config"
	"presenced/internal/engine"
	"presenced/internal/notify"
	"presenced/internal/storage"
	"presenced/internal/ticker"
	logx "presenced/pkg/logx"
)

// App wires the config manager, logging, storage, notifier, engine and
// ticker together and owns their lifecycle.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	notif *notify.Service
	eng   *engine.Engine
	tick  *ticker.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	storageCfg, err := mapStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storageCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store == nil {
		// No persistence configured; keep everything in memory. Statuses
		// and profiles do not survive a restart.
		log.Warn("no storage configured, using in-memory store")
		store = storage.NewMemory()
	}

	notifCfg, err := mapNotifier(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	notif := notify.New(notifCfg, notify.LogTransport{Log: log.With(logx.String("comp", "transport"))},
		log.With(logx.String("comp", "notifier")))

	engineCfg, err := mapEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engineCfg, store, notif, log.With(logx.String("comp", "engine")))

	tickerCfg, err := mapTicker(cfg.Ticker)
	if err != nil {
		return nil, err
	}
	tick := ticker.New(tickerCfg, eng, log.With(logx.String("comp", "ticker")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		notif:   notif,
		eng:     eng,
		tick:    tick,
	}, nil
}

// Engine exposes the reconciler for manual-status and preview surfaces.
func (a *App) Engine() *engine.Engine { return a.eng }

// Store exposes the persistence layer for profile CRUD surfaces.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.notif.Start(a.sup.Context())
	if err := a.tick.Start(a.sup.Context()); err != nil {
		return err
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(mapLogging(newCfg.Logging))

	// Validator already ran; mapping errors here mean a bug, not bad input.
	if cfg, err := mapEngine(newCfg.Engine); err == nil {
		a.eng.Apply(cfg)
	}
	if cfg, err := mapNotifier(newCfg.Notifier); err == nil {
		a.notif.Apply(cfg)
	}
	if cfg, err := mapTicker(newCfg.Ticker); err == nil {
		if err := a.tick.Apply(ctx, cfg); err != nil {
			a.log.Warn("ticker reconfigure failed", logx.Err(err))
		}
	}

	// Storage cannot be swapped while running; flag it for the operator.
	oldStore, _ := mapStorage(oldCfg.Storage)
	newStore, _ := mapStorage(newCfg.Storage)
	if oldStore != newStore {
		a.log.Warn("storage config changed, restart required to take effect")
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Run a shutdown step with an upper bound so one component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Drain the ticker and notifier before cancelling the run context so an
	// in-flight reconcile pass is not aborted mid-mutation.
	step("ticker", 3*time.Second, func(c context.Context) error { a.tick.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	if a.logs != nil {
		_ = a.logs.Close()
	}
	a.log.Info("stopped")
	return nil
}
