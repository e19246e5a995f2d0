// Package app wires the fleet together: config in, dispatcher, feeds,
// journal, alerts and the debug server out.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"robofleet/internal/alert"
	"robofleet/internal/clock"
	"robofleet/internal/config"
	"robofleet/internal/dispatch"
	"robofleet/internal/eventbus"
	"robofleet/internal/feed"
	"robofleet/internal/journal"
	"robofleet/internal/observability/pprof"
	rtsup "robofleet/internal/runtime/supervisor"
	logx "robofleet/pkg/logx"
)

type App struct {
	cfg *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	rec  journal.Recorder

	fleet  *dispatch.Service
	feeds  *feed.Runner
	alerts *alert.Service
	pprof  *pprof.Service

	sup *rtsup.Supervisor
}

// New builds the whole fleet from cfg. Nothing runs until Start.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	clk := clock.System()

	// Journal (optional)
	var rec journal.Recorder
	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		r, err := journal.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			return nil, err
		}
		rec = r
		log.Info("journal enabled", logx.String("driver", jc.Driver))
	}

	catalog, err := buildCatalog(cfg, clk)
	if err != nil {
		return nil, err
	}

	fleet, err := dispatch.New(mapDispatchConfig(cfg), catalog, dispatch.Deps{
		Log:     log,
		Bus:     bus,
		Journal: rec,
		Clock:   clk,
	})
	if err != nil {
		return nil, err
	}

	sources, err := buildSources(cfg, log)
	if err != nil {
		return nil, err
	}
	feeds := feed.NewRunner(fleet, log, sources...)

	// Alerts (optional)
	var alerts *alert.Service
	if acfg, tcfg, enabled, err := mapAlertConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		sender, err := alert.NewTelegram(tcfg)
		if err != nil {
			return nil, err
		}
		alerts = alert.New(acfg, sender, log, bus)
		log.Info("alerts enabled")
	}

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, func() any { return fleet.Snapshot() },
		log.With(logx.String("comp", "pprof")))

	return &App{
		cfg:    cfg,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		rec:    rec,
		fleet:  fleet,
		feeds:  feeds,
		alerts: alerts,
		pprof:  pprofSvc,
	}, nil
}

// RunID identifies this fleet run on every completion record.
func (a *App) RunID() string { return a.fleet.RunID() }

func (a *App) Snapshot() dispatch.Snapshot { return a.fleet.Snapshot() }

// Done is closed when the fleet drains cleanly.
func (a *App) Done() <-chan struct{} { return a.fleet.Done() }

func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Alerts subscribe before any task can fail.
	if a.alerts != nil {
		a.alerts.Start(a.sup.Context())
	}
	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	a.fleet.Start(a.sup.Context())
	a.feeds.Start(a.sup.Context())

	// A debug tail of the event stream; components that care subscribe on
	// their own.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level to avoid noise on busy fleets.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Tell systemd we're up; a no-op outside a unit.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go0("sdnotify.watchdog", func(c context.Context) {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	a.log.Info("fleet started",
		logx.String("run_id", a.fleet.RunID()),
		logx.Int("capacity", a.fleet.Snapshot().Capacity),
	)
	return nil
}

// Wait blocks until the fleet drains, the run dies, or ctx expires.
func (a *App) Wait(ctx context.Context) error {
	return a.fleet.Wait(ctx)
}

// Stop shuts the fleet down: feeds first, then a bounded drain grace for
// in-flight and pending work, then the hard stop and the sinks.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// clip to the caller's deadline, never extend it
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
			// fn is expected to honor stepCtx; when it lingers past the
			// deadline we move on and log whenever it finally returns.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	// Feeds stop producing, the intake seals, and whatever is already in
	// the lanes gets a grace window to finish before the hard stop.
	step("feeds", 2*time.Second, func(c context.Context) error { a.feeds.Stop(c); return nil })
	step("fleet.drain", 10*time.Second, func(c context.Context) error {
		a.fleet.Seal()
		return a.fleet.Wait(c)
	})
	step("fleet", 2*time.Second, func(c context.Context) error { a.fleet.Stop(c); return nil })

	// Sinks go last so the final records and events still land.
	step("alerts", 2*time.Second, func(c context.Context) error {
		if a.alerts != nil {
			a.alerts.Stop(c)
		}
		return nil
	})
	step("pprof", time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})
	step("journal", time.Second, func(c context.Context) error {
		if a.rec != nil {
			return a.rec.Close()
		}
		return nil
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
