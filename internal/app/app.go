// Package app wires the whole process together: config, logging, storage,
// the shared flow services, and one gateway session plus agent pipeline per
// configured persona.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"palbot/internal/agent"
	"palbot/internal/config"
	"palbot/internal/eventbus"
	"palbot/internal/flow/coordinator"
	"palbot/internal/flow/reaper"
	"palbot/internal/gateway/discord"
	"palbot/internal/provider"
	"palbot/internal/runtime/supervisor"
	"palbot/internal/settings"
	"palbot/internal/storage"
	logx "palbot/pkg/logx"
)

// StopReason labels why the process is going down (for the final log line).
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// runningAgent pairs one persona with its own gateway session.
type runningAgent struct {
	name    string
	adapter *discord.Adapter
	agent   *agent.Agent
}

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sets  *settings.Service
	coord *coordinator.Service
	gen   provider.Generator

	reap        *reaper.Service
	reapRunning bool

	agents []*runningAgent
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// Bootstrap logging with the mirror disabled: the mirror sink is a
	// gateway session, and no session exists yet. The final config (mirror
	// included) is applied below once the adapters are constructed.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Mirror.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	defs, err := mapSettingsDefaults(cfg)
	if err != nil {
		return nil, err
	}
	sets := settings.New(store, defs, log.With(logx.String("comp", "settings")))

	ccfg, err := mapCoordinatorConfig(cfg)
	if err != nil {
		return nil, err
	}
	coord := coordinator.New(ccfg, log.With(logx.String("comp", "coordinator")))
	// Runtime settings override the configured concurrency limit.
	coord.SetLimitSource(func() int {
		return sets.ConcurrencyLimit(context.Background())
	})

	gen, err := provider.FromConfig(cfg.Provider.Name)
	if err != nil {
		return nil, err
	}

	// One gateway session per persona, so mention and reply flags on
	// inbound events are relative to that persona.
	agents := make([]*runningAgent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		ad, err := discord.New(discord.Config{
			Token:     ac.Token,
			AgentName: ac.Name,
		}, log.With(logx.String("comp", "gateway")))
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
		}
		agents = append(agents, &runningAgent{name: ac.Name, adapter: ad})
	}

	// The first persona's session doubles as the ops-channel log mirror.
	if len(agents) > 0 {
		logSvc.SetMirror(agents[0].adapter)
	}
	logSvc.Apply(logCfg)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sets:    sets,
		coord:   coord,
		gen:     gen,
		agents:  agents,
	}, nil
}

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
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		// Mapping failures (bad storage driver, bad schedules) also reject
		// the reload before anything is applied.
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapReaperConfig(cfg); err != nil {
			return err
		}
		if _, err := mapCoordinatorConfig(cfg); err != nil {
			return err
		}
		for _, ac := range cfg.Agents {
			if _, err := mapAgentConfig(ac, cfg); err != nil {
				return err
			}
		}
		return nil
	})

	cfg := a.cfgm.Get()

	// Build and connect the per-persona pipelines.
	for _, ra := range a.agents {
		ac := findAgent(cfg, ra.name)
		if ac == nil {
			return fmt.Errorf("agent %s missing from config", ra.name)
		}
		acfg, err := mapAgentConfig(*ac, cfg)
		if err != nil {
			return err
		}
		ag := agent.New(acfg, agent.Deps{
			Log:      a.log,
			Bus:      a.bus,
			Sup:      a.sup,
			Settings: a.sets,
			Coord:    a.coord,
			Gen:      a.gen,
			Sender:   ra.adapter,
			Store:    a.store,
		})
		ag.SetContext(a.sup.Context())
		ra.adapter.SetHandler(ag.HandleEvent)
		ra.agent = ag

		if err := ra.adapter.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("agent %s: %w", ra.name, err)
		}
	}

	// Idle-state reaper over every agent's per-conversation tables.
	rcfg, reapEnabled, err := mapReaperConfig(cfg)
	if err != nil {
		return err
	}
	targets := make([]reaper.Target, 0, len(a.agents)*3)
	for _, ra := range a.agents {
		targets = append(targets,
			reaper.Target{Name: ra.name + ".guard", Store: ra.agent.Guard()},
			reaper.Target{Name: ra.name + ".batch", Store: ra.agent.Batcher()},
			reaper.Target{Name: ra.name + ".queue", Store: ra.agent.Queue()},
		)
	}
	a.reap = reaper.New(rcfg, targets, a.bus, a.log.With(logx.String("comp", "reaper")))
	if reapEnabled {
		if err := a.reap.Start(); err != nil {
			return err
		}
		a.reapRunning = true
	}

	// The coordinator purges its own event bookkeeping.
	a.sup.Go0("coordinator.janitor", a.coord.RunJanitor)

	// Optional: log bus events for observability/debug.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload config fan-out.
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
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("agents", len(a.agents)))
	return nil
}

// applyConfig pushes one validated config into every live component.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if defs, err := mapSettingsDefaults(newCfg); err == nil {
		a.sets.ApplyDefaults(defs)
	}
	if ccfg, err := mapCoordinatorConfig(newCfg); err == nil {
		a.coord.Apply(ccfg)
	}

	// Agents are matched by name; adding or removing one needs a restart
	// because each persona owns a live gateway session.
	for _, ra := range a.agents {
		ac := findAgent(newCfg, ra.name)
		if ac == nil {
			a.log.Warn("agent removed from config; restart required",
				logx.String("agent", ra.name))
			continue
		}
		acfg, err := mapAgentConfig(*ac, newCfg)
		if err != nil {
			a.log.Warn("invalid agent config; keeping previous",
				logx.String("agent", ra.name), logx.Err(err))
			continue
		}
		ra.agent.Apply(acfg)
	}
	if len(newCfg.Agents) > len(a.agents) {
		a.log.Warn("agents added to config; restart required to start them")
	}

	if rcfg, enabled, err := mapReaperConfig(newCfg); err == nil && a.reap != nil {
		a.reap.Apply(rcfg)
		switch {
		case enabled && !a.reapRunning:
			if err := a.reap.Start(); err != nil {
				a.log.Warn("reaper start failed", logx.Err(err))
			} else {
				a.log.Info("reaper enabled via config")
				a.reapRunning = true
			}
		case !enabled && a.reapRunning:
			a.reap.Stop()
			a.reapRunning = false
			a.log.Info("reaper disabled via config")
		}
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown phase with an upper bound so a single
	// component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("reaper", 2*time.Second, func(context.Context) error {
		if a.reap != nil && a.reapRunning {
			a.reap.Stop()
			a.reapRunning = false
		}
		return nil
	})
	step("gateway", 3*time.Second, func(context.Context) error {
		var first error
		for _, ra := range a.agents {
			if err := ra.adapter.Stop(); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, queue
	// drains, janitor).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func findAgent(cfg *config.Config, name string) *config.AgentConfig {
	if cfg == nil {
		return nil
	}
	for i := range cfg.Agents {
		if strings.EqualFold(cfg.Agents[i].Name, name) {
			return &cfg.Agents[i]
		}
	}
	return nil
}
