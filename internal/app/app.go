package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bacsched/internal/config"
	"bacsched/internal/object"
	"bacsched/internal/observability/pprof"
	"bacsched/internal/schedule"
	"bacsched/internal/storage"
	"bacsched/internal/transport"
	logx "bacsched/pkg/logx"
)

// App wires config, logging, storage, the network and the schedule entities
// into one runnable daemon.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	mu        sync.Mutex
	started   bool
	store     storage.Store
	network   *transport.Inproc
	device    *object.Device
	cronSvc   *cron.Cron
	debug     *pprof.Service
	stopWatch context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	return &App{cfgMgr: mgr, logSvc: logSvc, log: log}, nil
}

// validate dry-runs the domain conversion so a broken edit never reaches the
// running entity set.
func validate(cfg *config.Config) error {
	for _, s := range cfg.Schedules {
		if _, err := s.Definition(); err != nil {
			return err
		}
		if _, _, _, err := s.FailsafeTimings(); err != nil {
			return err
		}
	}
	for _, o := range cfg.Objects {
		if _, err := config.ParseObjectID(o.ID); err != nil {
			return err
		}
		if _, err := o.Initial.Build(); err != nil {
			return fmt.Errorf("object %q: %w", o.ID, err)
		}
	}
	for _, c := range cfg.Calendars {
		for i, e := range c.Entries {
			if _, err := e.Build(); err != nil {
				return fmt.Errorf("calendar %q: entries[%d]: %w", c.Name, i, err)
			}
		}
	}
	return nil
}

func (a *App) Log() logx.Logger { return a.log }

// Device exposes the local device, mainly for tests and diagnostics.
func (a *App) Device() *object.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	cfg := a.cfgMgr.Get()
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	if err := validate(cfg); err != nil {
		return err
	}

	if cfg.Storage != nil {
		busy, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	netCfg := transport.Config{}
	if cfg.Network != nil {
		var err error
		netCfg.RatePerSec = cfg.Network.RatePerSec
		netCfg.Burst = cfg.Network.Burst
		if netCfg.Latency, err = config.ParseDuration("network.latency", cfg.Network.Latency); err != nil {
			return err
		}
		if netCfg.Timeout, err = config.ParseDuration("network.timeout", cfg.Network.Timeout); err != nil {
			return err
		}
	}
	a.network = transport.NewInproc(netCfg, a.log)

	a.device = object.NewDevice(cfg.Device.Instance, a.log)
	a.network.Register(a.device)
	if err := a.populateLocked(cfg); err != nil {
		a.teardownLocked()
		return err
	}

	// Present-value history off the device change bus.
	if a.store != nil {
		ch, unsub := a.device.Changes().Subscribe(128)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer unsub()
			a.recordChanges(ctx, ch)
		}()
	}

	if err := a.startCronLocked(cfg); err != nil {
		a.teardownLocked()
		return err
	}

	if cfg.Debug != nil && cfg.Debug.Enabled {
		a.debug = pprof.New(pprof.Config{
			Enabled:       true,
			Addr:          cfg.Debug.Addr,
			Token:         cfg.Debug.Token,
			AllowInsecure: cfg.Debug.AllowInsecure,
		}, a.log)
		a.debug.SetDevice(a.device)
		if err := a.debug.Start(); err != nil {
			a.teardownLocked()
			return err
		}
	}

	// Config hot reload.
	wctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(wctx)
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-wctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(next)
			}
		}
	}()

	a.started = true
	a.log.Info("app started",
		logx.Uint32("device", cfg.Device.Instance),
		logx.Int("schedules", len(cfg.Schedules)),
		logx.Int("calendars", len(cfg.Calendars)))
	return nil
}

// populateLocked builds value objects, calendars and schedules from config
// and attaches them to the device. Attaching a schedule runs its first
// resolution and dispatch.
func (a *App) populateLocked(cfg *config.Config) error {
	for _, spec := range cfg.Objects {
		id, err := config.ParseObjectID(spec.ID)
		if err != nil {
			return err
		}
		initial, err := spec.Initial.Build()
		if err != nil {
			return fmt.Errorf("object %q: %w", spec.ID, err)
		}
		if err := a.device.AddObject(object.NewValueObject(id, spec.Name, initial, spec.Writable)); err != nil {
			return err
		}
	}

	for _, spec := range cfg.Calendars {
		entries := make([]schedule.CalendarEntry, 0, len(spec.Entries))
		for i, e := range spec.Entries {
			entry, err := e.Build()
			if err != nil {
				return fmt.Errorf("calendar %q: entries[%d]: %w", spec.Name, i, err)
			}
			entries = append(entries, entry)
		}
		if err := a.device.AddObject(schedule.NewCalendar(spec.Instance, spec.Name, entries)); err != nil {
			return err
		}
	}

	for _, spec := range cfg.Schedules {
		def, err := spec.Definition()
		if err != nil {
			return err
		}
		sch, err := schedule.New(spec.Instance, spec.Name, def, spec.OutOfService, a.log)
		if err != nil {
			return err
		}
		if a.store != nil {
			sch.SetRecorder(&storeRecorder{store: a.store, log: a.log})
		}
		if err := a.device.AddObject(sch); err != nil {
			return err
		}

		delay, period, enabled, err := spec.FailsafeTimings()
		if err != nil {
			return err
		}
		if enabled {
			if err := sch.StartPeriodicWriter(delay, period); err != nil {
				return fmt.Errorf("schedule %q: %w", spec.Name, err)
			}
		}
	}
	return nil
}

func (a *App) startCronLocked(cfg *config.Config) error {
	spec := cfg.Maintenance.PruneSpec
	if spec == "" || a.store == nil {
		return nil
	}
	retention, err := config.ParseDurationOrDefault("maintenance.retention", cfg.Maintenance.Retention, 30*24*time.Hour)
	if err != nil {
		return err
	}

	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cutoff := time.Now().Add(-retention)
		if err := a.store.Prune(ctx, cutoff); err != nil {
			a.log.Warn("storage prune failed", logx.Err(err))
			return
		}
		a.log.Info("storage pruned", logx.Time("cutoff", cutoff))
	})
	if err != nil {
		return fmt.Errorf("maintenance.prune_spec: %w", err)
	}
	c.Start()
	a.cronSvc = c
	return nil
}

// applyReload swaps the running entity set for the new config. Logging is
// re-applied in place; entities are torn down and rebuilt, which cancels all
// timers and re-runs initial resolutions.
func (a *App) applyReload(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}

	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.device.RemoveAll()
	if a.cronSvc != nil {
		a.cronSvc.Stop()
		a.cronSvc = nil
	}

	if err := a.populateLocked(cfg); err != nil {
		a.log.Error("config reload failed while rebuilding entities", logx.Err(err))
		return
	}
	if err := a.startCronLocked(cfg); err != nil {
		a.log.Error("config reload failed while restarting maintenance", logx.Err(err))
		return
	}
	a.log.Info("entities rebuilt from config", logx.Int("schedules", len(cfg.Schedules)))
}

func (a *App) recordChanges(ctx context.Context, ch <-chan object.PropertyChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Property != object.PropPresentValue {
				continue
			}
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := a.store.AppendTransition(rctx, storage.TransitionEntry{
				At:       ev.Time,
				Device:   ev.Device,
				Object:   ev.Object.String(),
				Property: ev.Property.String(),
				Old:      fmt.Sprint(ev.Old),
				New:      fmt.Sprint(ev.New),
			})
			cancel()
			if err != nil {
				a.log.Debug("history append failed", logx.Err(err))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	if a.stopWatch != nil {
		a.stopWatch()
		a.stopWatch = nil
	}
	a.teardownLocked()
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	a.log.Info("app stopped")
	return a.logSvc.Close()
}

func (a *App) teardownLocked() {
	if a.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		a.debug.Stop(ctx)
		cancel()
		a.debug = nil
	}
	if a.cronSvc != nil {
		a.cronSvc.Stop()
		a.cronSvc = nil
	}
	if a.device != nil {
		a.device.RemoveAll()
		a.device = nil
	}
	if a.network != nil {
		a.network.Close()
		a.network = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
}

// storeRecorder bridges dispatch outcomes into storage. Failures are
// debug-logged only; recording must never affect dispatch.
type storeRecorder struct {
	store storage.Store
	log   logx.Logger
}

func (r *storeRecorder) RecordDispatch(rec schedule.DispatchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.store.AppendDispatch(ctx, storage.DispatchEntry{
		At:       rec.Time,
		Schedule: rec.Schedule.String(),
		Target:   rec.Target.String(),
		Value:    rec.Value,
		Outcome:  rec.Outcome,
		Error:    rec.Error,
	})
	if err != nil {
		r.log.Debug("dispatch record failed", logx.Err(err))
	}
}
