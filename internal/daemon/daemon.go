// Package daemon wires the tracking engine together: producers, the
// foreground pipeline, the in-process background agent, the lifecycle
// controller, periodic jobs, and the admin HTTP surface.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/fencewatch/internal/agent"
	"git.home.luguber.info/inful/fencewatch/internal/config"
	"git.home.luguber.info/inful/fencewatch/internal/distance"
	"git.home.luguber.info/inful/fencewatch/internal/entry"
	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/events"
	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/lifecycle"
	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/metrics"
	"git.home.luguber.info/inful/fencewatch/internal/notify"
	"git.home.luguber.info/inful/fencewatch/internal/observability"
	"git.home.luguber.info/inful/fencewatch/internal/producer"
	"git.home.luguber.info/inful/fencewatch/internal/realtime"
	"git.home.luguber.info/inful/fencewatch/internal/remote"
	"git.home.luguber.info/inful/fencewatch/internal/retry"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// Daemon owns the engine's components and their lifetimes.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store       *statestore.Store
	bus         *events.Bus
	client      *remote.Client
	channel     *realtime.Channel
	pipeline    *Pipeline
	coordinator *entry.Coordinator
	accumulator *distance.Accumulator
	controller  *lifecycle.Controller
	agent       *agent.Agent
	foreground  *producer.Producer
	notifier    notify.Notifier
	recorder    metrics.Recorder
	registry    *prom.Registry
	scheduler   gocron.Scheduler
	workers     WorkerGroup
	httpServer  *http.Server
	watcher     *ConfigWatcher

	startTime time.Time

	fgMu     sync.Mutex
	fgCancel context.CancelFunc

	cfgMu sync.RWMutex
}

// New builds a daemon from configuration. Nothing is started yet.
func New(cfg *config.Config, configPath string, logger *slog.Logger) (*Daemon, error) {
	store, err := statestore.Open(cfg.Store.Path)
	if err != nil {
		return nil, trkerrors.Wrap(err, trkerrors.CategoryStore, trkerrors.SeverityFatal, "failed to open state store").
			WithContext("path", cfg.Store.Path)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "daemon")),
		store:    store,
		bus:      events.NewBus(),
		notifier: notify.NewLogNotifier(logger),
		recorder: metrics.NoopRecorder{},
	}

	if cfg.Admin.MetricsEnabled {
		d.registry = prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	}

	d.client = remote.NewClient(nil, cfg.Server, cfg.Session)

	if cfg.Realtime.Enabled {
		channel, err := realtime.Connect(cfg.Realtime, cfg.Session, logger)
		if err != nil {
			// Startup continues on HTTP; the channel keeps retrying.
			d.logger.Warn("realtime channel unavailable at startup", logfields.Error(err))
		} else {
			d.channel = channel
		}
	}

	d.coordinator = entry.NewCoordinator(store, d.client, d.notifier, d.bus, logger).
		WithRecorder(d.recorder).
		WithLockTTL(cfg.Tracking.EntryLockTTL)
	d.accumulator = distance.NewAccumulator(store, logger)

	battery := producer.NewBatteryReader(cfg.Battery.SourcePath)
	d.pipeline = NewPipeline(cfg.Tracking, store, d.bus, d.client, d.channel, d.coordinator, d.accumulator, logger).
		WithRecorder(d.recorder).
		WithBattery(battery)

	fgProvider, err := buildProvider(cfg.Provider)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	d.foreground = producer.New(producer.Foreground, fgProvider, cfg.Tracking.ForegroundInterval, d.bus, retry.FromConfig(cfg.Restart), logger).
		WithRecorder(d.recorder)

	bgProvider, err := buildProvider(cfg.Provider)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	d.agent = agent.New(store, bgProvider, d.client, evaluatorFromConfig(cfg.Tracking), d.coordinator, d.accumulator, agent.Options{
		Interval:           cfg.Tracking.BackgroundInterval,
		CacheRefresh:       cfg.Tracking.CacheRefreshInterval,
		StaleFixMaxAge:     cfg.Tracking.StaleFixMaxAge,
		LifecycleStaleness: cfg.Tracking.LifecycleStaleness,
	}, logger).
		WithRecorder(d.recorder).
		WithBattery(battery)

	d.controller = lifecycle.NewController(store, lifecycle.Hooks{
		StartForeground: d.startForeground,
		StopForeground:  d.stopForeground,
		VerifyRealtime:  d.verifyRealtime,
	}, d.bus, logger).WithRecorder(d.recorder)

	if configPath != "" {
		watcher, err := NewConfigWatcher(configPath, d, logger)
		if err != nil {
			d.logger.Warn("config watcher unavailable", logfields.Error(err))
		} else {
			d.watcher = watcher
		}
	}

	return d, nil
}

// Run starts everything and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	d.startTime = time.Now()
	ctx = observability.WithSession(observability.WithUser(ctx, d.cfg.Session.UserNumber), d.client.SessionID())
	d.logger.Info("starting tracking daemon",
		logfields.User(d.cfg.Session.UserNumber),
		logfields.Session(d.client.SessionID()),
		slog.String("role", string(d.cfg.Session.Role)))

	if err := d.scheduleJobs(); err != nil {
		return err
	}

	d.workers.Go(func() { d.pipeline.Run(ctx) })

	// The background producer starts once at tracking-start time and is
	// cancelled only by daemon shutdown, never by a lifecycle transition.
	d.workers.Go(func() {
		if err := d.agent.Run(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("background agent stopped", logfields.Error(err))
		}
	})

	d.workers.Go(func() { d.handleSignals(ctx) })

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Warn("config watcher failed to start", logfields.Error(err))
		}
	}

	if err := d.startAdminServer(); err != nil {
		return err
	}

	d.scheduler.Start()

	// Prime the fence cache so the first evaluation tick has data.
	d.pipeline.RefreshFences(ctx)

	if err := d.controller.Transition(ctx, statestore.StateActive); err != nil {
		d.notifier.TrackingFailed(ctx, "location tracking could not start")
		d.logger.Error("initial activation failed", logfields.Error(err))
		if trkerrors.IsCategory(err, trkerrors.CategoryPermission) {
			return err
		}
	}

	<-ctx.Done()
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			d.logger.Warn("scheduler shutdown failed", logfields.Error(err))
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("admin server shutdown failed", logfields.Error(err))
		}
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}

	d.stopForegroundLocked()

	if err := d.workers.StopAndWait(shutdownCtx); err != nil {
		d.logger.Warn("workers did not stop in time", logfields.Error(err))
	}

	d.bus.Close()
	d.channel.Close()
	if err := d.store.Close(); err != nil {
		d.logger.Warn("state store close failed", logfields.Error(err))
	}

	d.logger.Info("shutdown complete", logfields.DurationMS(float64(time.Since(d.startTime).Milliseconds())))
	return nil
}

// scheduleJobs registers the periodic work: lifecycle heartbeat on the
// foreground send interval, geofence re-check, fence cache refresh, and
// the minute poll that rolls the day over and warns on fix starvation.
func (d *Daemon) scheduleJobs() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return trkerrors.Wrap(err, trkerrors.CategoryRuntime, trkerrors.SeverityFatal, "failed to create scheduler")
	}
	d.scheduler = s

	tracking := d.cfg.Tracking
	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"lifecycle-heartbeat", tracking.ForegroundInterval, func() {
			ctx, cancel := jobContext()
			defer cancel()
			if d.controller.Current() == statestore.StateBackground {
				return
			}
			if err := d.controller.Heartbeat(ctx); err != nil {
				d.logger.Warn("lifecycle heartbeat failed", logfields.Error(err))
			}
		}},
		{"geofence-check", tracking.GeofenceCheckInterval, func() {
			ctx, cancel := jobContext()
			defer cancel()
			if d.controller.Current() != statestore.StateActive {
				return
			}
			d.pipeline.CheckGeofences(ctx)
		}},
		{"fence-cache-refresh", tracking.CacheRefreshInterval, func() {
			ctx, cancel := jobContext()
			defer cancel()
			d.pipeline.RefreshFences(ctx)
		}},
		{"minute-poll", tracking.MidnightPollInterval, func() {
			ctx, cancel := jobContext()
			defer cancel()
			d.minutePoll(ctx)
		}},
	}

	for _, j := range jobs {
		if _, err := s.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task),
			gocron.WithName(j.name),
		); err != nil {
			return trkerrors.Wrap(err, trkerrors.CategoryRuntime, trkerrors.SeverityFatal, "failed to schedule job").
				WithContext("job", j.name)
		}
	}
	return nil
}

// minutePoll runs the midnight distance rollover and, while the engine is
// active, the fix staleness check. In background the foreground producer
// is stopped, so an aging fix is expected; the agent owns staleness there.
func (d *Daemon) minutePoll(ctx context.Context) {
	if err := d.accumulator.Rollover(ctx, time.Now()); err != nil {
		d.logger.Warn("midnight rollover failed", logfields.Error(err))
	}
	if d.controller.Current() == statestore.StateActive {
		d.pipeline.WarnIfStale(time.Minute)
	}
}

func jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// startForeground is the lifecycle hook restoring the foreground
// producer. It retries per the restart policy inside producer.Start.
func (d *Daemon) startForeground(ctx context.Context) error {
	d.fgMu.Lock()
	defer d.fgMu.Unlock()

	if d.fgCancel != nil {
		return nil
	}
	if err := d.foreground.Start(ctx); err != nil {
		d.notifier.TrackingFailed(ctx, "foreground fix producer failed to start")
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.fgCancel = cancel
	d.workers.Go(func() { d.foreground.Run(runCtx) })
	return nil
}

// stopForeground is the lifecycle hook for entering background: the
// foreground poller and its provider stop, the background agent keeps
// going untouched.
func (d *Daemon) stopForeground(context.Context) error {
	d.stopForegroundLocked()
	return nil
}

func (d *Daemon) stopForegroundLocked() {
	d.fgMu.Lock()
	defer d.fgMu.Unlock()

	if d.fgCancel == nil {
		return
	}
	d.fgCancel()
	d.fgCancel = nil
	if err := d.foreground.Stop(); err != nil {
		d.logger.Warn("foreground producer stop failed", logfields.Error(err))
	}
}

func (d *Daemon) verifyRealtime(context.Context) error {
	if !d.cfg.Realtime.Enabled {
		return nil
	}
	if !d.channel.Connected() {
		return trkerrors.New(trkerrors.CategoryRealtime, trkerrors.SeverityWarning, "realtime channel not connected")
	}
	return nil
}

// handleSignals maps SIGUSR1/SIGUSR2 onto lifecycle transitions, the
// closest host equivalent of an application moving between foreground
// and background.
func (d *Daemon) handleSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			target := statestore.StateActive
			if sig == syscall.SIGUSR2 {
				target = statestore.StateBackground
			}
			d.logger.Info("lifecycle signal received",
				slog.String("signal", sig.String()),
				logfields.State(string(target)))
			if err := d.controller.Transition(ctx, target); err != nil {
				d.logger.Warn("signal-driven transition rejected", logfields.Error(err))
			}
		}
	}
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// ReloadConfig applies a validated configuration. Only tracking geometry
// and intervals that components read per-tick take effect immediately;
// structural changes (store path, server URL, provider) need a restart.
func (d *Daemon) ReloadConfig(_ context.Context, newCfg *config.Config) error {
	d.cfgMu.Lock()
	old := d.cfg
	d.cfg = newCfg
	d.cfgMu.Unlock()

	if old.Store.Path != newCfg.Store.Path ||
		old.Server.BaseURL != newCfg.Server.BaseURL ||
		old.Provider != newCfg.Provider {
		d.logger.Warn("store, server, or provider changes require a restart to take effect")
	}

	d.pipeline.SetRadii(newCfg.Tracking.EnterRadiusM, newCfg.Tracking.ExitRadiusM)
	d.coordinator.WithLockTTL(newCfg.Tracking.EntryLockTTL)
	d.logger.Info("configuration reloaded")
	return nil
}

func evaluatorFromConfig(cfg config.TrackingConfig) geofence.Evaluator {
	return geofence.Evaluator{EnterRadiusM: cfg.EnterRadiusM, ExitRadiusM: cfg.ExitRadiusM}
}

func buildProvider(cfg config.ProviderConfig) (location.Provider, error) {
	switch cfg.Kind {
	case "replay":
		return location.NewReplayProvider(cfg.ReplayPath)
	case "gpsd", "":
		return location.NewGPSDProvider(cfg.GPSDAddress), nil
	default:
		return nil, trkerrors.New(trkerrors.CategoryConfig, trkerrors.SeverityFatal, "unknown provider kind").
			WithContext("kind", cfg.Kind)
	}
}
