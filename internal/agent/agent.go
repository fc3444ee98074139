// Package agent runs the background tracking loop: an independent
// evaluation path that keeps working when the foreground pipeline is
// suspended. It shares the durable state store with the foreground
// pipeline and coordinates with it only through the freshness-gated
// lifecycle record, never through shared memory.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/distance"
	"git.home.luguber.info/inful/fencewatch/internal/entry"
	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/metrics"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// Remote is the slice of the backend client the agent needs.
type Remote interface {
	SubmitFix(ctx context.Context, fix location.Fix, batteryLevel *int) error
	FetchFences(ctx context.Context) ([]geofence.Fence, error)
}

// BatteryLeveler optionally attaches a charge percentage to submissions.
type BatteryLeveler interface {
	Level() *int
}

// Options tune the agent's timing. Zero values take the defaults used in
// production.
type Options struct {
	Interval           time.Duration // fix poll interval
	CacheRefresh       time.Duration // geofence list max age
	StaleFixMaxAge     time.Duration // fixes older than this skip evaluation
	LifecycleStaleness time.Duration // foreground record freshness gate
	StaleWarnAfter     time.Duration // warn when no fix for this long
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.CacheRefresh <= 0 {
		o.CacheRefresh = 2 * time.Minute
	}
	if o.StaleFixMaxAge <= 0 {
		o.StaleFixMaxAge = 30 * time.Second
	}
	if o.LifecycleStaleness <= 0 {
		o.LifecycleStaleness = 5 * time.Second
	}
	if o.StaleWarnAfter <= 0 {
		o.StaleWarnAfter = time.Minute
	}
}

// Agent polls the provider and runs evaluate → record → accumulate per
// fix. Unlike the foreground pipeline it checks geofences on every fix
// rather than on a separate timer.
type Agent struct {
	store       *statestore.Store
	provider    location.Provider
	remote      Remote
	evaluator   geofence.Evaluator
	coordinator *entry.Coordinator
	accumulator *distance.Accumulator
	battery     BatteryLeveler
	recorder    metrics.Recorder
	logger      *slog.Logger
	opts        Options

	lastFixAt time.Time
	now       func() time.Time
}

func New(store *statestore.Store, provider location.Provider, remote Remote, evaluator geofence.Evaluator, coordinator *entry.Coordinator, accumulator *distance.Accumulator, opts Options, logger *slog.Logger) *Agent {
	opts.applyDefaults()
	return &Agent{
		store:       store,
		provider:    provider,
		remote:      remote,
		evaluator:   evaluator,
		coordinator: coordinator,
		accumulator: accumulator,
		recorder:    metrics.NoopRecorder{},
		logger:      logger.With(slog.String("component", "agent")),
		opts:        opts,
		now:         time.Now,
	}
}

// WithRecorder injects a metrics recorder.
func (a *Agent) WithRecorder(r metrics.Recorder) *Agent {
	a.recorder = r
	return a
}

// WithBattery attaches a battery level source.
func (a *Agent) WithBattery(b BatteryLeveler) *Agent {
	a.battery = b
	return a
}

// withClock overrides the time source for tests.
func (a *Agent) withClock(now func() time.Time) *Agent {
	a.now = now
	return a
}

// Run starts the provider and loops until ctx is canceled. The provider
// is stopped only on return, never by a lifecycle transition.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.provider.Start(ctx); err != nil {
		return trkerrors.ProducerStartError("background", err)
	}
	defer func() {
		if err := a.provider.Stop(); err != nil {
			a.logger.Warn("provider stop failed", logfields.Error(err))
		}
	}()

	a.logger.Info("background agent running", slog.Duration("interval", a.opts.Interval))
	a.lastFixAt = a.now()

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one iteration of the background loop. Exported so the daemon
// can drive the agent in-process off its own scheduler.
func (a *Agent) Tick(ctx context.Context) {
	fix, err := a.provider.Current(ctx)
	if err != nil {
		if !errors.Is(err, location.ErrNoFix) {
			a.logger.Warn("fix acquisition failed", logfields.Error(err))
		}
		if since := a.now().Sub(a.lastFixAt); since > a.opts.StaleWarnAfter {
			a.logger.Warn("no location fix for a while", slog.Duration("since_last_fix", since))
		}
		return
	}
	a.lastFixAt = a.now()
	a.recorder.IncFixObserved("background")

	// Distance accounting runs on every fix; it has its own noise filter
	// and does not care about the evaluation staleness cutoff.
	if rec, err := a.accumulator.Account(ctx, fix); err != nil {
		a.logger.Warn("distance accounting failed", logfields.Error(err))
	} else {
		a.recorder.SetDailyDistanceMeters(rec.CumulativeMeters)
	}

	if age := a.now().Sub(fix.Timestamp); age > a.opts.StaleFixMaxAge {
		a.recorder.IncFixRejected("background", "stale")
		a.logger.Debug("skipping stale fix for evaluation", logfields.FixAge(age.String()))
	} else {
		a.evaluate(ctx, fix)
	}

	a.submit(ctx, fix)
}

// evaluate runs the hysteresis check against the cached fence list and
// hands entries and exits to the coordinator.
func (a *Agent) evaluate(ctx context.Context, fix location.Fix) {
	fences, err := a.fences(ctx)
	if err != nil {
		a.logger.Warn("no geofence list available, skipping evaluation", logfields.Error(err))
		return
	}
	if len(fences) == 0 {
		return
	}

	containment, err := a.store.Containment(ctx)
	if err != nil {
		a.logger.Warn("failed to read containment", logfields.Error(err))
		return
	}

	start := a.now()
	result := a.evaluator.Evaluate(fix, fences, containment, start)
	a.recorder.ObserveEvaluationDuration(a.now().Sub(start))

	if len(result.Entries) == 0 && len(result.Exits) == 0 {
		return
	}
	if err := a.coordinator.Apply(ctx, result); err != nil {
		a.logger.Warn("entry coordination failed", logfields.Error(err))
	}
}

// fences returns the cached list, refreshing it from the backend when it
// is older than the refresh interval. A failed refresh falls back to the
// stale cache rather than dropping evaluation.
func (a *Agent) fences(ctx context.Context) ([]geofence.Fence, error) {
	cache, err := a.store.GeofenceCacheEntry(ctx)
	haveCache := err == nil
	if err != nil && !errors.Is(err, statestore.ErrNotFound) {
		return nil, err
	}

	if haveCache && a.now().Sub(cache.Timestamp) < a.opts.CacheRefresh {
		return cache.Fences, nil
	}

	fresh, err := a.remote.FetchFences(ctx)
	if err != nil {
		if haveCache {
			a.logger.Debug("fence list refresh failed, using stale cache", logfields.Error(err))
			return cache.Fences, nil
		}
		return nil, err
	}

	if err := a.store.SetGeofenceCache(ctx, fresh); err != nil {
		a.logger.Warn("failed to persist fence cache", logfields.Error(err))
	}
	return fresh, nil
}

// submit reports the fix over HTTP unless a fresh lifecycle record says
// the foreground pipeline is streaming: duplicate traffic wastes battery
// and server writes.
func (a *Agent) submit(ctx context.Context, fix location.Fix) {
	rec, err := a.store.Lifecycle(ctx)
	if err != nil {
		a.logger.Warn("failed to read lifecycle record", logfields.Error(err))
	} else if rec.Effective(a.now(), a.opts.LifecycleStaleness) == statestore.StateActive {
		a.logger.Debug("foreground pipeline active, skipping redundant submission")
		return
	}

	var level *int
	if a.battery != nil {
		level = a.battery.Level()
	}

	start := a.now()
	err = a.remote.SubmitFix(ctx, fix, level)
	a.recorder.ObserveRemoteCallDuration("submit_fix", a.now().Sub(start), err == nil)
	if err != nil {
		a.logger.Warn("fix submission failed", logfields.Error(err))
	}
}
