package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	"git.home.luguber.info/inful/fencewatch/internal/distance"
	"git.home.luguber.info/inful/fencewatch/internal/entry"
	"git.home.luguber.info/inful/fencewatch/internal/events"
	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/metrics"
	"git.home.luguber.info/inful/fencewatch/internal/producer"
	"git.home.luguber.info/inful/fencewatch/internal/realtime"
	"git.home.luguber.info/inful/fencewatch/internal/remote"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// Pipeline is the foreground consumer side of the engine: it receives
// fixes from the event bus, streams them out, accounts distance, and runs
// the periodic geofence check against the latest fix.
type Pipeline struct {
	cfg         config.TrackingConfig
	store       *statestore.Store
	bus         *events.Bus
	remote      *remote.Client
	channel     *realtime.Channel
	evaluator   geofence.Evaluator
	coordinator *entry.Coordinator
	accumulator *distance.Accumulator
	battery     *producer.BatteryReader
	recorder    metrics.Recorder
	logger      *slog.Logger

	mu        sync.Mutex
	latest    location.Fix
	lastFixAt time.Time
}

func NewPipeline(cfg config.TrackingConfig, store *statestore.Store, bus *events.Bus, client *remote.Client, channel *realtime.Channel, coordinator *entry.Coordinator, accumulator *distance.Accumulator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       store,
		bus:         bus,
		remote:      client,
		channel:     channel,
		evaluator:   geofence.Evaluator{EnterRadiusM: cfg.EnterRadiusM, ExitRadiusM: cfg.ExitRadiusM},
		coordinator: coordinator,
		accumulator: accumulator,
		recorder:    metrics.NoopRecorder{},
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// WithRecorder injects a metrics recorder.
func (p *Pipeline) WithRecorder(r metrics.Recorder) *Pipeline {
	p.recorder = r
	return p
}

// WithBattery attaches a battery level source.
func (p *Pipeline) WithBattery(b *producer.BatteryReader) *Pipeline {
	p.battery = b
	return p
}

// Run consumes fix events until ctx is canceled. Fixes from the
// background producer are consumed too when it runs in-process; the
// pipeline does not care which producer won the tick.
func (p *Pipeline) Run(ctx context.Context) {
	fixCh, unsubscribe := events.Subscribe[events.FixObserved](p.bus, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-fixCh:
			if !ok {
				return
			}
			p.handleFix(ctx, evt)
		}
	}
}

func (p *Pipeline) handleFix(ctx context.Context, evt events.FixObserved) {
	p.mu.Lock()
	p.latest = evt.Fix
	p.lastFixAt = time.Now()
	p.mu.Unlock()

	if rec, err := p.accumulator.Account(ctx, evt.Fix); err != nil {
		p.logger.Warn("distance accounting failed", logfields.Error(err))
	} else {
		p.recorder.SetDailyDistanceMeters(rec.CumulativeMeters)
	}

	p.submit(ctx, evt.Fix)
}

// submit streams the fix over the realtime channel, falling back to HTTP
// when the channel is down.
func (p *Pipeline) submit(ctx context.Context, fix location.Fix) {
	var level *int
	if p.battery != nil {
		level = p.battery.Level()
	}

	if p.channel.Connected() {
		err := p.channel.PublishFix(ctx, fix, level)
		if err == nil {
			return
		}
		p.logger.Debug("realtime publish failed, falling back to HTTP", logfields.Error(err))
	}

	start := time.Now()
	err := p.remote.SubmitFix(ctx, fix, level)
	p.recorder.ObserveRemoteCallDuration("submit_fix", time.Since(start), err == nil)
	if err != nil {
		p.logger.Warn("fix submission failed", logfields.Error(err))
	}
}

// SetRadii swaps the hysteresis radii, used on config reload.
func (p *Pipeline) SetRadii(enterM, exitM float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evaluator = geofence.Evaluator{EnterRadiusM: enterM, ExitRadiusM: exitM}
}

// Latest returns the most recent fix and when it was received. The zero
// fix means no fix has arrived yet.
func (p *Pipeline) Latest() (location.Fix, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.lastFixAt
}

// CheckGeofences evaluates the latest fix against the cached fence list.
// Runs on the periodic foreground check timer; fixes older than the
// staleness cutoff are skipped because acting on an old position risks
// false containment classification.
func (p *Pipeline) CheckGeofences(ctx context.Context) {
	fix, _ := p.Latest()
	if fix.IsZero() {
		return
	}
	if age := time.Since(fix.Timestamp); age > p.cfg.StaleFixMaxAge {
		p.recorder.IncFixRejected(producer.Foreground, "stale")
		p.logger.Debug("skipping stale fix for evaluation", logfields.FixAge(age.String()))
		return
	}

	cache, err := p.store.GeofenceCacheEntry(ctx)
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			p.logger.Warn("failed to read fence cache", logfields.Error(err))
		}
		return
	}
	if len(cache.Fences) == 0 {
		return
	}

	containment, err := p.store.Containment(ctx)
	if err != nil {
		p.logger.Warn("failed to read containment", logfields.Error(err))
		return
	}

	p.mu.Lock()
	evaluator := p.evaluator
	p.mu.Unlock()

	start := time.Now()
	result := evaluator.Evaluate(fix, cache.Fences, containment, start)
	p.recorder.ObserveEvaluationDuration(time.Since(start))

	if len(result.Entries) == 0 && len(result.Exits) == 0 {
		return
	}
	if err := p.coordinator.Apply(ctx, result); err != nil {
		p.logger.Warn("entry coordination failed", logfields.Error(err))
	}
}

// RefreshFences fetches the fence list and persists it with a fresh
// timestamp. Failures keep the previous cache.
func (p *Pipeline) RefreshFences(ctx context.Context) {
	start := time.Now()
	fences, err := p.remote.FetchFences(ctx)
	p.recorder.ObserveRemoteCallDuration("fetch_fences", time.Since(start), err == nil)
	if err != nil {
		p.logger.Warn("fence list refresh failed, keeping cache", logfields.Error(err))
		return
	}
	if err := p.store.SetGeofenceCache(ctx, fences); err != nil {
		p.logger.Warn("failed to persist fence cache", logfields.Error(err))
		return
	}
	p.logger.Debug("fence list refreshed", slog.Int("count", len(fences)))
}

// WarnIfStale logs when no fix has arrived for the warning threshold.
// Runs on the minute poll alongside the midnight rollover.
func (p *Pipeline) WarnIfStale(threshold time.Duration) {
	_, lastAt := p.Latest()
	if lastAt.IsZero() {
		return
	}
	if since := time.Since(lastAt); since > threshold {
		p.logger.Warn("no location fix for a while", slog.Duration("since_last_fix", since))
	}
}
