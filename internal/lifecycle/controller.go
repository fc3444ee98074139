// Package lifecycle supervises the engine across process state changes.
// Transitions start and stop the foreground pipeline and persist a
// freshness-gated record that the background agent reads for mutual
// exclusion.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/events"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/metrics"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// Hooks are the actions a transition may need. Each hook is optional; a
// nil hook is a no-op. StartForeground is expected to retry internally.
type Hooks struct {
	StartForeground func(ctx context.Context) error
	StopForeground  func(ctx context.Context) error
	VerifyRealtime  func(ctx context.Context) error
}

// Controller runs the Active / Transitional / Background state machine
// under a transition lock: a transition arriving while one is in progress
// is dropped with a log, never queued.
type Controller struct {
	store    *statestore.Store
	hooks    Hooks
	bus      *events.Bus
	recorder metrics.Recorder
	logger   *slog.Logger

	transitioning atomic.Bool

	mu      sync.Mutex
	current statestore.LifecycleState
}

func NewController(store *statestore.Store, hooks Hooks, bus *events.Bus, logger *slog.Logger) *Controller {
	return &Controller{
		store:    store,
		hooks:    hooks,
		bus:      bus,
		recorder: metrics.NoopRecorder{},
		logger:   logger.With(slog.String("component", "lifecycle")),
		current:  statestore.StateBackground,
	}
}

// WithRecorder injects a metrics recorder.
func (c *Controller) WithRecorder(r metrics.Recorder) *Controller {
	c.recorder = r
	return c
}

// Current returns the in-memory state. It is advisory; readers that gate
// behavior on lifecycle must use the persisted, freshness-gated record.
func (c *Controller) Current() statestore.LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Transition moves the machine to the requested state, running the
// required actions first and persisting the record last, so the other
// producer never reads a state whose actions have not completed.
func (c *Controller) Transition(ctx context.Context, to statestore.LifecycleState) error {
	if !c.transitioning.CompareAndSwap(false, true) {
		from := c.Current()
		c.logger.Info("dropping overlapping lifecycle transition",
			logfields.State(string(to)),
			slog.String("from", string(from)))
		return trkerrors.LifecycleBusy(string(from), string(to))
	}
	defer c.transitioning.Store(false)

	from := c.Current()
	if from == to {
		// Re-persist so the freshness gate sees a live process.
		return c.persist(ctx, to)
	}

	start := time.Now()
	c.logger.Info("lifecycle transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)))

	var err error
	switch to {
	case statestore.StateActive:
		err = c.activate(ctx, from)
	case statestore.StateBackground:
		err = c.deactivate(ctx)
	case statestore.StateTransitional:
		// Momentary interruption: producers keep running.
	default:
		return trkerrors.New(trkerrors.CategoryLifecycle, trkerrors.SeverityError, "unknown lifecycle state").
			WithContext("state", string(to))
	}
	if err != nil {
		// A failed activation leaves tracking down; record background so
		// the other producer does not suppress its own sends.
		if to == statestore.StateActive {
			if perr := c.persist(ctx, statestore.StateBackground); perr != nil {
				c.logger.Error("failed to persist lifecycle after aborted activation", logfields.Error(perr))
			}
		}
		return err
	}

	if err := c.persist(ctx, to); err != nil {
		return err
	}

	c.logger.Info("lifecycle transition complete",
		slog.String("to", string(to)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))

	if c.bus != nil {
		_ = c.bus.Publish(ctx, events.LifecycleChanged{From: from, To: to, ChangedAt: time.Now()})
	}
	return nil
}

// activate restores the foreground pipeline. Coming from Transitional the
// producer is assumed alive and only the realtime channel is verified;
// coming from Background everything restarts. The background producer is
// never stopped here: it stays running and is redundant-but-harmless
// while the foreground pipeline is active.
func (c *Controller) activate(ctx context.Context, from statestore.LifecycleState) error {
	if from != statestore.StateTransitional && c.hooks.StartForeground != nil {
		if err := c.hooks.StartForeground(ctx); err != nil {
			return err
		}
	}
	if c.hooks.VerifyRealtime != nil {
		if err := c.hooks.VerifyRealtime(ctx); err != nil {
			c.logger.Warn("realtime channel verification failed, continuing on HTTP", logfields.Error(err))
		}
	}
	return nil
}

// deactivate stops the foreground pipeline only. The background producer
// is cancelled by an explicit stop call, never by a transition.
func (c *Controller) deactivate(ctx context.Context) error {
	if c.hooks.StopForeground != nil {
		return c.hooks.StopForeground(ctx)
	}
	return nil
}

// Heartbeat re-persists the current state. Called periodically while the
// process is healthy so the record's freshness gate keeps reflecting a
// live foreground instead of degrading to background after 5s.
func (c *Controller) Heartbeat(ctx context.Context) error {
	return c.persist(ctx, c.Current())
}

func (c *Controller) persist(ctx context.Context, state statestore.LifecycleState) error {
	if err := c.store.SetLifecycle(ctx, state); err != nil {
		return trkerrors.Wrap(err, trkerrors.CategoryStore, trkerrors.SeverityError, "failed to persist lifecycle record")
	}
	c.mu.Lock()
	c.current = state
	c.mu.Unlock()
	c.recorder.SetLifecycleState(string(state))
	return nil
}
