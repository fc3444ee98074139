// Package entry coordinates geofence entry and exit side effects: entry
// locking, remote recording, containment updates, and rollback when the
// backend rejects or never receives the call.
package entry

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/events"
	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/metrics"
	"git.home.luguber.info/inful/fencewatch/internal/notify"
	"git.home.luguber.info/inful/fencewatch/internal/observability"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// DefaultLockTTL is the minimum spacing between remote entry-recording
// attempts for one fence.
const DefaultLockTTL = 30 * time.Second

// Recorder is the remote side of entry recording.
type Recorder interface {
	RecordEntry(ctx context.Context, fenceID int) error
}

// Coordinator is the only component that mutates containment state as a
// side effect of a successful remote call. Exits are local-only.
type Coordinator struct {
	store    *statestore.Store
	remote   Recorder
	notifier notify.Notifier
	bus      *events.Bus
	recorder metrics.Recorder
	lockTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewCoordinator(store *statestore.Store, remote Recorder, notifier notify.Notifier, bus *events.Bus, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		remote:   remote,
		notifier: notifier,
		bus:      bus,
		recorder: metrics.NoopRecorder{},
		lockTTL:  DefaultLockTTL,
		logger:   logger.With(slog.String("component", "entry")),
		now:      time.Now,
	}
}

// WithRecorder injects a metrics recorder.
func (c *Coordinator) WithRecorder(r metrics.Recorder) *Coordinator {
	c.recorder = r
	return c
}

// WithLockTTL overrides the entry lock TTL.
func (c *Coordinator) WithLockTTL(ttl time.Duration) *Coordinator {
	c.lockTTL = ttl
	return c
}

// withClock overrides the time source for tests.
func (c *Coordinator) withClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Apply processes one evaluation result. Entries and exits within one call
// are independent; a failure on one fence does not abort the others. The
// first error encountered is returned after all fences were attempted.
func (c *Coordinator) Apply(ctx context.Context, result geofence.Result) error {
	var firstErr error

	for _, ev := range result.Entries {
		if err := c.recordEntry(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ev := range result.Exits {
		if err := c.recordExit(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// recordEntry runs the lock-first sequence for one fence:
//
//  1. Re-read the lock map; a lock younger than the TTL means another
//     tick or the other producer already attempted this entry — skip.
//  2. Persist the lock BEFORE the remote call, so a concurrent evaluator
//     cannot issue a duplicate while the call is in flight.
//  3. Call the backend. On failure, remove the lock and persist (rollback);
//     containment stays false so the next tick past the TTL retries.
//  4. On success, set containment and notify.
func (c *Coordinator) recordEntry(ctx context.Context, ev geofence.Event) error {
	ctx = observability.WithFence(ctx, ev.ID)
	now := c.now()

	locks, err := c.store.EntryLocks(ctx)
	if err != nil {
		return err
	}
	if lockedAt, ok := locks[ev.ID]; ok && now.Sub(lockedAt) < c.lockTTL {
		c.recorder.IncFenceEntry("locked")
		c.logger.Debug("entry lock still fresh, skipping",
			logfields.FenceID(ev.ID),
			slog.Duration("lock_age", now.Sub(lockedAt)))
		return nil
	}

	locks[ev.ID] = now
	if err := c.store.SetEntryLocks(ctx, locks); err != nil {
		return err
	}

	if err := c.remote.RecordEntry(ctx, ev.ID); err != nil {
		c.recorder.IncFenceEntry("failed")
		c.logger.Warn("entry recording failed, rolling lock back",
			logfields.FenceID(ev.ID),
			logfields.FenceName(ev.Name),
			logfields.Error(err))

		// Rollback must re-read: the map held here may be stale if the
		// other producer wrote locks during the remote call.
		current, rbErr := c.store.EntryLocks(ctx)
		if rbErr != nil {
			return rbErr
		}
		delete(current, ev.ID)
		if rbErr := c.store.SetEntryLocks(ctx, current); rbErr != nil {
			return rbErr
		}
		return err
	}

	containment, err := c.store.Containment(ctx)
	if err != nil {
		return err
	}
	containment[ev.ID] = true
	if err := c.store.SetContainment(ctx, containment); err != nil {
		return err
	}

	c.recorder.IncFenceEntry("success")
	c.logger.Info("geofence entry recorded",
		logfields.FenceID(ev.ID),
		logfields.FenceName(ev.Name))
	c.notifier.FenceEntered(ctx, ev.ID, ev.Name)

	if c.bus != nil {
		_ = c.bus.Publish(ctx, events.FenceEntered{FenceID: ev.ID, FenceName: ev.Name, EnteredAt: now})
	}
	return nil
}

// recordExit clears containment locally. No server round-trip gates an
// exit: leaving a safe area must be surfaced even when offline.
func (c *Coordinator) recordExit(ctx context.Context, ev geofence.Event) error {
	containment, err := c.store.Containment(ctx)
	if err != nil {
		return err
	}
	delete(containment, ev.ID)
	if err := c.store.SetContainment(ctx, containment); err != nil {
		return err
	}

	c.recorder.IncFenceExit()
	c.logger.Info("geofence exit detected",
		logfields.FenceID(ev.ID),
		logfields.FenceName(ev.Name))
	c.notifier.FenceExited(ctx, ev.ID, ev.Name)

	if c.bus != nil {
		_ = c.bus.Publish(ctx, events.FenceExited{FenceID: ev.ID, FenceName: ev.Name, ExitedAt: c.now()})
	}
	return nil
}
