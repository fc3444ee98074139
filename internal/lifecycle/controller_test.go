package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

func newTestController(t *testing.T, hooks Hooks) (*Controller, *statestore.Store) {
	t.Helper()
	store, err := statestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewController(store, hooks, nil, slog.New(slog.DiscardHandler)), store
}

func TestBackgroundToActiveStartsForeground(t *testing.T) {
	var started, verified atomic.Int32
	c, store := newTestController(t, Hooks{
		StartForeground: func(context.Context) error { started.Add(1); return nil },
		VerifyRealtime:  func(context.Context) error { verified.Add(1); return nil },
	})
	ctx := context.Background()

	require.NoError(t, c.Transition(ctx, statestore.StateActive))
	require.Equal(t, int32(1), started.Load())
	require.Equal(t, int32(1), verified.Load())
	require.Equal(t, statestore.StateActive, c.Current())

	rec, err := store.Lifecycle(ctx)
	require.NoError(t, err)
	require.Equal(t, statestore.StateActive, rec.State)
}

func TestTransitionalToActiveOnlyVerifiesRealtime(t *testing.T) {
	var started, verified atomic.Int32
	c, _ := newTestController(t, Hooks{
		StartForeground: func(context.Context) error { started.Add(1); return nil },
		VerifyRealtime:  func(context.Context) error { verified.Add(1); return nil },
	})
	ctx := context.Background()

	require.NoError(t, c.Transition(ctx, statestore.StateActive))
	require.NoError(t, c.Transition(ctx, statestore.StateTransitional))
	require.NoError(t, c.Transition(ctx, statestore.StateActive))

	require.Equal(t, int32(1), started.Load(), "producer untouched when resuming from a momentary interruption")
	require.Equal(t, int32(2), verified.Load())
}

func TestActiveToBackgroundStopsForegroundOnly(t *testing.T) {
	var stopped atomic.Int32
	c, store := newTestController(t, Hooks{
		StartForeground: func(context.Context) error { return nil },
		StopForeground:  func(context.Context) error { stopped.Add(1); return nil },
	})
	ctx := context.Background()

	require.NoError(t, c.Transition(ctx, statestore.StateActive))
	require.NoError(t, c.Transition(ctx, statestore.StateBackground))
	require.Equal(t, int32(1), stopped.Load())

	rec, err := store.Lifecycle(ctx)
	require.NoError(t, err)
	require.Equal(t, statestore.StateBackground, rec.State)
}

func TestOverlappingTransitionIsDropped(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	c, _ := newTestController(t, Hooks{
		StartForeground: func(context.Context) error {
			close(entered)
			<-release
			return nil
		},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Transition(ctx, statestore.StateActive)
	}()

	<-entered
	err := c.Transition(ctx, statestore.StateBackground)
	require.Error(t, err)
	require.Equal(t, trkerrors.CategoryLifecycle, trkerrors.GetCategory(err))

	close(release)
	wg.Wait()
	require.Equal(t, statestore.StateActive, c.Current(), "dropped transition is not queued")
}

func TestFailedActivationRecordsBackground(t *testing.T) {
	c, store := newTestController(t, Hooks{
		StartForeground: func(context.Context) error { return errors.New("watch refused") },
	})
	ctx := context.Background()

	require.Error(t, c.Transition(ctx, statestore.StateActive))
	require.Equal(t, statestore.StateBackground, c.Current())

	rec, err := store.Lifecycle(ctx)
	require.NoError(t, err)
	require.Equal(t, statestore.StateBackground, rec.State,
		"the other producer must not suppress sends while tracking is down")
}

func TestRealtimeVerificationFailureIsNotFatal(t *testing.T) {
	c, _ := newTestController(t, Hooks{
		StartForeground: func(context.Context) error { return nil },
		VerifyRealtime:  func(context.Context) error { return errors.New("nats down") },
	})

	require.NoError(t, c.Transition(context.Background(), statestore.StateActive))
	require.Equal(t, statestore.StateActive, c.Current())
}

func TestHeartbeatRefreshesRecord(t *testing.T) {
	c, store := newTestController(t, Hooks{StartForeground: func(context.Context) error { return nil }})
	ctx := context.Background()

	require.NoError(t, c.Transition(ctx, statestore.StateActive))
	first, err := store.Lifecycle(ctx)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Heartbeat(ctx))

	second, err := store.Lifecycle(ctx)
	require.NoError(t, err)
	require.Equal(t, statestore.StateActive, second.State)
	require.True(t, second.Timestamp.After(first.Timestamp))
}
