package producer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/events"
	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/retry"
)

type flakyProvider struct {
	location.Provider
	startAttempts atomic.Int32
	failuresLeft  atomic.Int32
	permanentErr  error
}

func (f *flakyProvider) Start(context.Context) error {
	f.startAttempts.Add(1)
	if f.permanentErr != nil {
		return f.permanentErr
	}
	if f.failuresLeft.Add(-1) >= 0 {
		return trkerrors.New(trkerrors.CategoryProducer, trkerrors.SeverityWarning, "watch refused")
	}
	return nil
}

func (f *flakyProvider) Stop() error { return nil }

func fastPolicy(maxRetries int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, maxRetries)
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestStartRetriesTransientFailures(t *testing.T) {
	prov := &flakyProvider{}
	prov.failuresLeft.Store(2)

	p := New(Foreground, prov, time.Second, events.NewBus(), fastPolicy(3), discardLogger())
	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, int32(3), prov.startAttempts.Load())
}

func TestStartExhaustionIsSurfaced(t *testing.T) {
	prov := &flakyProvider{}
	prov.failuresLeft.Store(10)

	p := New(Foreground, prov, time.Second, events.NewBus(), fastPolicy(3), discardLogger())
	err := p.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, trkerrors.CategoryProducer, trkerrors.GetCategory(err))
	require.Equal(t, int32(3), prov.startAttempts.Load())
}

func TestStartDoesNotRetryPermissionDenial(t *testing.T) {
	prov := &flakyProvider{permanentErr: trkerrors.PermissionDenied("location")}

	p := New(Foreground, prov, time.Second, events.NewBus(), fastPolicy(3), discardLogger())
	err := p.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, trkerrors.CategoryPermission, trkerrors.GetCategory(err))
	require.Equal(t, int32(1), prov.startAttempts.Load())
}

func TestRunPublishesEachFixOnce(t *testing.T) {
	base := time.Now()
	prov := location.NewScriptedProvider(
		location.Fix{Latitude: 37.5, Longitude: 127.0, Timestamp: base},
		location.Fix{Latitude: 37.6, Longitude: 127.0, Timestamp: base.Add(2 * time.Second)},
	)
	require.NoError(t, prov.Start(context.Background()))

	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := events.Subscribe[events.FixObserved](bus, 16)
	defer unsubscribe()

	p := New(Background, prov, 5*time.Millisecond, bus, fastPolicy(1), discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go p.Run(ctx)

	var got []events.FixObserved
	deadline := time.After(300 * time.Millisecond)
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got = append(got, evt)
		case <-deadline:
			t.Fatalf("expected 2 fixes, got %d", len(got))
		}
	}

	// The scripted provider repeats its last fix once exhausted; the
	// timestamp dedup keeps it from being re-published.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected extra fix: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, 37.5, got[0].Fix.Latitude)
	require.Equal(t, 37.6, got[1].Fix.Latitude)
	require.Equal(t, Background, got[0].Producer)
}

func TestBatteryReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capacity")
	require.NoError(t, os.WriteFile(path, []byte("83\n"), 0o644))

	r := NewBatteryReader(path)
	level := r.Level()
	require.NotNil(t, level)
	require.Equal(t, 83, *level)

	require.Nil(t, NewBatteryReader("").Level())
	require.Nil(t, NewBatteryReader(filepath.Join(dir, "missing")).Level())

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	require.Nil(t, r.Level())
}
