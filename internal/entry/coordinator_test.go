package entry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/notify"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

type fakeRemote struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (f *fakeRemote) RecordEntry(_ context.Context, fenceID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fenceID)
	return f.err
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestCoordinator(t *testing.T, remote Recorder) (*Coordinator, *statestore.Store, *notify.Spy) {
	t.Helper()
	store, err := statestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	spy := notify.NewSpy()
	logger := slog.New(slog.DiscardHandler)
	return NewCoordinator(store, remote, spy, nil, logger), store, spy
}

func entryOf(id int, name string) geofence.Result {
	return geofence.Result{Entries: []geofence.Event{{ID: id, Name: name}}}
}

func exitOf(id int, name string) geofence.Result {
	return geofence.Result{Exits: []geofence.Event{{ID: id, Name: name}}}
}

func TestSuccessfulEntrySetsContainment(t *testing.T) {
	remote := &fakeRemote{}
	c, store, spy := newTestCoordinator(t, remote)
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, entryOf(1, "home")))

	require.Equal(t, 1, remote.callCount())
	m, err := store.Containment(ctx)
	require.NoError(t, err)
	require.True(t, m[1])

	entered, _, _ := spy.Snapshot()
	require.Equal(t, []string{"home"}, entered)
}

func TestDuplicateEntryWithinTTLMakesOneRemoteCall(t *testing.T) {
	remote := &fakeRemote{}
	c, store, _ := newTestCoordinator(t, remote)
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, entryOf(1, "home")))

	// Simulate the other producer: containment cleared but lock fresh.
	require.NoError(t, store.SetContainment(ctx, map[int]bool{}))
	require.NoError(t, c.Apply(ctx, entryOf(1, "home")))

	require.Equal(t, 1, remote.callCount())
}

func TestEntryRetriesAfterTTLExpiry(t *testing.T) {
	remote := &fakeRemote{}
	c, store, _ := newTestCoordinator(t, remote)
	ctx := context.Background()

	base := time.Now()
	c.withClock(func() time.Time { return base })
	require.NoError(t, c.Apply(ctx, entryOf(1, "home")))

	require.NoError(t, store.SetContainment(ctx, map[int]bool{}))
	c.withClock(func() time.Time { return base.Add(31 * time.Second) })
	require.NoError(t, c.Apply(ctx, entryOf(1, "home")))

	require.Equal(t, 2, remote.callCount())
}

func TestFailedEntryRollsBackLockAndLeavesContainmentFalse(t *testing.T) {
	remote := &fakeRemote{err: errors.New("backend down")}
	c, store, spy := newTestCoordinator(t, remote)
	ctx := context.Background()

	err := c.Apply(ctx, entryOf(1, "home"))
	require.Error(t, err)

	m, cerr := store.Containment(ctx)
	require.NoError(t, cerr)
	require.False(t, m[1])

	locks, lerr := store.EntryLocks(ctx)
	require.NoError(t, lerr)
	require.NotContains(t, locks, 1)

	entered, _, _ := spy.Snapshot()
	require.Empty(t, entered)

	// Next tick retries immediately since the rollback removed the lock.
	remote.err = nil
	require.NoError(t, c.Apply(ctx, entryOf(1, "home")))
	require.Equal(t, 2, remote.callCount())
}

func TestExitIsLocalOnly(t *testing.T) {
	remote := &fakeRemote{}
	c, store, spy := newTestCoordinator(t, remote)
	ctx := context.Background()

	require.NoError(t, store.SetContainment(ctx, map[int]bool{2: true}))
	require.NoError(t, c.Apply(ctx, exitOf(2, "school")))

	require.Zero(t, remote.callCount(), "exits never call the backend")
	m, err := store.Containment(ctx)
	require.NoError(t, err)
	require.False(t, m[2])

	_, exited, _ := spy.Snapshot()
	require.Equal(t, []string{"school"}, exited)
}

func TestOneFailingEntryDoesNotBlockOthers(t *testing.T) {
	var mu sync.Mutex
	failFor := map[int]bool{1: true}
	remote := &selectiveRemote{mu: &mu, failFor: failFor}
	c, store, _ := newTestCoordinator(t, remote)
	ctx := context.Background()

	result := geofence.Result{Entries: []geofence.Event{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}}
	err := c.Apply(ctx, result)
	require.Error(t, err)

	m, cerr := store.Containment(ctx)
	require.NoError(t, cerr)
	require.False(t, m[1])
	require.True(t, m[2])
}

type selectiveRemote struct {
	mu      *sync.Mutex
	failFor map[int]bool
}

func (s *selectiveRemote) RecordEntry(_ context.Context, fenceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[fenceID] {
		return errors.New("rejected")
	}
	return nil
}
