package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fencewatch/internal/geofence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLifecycleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Never-written record reads as background.
	rec, err := s.Lifecycle(ctx)
	require.NoError(t, err)
	require.Equal(t, StateBackground, rec.State)

	require.NoError(t, s.SetLifecycle(ctx, StateActive))
	rec, err = s.Lifecycle(ctx)
	require.NoError(t, err)
	require.Equal(t, StateActive, rec.State)
	require.WithinDuration(t, time.Now(), rec.Timestamp, time.Second)
}

func TestLifecycleEffectiveDegradesWhenStale(t *testing.T) {
	now := time.Now()
	fresh := LifecycleRecord{State: StateActive, Timestamp: now.Add(-2 * time.Second)}
	stale := LifecycleRecord{State: StateActive, Timestamp: now.Add(-6 * time.Second)}

	require.Equal(t, StateActive, fresh.Effective(now, 5*time.Second))
	require.Equal(t, StateBackground, stale.Effective(now, 5*time.Second))
	require.Equal(t, StateBackground, LifecycleRecord{}.Effective(now, 5*time.Second))
}

func TestContainmentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.Containment(ctx)
	require.NoError(t, err)
	require.Empty(t, m, "absent map reads as empty, absent id means not inside")

	m[7] = true
	require.NoError(t, s.SetContainment(ctx, m))

	got, err := s.Containment(ctx)
	require.NoError(t, err)
	require.True(t, got[7])
	require.False(t, got[8], "ids never written read as false")
}

func TestEntryLocksRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	locks, err := s.EntryLocks(ctx)
	require.NoError(t, err)
	require.Empty(t, locks)

	at := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.SetEntryLocks(ctx, map[int]time.Time{3: at}))

	got, err := s.EntryLocks(ctx)
	require.NoError(t, err)
	require.True(t, got[3].Equal(at))
}

func TestGeofenceCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GeofenceCacheEntry(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	fences := []geofence.Fence{
		{ID: 1, Name: "home", Latitude: 37.5, Longitude: 127.0, Kind: geofence.Permanent},
		{ID: 2, Name: "clinic", Latitude: 37.6, Longitude: 127.1, Kind: geofence.Temporary,
			StartTime: "2026-08-31 14:00:00", EndTime: "2026-08-31 16:00:00"},
	}
	require.NoError(t, s.SetGeofenceCache(ctx, fences))

	cache, err := s.GeofenceCacheEntry(ctx)
	require.NoError(t, err)
	require.Equal(t, fences, cache.Fences)
	require.WithinDuration(t, time.Now(), cache.Timestamp, time.Second)
}

func TestDailyDistanceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.DailyDistance(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	rec := DailyDistanceRecord{
		Date:             "2026-08-31",
		CumulativeMeters: 1234.5,
		LastLatitude:     37.5,
		LastLongitude:    127.0,
		LastFixTime:      time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, s.SetDailyDistance(ctx, rec))

	got, err := s.DailyDistance(ctx)
	require.NoError(t, err)
	require.Equal(t, rec.Date, got.Date)
	require.Equal(t, rec.CumulativeMeters, got.CumulativeMeters)
}

func TestFlags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.Flag(ctx, "role")
	require.NoError(t, err)
	require.Empty(t, v)

	require.NoError(t, s.SetFlag(ctx, "role", "user"))
	v, err = s.Flag(ctx, "role")
	require.NoError(t, err)
	require.Equal(t, "user", v)

	require.NoError(t, s.DeleteFlag(ctx, "role"))
	v, err = s.Flag(ctx, "role")
	require.NoError(t, err)
	require.Empty(t, v)
}

func TestOverwriteKeepsSingleRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLifecycle(ctx, StateActive))
	require.NoError(t, s.SetLifecycle(ctx, StateBackground))

	rec, err := s.Lifecycle(ctx)
	require.NoError(t, err)
	require.Equal(t, StateBackground, rec.State)
}
