package statestore

import (
	"context"
	"errors"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/geofence"
)

// LifecycleState mirrors the host process execution states.
type LifecycleState string

const (
	StateActive       LifecycleState = "active"
	StateTransitional LifecycleState = "transitional"
	StateBackground   LifecycleState = "background"
)

// LifecycleRecord is the freshness-gated flag the background agent uses to
// decide whether the foreground pipeline is live.
type LifecycleRecord struct {
	State     LifecycleState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// Effective degrades the record to background once it is older than
// staleness: an unflushed write surviving a crash must not be trusted
// indefinitely.
func (r LifecycleRecord) Effective(now time.Time, staleness time.Duration) LifecycleState {
	if r.State == "" || now.Sub(r.Timestamp) > staleness {
		return StateBackground
	}
	return r.State
}

// SetLifecycle persists the lifecycle record with a fresh timestamp.
func (s *Store) SetLifecycle(ctx context.Context, state LifecycleState) error {
	return s.put(ctx, keyLifecycle, LifecycleRecord{State: state, Timestamp: s.now()})
}

// Lifecycle returns the persisted record; a never-written record reads as
// background at time zero.
func (s *Store) Lifecycle(ctx context.Context) (LifecycleRecord, error) {
	var rec LifecycleRecord
	err := s.get(ctx, keyLifecycle, &rec)
	if errors.Is(err, ErrNotFound) {
		return LifecycleRecord{State: StateBackground}, nil
	}
	return rec, err
}

// Containment returns the persisted fence-id -> inside map. An id absent
// from the map is equivalent to false; a never-written map is empty.
func (s *Store) Containment(ctx context.Context) (map[int]bool, error) {
	m := map[int]bool{}
	err := s.get(ctx, keyContainment, &m)
	if errors.Is(err, ErrNotFound) {
		return map[int]bool{}, nil
	}
	return m, err
}

// SetContainment persists the full containment map.
func (s *Store) SetContainment(ctx context.Context, m map[int]bool) error {
	return s.put(ctx, keyContainment, m)
}

// EntryLocks returns the fence-id -> last entry-recording timestamp map.
func (s *Store) EntryLocks(ctx context.Context) (map[int]time.Time, error) {
	raw := map[int]int64{}
	err := s.get(ctx, keyEntryLocks, &raw)
	if errors.Is(err, ErrNotFound) {
		return map[int]time.Time{}, nil
	}
	if err != nil {
		return nil, err
	}
	locks := make(map[int]time.Time, len(raw))
	for id, ms := range raw {
		locks[id] = time.UnixMilli(ms)
	}
	return locks, nil
}

// SetEntryLocks persists the entry-lock map.
func (s *Store) SetEntryLocks(ctx context.Context, locks map[int]time.Time) error {
	raw := make(map[int]int64, len(locks))
	for id, t := range locks {
		raw[id] = t.UnixMilli()
	}
	return s.put(ctx, keyEntryLocks, raw)
}

// GeofenceCache is the fence list handed from the foreground loader to the
// background agent, stamped for freshness accounting.
type GeofenceCache struct {
	Fences    []geofence.Fence `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// SetGeofenceCache persists the fence list with the current timestamp.
func (s *Store) SetGeofenceCache(ctx context.Context, fences []geofence.Fence) error {
	return s.put(ctx, keyGeofenceCache, GeofenceCache{Fences: fences, Timestamp: s.now()})
}

// GeofenceCacheEntry returns the cached fence list. ErrNotFound when no list
// was ever cached.
func (s *Store) GeofenceCacheEntry(ctx context.Context) (GeofenceCache, error) {
	var cache GeofenceCache
	err := s.get(ctx, keyGeofenceCache, &cache)
	return cache, err
}

// DailyDistanceRecord accumulates walked meters for one local calendar day.
type DailyDistanceRecord struct {
	Date             string    `json:"date"` // YYYY-MM-DD, local time
	CumulativeMeters float64   `json:"distance"`
	LastLatitude     float64   `json:"lastLatitude"`
	LastLongitude    float64   `json:"lastLongitude"`
	LastFixTime      time.Time `json:"lastUpdate"`
}

// DailyDistance returns the single persisted distance record. ErrNotFound
// when no fix was ever accounted.
func (s *Store) DailyDistance(ctx context.Context) (DailyDistanceRecord, error) {
	var rec DailyDistanceRecord
	err := s.get(ctx, keyDailyDistance, &rec)
	return rec, err
}

// SetDailyDistance persists the distance record. One record exists at a
// time; midnight rollover replaces it rather than archiving it.
func (s *Store) SetDailyDistance(ctx context.Context, rec DailyDistanceRecord) error {
	return s.put(ctx, keyDailyDistance, rec)
}

// SetFlag persists a generic app flag (session role, tracking enabled, ...).
func (s *Store) SetFlag(ctx context.Context, name, value string) error {
	return s.put(ctx, flagPrefix+name, value)
}

// Flag reads a generic app flag; empty string when unset.
func (s *Store) Flag(ctx context.Context, name string) (string, error) {
	var v string
	err := s.get(ctx, flagPrefix+name, &v)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// DeleteFlag removes a flag.
func (s *Store) DeleteFlag(ctx context.Context, name string) error {
	return s.delete(ctx, flagPrefix+name)
}
