package geofence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fencewatch/internal/location"
)

// fixAt builds a fix offset north of the fence center by roughly meters.
// 1 degree of latitude is ~111,320 m everywhere, which is exact enough for
// the radii under test.
func fixAt(meters float64) location.Fix {
	return location.Fix{
		Latitude:  37.5 + meters/111320.0,
		Longitude: 127.0,
		Timestamp: time.Now(),
	}
}

func homeFence() Fence {
	return Fence{ID: 1, Name: "home", Latitude: 37.5, Longitude: 127.0, Kind: Permanent}
}

func TestEntryEmittedOnceInsideEnterRadius(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{homeFence()}

	res := e.Evaluate(fixAt(90), fences, map[int]bool{}, now)
	require.Len(t, res.Entries, 1)
	require.Equal(t, Event{ID: 1, Name: "home"}, res.Entries[0])
	require.Empty(t, res.Exits)
}

func TestNoRepeatEntryWhileInside(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{homeFence()}
	inside := map[int]bool{1: true}

	// Still within the enter radius: no new entry.
	res := e.Evaluate(fixAt(90), fences, inside, now)
	require.Empty(t, res.Entries)
	require.Empty(t, res.Exits)

	// Drifted between the radii: neither entry nor exit (hysteresis).
	res = e.Evaluate(fixAt(120), fences, inside, now)
	require.Empty(t, res.Entries)
	require.Empty(t, res.Exits)
}

func TestExitRequiresLeavingExitRadius(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{homeFence()}
	inside := map[int]bool{1: true}

	res := e.Evaluate(fixAt(160), fences, inside, now)
	require.Empty(t, res.Entries)
	require.Len(t, res.Exits, 1)
	require.Equal(t, 1, res.Exits[0].ID)
}

func TestAbsentContainmentIsFalse(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{homeFence()}

	// nil map behaves the same as an all-false map.
	res := e.Evaluate(fixAt(50), fences, nil, now)
	require.Len(t, res.Entries, 1)

	// Outside with no containment record: nothing happens.
	res = e.Evaluate(fixAt(500), fences, nil, now)
	require.Empty(t, res.Entries)
	require.Empty(t, res.Exits)
}

func TestTemporaryFenceNeverExits(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{{ID: 2, Name: "clinic", Latitude: 37.5, Longitude: 127.0, Kind: Temporary}}
	inside := map[int]bool{2: true}

	res := e.Evaluate(fixAt(5000), fences, inside, now)
	require.Empty(t, res.Exits, "temporary fences are consumed on entry, never exited")
}

func TestTemporaryFenceOutsideWindowNoEntry(t *testing.T) {
	e := NewEvaluator()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.Local)
	fences := []Fence{{
		ID: 3, Name: "pharmacy", Latitude: 37.5, Longitude: 127.0, Kind: Temporary,
		StartTime: "2026-08-31 14:00:00",
		EndTime:   "2026-08-31 16:00:00",
	}}

	// Standing dead center, but two hours early: no entry.
	res := e.Evaluate(fixAt(0), fences, nil, now)
	require.Empty(t, res.Entries)

	// Inside the window the same fix enters.
	res = e.Evaluate(fixAt(0), fences, nil, now.Add(3*time.Hour))
	require.Len(t, res.Entries, 1)
}

func TestMalformedWindowFailsOpen(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{{
		ID: 4, Name: "park", Latitude: 37.5, Longitude: 127.0, Kind: Temporary,
		StartTime: "not-a-time",
		EndTime:   "also-not-a-time",
	}}

	res := e.Evaluate(fixAt(10), fences, nil, now)
	require.Len(t, res.Entries, 1, "unparseable windows are treated as always active")
}

func TestWindowEdgeCasesInclusive(t *testing.T) {
	fence := Fence{
		Kind:      Temporary,
		StartTime: "2026-08-31 14:00:00",
		EndTime:   "2026-08-31 16:00:00",
	}
	start := time.Date(2026, 8, 31, 14, 0, 0, 0, time.Local)
	end := time.Date(2026, 8, 31, 16, 0, 0, 0, time.Local)

	require.True(t, fence.TimeActive(start))
	require.True(t, fence.TimeActive(end))
	require.False(t, fence.TimeActive(start.Add(-time.Second)))
	require.False(t, fence.TimeActive(end.Add(time.Second)))
}

func TestParseFenceTimeFormats(t *testing.T) {
	cases := []string{
		"2026-08-31 14:00:00",
		"2026-08-31T14:00:00",
		"2026-08-31 14:00:00.123",
	}
	want := time.Date(2026, 8, 31, 14, 0, 0, 0, time.Local)
	for _, c := range cases {
		require.Equal(t, want, ParseFenceTime(c), "input %q", c)
	}
	require.True(t, ParseFenceTime("").IsZero())
	require.True(t, ParseFenceTime("garbage").IsZero())
}

func TestEvaluateIsPure(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{homeFence()}
	inside := map[int]bool{}

	first := e.Evaluate(fixAt(90), fences, inside, now)
	second := e.Evaluate(fixAt(90), fences, inside, now)
	require.Equal(t, first, second, "same inputs must always produce same outputs")
	require.Empty(t, inside, "the evaluator must not mutate the containment map")
}

func TestMultipleFencesIndependent(t *testing.T) {
	e := NewEvaluator()
	now := time.Now()
	fences := []Fence{
		homeFence(),
		{ID: 2, Name: "school", Latitude: 37.5, Longitude: 127.0, Kind: Permanent},
	}
	inside := map[int]bool{2: true}

	// 90 m from both centers: fence 1 enters, fence 2 is already inside.
	res := e.Evaluate(fixAt(90), fences, inside, now)
	require.Len(t, res.Entries, 1)
	require.Equal(t, 1, res.Entries[0].ID)
	require.Empty(t, res.Exits)
}
