package geofence

import (
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/location"
)

// Default hysteresis radii. Entry triggers inside 100 m; exit requires
// leaving 150 m, so GPS jitter near a boundary cannot flap entry/exit events.
const (
	DefaultEnterRadiusM = 100.0
	DefaultExitRadiusM  = 150.0
)

// Event identifies a fence crossing.
type Event struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Result carries one tick's crossings.
type Result struct {
	Entries []Event
	Exits   []Event
}

// Evaluator classifies a fix against a fence list and the persisted
// containment map. It holds configuration only; Evaluate is a pure function
// of its arguments.
type Evaluator struct {
	EnterRadiusM float64
	ExitRadiusM  float64
}

// NewEvaluator returns an evaluator with the default hysteresis radii.
func NewEvaluator() Evaluator {
	return Evaluator{EnterRadiusM: DefaultEnterRadiusM, ExitRadiusM: DefaultExitRadiusM}
}

// Evaluate computes entry and exit events for one fix.
//
// An id absent from inside is equivalent to false. Temporary fences never
// emit exits: they are consumed on entry. A fix between the two radii while
// inside produces neither event.
func (e Evaluator) Evaluate(fix location.Fix, fences []Fence, inside map[int]bool, now time.Time) Result {
	var result Result
	if len(fences) == 0 {
		return result
	}

	for _, fence := range fences {
		distance := fix.DistanceTo(fence.Latitude, fence.Longitude)
		timeActive := fence.TimeActive(now)
		wasInside := inside[fence.ID]

		insideForEntry := distance <= e.EnterRadiusM
		insideForExit := distance <= e.ExitRadiusM
		canEnter := insideForEntry && timeActive
		stillInside := insideForExit && timeActive

		switch {
		case canEnter && !wasInside:
			result.Entries = append(result.Entries, Event{ID: fence.ID, Name: fence.Name})
		case fence.Kind == Permanent && !stillInside && wasInside:
			result.Exits = append(result.Exits, Event{ID: fence.ID, Name: fence.Name})
		}
	}

	return result
}
