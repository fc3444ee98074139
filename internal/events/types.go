package events

import (
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// FixObserved is published by a fix producer for every accepted location fix.
//
// It is an orchestration event. Consumers (evaluator loop, distance
// accumulator, realtime publisher) must never mutate the embedded fix.
type FixObserved struct {
	Fix        location.Fix
	Producer   string // "foreground" or "background"
	ObservedAt time.Time
}

// FenceEntered is emitted after an entry was recorded remotely and the
// containment state committed.
type FenceEntered struct {
	FenceID   int
	FenceName string
	EnteredAt time.Time
}

// FenceExited is emitted when a permanent fence is left. Exits are local
// only; no remote call precedes this event.
type FenceExited struct {
	FenceID   int
	FenceName string
	ExitedAt  time.Time
}

// LifecycleChanged is emitted by the lifecycle controller after a state
// transition has been persisted.
type LifecycleChanged struct {
	From      statestore.LifecycleState
	To        statestore.LifecycleState
	ChangedAt time.Time
}

// ProducerFailed is emitted when a fix producer exhausts its restart
// attempts. The daemon reacts by degrading to the surviving producer.
type ProducerFailed struct {
	Producer string
	Err      error
	FailedAt time.Time
}
