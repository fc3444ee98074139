package notify

import (
	"context"
	"sync"
)

// Spy records notifications for assertions in tests.
type Spy struct {
	mu       sync.Mutex
	Entered  []string
	Exited   []string
	Failures []string
}

func NewSpy() *Spy { return &Spy{} }

func (s *Spy) FenceEntered(_ context.Context, _ int, fenceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entered = append(s.Entered, fenceName)
}

func (s *Spy) FenceExited(_ context.Context, _ int, fenceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Exited = append(s.Exited, fenceName)
}

func (s *Spy) TrackingFailed(_ context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failures = append(s.Failures, reason)
}

// Snapshot returns copies of the recorded slices.
func (s *Spy) Snapshot() (entered, exited, failures []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Entered...),
		append([]string(nil), s.Exited...),
		append([]string(nil), s.Failures...)
}
