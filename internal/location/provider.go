package location

import (
	"context"
	"errors"
	"sync"
)

// ErrNoFix is returned by Current when the provider has not produced a sample yet.
var ErrNoFix = errors.New("no location fix available")

// Provider is a source of position samples. Producers poll it on their own
// schedule; implementations keep the most recent sample and return it.
type Provider interface {
	// Start begins sample acquisition. It must be safe to call Current
	// concurrently with acquisition once Start returns.
	Start(ctx context.Context) error

	// Current returns the most recent sample, or ErrNoFix.
	Current(ctx context.Context) (Fix, error)

	// Stop releases the underlying source. Idempotent.
	Stop() error
}

// latestFix is a small concurrency-safe holder for the newest sample.
// Embedded by provider implementations.
type latestFix struct {
	mu  sync.RWMutex
	fix Fix
	set bool
}

func (l *latestFix) store(f Fix) {
	l.mu.Lock()
	l.fix = f
	l.set = true
	l.mu.Unlock()
}

func (l *latestFix) load() (Fix, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fix, l.set
}
