// Package geofence holds the fence model and the pure containment evaluator.
// Both the foreground pipeline and the background agent evaluate through this
// package, so the radii and time-window semantics exist exactly once.
package geofence

import (
	"regexp"
	"strings"
	"time"
)

// Kind distinguishes permanent safe zones from time-windowed one-shot zones.
type Kind int

const (
	// Permanent fences are always time-active and support exit tracking.
	Permanent Kind = 0
	// Temporary fences are time-windowed, entry-only, and consumed by the
	// remote service once an entry is recorded.
	Temporary Kind = 1
)

func (k Kind) String() string {
	if k == Temporary {
		return "temporary"
	}
	return "permanent"
}

// Fence is a named circular region. StartTime/EndTime apply to temporary
// fences only and arrive as loosely formatted datetime strings from the
// remote service.
type Fence struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Kind      Kind    `json:"type"`
	StartTime string  `json:"startTime,omitempty"`
	EndTime   string  `json:"endTime,omitempty"`
	Address   string  `json:"address,omitempty"`
}

var fractionalSeconds = regexp.MustCompile(`\.\d+$`)

// ParseFenceTime parses the service's datetime strings ("2006-01-02 15:04:05"
// or RFC 3339 without zone, optionally with fractional seconds) in local time.
// Returns the zero time for empty or unparseable input.
func ParseFenceTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	normalized := strings.Replace(value, " ", "T", 1)
	normalized = fractionalSeconds.ReplaceAllString(normalized, "")
	parsed, err := time.ParseInLocation("2006-01-02T15:04:05", normalized, time.Local)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// TimeActive reports whether the fence's window covers now. Permanent fences
// and fences without a window are always active. Unparseable bounds are
// treated as active: suppressing a legitimate safety alert is worse than
// raising a spurious one.
func (f Fence) TimeActive(now time.Time) bool {
	if f.Kind == Permanent {
		return true
	}
	if f.StartTime == "" || f.EndTime == "" {
		return true
	}
	start := ParseFenceTime(f.StartTime)
	end := ParseFenceTime(f.EndTime)
	if start.IsZero() || end.IsZero() {
		return true
	}
	return !now.Before(start) && !now.After(end)
}
