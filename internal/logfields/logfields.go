package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyFenceID    = "fence_id"
	KeyFenceName  = "fence_name"
	KeyFenceKind  = "fence_kind"
	KeyDistanceM  = "distance_m"
	KeySpeedMS    = "speed_ms"
	KeyProducer   = "producer"
	KeyState      = "lifecycle_state"
	KeyFixAge     = "fix_age"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyUser       = "user"
	KeySession    = "session_id"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func FenceID(id int) slog.Attr        { return slog.Int(KeyFenceID, id) }
func FenceName(n string) slog.Attr    { return slog.String(KeyFenceName, n) }
func FenceKind(k string) slog.Attr    { return slog.String(KeyFenceKind, k) }
func DistanceM(m float64) slog.Attr   { return slog.Float64(KeyDistanceM, m) }
func SpeedMS(v float64) slog.Attr     { return slog.Float64(KeySpeedMS, v) }
func Producer(p string) slog.Attr     { return slog.String(KeyProducer, p) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func FixAge(d string) slog.Attr       { return slog.String(KeyFixAge, d) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func User(u string) slog.Attr         { return slog.String(KeyUser, u) }
func Session(id string) slog.Attr     { return slog.String(KeySession, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
