package metrics

import "time"

// Recorder defines observability hooks for the tracking engine.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All
// methods must be safe for nil receivers when using the NoopRecorder
// (allowing optional injection).
type Recorder interface {
	IncFixObserved(producer string)
	IncFixRejected(producer, reason string) // reason: stale|noise
	ObserveEvaluationDuration(d time.Duration)
	IncFenceEntry(result string) // result: success|failed|locked
	IncFenceExit()
	ObserveRemoteCallDuration(operation string, d time.Duration, success bool)
	IncProducerRestart(producer string)
	SetLifecycleState(state string)
	SetDailyDistanceMeters(m float64)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncFixObserved(string)                                 {}
func (NoopRecorder) IncFixRejected(string, string)                         {}
func (NoopRecorder) ObserveEvaluationDuration(time.Duration)               {}
func (NoopRecorder) IncFenceEntry(string)                                  {}
func (NoopRecorder) IncFenceExit()                                         {}
func (NoopRecorder) ObserveRemoteCallDuration(string, time.Duration, bool) {}
func (NoopRecorder) IncProducerRestart(string)                             {}
func (NoopRecorder) SetLifecycleState(string)                              {}
func (NoopRecorder) SetDailyDistanceMeters(float64)                        {}
