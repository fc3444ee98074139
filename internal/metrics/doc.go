// Package metrics provides observability hooks for the tracking engine.
//
// It implements the Null Object pattern: components receive a Recorder
// through dependency injection and default to NoopRecorder, so metrics can
// be enabled by swapping in a PrometheusRecorder without touching call
// sites or adding nil checks.
package metrics
