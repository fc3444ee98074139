package metrics

import (
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncFixObserved("foreground")
	r.IncFixRejected("background", "stale")
	r.ObserveEvaluationDuration(time.Millisecond)
	r.IncFenceEntry("success")
	r.IncFenceExit()
	r.ObserveRemoteCallDuration("submit_fix", time.Millisecond, true)
	r.IncProducerRestart("foreground")
	r.SetLifecycleState("active")
	r.SetDailyDistanceMeters(42)
}

func TestPrometheusRecorderCounters(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncFixObserved("foreground")
	r.IncFixObserved("foreground")
	r.IncFixRejected("foreground", "noise")
	r.IncFenceEntry("success")
	r.IncFenceExit()

	require.Equal(t, 2.0, testutil.ToFloat64(r.fixesObserved.WithLabelValues("foreground")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.fixesRejected.WithLabelValues("foreground", "noise")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.fenceEntries.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.fenceExits))
}

func TestLifecycleGaugeIsExclusive(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.SetLifecycleState("active")
	require.Equal(t, 1.0, testutil.ToFloat64(r.lifecycleState.WithLabelValues("active")))
	require.Equal(t, 0.0, testutil.ToFloat64(r.lifecycleState.WithLabelValues("background")))

	r.SetLifecycleState("background")
	require.Equal(t, 0.0, testutil.ToFloat64(r.lifecycleState.WithLabelValues("active")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.lifecycleState.WithLabelValues("background")))
}

func TestDailyDistanceGaugeExposition(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)
	r.SetDailyDistanceMeters(1234.5)

	expected := strings.NewReader(`
# HELP fencewatch_daily_distance_meters Locally accumulated distance for the current day
# TYPE fencewatch_daily_distance_meters gauge
fencewatch_daily_distance_meters 1234.5
`)
	require.NoError(t, testutil.GatherAndCompare(reg, expected, "fencewatch_daily_distance_meters"))
}

func TestNilRecorderMethodsDoNotPanic(t *testing.T) {
	var r *PrometheusRecorder
	r.IncFixObserved("foreground")
	r.SetLifecycleState("active")
	r.ObserveEvaluationDuration(time.Second)
}
