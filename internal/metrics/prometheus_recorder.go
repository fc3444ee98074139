package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// lifecycleStates enumerates the gauge's label values so that exactly one
// state reads 1 at a time.
var lifecycleStates = []string{"active", "transitional", "background"}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	fixesObserved    *prom.CounterVec
	fixesRejected    *prom.CounterVec
	evalDuration     prom.Histogram
	fenceEntries     *prom.CounterVec
	fenceExits       prom.Counter
	remoteDuration   *prom.HistogramVec
	producerRestarts *prom.CounterVec
	lifecycleState   *prom.GaugeVec
	dailyDistance    prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.fixesObserved = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fencewatch",
			Name:      "fixes_observed_total",
			Help:      "Location fixes accepted per producer",
		}, []string{"producer"})
		pr.fixesRejected = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fencewatch",
			Name:      "fixes_rejected_total",
			Help:      "Location fixes discarded per producer and reason",
		}, []string{"producer", "reason"})
		pr.evalDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "fencewatch",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of one geofence evaluation tick",
			Buckets:   prom.DefBuckets,
		})
		pr.fenceEntries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fencewatch",
			Name:      "fence_entries_total",
			Help:      "Entry recordings by result",
		}, []string{"result"})
		pr.fenceExits = prom.NewCounter(prom.CounterOpts{
			Namespace: "fencewatch",
			Name:      "fence_exits_total",
			Help:      "Permanent fence exits detected",
		})
		pr.remoteDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "fencewatch",
			Name:      "remote_call_duration_seconds",
			Help:      "Duration of backend HTTP calls",
			Buckets:   prom.DefBuckets,
		}, []string{"operation", "result"})
		pr.producerRestarts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fencewatch",
			Name:      "producer_restarts_total",
			Help:      "Fix producer restarts after transient failures",
		}, []string{"producer"})
		pr.lifecycleState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "fencewatch",
			Name:      "lifecycle_state",
			Help:      "Current lifecycle state (1 for the active label)",
		}, []string{"state"})
		pr.dailyDistance = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fencewatch",
			Name:      "daily_distance_meters",
			Help:      "Locally accumulated distance for the current day",
		})
		reg.MustRegister(pr.fixesObserved, pr.fixesRejected, pr.evalDuration, pr.fenceEntries, pr.fenceExits, pr.remoteDuration, pr.producerRestarts, pr.lifecycleState, pr.dailyDistance)
	})
	return pr
}

func (p *PrometheusRecorder) IncFixObserved(producer string) {
	if p == nil || p.fixesObserved == nil {
		return
	}
	p.fixesObserved.WithLabelValues(producer).Inc()
}

func (p *PrometheusRecorder) IncFixRejected(producer, reason string) {
	if p == nil || p.fixesRejected == nil {
		return
	}
	p.fixesRejected.WithLabelValues(producer, reason).Inc()
}

func (p *PrometheusRecorder) ObserveEvaluationDuration(d time.Duration) {
	if p == nil || p.evalDuration == nil {
		return
	}
	p.evalDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncFenceEntry(result string) {
	if p == nil || p.fenceEntries == nil {
		return
	}
	p.fenceEntries.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncFenceExit() {
	if p == nil || p.fenceExits == nil {
		return
	}
	p.fenceExits.Inc()
}

func (p *PrometheusRecorder) ObserveRemoteCallDuration(operation string, d time.Duration, success bool) {
	if p == nil || p.remoteDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.remoteDuration.WithLabelValues(operation, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncProducerRestart(producer string) {
	if p == nil || p.producerRestarts == nil {
		return
	}
	p.producerRestarts.WithLabelValues(producer).Inc()
}

func (p *PrometheusRecorder) SetLifecycleState(state string) {
	if p == nil || p.lifecycleState == nil {
		return
	}
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		p.lifecycleState.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusRecorder) SetDailyDistanceMeters(m float64) {
	if p == nil || p.dailyDistance == nil {
		return
	}
	p.dailyDistance.Set(m)
}
