package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the linking engine.
type Metrics struct {
	IdentifyTotal    *prometheus.CounterVec
	IdentityMerges   prometheus.Counter
	IdentifyDuration prometheus.Histogram
	LockRetries      prometheus.Counter
}

// New creates and registers all linking engine metrics.
func New() *Metrics {
	return &Metrics{
		IdentifyTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conflux_identify_total",
			Help: "Total identify operations by resolved strategy",
		}, []string{"strategy"}),
		IdentityMerges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conflux_identity_merges_total",
			Help: "Total number of identity components merged into another",
		}),
		IdentifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "conflux_identify_duration_seconds",
			Help:    "Latency of identify operations including lock acquisition",
			Buckets: prometheus.DefBuckets,
		}),
		LockRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conflux_identify_lock_retries_total",
			Help: "Times lock acquisition restarted because the resolved primary set shifted",
		}),
	}
}

// ObserveIdentify records one completed identify operation.
func (m *Metrics) ObserveIdentify(strategy string, seconds float64) {
	m.IdentifyTotal.WithLabelValues(strategy).Inc()
	m.IdentifyDuration.Observe(seconds)
}

// IncrementMerges counts components absorbed by merges.
func (m *Metrics) IncrementMerges(absorbed int) {
	m.IdentityMerges.Add(float64(absorbed))
}

// IncrementLockRetries counts key-set re-resolution rounds.
func (m *Metrics) IncrementLockRetries() {
	m.LockRetries.Inc()
}
