package geocode

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lookup outcomes recorded by the resolver.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

// Metrics bundles Prometheus collectors for geocoding.
type Metrics struct {
	LookupsTotal   *prometheus.CounterVec
	LookupDuration prometheus.Histogram
	RetriesTotal   prometheus.Counter
}

// NewMetrics constructs the geocode collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_lookups_total",
			Help: "Geocode lookups by outcome.",
		},
		[]string{"outcome"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geocode_lookup_duration_seconds",
			Help:    "Latency of geocode service calls, retries included.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geocode_retries_total",
			Help: "Total number of geocode retry attempts.",
		},
	)

	if reg != nil {
		reg.MustRegister(lookups, duration, retries)
	}

	return &Metrics{
		LookupsTotal:   lookups,
		LookupDuration: duration,
		RetriesTotal:   retries,
	}
}

// IncLookup increments the lookup counter for an outcome.
func (m *Metrics) IncLookup(outcome string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a service call duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.LookupDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}
