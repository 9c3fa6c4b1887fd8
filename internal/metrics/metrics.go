// Package metrics exposes the routing engine's operational state to
// Prometheus: routed call outcomes, webhook latency, lock behavior and
// whether the cache layer is running on its fallbacks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	callsRouted         *prometheus.CounterVec
	webhookDuration     prometheus.Histogram
	lockTimeouts        prometheus.Counter
	lockBackendFailures prometheus.Counter
	ivrFailovers        prometheus.Counter
}

// New creates and registers the engine's instruments. usingFallback is
// sampled at scrape time to report the cache layer's state.
func New(reg prometheus.Registerer, usingFallback func() bool) *Metrics {
	m := &Metrics{
		callsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trunkline_calls_routed_total",
			Help: "Inbound calls routed, by outcome.",
		}, []string{"outcome"}),
		webhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trunkline_webhook_duration_seconds",
			Help:    "Time spent handling an inbound call webhook.",
			Buckets: prometheus.DefBuckets,
		}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trunkline_lock_timeouts_total",
			Help: "Ring group lock acquisitions that timed out.",
		}),
		lockBackendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trunkline_lock_backend_failures_total",
			Help: "Hard failures of both lock backends.",
		}),
		ivrFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trunkline_ivr_failovers_total",
			Help: "IVR interactions that exhausted their turns.",
		}),
	}

	reg.MustRegister(
		m.callsRouted,
		m.webhookDuration,
		m.lockTimeouts,
		m.lockBackendFailures,
		m.ivrFailovers,
	)

	if usingFallback != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trunkline_cache_using_fallback",
			Help: "1 when the cache/lock layer is running on its fallbacks.",
		}, func() float64 {
			if usingFallback() {
				return 1
			}
			return 0
		}))
	}

	return m
}

// CallRouted records a routed call by outcome.
func (m *Metrics) CallRouted(outcome string) {
	if m == nil {
		return
	}
	m.callsRouted.WithLabelValues(outcome).Inc()
}

// ObserveWebhook records one webhook's handling duration.
func (m *Metrics) ObserveWebhook(d time.Duration) {
	if m == nil {
		return
	}
	m.webhookDuration.Observe(d.Seconds())
}

// LockTimeout records an exhausted lock acquisition.
func (m *Metrics) LockTimeout() {
	if m == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// LockBackendFailure records a hard lock backend failure.
func (m *Metrics) LockBackendFailure() {
	if m == nil {
		return
	}
	m.lockBackendFailures.Inc()
}

// IVRFailover records an IVR interaction that exhausted its turns.
func (m *Metrics) IVRFailover() {
	if m == nil {
		return
	}
	m.ivrFailovers.Inc()
}
