package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the {provider,mode}-labeled admission and wait
// counters. Registered against a caller-supplied registry, never the
// global default one (internal/bootstrap owns the process's single
// registry).
type metrics struct {
	admissions *prometheus.CounterVec
	waitTotal  *prometheus.CounterVec
	waitHist   *prometheus.HistogramVec
	pushbacks  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_admissions_total",
			Help: "Tokens granted by the rate limiter.",
		}, []string{"provider", "mode"}),
		waitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_wait_seconds_total",
			Help: "Cumulative seconds callers spent waiting for a token.",
		}, []string{"provider", "mode"}),
		waitHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratelimit_wait_seconds",
			Help:    "Distribution of per-acquire wait durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "mode"}),
		pushbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_pushbacks_total",
			Help: "Vendor Retry-After pushbacks applied to the limiter.",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(m.admissions, m.waitTotal, m.waitHist, m.pushbacks)
	}
	return m
}

func (m *metrics) observeWait(provider, mode string, seconds float64) {
	m.waitTotal.WithLabelValues(provider, mode).Add(seconds)
	m.waitHist.WithLabelValues(provider, mode).Observe(seconds)
}

func (m *metrics) observeAdmission(provider, mode string) {
	m.admissions.WithLabelValues(provider, mode).Inc()
}

func (m *metrics) observePushback(provider string) {
	m.pushbacks.WithLabelValues(provider).Inc()
}
