package provider

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the adapter_retries_total{vendor,status} counter.
// Registered against a caller-supplied
// registry, never the global default one.
type metrics struct {
	retriesTotal *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_retries_total",
			Help: "HTTP requests the baseline client retried, per vendor and response status.",
		}, []string{"vendor", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.retriesTotal)
	}
	return m
}

func (m *metrics) observeRetry(vendor, status string) {
	m.retriesTotal.WithLabelValues(vendor, status).Inc()
}
