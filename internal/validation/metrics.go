package validation

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the validation_failures_total{rule} counter.
// Registered against a caller-supplied registry, never
// the global default one.
type metrics struct {
	failuresTotal *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Bar rows failing a validation rule, per rule.",
		}, []string{"rule"}),
	}
	if reg != nil {
		reg.MustRegister(m.failuresTotal)
	}
	return m
}

func (m *metrics) observeFailure(rule RuleID) {
	m.failuresTotal.WithLabelValues(string(rule)).Inc()
}
