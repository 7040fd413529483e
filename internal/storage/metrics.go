package storage

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the storage observability hooks: a write counter per
// frame, and a counter for rows dropped by
// dedup-on-append (a "conflict" being two writes landing on the same
// (symbol, timestamp) within one partition). Registered against a
// caller-supplied registry, never the global default one.
type metrics struct {
	writesTotal    *prometheus.CounterVec
	conflictsTotal *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_writes_total",
			Help: "Partition write calls, per frame.",
		}, []string{"frame"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_write_conflicts_total",
			Help: "Rows dropped by dedup-on-append because their (symbol, timestamp) was already present, per frame.",
		}, []string{"frame"}),
	}
	if reg != nil {
		reg.MustRegister(m.writesTotal, m.conflictsTotal)
	}
	return m
}

func (m *metrics) observeWrite(frame string, droppedDuplicates int) {
	m.writesTotal.WithLabelValues(frame).Inc()
	if droppedDuplicates > 0 {
		m.conflictsTotal.WithLabelValues(frame).Add(float64(droppedDuplicates))
	}
}
