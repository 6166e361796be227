package sessions

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	evictionsTotal  prometheus.Counter
}

// newMetrics builds unregistered collectors; call Describe via
// RegisterMetrics to attach them to a registry. Keeping registration
// explicit lets tests create managers freely.
func newMetrics() *metrics {
	return &metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uagent",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of live agent sessions.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uagent",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total sessions created.",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uagent",
			Subsystem: "sessions",
			Name:      "evictions_total",
			Help:      "Total sessions evicted for idleness.",
		}),
	}
}

// RegisterMetrics attaches the manager's collectors to a registry.
func (m *Manager) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.metrics.sessionsActive,
		m.metrics.sessionsCreated,
		m.metrics.evictionsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
