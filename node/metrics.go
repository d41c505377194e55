package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics instruments the runtime: process churn, delivered envelopes and
// controller throughput.
type metrics struct {
	spawned    prometheus.Counter
	terminated prometheus.Counter
	delivered  prometheus.Counter
	signals    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metrics{
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procmesh",
			Name:      "processes_spawned_total",
			Help:      "Processes spawned on this node.",
		}),
		terminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procmesh",
			Name:      "processes_terminated_total",
			Help:      "Processes terminated on this node.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procmesh",
			Name:      "messages_delivered_total",
			Help:      "Envelopes delivered to local mailboxes and channels.",
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procmesh",
			Name:      "controller_signals_total",
			Help:      "Control signals processed by the node controller.",
		}),
	}
	reg.MustRegister(m.spawned, m.terminated, m.delivered, m.signals)
	return m
}
