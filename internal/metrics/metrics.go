package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the prometheus collectors used by the monitor loop.
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	AlertsTotal    *prometheus.CounterVec
	ErrorsObserved prometheus.Counter
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apmwatch_cycles_total",
			Help: "Total number of monitor cycles by result.",
		}, []string{"result"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apmwatch_alerts_total",
			Help: "Total number of webhook delivery attempts by kind and result.",
		}, []string{"kind", "result"}),
		ErrorsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apmwatch_errors_observed_total",
			Help: "Total number of APM errors counted across all cycles.",
		}),
	}

	registry.MustRegister(
		m.CyclesTotal,
		m.AlertsTotal,
		m.ErrorsObserved,
	)

	return m
}
