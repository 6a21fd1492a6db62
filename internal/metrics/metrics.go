// Package metrics holds the prometheus collectors of the queue.
package metrics

import (
	"net/http"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Provider = wire.NewSet(New)

const namespace = "taskqueue"

type Metrics struct {
	registry *prometheus.Registry

	Operations  *prometheus.CounterVec
	SweepRuns   *prometheus.CounterVec
	SweepErrors *prometheus.CounterVec
	Expired     *prometheus.CounterVec
	Moved       prometheus.Counter
	SweepTime   *prometheus.HistogramVec
}

// New registers every collector on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed sweep passes.",
		}, []string{"sweep"}),
		SweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Sweep passes that returned an error.",
		}, []string{"sweep"}),
		Expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_expired_total",
			Help:      "Runs resolved by a sweep, by reason.",
		}, []string{"reason"}),
		Moved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_moved_total",
			Help:      "Tasks moved to cold storage.",
		}),
		SweepTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep passes.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"sweep"}),
	}
	m.registry.MustRegister(
		m.Operations, m.SweepRuns, m.SweepErrors, m.Expired, m.Moved, m.SweepTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Outcome counts one result of operation.
func (m *Metrics) Outcome(operation, outcome string) {
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
