// Package metrics holds the Prometheus collectors of the run memoizer and
// pipeline executor. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analyses"

// Run outcomes.
const (
	OutcomeReused   = "reused"
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	runs              *prometheus.CounterVec
	raceLosses        prometheus.Counter
	executionDuration *prometheus.HistogramVec
	pipelineNodes     *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "GetOrExecute calls by outcome.",
		}, []string{"outcome"}),
		raceLosses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_race_losses_total",
			Help:      "Run creations that lost to a concurrent writer and reused its run.",
		}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Entry point execution time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"entry_point", "status"}),
		pipelineNodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_nodes_total",
			Help:      "Pipeline node executions by final status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) Run(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RaceLost() {
	if m == nil {
		return
	}
	m.raceLosses.Inc()
}

func (m *Metrics) Execution(entryPoint, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executionDuration.WithLabelValues(entryPoint, status).Observe(elapsed.Seconds())
}

func (m *Metrics) PipelineNode(status string) {
	if m == nil {
		return
	}
	m.pipelineNodes.WithLabelValues(status).Inc()
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
