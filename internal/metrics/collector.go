// Package metrics exposes Prometheus collectors for automation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "browserpilot"

// Collector groups the run, action and oracle metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	iterationsRun   prometheus.Histogram
	actionsTotal    *prometheus.CounterVec
	oracleLatency   *prometheus.HistogramVec
	browserErrors   *prometheus.CounterVec
	searchFallbacks prometheus.Counter
}

// NewCollector registers all metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Automation runs by terminal outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall clock duration of automation runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		iterationsRun: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "iterations_per_run",
			Help:      "General loop iterations used by a run.",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Actions chosen by the decision oracle, by kind.",
		}, []string{"kind"}),
		oracleLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "oracle_latency_seconds",
			Help:      "Latency of decision and search oracle calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"oracle"}),
		browserErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "browser_errors_total",
			Help:      "Failed browser operations, by operation.",
		}, []string{"op"}),
		searchFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "search_llm_fallbacks_total",
			Help:      "Searches answered by the language model instead of the search backend.",
		}),
	}
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(outcome string, iterations int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(elapsed.Seconds())
	c.iterationsRun.Observe(float64(iterations))
}

func (c *Collector) IncAction(kind string) {
	if c == nil {
		return
	}
	c.actionsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveOracle(oracle string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.oracleLatency.WithLabelValues(oracle).Observe(elapsed.Seconds())
}

func (c *Collector) IncBrowserError(op string) {
	if c == nil {
		return
	}
	c.browserErrors.WithLabelValues(op).Inc()
}

func (c *Collector) IncSearchFallback() {
	if c == nil {
		return
	}
	c.searchFallbacks.Inc()
}
