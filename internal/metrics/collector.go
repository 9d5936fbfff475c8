// Package metrics exposes sync and gpt-load operation metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gptload_sync"

// Collector holds the service metrics. Create one with NewCollector.
type Collector struct {
	registry *prometheus.Registry

	syncRuns       *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	planChanges    *prometheus.GaugeVec
	remoteOps      *prometheus.CounterVec
	syncInProgress prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by final status",
		}, []string{"status"}),
		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of a sync run",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		planChanges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plan_changes",
			Help:      "Entries per list in the most recent reconciliation plan",
		}, []string{"kind"}),
		remoteOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_operations_total",
			Help:      "gpt-load API calls by operation and result",
		}, []string{"op", "result"}),
		syncInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_in_progress",
			Help:      "1 while a sync run is active",
		}),
	}
}

func (c *Collector) SyncStarted() {
	c.syncInProgress.Set(1)
}

// SyncFinished records the outcome of a run.
func (c *Collector) SyncFinished(status string, d time.Duration) {
	c.syncInProgress.Set(0)
	c.syncRuns.WithLabelValues(status).Inc()
	c.syncDuration.Observe(d.Seconds())
}

// RecordPlan replaces the plan gauges with counts keyed by plan list.
func (c *Collector) RecordPlan(counts map[string]int) {
	c.planChanges.Reset()
	for kind, n := range counts {
		c.planChanges.WithLabelValues(kind).Set(float64(n))
	}
}

// ObserveRemote matches the gptload.Observer signature.
func (c *Collector) ObserveRemote(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.remoteOps.WithLabelValues(op, result).Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
