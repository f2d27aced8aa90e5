// Package svcmetrics is the central registry for the service's Prometheus
// metrics and the in-process PoolStats counters exposed by the health
// route: namespaced, lazily-initialised collectors behind a sync.Once,
// trimmed to the handful of categories this service actually has: HTTP,
// pool, and export.
package svcmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chart_export"

// Registry is the process-wide metrics registry. Use Default() to get
// the global instance; NewRegistry exists for tests that want an
// isolated prometheus.Registerer.
type Registry struct {
	reg prometheus.Registerer

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	PoolFreeGauge        prometheus.Gauge
	PoolInUseGauge       prometheus.Gauge
	PoolPendingGauge     prometheus.Gauge
	ExportAttemptsTotal  prometheus.Counter
	ExportPerformedTotal prometheus.Counter
	ExportDroppedTotal   prometheus.Counter
	ExportDuration       prometheus.Histogram
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the global singleton Registry, registered against the
// default Prometheus registerer.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// NewRegistry builds a Registry and registers its collectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		reg: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled by the gateway, by route and status class.",
		}, []string{"route", "status_class"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		PoolFreeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_free_resources",
			Help:      "Number of renderer pages currently idle in the pool.",
		}),
		PoolInUseGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_use_resources",
			Help:      "Number of renderer pages currently borrowed by a job.",
		}),
		PoolPendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_pending_create_resources",
			Help:      "Number of renderer pages currently being created.",
		}),
		ExportAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_attempts_total",
			Help:      "Total export jobs accepted by the gateway.",
		}),
		ExportPerformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_performed_total",
			Help:      "Total export jobs completed successfully.",
		}),
		ExportDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_dropped_total",
			Help:      "Total export jobs that failed or were rejected.",
		}),
		ExportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Wall-clock duration of performed export jobs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
		r.PoolFreeGauge,
		r.PoolInUseGauge,
		r.PoolPendingGauge,
		r.ExportAttemptsTotal,
		r.ExportPerformedTotal,
		r.ExportDroppedTotal,
		r.ExportDuration,
	)

	return r
}
