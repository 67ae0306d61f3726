package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RevenueCat/meta-memcache-socket/internal/transport"
)

// metrics holds the benchmark collectors.
type metrics struct {
	registry *prometheus.Registry

	replies       *prometheus.CounterVec
	batchErrors   prometheus.Counter
	batchDuration prometheus.Histogram

	poolConnections *prometheus.GaugeVec
	circuitState    *prometheus.GaugeVec
}

func newMetrics(runID string) *metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"run_id": runID}

	m := &metrics{
		registry: registry,
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "meta_bench_replies_total",
				Help:        "Replies received, by command and response type",
				ConstLabels: constLabels,
			},
			[]string{"command", "type"},
		),
		batchErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "meta_bench_batch_errors_total",
				Help:        "Batches that failed",
				ConstLabels: constLabels,
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "meta_bench_batch_duration_seconds",
				Help:        "Latency of pipelined batches",
				ConstLabels: constLabels,
				Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
		),
		poolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "meta_bench_pool_connections",
				Help:        "Connection pool statistics",
				ConstLabels: constLabels,
			},
			[]string{"server", "state"}, // total, active, idle
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "meta_bench_circuit_breaker_state",
				Help:        "Circuit breaker state (0=closed, 1=half-open, 2=open)",
				ConstLabels: constLabels,
			},
			[]string{"server"},
		),
	}

	registry.MustRegister(
		m.replies,
		m.batchErrors,
		m.batchDuration,
		m.poolConnections,
		m.circuitState,
	)

	return m
}

// recordBatch records the outcome of one batch.
func (m *metrics) recordBatch(reqs []transport.Request, replies []transport.Reply, took time.Duration, err error) {
	m.batchDuration.Observe(took.Seconds())
	if err != nil {
		m.batchErrors.Inc()
		return
	}

	for i, r := range replies {
		typ := r.Type.String()
		if r.Suppressed {
			typ = "Suppressed"
		}
		m.replies.WithLabelValues(reqs[i].Command, typ).Inc()
	}
}

// recordCluster copies pool and breaker state into the gauges.
func (m *metrics) recordCluster(stats []transport.ServerStats) {
	for _, s := range stats {
		m.poolConnections.WithLabelValues(s.Addr, "total").Set(float64(s.Pool.TotalConns))
		m.poolConnections.WithLabelValues(s.Addr, "active").Set(float64(s.Pool.ActiveConns))
		m.poolConnections.WithLabelValues(s.Addr, "idle").Set(float64(s.Pool.IdleConns))
		m.circuitState.WithLabelValues(s.Addr).Set(float64(s.Breaker))
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
