// Package metrics exposes Prometheus collectors for the database pool and
// an HTTP endpoint to scrape them: counters for cumulative events, a
// histogram for latency distribution, gauges for instantaneous queue state.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements pool.Metrics against a dedicated Prometheus
// registry, so multiple Pools (or tests) can run without colliding on the
// default global registry.
type Collector struct {
	registry *prometheus.Registry

	getLatency       prometheus.Histogram
	getsCancelled    *prometheus.CounterVec
	submissionErrors prometheus.Counter
	workerLostErrors prometheus.Counter
	queueDepth       prometheus.GaugeFunc
}

// NewCollector builds a Collector. queueDepthFn is polled by Prometheus on
// scrape (not pushed), matching how Pool.QueueLen is a cheap len() read
// rather than a value the pool would need to track separately.
func NewCollector(queueDepthFn func() int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		getLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbpool_get_latency_seconds",
			Help:    "Latency of completed Get commands, including queue wait.",
			Buckets: prometheus.DefBuckets,
		}),
		getsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbpool_gets_cancelled_total",
			Help: "Get commands elided because the submitter cancelled before execution.",
		}, []string{"map"}),
		submissionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_submission_errors_total",
			Help: "Execute calls that failed because the pool's channel was closed.",
		}),
		workerLostErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbpool_worker_lost_errors_total",
			Help: "Execute calls that failed because their worker panicked mid-query.",
		}),
	}
	c.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dbpool_queue_depth",
		Help: "Current number of commands buffered in the pool's channel.",
	}, func() float64 { return float64(queueDepthFn()) })

	reg.MustRegister(c.getLatency, c.getsCancelled, c.submissionErrors, c.workerLostErrors, c.queueDepth)
	return c
}

// Completed implements pool.Metrics.
func (c *Collector) Completed(_ string, d time.Duration) {
	c.getLatency.Observe(d.Seconds())
}

// Cancelled implements pool.Metrics.
func (c *Collector) Cancelled(mapName string) {
	c.getsCancelled.WithLabelValues(mapName).Inc()
}

// SubmissionFailed implements pool.Metrics.
func (c *Collector) SubmissionFailed() {
	c.submissionErrors.Inc()
}

// WorkerLost implements pool.Metrics.
func (c *Collector) WorkerLost() {
	c.workerLostErrors.Inc()
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve runs a minimal metrics HTTP server until ctx is cancelled.
func Serve(ctx context.Context, addr string, c *Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("metrics: server stopped: %w", err)
	}
}
