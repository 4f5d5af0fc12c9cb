package gpudispatch

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported by a running dispatcher.
// All fields are safe for concurrent use, as is every promauto collector.
type Metrics struct {
	ColdStarts        prometheus.Counter
	DispatchSaturated prometheus.Counter
	GPULoad           *prometheus.GaugeVec
	DispatchLatency   prometheus.Histogram

	registry *prometheus.Registry
	srv      *http.Server
}

// NewMetrics registers the dispatcher's collectors against a fresh
// registry, so concurrent tests constructing multiple dispatchers never
// collide on the global default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		ColdStarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gpudispatch",
			Name:      "cold_starts_total",
			Help:      "Number of dispatches that required spawning a new worker.",
		}),
		DispatchSaturated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gpudispatch",
			Name:      "dispatch_saturated_total",
			Help:      "Number of dispatches rejected because the worker pool was at capacity.",
		}),
		GPULoad: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gpudispatch",
			Name:      "gpu_load",
			Help:      "Number of currently busy workers per GPU.",
		}, []string{"gpu"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gpudispatch",
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent waiting for a worker to answer a dispatched request.",
			Buckets:   prometheus.DefBuckets,
		}),
		registry: reg,
	}
	return m
}

// Handler returns the promhttp handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a plain net/http server exposing the registry at path, plus
// whatever extra routes extraRoutes registers, and blocks until the server
// stops or ctx is cancelled. Shutdown is graceful.
func (m *Metrics) Serve(ctx context.Context, addr, path string, extraRoutes func(*http.ServeMux)) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	if extraRoutes != nil {
		extraRoutes(mux)
	}

	m.srv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- m.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return m.srv.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
