// Package metrics provides Prometheus instrumentation for the fee engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuotesTotal counts fee quotes issued, partitioned by side.
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_engine_quotes_total",
		Help: "Total number of fee quotes issued",
	}, []string{"side"})

	// QuoteLatency tracks quote evaluation latency.
	QuoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fee_engine_quote_latency_seconds",
		Help:    "Fee quote evaluation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// ActivePools tracks the number of registered pools.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fee_engine_active_pools",
		Help: "Number of registered pools",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fee_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fee_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// ExposureLimitRejections counts quotes rejected by the exposure limiter.
	ExposureLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fee_engine_exposure_limit_rejections_total",
		Help: "Quotes rejected by the exposure limiter",
	})

	// ArithmeticFailures counts quote evaluations rejected for fixed-point
	// arithmetic failures (corrupted upstream state).
	ArithmeticFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fee_engine_arithmetic_failures_total",
		Help: "Quote evaluations rejected due to fixed-point arithmetic failures",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
