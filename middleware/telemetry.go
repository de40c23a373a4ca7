package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
)

// Metrics holds the per-method request collectors.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the request collectors and registers them with reg. A
// nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wsbridge",
				Name:      "rpc_requests_total",
				Help:      "JSON-RPC calls handled, by method and status.",
			},
			[]string{"method", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wsbridge",
				Name:      "rpc_duration_seconds",
				Help:      "Time spent handling JSON-RPC calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration)
	}
	return m
}

// Telemetry returns middleware that counts calls and observes their latency.
func Telemetry(m *Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error) {
			start := time.Now()
			result, err := next(ctx, method, params)

			status := "ok"
			if err != nil {
				status = "error"
			}
			m.Requests.WithLabelValues(method, status).Inc()
			m.Duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return result, err
		}
	}
}
