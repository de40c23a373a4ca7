package wsbridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the supervisor's connection collectors.
type Metrics struct {
	Accepted          prometheus.Counter
	Active            prometheus.Gauge
	HandshakeFailures prometheus.Counter
	Errors            prometheus.Counter
	Duration          prometheus.Histogram
}

// NewMetrics creates the connection collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsbridge",
			Name:      "connections_accepted_total",
			Help:      "Raw connections accepted from the listener.",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wsbridge",
			Name:      "connections_active",
			Help:      "WebSocket connections currently being served.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsbridge",
			Name:      "handshake_failures_total",
			Help:      "Connections dropped because the WebSocket upgrade failed.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsbridge",
			Name:      "connection_errors_total",
			Help:      "Connections whose backend ended with an error or panicked.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wsbridge",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of served WebSocket connections.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Accepted, m.Active, m.HandshakeFailures, m.Errors, m.Duration)
	}
	return m
}

// ServeMetrics exposes g on addr at path until ctx ends.
func ServeMetrics(ctx context.Context, addr, path string, g prometheus.Gatherer, logger *slog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("metrics endpoint listening", "addr", addr, "path", path)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
