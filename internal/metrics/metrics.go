// Package metrics provides Prometheus metrics for twin nodes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/torfstack/twin/internal/logging"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twin_requests_total",
			Help: "Total number of handled requests by node and reply",
		},
		[]string{"node", "reply"},
	)

	connectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "twin_connections_active",
			Help: "Number of connections currently being handled",
		},
		[]string{"node"},
	)

	bytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twin_bytes_sent_total",
			Help: "Total bytes written to requesters, headers included",
		},
		[]string{"node"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twin_outcomes_total",
			Help: "Total number of reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twin_store_probes_total",
			Help: "Total number of store node probes by result",
		},
		[]string{"result"},
	)

	probeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "twin_store_probe_duration_seconds",
			Help:    "Round trip time of store node probes",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func ConnectionOpened(node string) {
	connectionsActive.WithLabelValues(node).Inc()
}

func ConnectionClosed(node string) {
	connectionsActive.WithLabelValues(node).Dec()
}

func RecordRequest(node, reply string) {
	requestsTotal.WithLabelValues(node, reply).Inc()
}

func AddBytesSent(node string, n int64) {
	bytesSent.WithLabelValues(node).Add(float64(n))
}

func RecordOutcome(outcome string) {
	outcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordProbe(result string, duration time.Duration) {
	probesTotal.WithLabelValues(result).Inc()
	probeDuration.Observe(duration.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("Could not shut down metrics server", err)
		}
	}()

	logging.Infof("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
