// Package telemetry exposes the daemon's handshake metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// HandshakesTotal counts completed negotiations by outcome. Outcome is
	// "ok" or the failed error kind ("version_out_of_range",
	// "feature_requires_newer_protocol", ...).
	HandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "handshakes_total",
			Help:      "Total number of protocol negotiations by outcome.",
		},
		[]string{"outcome", "transport"},
	)

	// NegotiatedVersions tracks which protocol versions peers settle on.
	NegotiatedVersions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "negotiated_versions_total",
			Help:      "Successful negotiations by agreed protocol version.",
		},
		[]string{"version"},
	)

	// HandshakeDuration measures time from accept to contract.
	HandshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftsync",
			Name:      "handshake_duration_seconds",
			Help:      "Latency of one full negotiation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 11),
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "driftsync",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(HandshakesTotal, NegotiatedVersions, HandshakeDuration, uptime)
}

// MetricsHandler exposes /metrics on the daemon's admin listener.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
