// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FragmentsReceived tracks text fragments applied from the realtime channel.
	FragmentsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fragments_received_total",
			Help: "Streamed text fragments applied to the message store",
		},
	)

	// SendsTotal tracks message send attempts by outcome.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sends_total",
			Help: "Message send attempts",
		},
		[]string{"status"},
	)

	// HistoryLoadsTotal tracks history fetches by outcome.
	HistoryLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_history_loads_total",
			Help: "Conversation history fetches",
		},
		[]string{"status"},
	)

	// StreamDuration tracks how long a generation stream stays open.
	StreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_stream_duration_seconds",
			Help:    "Duration from generation start to stream completion",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		},
	)

	// ConnectionUp reports whether the realtime connection is established.
	ConnectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connection_up",
			Help: "1 when the realtime connection is established, 0 otherwise",
		},
	)

	// ReconnectAttempts tracks reconnect attempts after transport drops.
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_reconnect_attempts_total",
			Help: "Reconnect attempts after a transport drop",
		},
	)

	// ConnectionFailures tracks terminal connection failures.
	ConnectionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_connection_failures_total",
			Help: "Connections given up after exhausting reconnect attempts",
		},
	)

	// RequestDuration tracks devserver HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total devserver HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks active devserver websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// GeneratedFragmentsTotal tracks fragments emitted by the devserver generator.
	GeneratedFragmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "generator_fragments_total",
			Help: "Fragments emitted by the response generator",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
