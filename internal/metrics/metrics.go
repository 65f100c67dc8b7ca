// Package metrics exposes Prometheus instrumentation for the chat core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classchat/pkg/types"
)

var (
	// Connection metrics
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "classchat_connection_state",
			Help: "Current chat socket state (0=idle 1=connecting 2=open 3=reconnecting 4=closed)",
		},
	)

	ReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_reconnect_attempts_total",
			Help: "Total number of scheduled automatic reconnect attempts",
		},
	)

	SocketClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_socket_closes_total",
			Help: "Total number of socket closes by close code",
		},
		[]string{"code"},
	)

	// Frame metrics
	FramesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_frames_received_total",
			Help: "Total number of inbound frames handled by type",
		},
		[]string{"type"},
	)

	FramesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_frames_dropped_total",
			Help: "Total number of inbound frames dropped by reason",
		},
		[]string{"reason"},
	)

	FramesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_frames_sent_total",
			Help: "Total number of outbound frames written by type",
		},
		[]string{"type"},
	)

	// Conversation metrics
	FallbackSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_fallback_sends_total",
			Help: "Total number of REST fallback sends by result",
		},
		[]string{"result"},
	)

	HistoryFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classchat_history_fetch_duration_seconds",
			Help:    "Conversation history fetch latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionState,
		ReconnectAttemptsTotal,
		SocketClosesTotal,
		FramesReceivedTotal,
		FramesDroppedTotal,
		FramesSentTotal,
		FallbackSendsTotal,
		HistoryFetchDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetConnectionState records the current socket state
func SetConnectionState(state types.ConnectionState) {
	ConnectionState.Set(float64(state))
}
