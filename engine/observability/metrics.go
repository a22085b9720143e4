package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// TRANSPORT METRICS
// =============================================================================

var (
	bytesTransferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibus_bytes_transferred_total",
			Help: "Total bytes sent or received over peer connections",
		},
		[]string{"direction"}, // direction: send, receive
	)

	messagesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibus_messages_routed_total",
			Help: "Total messages routed through a link",
		},
		[]string{"interface_kind", "status"}, // status: delivered, dropped
	)

	peerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ibus_peer_queue_depth",
			Help: "Current number of queued outbound frames per peer connection",
		},
		[]string{"peer"},
	)
)

// =============================================================================
// LIFECYCLE / TIME-SYNC METRICS
// =============================================================================

var (
	participantStateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibus_participant_state_transitions_total",
			Help: "Total lifecycle state transitions observed by the coordinator",
		},
		[]string{"from", "to"},
	)

	tickLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ibus_tick_latency_seconds",
			Help:    "Time from Tick issuance to all-required-participants TickDone",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"sync_policy"},
	)

	systemStateRank = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ibus_system_state_rank",
			Help: "Current aggregated SystemState rank",
		},
	)
)

// =============================================================================
// RPC METRICS
// =============================================================================

var (
	rpcCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibus_rpc_calls_total",
			Help: "Total RPC calls issued through a generic RPC client controller",
		},
		[]string{"service", "status"}, // status: success, error, timeout, undeliverable
	)

	rpcCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ibus_rpc_call_duration_seconds",
			Help:    "RPC call round-trip duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"service"},
	)
)

// RecordBytesTransferred records bytes moved across a peer connection.
func RecordBytesTransferred(direction string, n int) {
	bytesTransferredTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordMessageRouted records one routed message's outcome.
func RecordMessageRouted(interfaceKind, status string) {
	messagesRoutedTotal.WithLabelValues(interfaceKind, status).Inc()
}

// SetPeerQueueDepth sets the current outbound queue depth for peer.
func SetPeerQueueDepth(peer string, depth int) {
	peerQueueDepth.WithLabelValues(peer).Set(float64(depth))
}

// RecordStateTransition records a participant lifecycle transition.
func RecordStateTransition(from, to string) {
	participantStateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordTickLatency records the duration of one tick/TickDone round.
func RecordTickLatency(syncPolicy string, seconds float64) {
	tickLatencySeconds.WithLabelValues(syncPolicy).Observe(seconds)
}

// SetSystemStateRank records the current aggregated SystemState's rank.
func SetSystemStateRank(rank int) {
	systemStateRank.Set(float64(rank))
}

// RecordRPCCall records one RPC call's outcome and duration.
func RecordRPCCall(service, status string, seconds float64) {
	rpcCallsTotal.WithLabelValues(service, status).Inc()
	rpcCallDurationSeconds.WithLabelValues(service).Observe(seconds)
}
