package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the NexusConnect hub.
//
// Naming convention: namespace_subsystem_name
// - namespace: nexus (application-level grouping)
// - subsystem: tcp, chat, presence, signaling, stun, discovery,
//   filetransfer, voice, whiteboard, game, bus (feature-level grouping)
// - name: specific metric (sessions_active, frames_total, etc.)
//
// Metric Types:
// - Gauge: Current state (sessions, presence entries, peers)
// - Counter: Cumulative events (frames dispatched, bytes moved, errors)
// - Histogram: Latency distributions (frame handling time)

var (
	// ActiveTCPSessions tracks the current number of connected chat sockets (Gauge - current state)
	ActiveTCPSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "tcp",
		Name:      "sessions_active",
		Help:      "Current number of active TCP chat sessions",
	})

	// TCPFrames counts dispatched TCP frames by command and outcome (CounterVec - cumulative)
	TCPFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "tcp",
		Name:      "frames_total",
		Help:      "Total TCP frames dispatched",
	}, []string{"command", "status"})

	// FrameHandlingDuration tracks time spent handling TCP frames (HistogramVec - latency distribution)
	FrameHandlingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "tcp",
		Name:      "frame_handling_seconds",
		Help:      "Time spent handling TCP frames",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// ChatMessages counts accepted chat broadcasts (Counter - cumulative)
	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Total chat messages accepted and fanned out",
	})

	// PresenceEntries tracks the current roster size (Gauge - current state)
	PresenceEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "presence",
		Name:      "entries",
		Help:      "Current number of presence entries",
	})

	// ActiveSignalingConnections tracks live signaling WebSockets (Gauge - current state)
	ActiveSignalingConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "signaling",
		Name:      "connections_active",
		Help:      "Current number of active signaling WebSocket connections",
	})

	// SignalingMessages counts routed signaling messages (CounterVec - cumulative)
	SignalingMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "signaling",
		Name:      "messages_total",
		Help:      "Total signaling messages processed",
	}, []string{"type", "status"})

	// STUNPackets counts received STUN datagrams by result (CounterVec - cumulative)
	STUNPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "stun",
		Name:      "packets_total",
		Help:      "Total STUN datagrams received",
	}, []string{"result"})

	// DiscoveryPeers tracks the current LAN peer cache size (Gauge - current state)
	DiscoveryPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "discovery",
		Name:      "peers",
		Help:      "Current number of cached discovery peers",
	})

	// FileTransfers counts finished transfers by direction and outcome (CounterVec - cumulative)
	FileTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "filetransfer",
		Name:      "transfers_total",
		Help:      "Total file transfers by direction and outcome",
	}, []string{"direction", "status"})

	// FileTransferBytes counts payload bytes written to disk (Counter - cumulative)
	FileTransferBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "filetransfer",
		Name:      "bytes_total",
		Help:      "Total file payload bytes received",
	})

	// ActiveVoiceSessions tracks live voice sessions (Gauge - current state)
	ActiveVoiceSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "voice",
		Name:      "sessions_active",
		Help:      "Current number of live voice sessions",
	})

	// ActiveWhiteboardSessions tracks live whiteboard sessions (Gauge - current state)
	ActiveWhiteboardSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "whiteboard",
		Name:      "sessions_active",
		Help:      "Current number of live whiteboard sessions",
	})

	// ActiveGames tracks in-progress tic-tac-toe games (Gauge - current state)
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "game",
		Name:      "games_active",
		Help:      "Current number of in-progress games",
	})

	// CircuitBreakerState reports breaker state per downstream (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per downstream (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected by an open breaker (CounterVec - cumulative)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total requests rejected by an open circuit breaker",
	}, []string{"service"})

	// RateLimitRequests counts requests that passed a rate limit check (CounterVec - cumulative)
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked against a rate limit",
	}, []string{"path"})

	// RateLimitExceeded counts requests rejected by a rate limit (CounterVec - cumulative)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by a rate limit",
	}, []string{"path", "limit_type"})
)

func IncTCPSession() {
	ActiveTCPSessions.Inc()
}

func DecTCPSession() {
	ActiveTCPSessions.Dec()
}
