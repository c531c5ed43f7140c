// Package metrics provides Prometheus instrumentation for the chatsync
// client: live connection state, push and publish throughput, gateway
// outcomes and unread badge values.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SocketConnected is 1 while the live connection is up.
	SocketConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_socket_connected",
		Help: "Whether the live-event connection is currently established",
	})

	// SocketReconnects counts successful connections after the first one.
	SocketReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_socket_reconnects_total",
		Help: "Number of live-event reconnections",
	})

	// PushEvents counts inbound push events by event name.
	PushEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_push_events_total",
		Help: "Inbound push events received",
	}, []string{"event"})

	// Publishes counts outbound events, labeled by event and outcome
	// ("sent", "queued", "dropped").
	Publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_publishes_total",
		Help: "Outbound live events",
	}, []string{"event", "outcome"})

	// GatewayRequests counts REST calls by method and outcome.
	GatewayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_gateway_requests_total",
		Help: "REST requests issued by the gateway",
	}, []string{"method", "outcome"})

	// GatewayLatency records REST round-trip time in seconds.
	GatewayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatsync_gateway_latency_seconds",
		Help:    "REST round-trip latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// TokenRenewals counts credential renewals by outcome ("ok", "failed").
	TokenRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_token_renewals_total",
		Help: "Credential renewal attempts",
	}, []string{"outcome"})

	// UnreadCount mirrors the badge value per surface.
	UnreadCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatsync_unread_count",
		Help: "Current unread badge value per chat surface",
	}, []string{"surface"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatsync_circuit_breaker_state",
		Help: "Gateway circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	// MessagesObserved counts chat messages merged into a store, per surface
	// and origin ("history", "live", "ack").
	MessagesObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_messages_observed_total",
		Help: "Chat messages merged into conversation stores",
	}, []string{"surface", "origin"})

	// MirrorPublishes counts events republished to NATS by outcome.
	MirrorPublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_mirror_publishes_total",
		Help: "Bus events republished to NATS",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		SocketConnected,
		SocketReconnects,
		PushEvents,
		Publishes,
		GatewayRequests,
		GatewayLatency,
		TokenRenewals,
		UnreadCount,
		CircuitBreakerState,
		MessagesObserved,
		MirrorPublishes,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
