// Package metrics exposes Prometheus collectors for the event fabric.
// Scrape via the /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "Total number of WebSocket connections established",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of active WebSocket connections",
	})
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connections_rejected_total",
		Help: "Connection attempts rejected before upgrade, by reason",
	}, []string{"reason"})
	DisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_disconnects_total",
		Help: "Total disconnections by reason",
	}, []string{"reason"})

	// Message metrics
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "Total messages written to clients",
	})
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "Total messages read from clients",
	})
	ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_protocol_errors_total",
		Help: "Frames rejected as malformed or of unknown type",
	})
	RateLimitedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_rate_limited_messages_total",
		Help: "Inbound frames dropped by the per-connection rate limiter",
	})

	// Route metrics
	SubscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "route_subscriptions_active",
		Help: "Confirmed subscriptions per route",
	}, []string{"route"})
	TopicsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "route_topics_active",
		Help: "Topics with at least one subscriber per route",
	}, []string{"route"})
	BroadcastsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_broadcasts_dropped_total",
		Help: "Updates dropped because the route queue was full",
	}, []string{"route"})
	UpdatesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_updates_delivered_total",
		Help: "Updates fanned out to subscribers per route",
	}, []string{"route"})

	// Engine metrics
	SimulatedExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_simulated_executions_total",
		Help: "Executions produced by the broker simulator",
	})
	DatafeedGenerators = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datafeed_generators_active",
		Help: "Running per-topic datafeed generator tasks",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
