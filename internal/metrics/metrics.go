// Package metrics holds the framework's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsDispatchedTotal counts handler invocations by event category.
	EventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamefw_events_dispatched_total",
		Help: "Handler invocations by event category",
	}, []string{"category"})

	HandlerPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamefw_handler_panics_total",
		Help: "Recovered handler panics by event category",
	}, []string{"category"})

	EventSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gamefw_event_subscriptions",
		Help: "Live subscriptions installed by the event engine, by group",
	}, []string{"group"})

	LoaderPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gamefw_loader_phase_duration_seconds",
		Help:    "Time to drain each bootstrap phase",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"phase"})

	LoaderHooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamefw_loader_hooks_total",
		Help: "Lifecycle hooks run, by phase and result",
	}, []string{"phase", "result"})

	BridgeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gamefw_bridge_connections",
		Help: "Open websocket bridge connections",
	})

	BridgeRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamefw_bridge_rejected_total",
		Help: "Inbound bridge messages rejected, by reason",
	}, []string{"reason"})

	RelayMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamefw_relay_messages_total",
		Help: "Redis relay messages, by direction",
	}, []string{"direction"})
)
