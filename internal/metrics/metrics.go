// Package metrics holds the Prometheus collectors beacon exports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	ReasonDisconnected = "disconnected"
	ReasonEncode       = "encode"
	ReasonTransport    = "transport"
	ReasonBackpressure = "backpressure"
	ReasonClosed       = "closed"

	// Delivery side.
	ReasonDecode       = "decode"
	ReasonUnresolvable = "unresolvable"
	ReasonRouting      = "routing"
	ReasonSlowConsumer = "slow_consumer"
)

var (
	PublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_published_total",
		Help: "Messages handed to the broker, by backend",
	}, []string{"backend"})

	PublishDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_publish_dropped_total",
		Help: "Messages dropped before reaching the broker, by backend and reason",
	}, []string{"backend", "reason"})

	ReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_received_total",
		Help: "Messages received by subscribers, by backend",
	}, []string{"backend"})

	DeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_delivered_total",
		Help: "Notifications forwarded to live connections after routing matched",
	})

	DeliveryDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_delivery_dropped_total",
		Help: "Notifications not forwarded to a live connection, by reason",
	}, []string{"reason"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_event_transitions_total",
		Help: "Event lifecycle transitions, by event type and action",
	}, []string{"type", "action"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_live_connections",
		Help: "Currently open live client connections",
	})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_broker_reconnects_total",
		Help: "Automatic broker reconnects, by backend",
	}, []string{"backend"})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_tasks_total",
		Help: "Tasks run by the worker pool, by task name and outcome",
	}, []string{"task", "outcome"})

	PurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_events_purged_total",
		Help: "Events removed by the retention sweep",
	})
)

// IncDrop records a publish-side drop.
func IncDrop(backend, reason string) {
	if backend == "" {
		backend = "unknown"
	}
	PublishDroppedTotal.WithLabelValues(backend, reason).Inc()
}

// IncTransition records a lifecycle transition.
func IncTransition(eventType, action string) {
	if eventType == "" {
		eventType = "unknown"
	}
	TransitionsTotal.WithLabelValues(eventType, action).Inc()
}
