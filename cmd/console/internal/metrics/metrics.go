package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "console_channel_joins_total",
			Help: "Channel joins sent on the event connection",
		},
	)

	ChannelRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "console_channel_rejections_total",
			Help: "Channel joins refused by the gateway",
		},
	)

	ChannelLeaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "console_channel_leaves_total",
			Help: "Channel leaves sent on the event connection",
		},
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_events_dispatched_total",
			Help: "Push events delivered to a watcher",
		},
		[]string{"type"},
	)

	// Stale events for channels nobody watches. Expected steady-state traffic.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_events_dropped_total",
			Help: "Push events dropped without a live watcher",
		},
		[]string{"type"},
	)

	EventsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_events_deduplicated_total",
			Help: "Push events discarded because the entity was already present",
		},
		[]string{"type"},
	)

	MalformedPayloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_malformed_payloads_total",
			Help: "Push payloads discarded at the handler boundary",
		},
		[]string{"type"},
	)

	Rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "console_optimistic_rollbacks_total",
			Help: "Optimistic updates reverted after the confirming call failed",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "console_event_connection_reconnects_total",
			Help: "Event connection dial attempts after the first",
		},
	)
)
