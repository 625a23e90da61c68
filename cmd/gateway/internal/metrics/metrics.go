package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Open websocket connections",
		},
	)

	UpstreamChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_upstream_channels",
			Help: "Redis channels the gateway is subscribed to",
		},
	)

	EventsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_events_broadcast_total",
			Help: "Event frames queued to clients",
		},
	)

	SlowClientDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_slow_client_drops_total",
			Help: "Frames dropped because a client's send buffer was full",
		},
	)

	RejectedChannels = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rejected_channels_total",
			Help: "Subscribe requests naming a channel outside the policy",
		},
	)
)
