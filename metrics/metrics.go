// Package metrics registers the relay's Prometheus collectors, served
// alongside the Go runtime collectors on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_open_connections",
		Help: "Number of live WebSocket connections.",
	})

	RoomDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_room_dispatches_total",
		Help: "Number of payload fan-outs to a room.",
	})

	UnknownNotices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_unknown_sender_notices_total",
		Help: "Number of unknown-sender notices pushed to recipients.",
	})

	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_frames_total",
		Help: "Number of client frames dropped as malformed or invalid.",
	})
)
