package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	audienceObserver = "observer"
	audienceVisitor  = "visitor"
)

var (
	connectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "holdroom_ws_connections",
			Help: "Live websocket connections by audience.",
		},
		[]string{"audience"},
	)

	eventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdroom_ws_events_total",
			Help: "Events fanned out to live connections, by event name.",
		},
		[]string{"event"},
	)

	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdroom_ws_evictions_total",
			Help: "Connections dropped because a send failed, by audience.",
		},
		[]string{"audience"},
	)
)
