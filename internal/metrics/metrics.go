// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_ws_connections_active",
		Help: "Currently registered websocket connections.",
	})

	UsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_users_online",
		Help: "Users with at least one live connection.",
	})

	EventsInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_ws_events_inbound_total",
		Help: "Inbound realtime events by event name.",
	}, []string{"event"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_ws_events_dropped_total",
		Help: "Inbound events dropped by decode failure or rate limit.",
	})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_ws_broadcasts_total",
		Help: "Outbound events broadcast to rooms, by event name.",
	}, []string{"event"})

	GenerationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_ai_generations_active",
		Help: "AI generations currently streaming.",
	})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_ai_generations_total",
		Help: "Finished AI generations by outcome.",
	}, []string{"outcome"})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_calls_total",
		Help: "Calls reaching a terminal status, by status.",
	}, []string{"status"})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
