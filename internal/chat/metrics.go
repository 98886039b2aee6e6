// internal/chat/metrics.go

package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of open websocket connections",
		},
	)

	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of websocket connections accepted",
		},
	)

	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of messages sent",
		},
		[]string{"transport"},
	)

	broadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Total number of events broadcast to conversation rooms",
		},
	)

	throttleDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_throttle_drops_total",
			Help: "Total number of socket sends rejected by the throttle",
		},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_send_duration_seconds",
			Help:    "Time to persist and fan out one message",
			Buckets: prometheus.DefBuckets,
		},
	)
)
