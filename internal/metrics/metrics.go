package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mchat_connections_active",
			Help: "Live protocol connections",
		},
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mchat_connections_closed_total",
			Help: "Closed protocol connections by reason",
		},
		[]string{"reason"}, // "disconnect", "timeout", "kick", "shutdown", "lagging"
	)

	CommandsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mchat_commands_received_total",
			Help: "Client commands decoded by the server",
		},
		[]string{"command"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mchat_messages_posted_total",
			Help: "Messages accepted and persisted",
		},
		[]string{"type"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mchat_messages_rejected_total",
			Help: "Messages answered with a negative receipt",
		},
		[]string{"code"},
	)

	ChatsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mchat_chats_created_total",
			Help: "Chats created through NEW_CHAT",
		},
	)

	CatchupMessages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mchat_catchup_messages",
			Help:    "Messages sent in a SUBSCRIBE catch-up batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mchat_persistence_errors_total",
			Help: "Store failures by operation",
		},
		[]string{"op"},
	)
)
