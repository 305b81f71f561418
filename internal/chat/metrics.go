package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardianlink_connected_users",
		Help: "Number of users with a registered live connection.",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardianlink_messages_total",
		Help: "Messages persisted, labeled by their initial delivery status.",
	}, []string{"status"})
)
