package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChatMetrics collects chat protocol counters. It satisfies the adapter's
// connection MetricsRecorder, the chat Recorder, and the discovery Recorder
// interfaces. All methods are nil-safe.
type ChatMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	activeConnections      prometheus.Gauge
	commands               *prometheus.CounterVec
	directMessages         prometheus.Counter
	groupMessages          prometheus.Counter
	discoveryReplies       prometheus.Counter
}

// NewChatMetrics creates the chat collectors, or returns nil when metrics
// are disabled.
func NewChatMetrics() *ChatMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &ChatMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lanchat_connections_accepted_total",
			Help: "Total TCP chat connections accepted",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lanchat_connections_closed_total",
			Help: "Total TCP chat connections closed",
		}),
		connectionsForceClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lanchat_connections_force_closed_total",
			Help: "Total TCP chat connections force-closed at shutdown",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "lanchat_active_connections",
			Help: "Currently open TCP chat connections",
		}),
		commands: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lanchat_commands_total",
			Help: "Total chat commands processed, by command mnemonic",
		}, []string{"command"}),
		directMessages: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lanchat_direct_messages_total",
			Help: "Total direct messages relayed",
		}),
		groupMessages: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lanchat_group_messages_total",
			Help: "Total group messages fanned out",
		}),
		discoveryReplies: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lanchat_discovery_replies_total",
			Help: "Total SERVER_INFO discovery replies sent",
		}),
	}
}

func (m *ChatMetrics) RecordConnectionAccepted() {
	if m != nil {
		m.connectionsAccepted.Inc()
	}
}

func (m *ChatMetrics) RecordConnectionClosed() {
	if m != nil {
		m.connectionsClosed.Inc()
	}
}

func (m *ChatMetrics) RecordConnectionForceClosed() {
	if m != nil {
		m.connectionsForceClosed.Inc()
	}
}

func (m *ChatMetrics) SetActiveConnections(count int32) {
	if m != nil {
		m.activeConnections.Set(float64(count))
	}
}

func (m *ChatMetrics) RecordCommand(name string) {
	if m != nil {
		m.commands.WithLabelValues(name).Inc()
	}
}

func (m *ChatMetrics) RecordDirectMessage() {
	if m != nil {
		m.directMessages.Inc()
	}
}

func (m *ChatMetrics) RecordGroupMessage() {
	if m != nil {
		m.groupMessages.Inc()
	}
}

func (m *ChatMetrics) RecordDiscoveryReply() {
	if m != nil {
		m.discoveryReplies.Inc()
	}
}
