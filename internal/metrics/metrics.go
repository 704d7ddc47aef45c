package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a roomchat client.
type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	EventsSent        *prometheus.CounterVec
	SendsDropped      *prometheus.CounterVec
	MalformedPayloads *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	ConnectionState   prometheus.Gauge
	UsersOnline       prometheus.Gauge
	StreamEntries     prometheus.Gauge
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates the metrics on reg. Tests pass a fresh
// registry so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_events_received_total",
			Help: "Events received from the relay or transport, by event name",
		}, []string{"event"}),
		EventsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_events_sent_total",
			Help: "Events queued for the relay, by event name",
		}, []string{"event"}),
		SendsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_sends_dropped_total",
			Help: "Outbound events dropped before reaching the relay",
		}, []string{"reason"}),
		MalformedPayloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_malformed_payloads_total",
			Help: "Inbound payloads with nothing usable after normalization",
		}, []string{"event"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_reconnect_attempts_total",
			Help: "Reconnection attempts made by the transport",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_connection_state",
			Help: "Connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
		}),
		UsersOnline: f.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_users_online",
			Help: "Other users currently present in the room",
		}),
		StreamEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_stream_entries",
			Help: "Entries currently held in the message stream",
		}),
	}
}
