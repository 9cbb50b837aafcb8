package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for WebSocket connections and
// event fan-out.
type WebSocketMetrics struct {
	ActiveConnections     prometheus.Gauge
	RejectedConnections   *prometheus.CounterVec
	EventsBroadcast       *prometheus.CounterVec
	Deliveries            prometheus.Counter
	SendFailures          prometheus.Counter
	SerializationFailures prometheus.Counter
	BroadcastDuration     prometheus.Histogram
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		RejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_connections_total",
			Help:      "WebSocket upgrades rejected before the handshake, by reason.",
		}, []string{"reason"}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "events_broadcast_total",
			Help:      "Total number of events broadcast, by event type.",
		}, []string{"type"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "deliveries_total",
			Help:      "Total number of event payloads written to a client.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_failures_total",
			Help:      "Total number of failed sends; each one evicts the client.",
		}),
		SerializationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "serialization_failures_total",
			Help:      "Total number of events that could not be encoded.",
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan one event out to every connected client.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.RejectedConnections,
		m.EventsBroadcast,
		m.Deliveries,
		m.SendFailures,
		m.SerializationFailures,
		m.BroadcastDuration,
	)
	return m
}
