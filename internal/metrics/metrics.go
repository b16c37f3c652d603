// Package metrics exposes Prometheus instrumentation for the chat fan-out core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChatMetrics bundles the collectors maintained by the chat registry and router.
type ChatMetrics struct {
	Connections        prometheus.Gauge
	Rooms              prometheus.Gauge
	MessagesTotal      prometheus.Counter
	BroadcastsTotal    prometheus.Counter
	BroadcastFailures  prometheus.Counter
	FramesRejected     prometheus.Counter
	PresenceEventsSent prometheus.Counter
}

// New registers the chat collectors against the provided registerer.
func New(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections",
			Help: "Current live chat socket connections.",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_rooms",
			Help: "Current thread rooms with at least one member.",
		}),
		MessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total inbound chat messages accepted for fan-out.",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Total broadcast dispatches across all thread rooms.",
		}),
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_broadcast_failures_total",
			Help: "Total endpoint writes that failed during a broadcast.",
		}),
		FramesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_rejected_total",
			Help: "Total inbound frames rejected as malformed or oversized.",
		}),
		PresenceEventsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_presence_events_total",
			Help: "Total user_joined and user_left notifications dispatched.",
		}),
	}
}

// ConnectionOpened records a new live endpoint.
func (m *ChatMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// ConnectionClosed records a removed endpoint.
func (m *ChatMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

// SetRooms records the current thread room count.
func (m *ChatMetrics) SetRooms(count int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(count))
}

// MessageAccepted records one inbound message submitted for fan-out.
func (m *ChatMetrics) MessageAccepted() {
	if m == nil {
		return
	}
	m.MessagesTotal.Inc()
}

// BroadcastDispatched records one broadcast call.
func (m *ChatMetrics) BroadcastDispatched() {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}

// BroadcastWriteFailed records a recipient write failure during a broadcast.
func (m *ChatMetrics) BroadcastWriteFailed() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

// FrameRejected records an inbound frame dropped as malformed or oversized.
func (m *ChatMetrics) FrameRejected() {
	if m == nil {
		return
	}
	m.FramesRejected.Inc()
}

// PresenceEvent records a presence notification dispatch.
func (m *ChatMetrics) PresenceEvent() {
	if m == nil {
		return
	}
	m.PresenceEventsSent.Inc()
}
