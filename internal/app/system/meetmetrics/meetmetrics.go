// Package meetmetrics holds the Prometheus collectors for the meeting service.
//
// Every method is safe on a nil *Metrics so tests and tools can run the
// coordinator without a registry.
package meetmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mentorlink"

// Drop reasons for signaling and delivery.
const (
	DropPeerNotFound = "peer_not_found"
	DropGlare        = "glare"
	DropBufferFull   = "send_buffer_full"
	DropRateLimited  = "rate_limited"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	rooms        prometheus.Gauge
	participants prometheus.Gauge
	connections  prometheus.Gauge
	journalWait  prometheus.Histogram
}

// New creates collectors on a fresh registry, including the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Meeting operations by name, status and reason.",
		}, []string{"operation", "status", "reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Messages dropped without reaching their target.",
		}, []string{"reason"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_live",
			Help:      "Rooms with at least one live participant in this process.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_live",
			Help:      "Live participants across all rooms in this process.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		journalWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_journal_seconds",
			Help:      "Time from enqueue to completed chat append.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	m.registry.MustRegister(
		m.operations, m.dropped, m.rooms, m.participants, m.connections, m.journalWait,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Operation counts one operation outcome.
func (m *Metrics) Operation(op, status, reason string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, status, reason).Inc()
}

// Dropped counts a message that was not delivered.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RoomStarted() {
	if m == nil {
		return
	}
	m.rooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.rooms.Dec()
}

func (m *Metrics) ParticipantJoined() {
	if m == nil {
		return
	}
	m.participants.Inc()
}

func (m *Metrics) ParticipantLeft() {
	if m == nil {
		return
	}
	m.participants.Dec()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// ObserveJournal records how long a chat append waited and ran.
func (m *Metrics) ObserveJournal(d time.Duration) {
	if m == nil {
		return
	}
	m.journalWait.Observe(d.Seconds())
}
