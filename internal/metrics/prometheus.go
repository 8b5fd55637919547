package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the audio relay service.
// A nil *Metrics is valid and records nothing, so tests can exercise the
// relay without touching the global registry.
type Metrics struct {
	// Connection metrics
	ConnectionsOpened prometheus.Counter
	ConnectionsClosed prometheus.Counter
	AdmissionRejects  prometheus.Counter

	// Room metrics
	ActiveRooms    prometheus.Gauge
	RoomsCreated   prometheus.Counter
	RoomsDestroyed prometheus.Counter
	RoomDuration   prometheus.Histogram

	// Relay metrics
	BytesReceived     prometheus.Counter
	BytesBroadcast    prometheus.Counter
	BlocksBroadcast   prometheus.Counter
	BytesDropped      prometheus.Counter
	JitterUpdatesSent prometheus.Counter
	SpeakerSendErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Connection metrics
		ConnectionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_connections_opened_total",
			Help: "Total number of WebSocket connections admitted",
		}),
		ConnectionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_connections_closed_total",
			Help: "Total number of WebSocket connections closed",
		}),
		AdmissionRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_admission_rejects_total",
			Help: "Total number of connection requests rejected before upgrade",
		}),

		// Room metrics
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "audiostreamer_active_rooms",
			Help: "Current number of active rooms",
		}),
		RoomsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_rooms_created_total",
			Help: "Total number of rooms created",
		}),
		RoomsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_rooms_destroyed_total",
			Help: "Total number of rooms destroyed",
		}),
		RoomDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiostreamer_room_duration_seconds",
			Help:    "Lifetime of rooms in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Relay metrics
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_audio_bytes_received_total",
			Help: "Total audio bytes appended by microphone connections",
		}),
		BytesBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_audio_bytes_broadcast_total",
			Help: "Total audio bytes delivered to speaker connections",
		}),
		BlocksBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_audio_blocks_broadcast_total",
			Help: "Total audio blocks flushed to speakers",
		}),
		BytesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_audio_bytes_dropped_total",
			Help: "Total audio bytes dropped by buffer overflow trimming",
		}),
		JitterUpdatesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_jitter_updates_total",
			Help: "Total jitter window notifications published",
		}),
		SpeakerSendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audiostreamer_speaker_send_errors_total",
			Help: "Total failed speaker deliveries (speaker removed from room)",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostreamer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiostreamer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostreamer_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConnectionOpened increments the admitted connections counter
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsOpened.Inc()
}

// RecordConnectionClosed increments the closed connections counter
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsClosed.Inc()
}

// RecordAdmissionReject increments the pre-upgrade rejection counter
func (m *Metrics) RecordAdmissionReject() {
	if m == nil {
		return
	}
	m.AdmissionRejects.Inc()
}

// RecordRoomCreated increments the rooms created counter and active gauge
func (m *Metrics) RecordRoomCreated() {
	if m == nil {
		return
	}
	m.RoomsCreated.Inc()
	m.ActiveRooms.Inc()
}

// RecordRoomDestroyed records a room teardown and its lifetime
func (m *Metrics) RecordRoomDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RoomsDestroyed.Inc()
	m.ActiveRooms.Dec()
	m.RoomDuration.Observe(durationSeconds)
}

// RecordBytesReceived adds appended microphone bytes
func (m *Metrics) RecordBytesReceived(n int) {
	if m == nil {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// RecordBlockBroadcast records one block delivered to one speaker
func (m *Metrics) RecordBlockBroadcast(sizeBytes int) {
	if m == nil {
		return
	}
	m.BlocksBroadcast.Inc()
	m.BytesBroadcast.Add(float64(sizeBytes))
}

// RecordBytesDropped adds bytes discarded by overflow trimming
func (m *Metrics) RecordBytesDropped(n int) {
	if m == nil {
		return
	}
	m.BytesDropped.Add(float64(n))
}

// RecordJitterUpdate increments the published jitter notifications counter
func (m *Metrics) RecordJitterUpdate() {
	if m == nil {
		return
	}
	m.JitterUpdatesSent.Inc()
}

// RecordSpeakerSendError increments the failed-delivery counter
func (m *Metrics) RecordSpeakerSendError() {
	if m == nil {
		return
	}
	m.SpeakerSendErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
