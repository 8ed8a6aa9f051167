package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safecircle"

// Notification outcomes, one per (user, channel) attempt.
const (
	OutcomeDelivered = "delivered"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeExpired   = "expired"
)

// Metrics records into its own registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	notificationsTotal  *prometheus.CounterVec
	dispatchDuration    prometheus.Histogram
	emergencyEvents     *prometheus.CounterVec
	locationsRejected   *prometheus.CounterVec
	locationsFlagged    prometheus.Counter
	locationsAccepted   prometheus.Counter
	messagesTotal       prometheus.Counter
	realtimeEmitFailure *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),

		dispatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Wall time of one fan-out across all targets and channels",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),

		emergencyEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emergency_events_total",
				Help:      "Emergency lifecycle events",
			},
			[]string{"event"},
		),

		locationsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "locations_rejected_total",
				Help:      "Location updates rejected by the validator",
			},
			[]string{"reason"},
		),

		locationsFlagged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "locations_low_accuracy_total",
				Help:      "Accepted location updates reporting accuracy worse than 1000m",
			},
		),

		locationsAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "locations_accepted_total",
				Help:      "Location updates stored",
			},
		),

		messagesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_messages_total",
				Help:      "Chat messages stored",
			},
		),

		realtimeEmitFailure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_emit_failures_total",
				Help:      "Room emits refused by the hub",
			},
			[]string{"event"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) ObserveDispatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordEmergencyEvent(event string) {
	if m == nil {
		return
	}
	m.emergencyEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordLocationRejected(reason string) {
	if m == nil {
		return
	}
	m.locationsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordLocationAccepted(flagged bool) {
	if m == nil {
		return
	}
	m.locationsAccepted.Inc()
	if flagged {
		m.locationsFlagged.Inc()
	}
}

func (m *Metrics) RecordMessage() {
	if m == nil {
		return
	}
	m.messagesTotal.Inc()
}

func (m *Metrics) RecordRealtimeEmitFailure(event string) {
	if m == nil {
		return
	}
	m.realtimeEmitFailure.WithLabelValues(event).Inc()
}

// HubStats is the subset of hub state exported as gauges.
type HubStats interface {
	GetConnectionCount() int64
	RoomCount() int
	QueueLength() int
}

// RegisterHub exports live hub gauges read at scrape time.
func (m *Metrics) RegisterHub(hub HubStats) {
	if m == nil || hub == nil {
		return
	}
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Open websocket connections",
	}, func() float64 { return float64(hub.GetConnectionCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_rooms",
		Help:      "Rooms with at least one subscriber",
	}, func() float64 { return float64(hub.RoomCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_queue_length",
		Help:      "Events waiting in the hub queue",
	}, func() float64 { return float64(hub.QueueLength()) })
}

// Reset clears every labelled series.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.httpRequestsTotal.Reset()
	m.httpRequestDuration.Reset()
	m.notificationsTotal.Reset()
	m.emergencyEvents.Reset()
	m.locationsRejected.Reset()
	m.realtimeEmitFailure.Reset()
}
