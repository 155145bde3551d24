// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "counsel"

// Metrics groups the API collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	edits           *prometheus.CounterVec
	commentEvents   *prometheus.CounterVec
	liveConnections prometheus.Gauge
	presentUsers    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests processed.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		edits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edits_total",
				Help:      "Edit submissions by outcome.",
			},
			[]string{"result"},
		),
		commentEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_events_total",
				Help:      "Comment mutations by event type.",
			},
			[]string{"event"},
		),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open realtime WebSocket connections.",
		}),
		presentUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "present_users",
			Help:      "Presence records across all documents.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requestCount, m.requestDuration, m.edits, m.commentEvents, m.liveConnections, m.presentUsers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Edit outcomes.
const (
	EditApplied  = "applied"
	EditConflict = "conflict"
	EditRejected = "rejected"
)

func (m *Metrics) ObserveEdit(result string) {
	if m == nil {
		return
	}
	m.edits.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCommentEvent(eventType string) {
	if m == nil {
		return
	}
	m.commentEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.liveConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.liveConnections.Dec()
	}
}

func (m *Metrics) SetPresentUsers(n int) {
	if m != nil {
		m.presentUsers.Set(float64(n))
	}
}
