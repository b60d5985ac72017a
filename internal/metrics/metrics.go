// Package metrics exposes Prometheus collectors for the broker and its
// transports. A nil *Metrics is valid and records nothing, so tests and
// metric-less deployments can pass nil around freely.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	requestErrors *prometheus.CounterVec
	notifications *prometheus.CounterVec
	droppedSess   prometheus.Counter

	objects     prometheus.Gauge
	clients     prometheus.Gauge
	queries     prometheus.Gauge
	invocations prometheus.Gauge
	streams     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objtalk_requests_total",
			Help: "Operations accepted by the broker worker, by request type.",
		}, []string{"type"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objtalk_request_errors_total",
			Help: "Operations answered with an error, by request type.",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objtalk_notifications_total",
			Help: "Notifications enqueued to subscriber sessions, by type.",
		}, []string{"type"}),
		droppedSess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objtalk_sessions_dropped_total",
			Help: "Sessions disconnected because their outbound queue overflowed.",
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objtalk_objects",
			Help: "Objects currently in the registry.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objtalk_clients",
			Help: "Connected clients.",
		}),
		queries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objtalk_queries",
			Help: "Live subscriptions.",
		}),
		invocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objtalk_pending_invocations",
			Help: "RPC invocations parked awaiting a provider result.",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objtalk_streams",
			Help: "Open relay streams.",
		}),
	}

	m.registry.MustRegister(
		m.requests, m.requestErrors, m.notifications, m.droppedSess,
		m.objects, m.clients, m.queries, m.invocations, m.streams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the exposition endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(typ string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(typ).Inc()
}

func (m *Metrics) RequestError(typ string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(typ).Inc()
}

func (m *Metrics) Notification(typ string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(typ).Inc()
}

func (m *Metrics) SessionDropped() {
	if m == nil {
		return
	}
	m.droppedSess.Inc()
}

func (m *Metrics) SetObjects(n int) {
	if m == nil {
		return
	}
	m.objects.Set(float64(n))
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) SetQueries(n int) {
	if m == nil {
		return
	}
	m.queries.Set(float64(n))
}

func (m *Metrics) SetPendingInvocations(n int) {
	if m == nil {
		return
	}
	m.invocations.Set(float64(n))
}

func (m *Metrics) SetStreams(n int) {
	if m == nil {
		return
	}
	m.streams.Set(float64(n))
}
