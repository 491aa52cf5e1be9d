package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service. All methods are nil-safe so
// components can run without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec

	transitions     *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec

	slaCrossings  *prometheus.CounterVec
	sweepRuns     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewMetrics registers collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itsm_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_ticket_transitions_total",
			Help: "Applied status transitions.",
		}, []string{"ticket_type", "from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_ticket_concurrency_conflicts_total",
			Help: "Optimistic concurrency conflicts by operation.",
		}, []string{"operation"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_events_published_total",
			Help: "Event deliveries by type and result.",
		}, []string{"type", "result"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_events_dropped_total",
			Help: "Events dropped before delivery.",
		}, []string{"type"}),
		slaCrossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_sla_crossings_total",
			Help: "Recorded SLA threshold crossings.",
		}, []string{"crossing"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itsm_sla_sweep_runs_total",
			Help: "SLA sweep executions by result.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "itsm_sla_sweep_duration_seconds",
			Help:    "SLA sweep duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.requestCount, m.requestDuration, m.errorCount,
		m.transitions, m.conflicts, m.eventsPublished, m.eventsDropped,
		m.slaCrossings, m.sweepRuns, m.sweepDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordTransition counts an applied status change.
func (m *Metrics) RecordTransition(ticketType, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(ticketType, from, to).Inc()
}

// RecordConflict counts a lost optimistic-concurrency race.
func (m *Metrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

// RecordEventPublished counts a delivery attempt.
func (m *Metrics) RecordEventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, result).Inc()
}

// RecordEventDropped counts an event that never reached the sink.
func (m *Metrics) RecordEventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

// RecordSLACrossing counts a persisted threshold crossing.
func (m *Metrics) RecordSLACrossing(crossing string) {
	if m == nil {
		return
	}
	m.slaCrossings.WithLabelValues(crossing).Inc()
}

// RecordSweep counts a sweep run.
func (m *Metrics) RecordSweep(err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}
