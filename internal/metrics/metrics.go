// Package metrics defines Prometheus metrics for the gateway.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clawbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawbridge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawbridge_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawbridge_dispatch_decisions_total",
			Help: "Service call outcomes by audit result",
		},
		[]string{"result"},
	)

	BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clawbridge_backend_request_duration_seconds",
			Help:    "Backend REST request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BackendConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawbridge_backend_push_connected",
			Help: "1 while the backend push connection is authenticated",
		},
	)

	BackendReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbridge_backend_reconnects_total",
			Help: "Backend push connection losses",
		},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawbridge_events_dropped_total",
			Help: "Bus events dropped because a subscriber queue was full",
		},
		[]string{"bus"},
	)

	PendingActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawbridge_pending_actions",
			Help: "Confirmation-gated actions currently tracked",
		},
	)

	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clawbridge_audit_write_failures_total",
			Help: "Audit entries that could not be persisted",
		},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawbridge_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		Decisions, BackendCallDuration, BackendConnected, BackendReconnects,
		EventsDropped, PendingActions, AuditWriteFailures, WSConnections,
	)
}
