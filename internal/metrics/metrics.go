// Package metrics holds the Prometheus collectors for the HubSpot MCP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "hubspot_mcp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	// Tool execution metrics
	ToolExecutionDuration *prometheus.HistogramVec
	ToolExecutionTotal    *prometheus.CounterVec
	ToolExecutionErrors   *prometheus.CounterVec

	// CRM client metrics
	CRMRequestsTotal   *prometheus.CounterVec
	CRMRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheOperationsTotal *prometheus.CounterVec

	// Embedding metrics
	IndexedEntities       *prometheus.GaugeVec
	EmbeddingBatchesTotal *prometheus.CounterVec

	// SSE session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Message metrics
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec

	// Rate limiting
	RateLimitRejections prometheus.Counter
}

// New creates a Metrics instance registered on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered on the given
// registerer. Tests pass a fresh registry to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Buckets: 10ms .. 30s, sized for calls that may traverse the CRM
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_execution_duration_seconds",
				Help:      "Duration of tool execution in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_execution_total",
				Help:      "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_execution_errors_total",
				Help:      "Total number of tool execution errors",
			},
			[]string{"tool_name", "error_kind"},
		),
		CRMRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crm_requests_total",
				Help:      "Total number of HubSpot API requests",
			},
			[]string{"endpoint", "status"},
		),
		CRMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "crm_request_duration_seconds",
				Help:      "Duration of HubSpot API requests in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		CacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Total number of cache operations",
			},
			[]string{"operation", "result"},
		),
		IndexedEntities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "indexed_entities",
				Help:      "Number of entities currently indexed per kind",
			},
			[]string{"kind"},
		),
		EmbeddingBatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_batches_total",
				Help:      "Total number of embedding batches sent to the provider",
			},
			[]string{"status"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of open SSE sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of SSE sessions created",
			},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Duration of SSE sessions in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of JSON-RPC messages received",
			},
			[]string{"method"},
		),
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of JSON-RPC messages sent",
			},
			[]string{"type"},
		),
		RateLimitRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
		),
	}
}

// RecordToolExecution records a tool execution with duration and status.
func (m *Metrics) RecordToolExecution(toolName string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ToolExecutionDuration.WithLabelValues(toolName, status).Observe(duration.Seconds())
	m.ToolExecutionTotal.WithLabelValues(toolName, status).Inc()
}

// RecordToolExecutionError records a tool execution error with its kind.
func (m *Metrics) RecordToolExecutionError(toolName, errorKind string) {
	if m == nil {
		return
	}
	m.ToolExecutionErrors.WithLabelValues(toolName, errorKind).Inc()
}

// RecordCRMRequest records one HubSpot API round trip.
func (m *Metrics) RecordCRMRequest(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CRMRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.CRMRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache operation outcome.
func (m *Metrics) RecordCacheOperation(operation, result string) {
	if m == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// SetIndexedEntities publishes the per-kind index size.
func (m *Metrics) SetIndexedEntities(kind string, count int) {
	if m == nil {
		return
	}
	m.IndexedEntities.WithLabelValues(kind).Set(float64(count))
}

// RecordEmbeddingBatch records one embedding provider batch.
func (m *Metrics) RecordEmbeddingBatch(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EmbeddingBatchesTotal.WithLabelValues(status).Inc()
}

// RecordSessionStart records a new SSE session.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnd records an SSE session ending with its lifetime.
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordMessageReceived records an inbound JSON-RPC message by method.
func (m *Metrics) RecordMessageReceived(method string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(method).Inc()
}

// RecordMessageSent records an outbound JSON-RPC message by type.
func (m *Metrics) RecordMessageSent(messageType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(messageType).Inc()
}

// RecordRateLimitRejection counts a rejected request.
func (m *Metrics) RecordRateLimitRejection() {
	if m == nil {
		return
	}
	m.RateLimitRejections.Inc()
}

// StartToolExecutionTimer returns a function that records the execution
// duration when called.
// Usage: defer m.StartToolExecutionTimer(toolName)(err)
func (m *Metrics) StartToolExecutionTimer(toolName string) func(error) {
	start := time.Now()
	return func(err error) {
		m.RecordToolExecution(toolName, time.Since(start), err)
	}
}
