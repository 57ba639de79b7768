package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Transaction Submission Metrics
	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec

	// Portfolio Aggregation Metrics
	aggregationPassesTotal   *prometheus.CounterVec
	aggregationPassDuration  *prometheus.HistogramVec
	aggregationStaleDiscards prometheus.Counter
	portfolioHoldings        prometheus.Gauge
	portfolioNativeBalance   prometheus.Gauge

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Transaction Submission Metrics
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_submissions_total",
				Help: "Total number of transaction submissions by outcome",
			},
			[]string{"outcome"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_submission_duration_seconds",
				Help:    "Duration of the blockhash-to-signature submission pipeline in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		// Portfolio Aggregation Metrics
		aggregationPassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_aggregation_passes_total",
				Help: "Total number of portfolio aggregation passes by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		aggregationPassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_aggregation_pass_duration_seconds",
				Help:    "Duration of portfolio aggregation passes in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"trigger"},
		),
		aggregationStaleDiscards: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "portfolio_aggregation_stale_discards_total",
				Help: "Total number of aggregation results discarded because a newer pass superseded them",
			},
		),
		portfolioHoldings: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "portfolio_holdings",
				Help: "Number of distinct token holdings in the current snapshot",
			},
		),
		portfolioNativeBalance: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "portfolio_native_balance",
				Help: "Native asset balance of the current snapshot in human-scaled units",
			},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"event_type", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"event_type"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Submission metric helpers

// RecordSubmission records the outcome of one submit pipeline run.
// Outcome is "success" or the failing stage (e.g. "blockhash", "signer", "send").
func (m *Metrics) RecordSubmission(outcome string, duration float64) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
	m.submissionDuration.WithLabelValues(outcome).Observe(duration)
}

// Aggregation metric helpers

// RecordAggregationPass records a completed aggregation pass.
func (m *Metrics) RecordAggregationPass(trigger, outcome string, duration float64) {
	m.aggregationPassesTotal.WithLabelValues(trigger, outcome).Inc()
	m.aggregationPassDuration.WithLabelValues(trigger).Observe(duration)
}

// RecordStaleDiscard records a pass whose result was dropped by the generation check.
func (m *Metrics) RecordStaleDiscard() {
	m.aggregationStaleDiscards.Inc()
}

// RecordSnapshot records gauges describing the applied snapshot.
func (m *Metrics) RecordSnapshot(holdings int, nativeBalance float64) {
	m.portfolioHoldings.Set(float64(holdings))
	m.portfolioNativeBalance.Set(nativeBalance)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(eventType, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(eventType, status).Inc()
	m.natsPublishDuration.WithLabelValues(eventType).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
