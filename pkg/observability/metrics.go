// Package observability provides Prometheus metrics, an instrumented HTTP
// transport, and OpenTelemetry tracing for palaver.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// HTTPRequestsTotal counts outbound HTTP requests by host, method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_http_requests_total",
			Help: "Outbound HTTP requests",
		},
		[]string{"host", "method", "status"},
	)

	// HTTPRequestDuration records time to response headers for outbound requests.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palaver_http_request_duration_seconds",
			Help:    "Outbound HTTP time to headers",
			Buckets: LLMBuckets,
		},
		[]string{"host", "method"},
	)

	// ActiveStreams tracks streamed provider responses currently being read.
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "palaver_streams_active",
			Help: "Active streaming responses",
		},
	)

	// ProviderRequestsTotal counts provider calls by final outcome.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderRetriesTotal counts retried attempts by the kind of the failure
	// that triggered them.
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_provider_retries_total",
			Help: "Provider retries",
		},
		[]string{"provider", "reason"},
	)

	// ProviderLatency records end-to-end provider call latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palaver_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts provider-reported tokens by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// RateLimitWaitSeconds records how long requests waited on the limiter.
	RateLimitWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palaver_ratelimit_wait_seconds",
			Help:    "Rate limiter wait time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// ExchangesTotal counts orchestrator exchanges by terminal state.
	ExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_exchanges_total",
			Help: "Orchestrator exchanges",
		},
		[]string{"provider", "state"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveStreams,
		ProviderRequestsTotal,
		ProviderRetriesTotal,
		ProviderLatency,
		ProviderTokensTotal,
		ToolExecutionsTotal,
		RateLimitWaitSeconds,
		ExchangesTotal,
	)
}
