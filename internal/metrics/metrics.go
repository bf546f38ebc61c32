package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famcare_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "famcare_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ChatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famcare_chat_turns_total",
			Help: "Total number of chat turns handled, by adapter and outcome.",
		},
		[]string{"adapter", "mode", "status"},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famcare_tool_calls_total",
			Help: "Total number of tool calls executed, by tool and outcome.",
		},
		[]string{"tool", "status"},
	)

	AdapterRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "famcare_adapter_request_duration_seconds",
			Help:    "Model adapter call duration in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"adapter"},
	)

	AdapterTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famcare_adapter_tokens_total",
			Help: "Total tokens reported by model adapters.",
		},
		[]string{"adapter", "kind"},
	)

	MemoryContextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "famcare_memory_context_tokens",
			Help:    "Estimated token size of assembled memory contexts.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ChatTurnsTotal,
		ToolCallsTotal,
		AdapterRequestDuration,
		AdapterTokensTotal,
		MemoryContextTokens,
	)
}
