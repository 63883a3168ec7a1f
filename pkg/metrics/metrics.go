// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMCallDuration tracks model call latency per pipeline stage.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "LLM call duration per pipeline stage",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "stage", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "stage", "direction"},
	)

	// RouteDecisions counts intent router outcomes.
	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_route_decisions_total",
			Help: "Intent router decisions",
		},
		[]string{"route", "ambiguous"},
	)

	// QueryAttempts tracks how many tries an analytical request needed.
	QueryAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_query_attempts",
			Help:    "Synthesis/execution attempts per analytical request",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"state"},
	)

	// QueryExecutionDuration tracks analytic store latency.
	QueryExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_query_execution_seconds",
			Help:    "Analytic store execution duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 15},
		},
		[]string{"outcome"},
	)

	// QuotaDecisions counts quota gate outcomes.
	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_quota_decisions_total",
			Help: "Quota gate decisions",
		},
		[]string{"plan", "decision"},
	)

	// ChatOutcomes counts completed chat requests by error kind.
	ChatOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_chat_outcomes_total",
			Help: "Completed chat requests by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	// ExchangesRecorded counts exchanges published to the recorder stream.
	ExchangesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_exchanges_recorded_total",
			Help: "Exchanges published to the recorder stream",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMCall records metrics for one model call.
func RecordLLMCall(provider, stage, status string, duration float64, tokensIn, tokensOut int) {
	LLMCallDuration.WithLabelValues(provider, stage, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, stage, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, stage, "out").Add(float64(tokensOut))
}

// RecordQueryAttempts records the terminal state of a repair loop.
func RecordQueryAttempts(state string, attempts int) {
	QueryAttempts.WithLabelValues(state).Observe(float64(attempts))
}

// RecordExecution records one analytic store execution.
func RecordExecution(outcome string, duration float64) {
	QueryExecutionDuration.WithLabelValues(outcome).Observe(duration)
}
