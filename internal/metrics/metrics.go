package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_workflows_started_total",
			Help: "Total number of research workflows started",
		},
		[]string{"path"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_workflows_completed_total",
			Help: "Total number of research workflows completed",
		},
		[]string{"path", "status"},
	)

	RouterFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_router_fallbacks_total",
			Help: "Requests whose task kind fell back to research because a companion field was missing",
		},
		[]string{"requested_kind"},
	)

	// Convergence loop metrics
	ReflectionRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "converge_reflection_rounds_total",
			Help: "Total number of reflection rounds evaluated",
		},
	)

	ReflectionVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_reflection_verdicts_total",
			Help: "Reflection verdicts by sufficiency",
		},
		[]string{"sufficient"},
	)

	RoundsPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "converge_rounds_per_request",
			Help:    "Number of reflection rounds a research request ran before finalizing",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// Worker metrics
	TasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_tasks_dispatched_total",
			Help: "Worker tasks executed by kind",
		},
		[]string{"kind"},
	)

	WorkerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_worker_failures_total",
			Help: "Worker collaborator failures converted to inline diagnostics",
		},
		[]string{"kind"},
	)

	WorkerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "converge_worker_duration_seconds",
			Help:    "Worker task duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Citation metrics
	CitationsKept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "converge_citations_kept_total",
			Help: "Sources kept after the final citation filter",
		},
	)

	CitationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "converge_citations_dropped_total",
			Help: "Sources dropped by the final citation filter",
		},
	)

	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_llm_calls_total",
			Help: "Language model calls by operation and status",
		},
		[]string{"operation", "model", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "converge_llm_latency_seconds",
			Help:    "Language model call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "model"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_llm_tokens_total",
			Help: "Tokens reported by the language model",
		},
		[]string{"operation", "model"},
	)

	LLMCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_llm_estimated_cost_usd_total",
			Help: "Estimated language model spend in USD",
		},
		[]string{"operation", "model"},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_pricing_fallbacks_total",
			Help: "Cost estimates that used the default price",
		},
		[]string{"reason"},
	)

	// Collaborator metrics
	AcademicRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_academic_requests_total",
			Help: "Academic search requests by status",
		},
		[]string{"status"},
	)

	DocumentExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_document_extractions_total",
			Help: "Document extraction attempts by extractor and status",
		},
		[]string{"extractor", "status"},
	)

	ProgressEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_progress_events_total",
			Help: "Progress events published by type and status",
		},
		[]string{"type", "status"},
	)

	// Persistence metrics
	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_session_operations_total",
			Help: "Transcript store operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	RunsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_runs_recorded_total",
			Help: "Run history rows written by status",
		},
		[]string{"status"},
	)
)

// RecordWorkerMetrics records one worker execution
func RecordWorkerMetrics(kind string, failed bool, durationSeconds float64) {
	TasksDispatched.WithLabelValues(kind).Inc()
	WorkerDuration.WithLabelValues(kind).Observe(durationSeconds)
	if failed {
		WorkerFailures.WithLabelValues(kind).Inc()
	}
}

// RecordLLMMetrics records one language model call
func RecordLLMMetrics(operation, model, status string, durationSeconds float64, tokens int) {
	LLMCalls.WithLabelValues(operation, model, status).Inc()
	LLMLatency.WithLabelValues(operation, model).Observe(durationSeconds)
	if tokens > 0 {
		LLMTokens.WithLabelValues(operation, model).Add(float64(tokens))
	}
}

// RecordCitationFilter records the outcome of a final citation pass
func RecordCitationFilter(kept, dropped int) {
	CitationsKept.Add(float64(kept))
	CitationsDropped.Add(float64(dropped))
}
