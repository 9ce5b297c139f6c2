package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solaudit_parsing_seconds",
		Help:    "Time spent parsing a source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"framework"})

	FilesParsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solaudit_files_parsed_total",
		Help: "Total number of source files parsed.",
	})

	FilesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solaudit_files_skipped_total",
		Help: "Total number of files skipped during discovery.",
	}, []string{"reason"})

	SinksDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solaudit_sinks_detected",
		Help: "Number of dangerous-operation sites detected in the last parse.",
	})

	CandidatesGenerated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solaudit_candidates_generated",
		Help: "Number of vulnerability candidates produced by the last run.",
	})

	CandidatesSelected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solaudit_candidates_selected",
		Help: "Number of candidates selected for deep confirmation in the last run.",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solaudit_stage_seconds",
		Help:    "Time spent in each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
	}, []string{"stage"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solaudit_llm_requests_total",
		Help: "Total number of confirmation service requests by outcome.",
	}, []string{"outcome"})

	LLMRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solaudit_llm_retries_total",
		Help: "Total number of confirmation service request retries.",
	})

	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "solaudit_llm_request_seconds",
		Help:    "Latency of confirmation service requests.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	LLMCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solaudit_llm_cache_hits_total",
		Help: "Total number of confirmation responses served from the local cache.",
	})

	FindingsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solaudit_findings",
		Help: "Findings from the last run by status.",
	}, []string{"status"})

	PatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solaudit_patch_attempts_total",
		Help: "Total number of patch attempts by terminal status.",
	}, []string{"status"})

	PatchValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "solaudit_patch_validation_seconds",
		Help:    "Latency of the patch validation gates (apply, build, test).",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
