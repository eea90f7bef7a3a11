package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GradingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docgrader_grading_duration_seconds",
			Help:    "End-to-end grading duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"path"},
	)

	GradingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_grading_total",
			Help: "Grading requests by outcome path (primary, fallback, error)",
		},
		[]string{"path"},
	)

	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_analysis_total",
			Help: "Document analysis requests by outcome path",
		},
		[]string{"path"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_llm_requests_total",
			Help: "LLM backend calls by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docgrader_llm_duration_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend", "operation"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	ImageDescriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_image_descriptions_total",
			Help: "Image descriptions by serving tier (primary, secondary, cache, failed)",
		},
		[]string{"tier"},
	)

	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docgrader_extraction_duration_seconds",
			Help:    "Document extraction duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"method"},
	)

	ExtractionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_extraction_errors_total",
			Help: "Extraction failures by method",
		},
		[]string{"method"},
	)

	RubricsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docgrader_rubrics_total",
			Help: "Rubrics currently held by the store",
		},
	)

	RubricStoreResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docgrader_rubric_store_resets_total",
			Help: "Times the rubric file was unreadable at load and the store started empty",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docgrader_circuit_breaker_state",
			Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgrader_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docgrader_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

func Init() {
	prometheus.MustRegister(GradingDuration)
	prometheus.MustRegister(GradingTotal)
	prometheus.MustRegister(AnalysisTotal)
	prometheus.MustRegister(LLMRequests)
	prometheus.MustRegister(LLMDuration)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(ImageDescriptions)
	prometheus.MustRegister(ExtractionDuration)
	prometheus.MustRegister(ExtractionErrors)
	prometheus.MustRegister(RubricsTotal)
	prometheus.MustRegister(RubricStoreResets)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(RateLimited)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
