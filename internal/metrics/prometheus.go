package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gutlog_classifications_total",
			Help: "Logged classifications by label",
		},
		[]string{"label"},
	)

	ClassifyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gutlog_classify_requests_total",
			Help: "Classification requests by outcome",
		},
		[]string{"outcome"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gutlog_confidence_score",
			Help:    "Confidence of the winning label",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gutlog_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"stage"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gutlog_cache_hits_total",
			Help: "Total read-view cache hits",
		},
		[]string{"view"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gutlog_cache_misses_total",
			Help: "Total read-view cache misses",
		},
		[]string{"view"},
	)
)

const (
	OutcomeLogged      = "logged"
	OutcomeDecodeError = "decode_error"
	OutcomeStoreError  = "store_error"
	OutcomeModelError  = "model_error"

	StageNormalize = "normalize"
	StageInference = "inference"
	StageInsert    = "insert"
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ClassificationsTotal,
			ClassifyOutcomes,
			ConfidenceScore,
			StageDuration,
			CacheHits,
			CacheMisses,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
