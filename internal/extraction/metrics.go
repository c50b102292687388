package extraction

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for extraction.
type Metrics struct {
	// Coordinator
	ExtractionsTotal   *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	FallbacksTotal     prometheus.Counter
	FieldSourceTotal   *prometheus.CounterVec

	// LLM calls
	LLMRequestsTotal *prometheus.CounterVec
	LLMDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers extraction metrics once per process.
//
// Metrics:
//   - clinicd_extractions_total{method} - records produced, by regex or llm
//   - clinicd_extraction_duration_seconds{method} - end-to-end coordinator time
//   - clinicd_extraction_fallbacks_total - LLM failures answered by regex
//   - clinicd_extraction_field_source_total{field,source} - which path filled each field group
//   - clinicd_llm_requests_total{provider,outcome} - ok, malformed, throttled or error
//   - clinicd_llm_request_duration_seconds{provider} - LLM call time including retries
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ExtractionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clinicd_extractions_total",
					Help: "Total number of records extracted",
				},
				[]string{"method"},
			),

			ExtractionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "clinicd_extraction_duration_seconds",
					Help:    "Duration of record extraction in seconds",
					Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
				},
				[]string{"method"},
			),

			FallbacksTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clinicd_extraction_fallbacks_total",
					Help: "Total number of LLM extractions that fell back to regex",
				},
			),

			FieldSourceTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clinicd_extraction_field_source_total",
					Help: "Field groups filled per source after merging",
				},
				[]string{"field", "source"},
			),

			LLMRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clinicd_llm_requests_total",
					Help: "Total number of LLM extraction calls by outcome",
				},
				[]string{"provider", "outcome"},
			),

			LLMDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "clinicd_llm_request_duration_seconds",
					Help:    "Duration of LLM extraction calls in seconds, retries included",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
				},
				[]string{"provider"},
			),
		}
	})
	return globalMetrics
}
