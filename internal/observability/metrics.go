package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for bundle analyses.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	analysesTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	stepDuration     *prometheus.HistogramVec
	bundleRetries    prometheus.Counter
	bundleBytes      *prometheus.HistogramVec

	cacheLookupsTotal *prometheus.CounterVec
	cacheErrorsTotal  *prometheus.CounterVec
	cacheEvictions    prometheus.Counter
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		analysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlecheck_analyses_total",
				Help: "Total number of bundle size analyses",
			},
			[]string{"platform", "outcome"},
		),
		analysisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundlecheck_analysis_duration_seconds",
				Help:    "End-to-end duration of a bundle size analysis",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"platform"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundlecheck_step_duration_seconds",
				Help:    "Duration of individual analysis steps",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"step"},
		),
		bundleRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bundlecheck_bundle_retries_total",
				Help: "Bundles retried after auto-adding an unresolved external",
			},
		),
		bundleBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundlecheck_bundle_size_bytes",
				Help:    "Measured bundle sizes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 9),
			},
			[]string{"kind"},
		),

		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlecheck_cache_lookups_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"result"},
		),
		cacheErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlecheck_cache_errors_total",
				Help: "Result cache storage faults by operation",
			},
			[]string{"operation"},
		),
		cacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bundlecheck_cache_evictions_total",
				Help: "Entries evicted from the result cache",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordAnalysis records the outcome of one analysis
func (m *Metrics) RecordAnalysis(platform string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if platform == "" {
		platform = "unknown"
	}
	m.analysesTotal.WithLabelValues(platform, outcome(err)).Inc()
	m.analysisDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordStep records the duration of a pipeline step
func (m *Metrics) RecordStep(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordRetry counts a bundle retry
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.bundleRetries.Inc()
}

// RecordSizes records raw and (when measured) gzip sizes
func (m *Metrics) RecordSizes(raw int64, gzip *int64) {
	if m == nil {
		return
	}
	m.bundleBytes.WithLabelValues("raw").Observe(float64(raw))
	if gzip != nil {
		m.bundleBytes.WithLabelValues("gzip").Observe(float64(*gzip))
	}
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheError records a swallowed cache storage fault
func (m *Metrics) RecordCacheError(operation string) {
	if m == nil {
		return
	}
	m.cacheErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordEvictions counts evicted cache entries
func (m *Metrics) RecordEvictions(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

// WriteTextfile writes all metrics in the Prometheus text format, e.g. for
// the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
