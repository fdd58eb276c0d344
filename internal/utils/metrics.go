// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names shared by the pipeline and the API.
const (
	MetricMoviesScreened  = "movies_screened_total"
	MetricMoviesExcluded  = "movies_excluded_total"
	MetricLookupsTotal    = "gender_lookups_total"
	MetricLookupsFailed   = "gender_lookups_failed_total"
	MetricLookupsCached   = "gender_lookups_cached_total"
	MetricBackoffClassify = "gender_backoff_classifications_total"
	MetricRunsActive      = "runs_active"
	MetricStageDuration   = "stage_duration_ms"
	MetricAPIRequests     = "api_requests_total"
	MetricAPIResponseTime = "api_response_time_ms"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector returns an empty collector; tests use their own.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// cell returns the atomic slot for name in set, creating it on first use.
// Existing slots are found under the read lock; creation double-checks
// under the write lock.
func (m *MetricsCollector) cell(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	value, exists := set[name]
	m.mu.RUnlock()
	if exists {
		return value
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if value, exists = set[name]; !exists {
		value = new(int64)
		set[name] = value
	}
	return value
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.cell(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.cell(m.counters, name), value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.cell(m.gauges, name), value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.cell(m.gauges, name), 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.cell(m.gauges, name), -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	return atomic.LoadInt64(m.cell(m.gauges, name))
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	return atomic.LoadInt64(m.cell(m.counters, name))
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[name]; !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, value := range m.counters {
		counters[name] = atomic.LoadInt64(value)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, value := range m.gauges {
		gauges[name] = atomic.LoadInt64(value)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// PipelineMetrics records pipeline and API events against a collector.
type PipelineMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewPipelineMetrics binds to the global collector and logger.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// NewPipelineMetricsWith binds to an explicit collector.
func NewPipelineMetricsWith(metrics *MetricsCollector, logger *Logger) *PipelineMetrics {
	return &PipelineMetrics{metrics: metrics, logger: logger}
}

// Collector exposes the underlying collector.
func (pm *PipelineMetrics) Collector() *MetricsCollector {
	return pm.metrics
}

// RecordScreened counts a movie that went through tagging and validation.
func (pm *PipelineMetrics) RecordScreened() {
	pm.metrics.IncrementCounter(MetricMoviesScreened)
}

// RecordExclusion counts a movie dropped from a run, by reason code.
func (pm *PipelineMetrics) RecordExclusion(movieID, reason string) {
	pm.metrics.IncrementCounter(MetricMoviesExcluded)
	pm.metrics.IncrementCounter("movies_excluded_" + reason)

	pm.logger.Info("movie excluded", map[string]interface{}{
		"movie":  movieID,
		"reason": reason,
	})
}

// RecordLookup counts one performer lookup attempt.
func (pm *PipelineMetrics) RecordLookup(failed, cached bool) {
	pm.metrics.IncrementCounter(MetricLookupsTotal)
	if failed {
		pm.metrics.IncrementCounter(MetricLookupsFailed)
	}
	if cached {
		pm.metrics.IncrementCounter(MetricLookupsCached)
	}
}

// RecordBackoff counts a label produced by the name model.
func (pm *PipelineMetrics) RecordBackoff() {
	pm.metrics.IncrementCounter(MetricBackoffClassify)
}

// RecordStage records how long one stage took for one movie.
func (pm *PipelineMetrics) RecordStage(test int, duration time.Duration) {
	pm.metrics.RecordHistogram(MetricStageDuration, duration.Milliseconds())
	pm.metrics.RecordHistogram(MetricStageDuration+"_t"+strconv.Itoa(test), duration.Milliseconds())
}

// RecordAPIRequest records metrics for an API request
func (pm *PipelineMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	pm.metrics.IncrementCounter(MetricAPIRequests)
	pm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	pm.metrics.RecordHistogram(MetricAPIResponseTime, duration.Milliseconds())

	pm.logger.Debug("API request completed", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}
