// Package observability provides event reporting and metrics for the
// query pipeline.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metric names for the query pipeline.
const (
	MetricQueriesTotal    = "vox2txt_queries_total"
	MetricQueryDuration   = "vox2txt_query_duration_seconds"
	MetricQueriesInFlight = "vox2txt_queries_in_flight"
	MetricSubQueriesTotal = "vox2txt_subqueries_total"
	MetricSubQueryFailed  = "vox2txt_subqueries_failed_total"
	MetricRetriesTotal    = "vox2txt_subquery_retries_total"
	MetricTokensEstimated = "vox2txt_tokens_estimated_total"
	MetricConflictsTotal  = "vox2txt_conflicts_total"
	MetricFallbacksTotal  = "vox2txt_fallbacks_total"
	MetricCacheHits       = "vox2txt_cache_hits_total"
	MetricCacheMisses     = "vox2txt_cache_misses_total"
	MetricErrorsTotal     = "vox2txt_errors_total"
)

// Labels for metrics.
type Labels map[string]string

// Counter is a monotonically increasing metric.
type Counter struct {
	value  int64
	labels Labels
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v int64) {
	atomic.AddInt64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value  int64
	labels Labels
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Histogram tracks the distribution of values.
type Histogram struct {
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
	labels  Labels
	mu      sync.Mutex
}

// DefaultBuckets are standard latency buckets in seconds.
var DefaultBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewHistogram creates a histogram with the given buckets.
func NewHistogram(buckets []float64, labels Labels) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return &Histogram{
		buckets: buckets,
		counts:  make([]int64, len(buckets)+1), // +1 for infinity bucket
		labels:  labels,
	}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			return
		}
	}
	// Infinity bucket
	h.counts[len(h.buckets)]++
}

// ObserveDuration records a duration since start.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Snapshot returns a snapshot of the histogram.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make([]int64, len(h.counts))
	copy(counts, h.counts)

	return HistogramSnapshot{
		Buckets: h.buckets,
		Counts:  counts,
		Sum:     h.sum,
		Count:   h.count,
	}
}

// HistogramSnapshot is a point-in-time snapshot of a histogram.
type HistogramSnapshot struct {
	Buckets []float64
	Counts  []int64
	Sum     float64
	Count   int64
}

// Mean returns the mean value.
func (s HistogramSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Percentile estimates the value at the given percentile (0-100).
func (s HistogramSnapshot) Percentile(p float64) float64 {
	if s.Count == 0 {
		return 0
	}

	threshold := int64(float64(s.Count) * p / 100)
	var cumulative int64

	for i, count := range s.Counts {
		cumulative += count
		if cumulative >= threshold {
			if i < len(s.Buckets) {
				return s.Buckets[i]
			}
			if len(s.Buckets) > 0 {
				return s.Buckets[len(s.Buckets)-1]
			}
		}
	}

	return 0
}

// Registry holds all metrics for a component.
type Registry struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	mu         sync.RWMutex
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns or creates a counter with the given name and labels.
func (r *Registry) Counter(name string, labels Labels) *Counter {
	key := metricKey(name, labels)

	r.mu.RLock()
	if c, ok := r.counters[key]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[key]; ok {
		return c
	}

	c := &Counter{labels: labels}
	r.counters[key] = c
	return c
}

// Gauge returns or creates a gauge with the given name and labels.
func (r *Registry) Gauge(name string, labels Labels) *Gauge {
	key := metricKey(name, labels)

	r.mu.RLock()
	if g, ok := r.gauges[key]; ok {
		r.mu.RUnlock()
		return g
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[key]; ok {
		return g
	}

	g := &Gauge{labels: labels}
	r.gauges[key] = g
	return g
}

// Histogram returns or creates a histogram with the given name and labels.
func (r *Registry) Histogram(name string, labels Labels, buckets []float64) *Histogram {
	key := metricKey(name, labels)

	r.mu.RLock()
	if h, ok := r.histograms[key]; ok {
		r.mu.RUnlock()
		return h
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[key]; ok {
		return h
	}

	h := NewHistogram(buckets, labels)
	r.histograms[key] = h
	return h
}

// Snapshot returns a snapshot of all metrics.
func (r *Registry) Snapshot() MetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]int64, len(r.counters)),
		Gauges:     make(map[string]int64, len(r.gauges)),
		Histograms: make(map[string]HistogramSnapshot, len(r.histograms)),
	}

	for k, c := range r.counters {
		snap.Counters[k] = c.Value()
	}
	for k, g := range r.gauges {
		snap.Gauges[k] = g.Value()
	}
	for k, h := range r.histograms {
		snap.Histograms[k] = h.Snapshot()
	}

	return snap
}

// MetricsSnapshot is a point-in-time snapshot of all metrics.
type MetricsSnapshot struct {
	Counters   map[string]int64
	Gauges     map[string]int64
	Histograms map[string]HistogramSnapshot
}

func metricKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	key := name
	for k, v := range labels {
		key += "," + k + "=" + v
	}
	return key
}

// PipelineMetrics provides convenient access to query pipeline metrics.
type PipelineMetrics struct {
	registry *Registry

	// Pre-allocated metrics for hot paths
	queriesTotal    *Counter
	queryDuration   *Histogram
	queriesInFlight *Gauge
	subQueriesTotal *Counter
	subQueriesFail  *Counter
	retriesTotal    *Counter
	tokensEstimated *Counter
	conflictsTotal  *Counter
	fallbacksTotal  *Counter
	cacheHits       *Counter
	cacheMisses     *Counter
	errorsTotal     *Counter
}

// NewPipelineMetrics creates pipeline metrics using the given registry.
// A nil registry gets a fresh one.
func NewPipelineMetrics(registry *Registry) *PipelineMetrics {
	if registry == nil {
		registry = NewRegistry()
	}

	m := &PipelineMetrics{registry: registry}

	m.queriesTotal = registry.Counter(MetricQueriesTotal, nil)
	m.queryDuration = registry.Histogram(MetricQueryDuration, nil, DefaultBuckets)
	m.queriesInFlight = registry.Gauge(MetricQueriesInFlight, nil)
	m.subQueriesTotal = registry.Counter(MetricSubQueriesTotal, nil)
	m.subQueriesFail = registry.Counter(MetricSubQueryFailed, nil)
	m.retriesTotal = registry.Counter(MetricRetriesTotal, nil)
	m.tokensEstimated = registry.Counter(MetricTokensEstimated, nil)
	m.conflictsTotal = registry.Counter(MetricConflictsTotal, nil)
	m.fallbacksTotal = registry.Counter(MetricFallbacksTotal, nil)
	m.cacheHits = registry.Counter(MetricCacheHits, nil)
	m.cacheMisses = registry.Counter(MetricCacheMisses, nil)
	m.errorsTotal = registry.Counter(MetricErrorsTotal, nil)

	return m
}

// QueryStarted marks a query in flight.
func (m *PipelineMetrics) QueryStarted() {
	m.queriesInFlight.Inc()
}

// RecordQuery records a completed query with its strategy and duration.
func (m *PipelineMetrics) RecordQuery(strategy string, duration time.Duration) {
	m.queriesInFlight.Dec()
	m.queriesTotal.Inc()
	m.queryDuration.Observe(duration.Seconds())
	if strategy != "" {
		m.registry.Counter(MetricQueriesTotal, Labels{"strategy": strategy}).Inc()
	}
}

// RecordSubQueries records settled sub-queries for one plan.
func (m *PipelineMetrics) RecordSubQueries(completed, failed int) {
	m.subQueriesTotal.Add(int64(completed))
	m.subQueriesFail.Add(int64(failed))
}

// RecordRetry records one retried attempt.
func (m *PipelineMetrics) RecordRetry() {
	m.retriesTotal.Inc()
}

// RecordTokens records estimated token usage.
func (m *PipelineMetrics) RecordTokens(n int64) {
	m.tokensEstimated.Add(n)
}

// RecordConflicts records detected conflicts.
func (m *PipelineMetrics) RecordConflicts(n int) {
	m.conflictsTotal.Add(int64(n))
}

// RecordFallback records a synthesis fallback.
func (m *PipelineMetrics) RecordFallback() {
	m.fallbacksTotal.Inc()
}

// RecordCacheHit records a response cache hit.
func (m *PipelineMetrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// RecordCacheMiss records a response cache miss.
func (m *PipelineMetrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}

// RecordError records a pipeline error.
func (m *PipelineMetrics) RecordError() {
	m.errorsTotal.Inc()
}

// QueriesTotal returns the lifetime query count.
func (m *PipelineMetrics) QueriesTotal() int64 {
	return m.queriesTotal.Value()
}

// SubQueriesTotal returns the lifetime settled sub-query count.
func (m *PipelineMetrics) SubQueriesTotal() int64 {
	return m.subQueriesTotal.Value()
}

// SubQueriesFailed returns the lifetime failed sub-query count.
func (m *PipelineMetrics) SubQueriesFailed() int64 {
	return m.subQueriesFail.Value()
}

// RetriesTotal returns the lifetime retry count.
func (m *PipelineMetrics) RetriesTotal() int64 {
	return m.retriesTotal.Value()
}

// TokensEstimated returns the lifetime estimated token count.
func (m *PipelineMetrics) TokensEstimated() int64 {
	return m.tokensEstimated.Value()
}

// ConflictsTotal returns the lifetime detected conflict count.
func (m *PipelineMetrics) ConflictsTotal() int64 {
	return m.conflictsTotal.Value()
}

// FallbacksTotal returns the lifetime fallback count.
func (m *PipelineMetrics) FallbacksTotal() int64 {
	return m.fallbacksTotal.Value()
}

// ErrorsTotal returns the lifetime error count.
func (m *PipelineMetrics) ErrorsTotal() int64 {
	return m.errorsTotal.Value()
}

// MeanQueryDuration returns the mean end-to-end query latency.
func (m *PipelineMetrics) MeanQueryDuration() time.Duration {
	mean := m.queryDuration.Snapshot().Mean()
	return time.Duration(mean * float64(time.Second))
}

// CacheHitRate returns the response cache hit rate (0-1).
func (m *PipelineMetrics) CacheHitRate() float64 {
	hits := m.cacheHits.Value()
	misses := m.cacheMisses.Value()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Snapshot returns a snapshot of all pipeline metrics.
func (m *PipelineMetrics) Snapshot() MetricsSnapshot {
	return m.registry.Snapshot()
}
