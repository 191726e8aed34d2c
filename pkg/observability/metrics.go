package observability

import (
	"sort"
	"sync"
	"time"
)

// Metrics records counters, gauges and timings.
type Metrics interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags ...Tag)

	// Gauge sets a gauge metric to the given value.
	Gauge(name string, value float64, tags ...Tag)

	// Timing records a duration.
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag is a key-value pair for metric labeling.
type Tag struct {
	Key   string
	Value string
}

// T creates a new Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(name string, value int64, tags ...Tag)            {}
func (NoopMetrics) Gauge(name string, value float64, tags ...Tag)            {}
func (NoopMetrics) Timing(name string, duration time.Duration, tags ...Tag) {}

// InMemoryMetrics keeps metrics in process. The CLI prints them at the end of
// a verbose run; tests read them back.
type InMemoryMetrics struct {
	mu        sync.RWMutex
	counters  map[string]int64
	gauges    map[string]float64
	gaugeHigh map[string]float64
	timings   map[string][]time.Duration
}

// NewInMemoryMetrics creates a new in-memory metrics collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:  make(map[string]int64),
		gauges:    make(map[string]float64),
		gaugeHigh: make(map[string]float64),
		timings:   make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[formatKey(name, tags)] += value
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.gauges[key] = value
	if value > m.gaugeHigh[key] {
		m.gaugeHigh[key] = value
	}
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.timings[key] = append(m.timings[key], duration)
}

// GetCounter returns the current value of a counter.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[formatKey(name, tags)]
}

// GetGauge returns the last value of a gauge.
func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[formatKey(name, tags)]
}

// GetGaugeHigh returns the highest value a gauge has been set to.
func (m *InMemoryMetrics) GetGaugeHigh(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gaugeHigh[formatKey(name, tags)]
}

// GetTimings returns all recorded timings.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Duration(nil), m.timings[formatKey(name, tags)]...)
}

// CounterKeys returns the sorted keys of all counters.
func (m *InMemoryMetrics) CounterKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.counters))
	for k := range m.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CounterByKey returns a counter by its formatted key.
func (m *InMemoryMetrics) CounterByKey(key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[key]
}

// Reset clears all recorded metrics.
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]int64)
	m.gauges = make(map[string]float64)
	m.gaugeHigh = make(map[string]float64)
	m.timings = make(map[string][]time.Duration)
}

func formatKey(name string, tags []Tag) string {
	key := name
	for _, t := range tags {
		key += ":" + t.Key + "=" + t.Value
	}
	return key
}

// Metric names recorded by the dispatcher and the single-request helper.
const (
	MetricOperationTotal    = "bulkreg.operation.total"
	MetricOperationDuration = "bulkreg.operation.duration"
	MetricOperationErrors   = "bulkreg.operation.errors"

	MetricDispatchRequests        = "bulkreg.dispatch.requests"
	MetricDispatchInFlight        = "bulkreg.dispatch.inflight"
	MetricDispatchRequestDuration = "bulkreg.dispatch.request_duration"
	MetricDispatchRuns            = "bulkreg.dispatch.runs"

	MetricRequesterAttempts    = "bulkreg.requester.attempts"
	MetricRequesterCircuitOpen = "bulkreg.requester.circuit_open"
)
