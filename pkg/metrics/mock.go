package metrics

import (
	"sort"
	"strings"
	"sync"
)

// MockRecorder captures metrics in memory for assertion.
type MockRecorder struct {
	mu       sync.Mutex
	counters map[string]float64
	timings  map[string][]float64
	gauges   map[string]float64
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		counters: make(map[string]float64),
		timings:  make(map[string][]float64),
		gauges:   make(map[string]float64),
	}
}

func (m *MockRecorder) Add(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
	if len(tags) > 0 {
		m.counters[seriesKey(name, tags)] += value
	}
}

func (m *MockRecorder) Observe(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[name] = append(m.timings[name], value)
	if len(tags) > 0 {
		key := seriesKey(name, tags)
		m.timings[key] = append(m.timings[key], value)
	}
}

func (m *MockRecorder) Set(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[seriesKey(name, tags)] = value
}

// Counter returns the total for name, or for the single series matching tags
// when tags are given.
func (m *MockRecorder) Counter(name string, tags map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(tags) == 0 {
		return m.counters[name]
	}
	return m.counters[seriesKey(name, tags)]
}

// Timings returns a copy of the samples observed for name (and tags, if any).
func (m *MockRecorder) Timings(name string, tags map[string]string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name
	if len(tags) > 0 {
		key = seriesKey(name, tags)
	}
	return append([]float64(nil), m.timings[key]...)
}

// Gauge returns the last value set for the series.
func (m *MockRecorder) Gauge(name string, tags map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[seriesKey(name, tags)]
}

func seriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}
