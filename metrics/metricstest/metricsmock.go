package metricstest

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zalando/variantedge/metrics"
)

// MockMetrics records the measurements in memory, keyed the same way as
// the Prometheus series names, without the namespace.
type MockMetrics struct {
	mu sync.Mutex

	counters map[string]int64
	measures map[string][]time.Duration
	Now      time.Time
}

var _ metrics.Metrics = &MockMetrics{}

//
// Public thread safe access to metrics
//

func (m *MockMetrics) WithCounters(f func(counters map[string]int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	f(m.counters)
}

func (m *MockMetrics) WithMeasures(f func(measures map[string][]time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.measures == nil {
		m.measures = make(map[string][]time.Duration)
	}
	f(m.measures)
}

// Counter returns the current value of a counter, zero when not set.
func (m *MockMetrics) Counter(key string) (v int64) {
	m.WithCounters(func(c map[string]int64) { v = c[key] })
	return
}

// Measures returns the number of observations recorded under a key.
func (m *MockMetrics) Measures(key string) (n int) {
	m.WithMeasures(func(ms map[string][]time.Duration) { n = len(ms[key]) })
	return
}

//
// Interface implementation
//

func (m *MockMetrics) inc(key string) {
	m.WithCounters(func(c map[string]int64) { c[key]++ })
}

func (m *MockMetrics) measureSince(key string, start time.Time) {
	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}

	m.WithMeasures(func(ms map[string][]time.Duration) {
		ms[key] = append(ms[key], now.Sub(start))
	})
}

func (m *MockMetrics) IncVariantAssignment(variant int, isNew bool) {
	kind := "sticky"
	if isNew {
		kind = "new"
	}

	m.inc(fmt.Sprintf("variant.assignments.%d.%s", variant, kind))
}

func (m *MockMetrics) MeasureOrigin(stage string, start time.Time, statusCode int) {
	m.measureSince(fmt.Sprintf("origin.%s.%d", stage, statusCode), start)
}

func (m *MockMetrics) IncOriginErrors(stage string) {
	m.inc("origin.error." + stage)
}

func (m *MockMetrics) IncStreamingErrors() {
	m.inc("streaming.error")
}

func (m *MockMetrics) MeasureResponse(statusCode int, method string, start time.Time) {
	m.measureSince(fmt.Sprintf("response.%d.%s", statusCode, method), start)
}

func (m *MockMetrics) Handler() http.Handler {
	return http.NotFoundHandler()
}
