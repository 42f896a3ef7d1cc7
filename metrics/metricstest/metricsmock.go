package metricstest

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zalando/trafficrouter/metrics"
)

type MockMetrics struct {
	Prefix string

	mu sync.Mutex

	// Metrics gathering
	counters      map[string]int64
	floatCounters map[string]float64
	gauges        map[string]float64
	measures      map[string][]time.Duration
	Now           time.Time
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

func (m *MockMetrics) WithFloatCounters(f func(floatCounters map[string]float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.floatCounters == nil {
		m.floatCounters = make(map[string]float64)
	}
	f(m.floatCounters)
}

func (m *MockMetrics) WithMeasures(f func(measures map[string][]time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.measures == nil {
		m.measures = make(map[string][]time.Duration)
	}
	f(m.measures)
}

func (m *MockMetrics) WithGauges(f func(map[string]float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = make(map[string]float64)
	}

	f(m.gauges)
}

//
// Interface Metrics
//

func (m *MockMetrics) now() time.Time {
	if m.Now.IsZero() {
		return time.Now()
	}

	return m.Now
}

func (m *MockMetrics) measure(key string, d time.Duration) {
	key = m.Prefix + key
	m.WithMeasures(func(measures map[string][]time.Duration) {
		measures[key] = append(measures[key], d)
	})
}

func (m *MockMetrics) MeasureSince(key string, start time.Time) {
	m.measure(key, m.now().Sub(start))
}

func (m *MockMetrics) IncCounter(key string) {
	m.IncCounterBy(key, 1)
}

func (m *MockMetrics) IncCounterBy(key string, value int64) {
	key = m.Prefix + key
	m.WithCounters(func(counters map[string]int64) {
		counters[key] += value
	})
}

func (m *MockMetrics) IncFloatCounterBy(key string, value float64) {
	key = m.Prefix + key
	m.WithFloatCounters(func(floatCounters map[string]float64) {
		floatCounters[key] += value
	})
}

func (m *MockMetrics) MeasureRouting(routeType, result, details string, start, finish time.Time) {
	m.measure(fmt.Sprintf(metrics.KeyRoutingDuration, routeType), finish.Sub(start))
	m.IncCounter(fmt.Sprintf(metrics.KeyRouting, routeType, result))
	if details != "" {
		m.IncCounter(fmt.Sprintf(metrics.KeyRoutingDetails, routeType, details))
	}
}

func (m *MockMetrics) IncInvalidEntity(reason string) {
	m.IncCounter(fmt.Sprintf(metrics.KeyInvalidEntity, reason))
}

func (m *MockMetrics) MeasureSnapshotBuild(start time.Time) {
	m.MeasureSince(metrics.KeySnapshotBuild, start)
}

func (m *MockMetrics) UpdateSnapshotGeneration(generation uint64) {
	m.UpdateGauge(metrics.KeySnapshotGeneration, float64(generation))
}

func (m *MockMetrics) IncReloadFailures() {
	m.IncCounter(metrics.KeyReloadFailure)
}

func (*MockMetrics) RegisterHandler(path string, handler *http.ServeMux) {}

func (*MockMetrics) Close() {}

func (m *MockMetrics) UpdateGauge(key string, value float64) {
	key = m.Prefix + key
	m.WithGauges(func(g map[string]float64) {
		g[key] = value
	})
}

func (m *MockMetrics) Gauge(key string) (v float64, ok bool) {
	m.WithGauges(func(g map[string]float64) {
		v, ok = g[key]
	})

	return
}

func (m *MockMetrics) Counter(key string) (v int64, ok bool) {
	m.WithCounters(func(c map[string]int64) {
		v, ok = c[key]
	})

	return
}

func (m *MockMetrics) Timer(key string) (d []time.Duration, ok bool) {
	m.WithMeasures(func(measures map[string][]time.Duration) {
		d, ok = measures[key]
	})

	return
}

func (m *MockMetrics) Measure(key string) ([]time.Duration, bool) {
	return m.Timer(key)
}
