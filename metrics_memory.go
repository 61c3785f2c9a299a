package mqttv3

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics keeps every instrument in process memory and exposes the
// values through the Get and Value accessors. It suits tests and programs
// without a metrics backend.
type MemoryMetrics struct {
	counters   series[*memoryCounter]
	gauges     series[*memoryGauge]
	histograms series[*memoryHistogram]
}

func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{}
}

// series indexes instruments of one kind by name and label set.
type series[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func (s *series[T]) find(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	return item, ok
}

func (s *series[T]) obtain(key string, create func() T) T {
	if item, ok := s.find(key); ok {
		return item
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[key]; ok {
		return item
	}
	if s.items == nil {
		s.items = make(map[string]T)
	}
	item := create()
	s.items[key] = item
	return item
}

// labelsKey renders name and labels as "name|k1=v1|k2=v2" with keys sorted.
func labelsKey(name string, labels MetricLabels) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return m.counters.obtain(labelsKey(name, labels), func() *memoryCounter { return &memoryCounter{} })
}

func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return m.gauges.obtain(labelsKey(name, labels), func() *memoryGauge { return &memoryGauge{} })
}

func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return m.histograms.obtain(labelsKey(name, labels), func() *memoryHistogram { return &memoryHistogram{} })
}

// GetCounter returns the counter if it was ever created, or nil.
func (m *MemoryMetrics) GetCounter(name string, labels MetricLabels) Counter {
	if c, ok := m.counters.find(labelsKey(name, labels)); ok {
		return c
	}
	return nil
}

// GetGauge returns the gauge if it was ever created, or nil.
func (m *MemoryMetrics) GetGauge(name string, labels MetricLabels) Gauge {
	if g, ok := m.gauges.find(labelsKey(name, labels)); ok {
		return g
	}
	return nil
}

// GetHistogram returns the histogram if it was ever created, or nil.
func (m *MemoryMetrics) GetHistogram(name string, labels MetricLabels) Histogram {
	if h, ok := m.histograms.find(labelsKey(name, labels)); ok {
		return h
	}
	return nil
}

// CounterValue reads a counter, treating a missing one as zero.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	c, _ := m.counters.find(labelsKey(name, labels))
	if c == nil {
		return 0
	}
	return c.Value()
}

// GaugeValue reads a gauge, treating a missing one as zero.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	g, _ := m.gauges.find(labelsKey(name, labels))
	if g == nil {
		return 0
	}
	return g.Value()
}

// atomicFloat stores a float64 as its bit pattern so it can be updated
// without a lock.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

type memoryCounter struct{ v atomicFloat }

func (c *memoryCounter) Inc()              { c.v.add(1) }
func (c *memoryCounter) Add(delta float64) { c.v.add(delta) }
func (c *memoryCounter) Value() float64    { return c.v.load() }

type memoryGauge struct{ v atomicFloat }

func (g *memoryGauge) Set(value float64) { g.v.store(value) }
func (g *memoryGauge) Inc()              { g.v.add(1) }
func (g *memoryGauge) Dec()              { g.v.add(-1) }
func (g *memoryGauge) Add(delta float64) { g.v.add(delta) }
func (g *memoryGauge) Sub(delta float64) { g.v.add(-delta) }
func (g *memoryGauge) Value() float64    { return g.v.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }
func (h *memoryHistogram) Count() uint64                   { return h.count.Load() }
func (h *memoryHistogram) Sum() float64                    { return h.sum.load() }
