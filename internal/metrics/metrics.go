package metrics

import (
	"math"
	"sync"
	"time"
)

// Sample is what the engine observes after one solve.
type Sample struct {
	Latency      time.Duration
	MeanAbsError float64
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

type SolveLatency struct {
	sum     float64
	samples int
}

func NewSolveLatency() *SolveLatency { return &SolveLatency{} }

func (m *SolveLatency) Name() string { return "solve_latency_ms" }

func (m *SolveLatency) Observe(s Sample) {
	m.sum += float64(s.Latency) / float64(time.Millisecond)
	m.samples++
}

func (m *SolveLatency) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *SolveLatency) Reset() {
	m.sum = 0
	m.samples = 0
}

type MaxLatency struct {
	max float64
}

func NewMaxLatency() *MaxLatency { return &MaxLatency{} }

func (m *MaxLatency) Name() string { return "solve_latency_max_ms" }

func (m *MaxLatency) Observe(s Sample) {
	m.max = math.Max(m.max, float64(s.Latency)/float64(time.Millisecond))
}

func (m *MaxLatency) Value() float64 { return m.max }

func (m *MaxLatency) Reset() { m.max = 0 }

// PercentError averages the per-solve mean |% error| between target and
// achieved concentrations.
type PercentError struct {
	sum     float64
	samples int
}

func NewPercentError() *PercentError { return &PercentError{} }

func (m *PercentError) Name() string { return "mean_abs_percent_error" }

func (m *PercentError) Observe(s Sample) {
	if math.IsNaN(s.MeanAbsError) || math.IsInf(s.MeanAbsError, 0) {
		return
	}
	m.sum += s.MeanAbsError
	m.samples++
}

func (m *PercentError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *PercentError) Reset() {
	m.sum = 0
	m.samples = 0
}

// Set fans samples out to several metrics. It is safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	metrics []Metric
	count   int
}

func NewSet(ms ...Metric) *Set { return &Set{metrics: ms} }

// Default returns the metrics every session records.
func Default() *Set {
	return NewSet(NewSolveLatency(), NewMaxLatency(), NewPercentError())
}

func (s *Set) Observe(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Observe(sample)
	}
	s.count++
}

func (s *Set) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Set) Values() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.metrics)+1)
	for _, m := range s.metrics {
		out[m.Name()] = m.Value()
	}
	out["solves"] = float64(s.count)
	return out
}

func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Reset()
	}
	s.count = 0
}
