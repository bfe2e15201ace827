package metrics

import (
	"math"
	"testing"
	"time"
)

func TestSolveLatency(t *testing.T) {
	m := NewSolveLatency()
	if m.Value() != 0 {
		t.Error("expected zero before samples")
	}
	m.Observe(Sample{Latency: 2 * time.Millisecond})
	m.Observe(Sample{Latency: 4 * time.Millisecond})
	if math.Abs(m.Value()-3) > 1e-9 {
		t.Errorf("expected 3ms, got %f", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestMaxLatency(t *testing.T) {
	m := NewMaxLatency()
	for _, d := range []time.Duration{time.Millisecond, 7 * time.Millisecond, 3 * time.Millisecond} {
		m.Observe(Sample{Latency: d})
	}
	if m.Value() != 7 {
		t.Errorf("expected 7ms, got %f", m.Value())
	}
}

func TestPercentError_IgnoresNonFinite(t *testing.T) {
	m := NewPercentError()
	m.Observe(Sample{MeanAbsError: 2})
	m.Observe(Sample{MeanAbsError: math.NaN()})
	m.Observe(Sample{MeanAbsError: 4})
	if m.Value() != 3 {
		t.Errorf("expected 3, got %f", m.Value())
	}
}

func TestSet(t *testing.T) {
	s := Default()
	s.Observe(Sample{Latency: time.Millisecond, MeanAbsError: 1})
	s.Observe(Sample{Latency: 3 * time.Millisecond, MeanAbsError: 3})

	v := s.Values()
	tests := map[string]float64{
		"solve_latency_ms":       2,
		"solve_latency_max_ms":   3,
		"mean_abs_percent_error": 2,
		"solves":                 2,
	}
	for name, want := range tests {
		if math.Abs(v[name]-want) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", name, want, v[name])
		}
	}

	s.Reset()
	if s.Count() != 0 || s.Values()["solve_latency_ms"] != 0 {
		t.Error("expected reset set")
	}
}
