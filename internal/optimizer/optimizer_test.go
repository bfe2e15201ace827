package optimizer

import (
	"math"
	"testing"

	"github.com/san-kum/olfacto/internal/rig"
)

var testMaxFlows = [2]float64{1000, 10}

func diagMatrix(odorants, channels int, v float64) rig.Matrix {
	m := rig.NewMatrix(odorants, channels)
	for i := 0; i < odorants; i++ {
		m[i][i] = v
	}
	return m
}

func checkSchedule(t *testing.T, s rig.Schedule, flow float64) {
	t.Helper()
	if err := s.Validate(); err != nil {
		t.Fatalf("invalid schedule: %v", err)
	}
	for i, d := range s.Duties {
		if d.A+d.B > 1+1e-9 {
			t.Errorf("channel %d: duty %+v over one frame", i+1, d)
		}
	}
	if s.Mixing[0] > testMaxFlows[0]+1e-9 || s.Mixing[1] > testMaxFlows[1]+1e-9 {
		t.Errorf("mixing %v above full scale", s.Mixing)
	}
	want := math.Max(0, flow-s.Mixing[0]-s.Mixing[1])
	if math.Abs(s.Carrier-want) > 1e-9 {
		t.Errorf("carrier %g, want %g", s.Carrier, want)
	}
}

func TestRelax_Diagonal(t *testing.T) {
	m := diagMatrix(2, 3, 1e-4)
	x, err := Relax(m, rig.TargetVector{Concentrations: []float64{1e-6, 5e-7}, TotalFlow: 4000}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{40, 20, 0}
	for i := range want {
		if math.Abs(x[i]-want[i]) > 1e-6 {
			t.Errorf("x[%d] = %g, want %g", i, x[i], want[i])
		}
	}
}

func TestRelax_DimensionMismatch(t *testing.T) {
	m := diagMatrix(2, 2, 1e-4)
	if _, err := Relax(m, rig.TargetVector{Concentrations: []float64{1}, TotalFlow: 1}, 0); err == nil {
		t.Error("expected error")
	}
}

func TestSolve_SingleChannel(t *testing.T) {
	m := diagMatrix(1, 2, 1e-4)
	target := rig.TargetVector{Concentrations: []float64{1e-6}, TotalFlow: 4000}

	res := New(DefaultOptions()).Solve(m, target, testMaxFlows)
	checkSchedule(t, res.Schedule, 4000)

	got := res.Report.Rows[0].Achieved
	if math.Abs(got-1e-6)/1e-6 > 1e-3 {
		t.Errorf("achieved %g, want 1e-6 (report %+v)", got, res.Report)
	}
	if !res.Schedule.Duties[1].IsZero() {
		t.Errorf("channel without vapor should stay closed, got %+v", res.Schedule.Duties[1])
	}
}

func TestSolve_TwoChannels(t *testing.T) {
	m := diagMatrix(2, 4, 1e-4)
	target := rig.TargetVector{Concentrations: []float64{1e-6, 5e-7}, TotalFlow: 4000}

	for _, mode := range []WarmStart{WarmConstant, WarmLinear} {
		t.Run(string(mode), func(t *testing.T) {
			opts := DefaultOptions()
			opts.WarmStart = mode
			res := New(opts).Solve(m, target, testMaxFlows)
			checkSchedule(t, res.Schedule, 4000)
			if e := res.Report.MeanAbsError(); e > 2 {
				t.Errorf("mean error %.3f%% too high: %+v", e, res.Report.Rows)
			}
		})
	}
}

func TestSolve_Degenerate(t *testing.T) {
	tests := []struct {
		name   string
		m      rig.Matrix
		target rig.TargetVector
	}{
		{"zero target", diagMatrix(2, 4, 1e-4), rig.TargetVector{Concentrations: []float64{0, 0}, TotalFlow: 4000}},
		{"no vapor", rig.NewMatrix(2, 4), rig.TargetVector{Concentrations: []float64{1e-6, 1e-6}, TotalFlow: 4000}},
		{"nan target", diagMatrix(1, 2, 1e-4), rig.TargetVector{Concentrations: []float64{math.NaN()}, TotalFlow: 4000}},
		{"length mismatch", diagMatrix(2, 4, 1e-4), rig.TargetVector{Concentrations: []float64{1e-6}, TotalFlow: 4000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(DefaultOptions()).Solve(tt.m, tt.target, testMaxFlows)
			if !res.Schedule.IsOff() {
				t.Errorf("expected all-off schedule, got %+v", res.Schedule)
			}
			if res.Schedule.Carrier != 4000 {
				t.Errorf("expected carrier 4000, got %g", res.Schedule.Carrier)
			}
		})
	}
}

func TestSolve_UnreachableTargetStaysInBounds(t *testing.T) {
	m := diagMatrix(3, 6, 1e-4)
	target := rig.TargetVector{Concentrations: []float64{1, 1e-12, 3e-5}, TotalFlow: 4000}
	res := New(DefaultOptions()).Solve(m, target, testMaxFlows)
	checkSchedule(t, res.Schedule, 4000)
}

func TestSolve_ObserverIsCalled(t *testing.T) {
	calls := 0
	opts := DefaultOptions()
	opts.Observer = func(iter int, vars []float64, cost float64) {
		calls++
		if len(vars) != 4 {
			t.Errorf("expected 4 variables, got %d", len(vars))
		}
	}
	New(opts).Solve(diagMatrix(1, 1, 1e-4), rig.TargetVector{Concentrations: []float64{1e-6}, TotalFlow: 4000}, testMaxFlows)
	if calls == 0 {
		t.Error("observer never called")
	}
}

func TestFinalize(t *testing.T) {
	raw := Raw{
		WA: []float64{0.5, 0.0005, 0},
		WB: []float64{0.5, 0.2, 0},
		FA: 0.04,
		FB: 0.5,
	}
	s := Finalize(raw, testMaxFlows, 4000)

	if s.Duties[0].A != 0.5 || math.Abs(s.Duties[0].B-0.25) > 1e-12 {
		t.Errorf("channel 1: %+v", s.Duties[0])
	}
	if s.Duties[1].A != 0 || math.Abs(s.Duties[1].B-0.2) > 1e-12 {
		t.Errorf("channel 2: %+v", s.Duties[1])
	}
	if math.Abs(s.Mixing[0]-40) > 1e-9 || math.Abs(s.Mixing[1]-5) > 1e-9 {
		t.Errorf("mixing %v", s.Mixing)
	}
	if math.Abs(s.Carrier-3955) > 1e-9 {
		t.Errorf("carrier %g", s.Carrier)
	}
}

func TestFinalize_IdleControllerOff(t *testing.T) {
	s := Finalize(Raw{WA: []float64{0.3}, WB: []float64{0}, FA: 0.5, FB: 0.5}, testMaxFlows, 4000)
	if s.Mixing[1] != 0 {
		t.Errorf("expected idle B controller off, got %g", s.Mixing[1])
	}
}

func TestResiduals(t *testing.T) {
	tests := []struct {
		name  string
		vars  []float64
		flows []float64
		want  []float64
	}{
		{"state A only", []float64{0.5, 0.5, 0, 0, 0.1, 0.1}, []float64{50, 50}, []float64{0, 0}},
		{"state B only", []float64{0, 0, 0.5, 0.5, 0.1, 0.1}, []float64{0.5, 0.5}, []float64{0, 0}},
		{"all closed", []float64{0, 0, 0, 0, 0.001, 0.001}, []float64{3, 7}, []float64{-3, -7}},
		{"one channel each", []float64{1, 0, 0.9, 0.4, 0.2, 0.5}, []float64{200, 5}, []float64{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := make([]float64, len(tt.flows))
			Residuals(tt.vars, tt.flows, testMaxFlows, r)
			m := len(tt.flows)
			bound := tt.vars[2*m]*testMaxFlows[0] + tt.vars[2*m+1]*testMaxFlows[1]
			for i, v := range r {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("residual %d is not finite: %g", i, v)
				}
				if math.Abs(v) > bound+tt.flows[i] {
					t.Errorf("residual %d = %g exceeds %g", i, v, bound+tt.flows[i])
				}
				if math.Abs(v-tt.want[i]) > 1e-9 {
					t.Errorf("residual %d = %g, want %g", i, v, tt.want[i])
				}
			}
		})
	}
}

func TestProblem_PinsClosedBlocks(t *testing.T) {
	p := &problem{active: []int{0, 1}}
	tests := []struct {
		name string
		vars []float64
		want []bool
	}{
		{"A closed", []float64{0, 0, 0.3, 0.2, 0.5, 0.5}, []bool{true, true, false, false, true, false}},
		{"B closed", []float64{0.2, 0, 0, 0, 0.5, 0.5}, []bool{false, false, true, true, false, true}},
		{"both open", []float64{0.2, 0, 0, 0.1, 0.5, 0.5}, []bool{false, false, false, false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]bool, len(tt.vars))
			p.pinned(tt.vars, got)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("pinned = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestSolve_LowSparseTargets(t *testing.T) {
	m := diagMatrix(3, 10, 1e-4)
	targets := [][]float64{
		{1e-9, 0, 0},
		{1.59e-9, 5.95e-9, 3.95e-9},
		{0, 2e-9, 0},
	}
	for _, conc := range targets {
		for _, mode := range []WarmStart{WarmConstant, WarmLinear} {
			opts := DefaultOptions()
			opts.WarmStart = mode
			res := New(opts).Solve(m, rig.TargetVector{Concentrations: conc, TotalFlow: 4000}, testMaxFlows)
			checkSchedule(t, res.Schedule, 4000)
			for _, row := range res.Report.Rows {
				if row.Target == 0 {
					if row.Achieved > 1e-12 {
						t.Errorf("%s %v: odorant %d should be absent, got %g", mode, conc, row.Odorant+1, row.Achieved)
					}
					continue
				}
				if math.Abs(row.PercentError) > 1 {
					t.Errorf("%s %v: odorant %d off by %.3f%%", mode, conc, row.Odorant+1, row.PercentError)
				}
			}
		}
	}
}

func TestReport_PercentError(t *testing.T) {
	tests := []struct {
		target, achieved, want float64
	}{
		{1, 1.1, 10},
		{2, 1, -50},
		{0, 0, 0},
		{0, 1, 100},
	}
	for _, tt := range tests {
		if got := percentError(tt.target, tt.achieved); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentError(%g,%g) = %g, want %g", tt.target, tt.achieved, got, tt.want)
		}
	}
}
