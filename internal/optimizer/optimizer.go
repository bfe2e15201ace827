package optimizer

import (
	"math"

	"github.com/san-kum/olfacto/internal/rig"
)

type WarmStart string

const (
	WarmConstant WarmStart = "constant"
	WarmLinear   WarmStart = "linear"
)

type Options struct {
	MaxIterations int
	Tolerance     float64
	RCond         float64
	WarmStart     WarmStart
	Observer      Observer
}

func DefaultOptions() Options {
	return Options{
		MaxIterations: 200,
		Tolerance:     1e-10,
		RCond:         defaultRCond,
		WarmStart:     WarmConstant,
	}
}

type Result struct {
	Schedule rig.Schedule
	Report   Report
}

// Solver maps a target onto a schedule for a given vapor matrix. Solve must
// never fail; degenerate inputs produce the all-off schedule.
type Solver interface {
	Solve(m rig.Matrix, target rig.TargetVector, maxFlows [2]float64) Result
}

type Optimizer struct {
	opts Options
}

func New(opts Options) *Optimizer {
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.RCond <= 0 {
		opts.RCond = def.RCond
	}
	if opts.WarmStart == "" {
		opts.WarmStart = def.WarmStart
	}
	return &Optimizer{opts: opts}
}

func (o *Optimizer) Solve(m rig.Matrix, target rig.TargetVector, maxFlows [2]float64) Result {
	target = sanitize(target)
	channels := m.Channels()

	off := func(method string) Result {
		s := rig.Off(channels, target.TotalFlow)
		r := NewReport(m, target, s)
		r.Method = method
		return Result{Schedule: s, Report: r}
	}

	if err := m.Validate(); err != nil || channels == 0 || len(target.Concentrations) != m.Odorants() {
		return off("off")
	}
	if target.TotalFlow <= 0 || target.IsZero() {
		return off("off")
	}
	active := activeChannels(m)
	if len(active) == 0 {
		return off("off")
	}

	relaxed, err := Relax(m, target, o.opts.RCond)
	if err != nil {
		return off("degenerate")
	}

	p := newProblem(active, relaxed, maxFlows)
	lower, upper := p.bounds()
	tr := newTrustRegion(lower, upper, o.opts.MaxIterations, o.opts.Tolerance)
	tr.observer = o.opts.Observer
	tr.pinned = p.pinned

	res, err := tr.minimize(p.residuals, len(active), p.warmStart(o.opts.WarmStart))
	if err != nil || res.Cost > o.opts.Tolerance {
		alt, altErr := tr.minimize(p.residuals, len(active), p.warmStart(otherStart(o.opts.WarmStart)))
		if altErr == nil && (err != nil || alt.Cost < res.Cost) {
			res, err = alt, nil
		}
	}
	if err != nil {
		return off("degenerate")
	}

	s := Finalize(p.raw(res.X, channels), maxFlows, target.TotalFlow)
	if s.Validate() != nil {
		return off("degenerate")
	}
	report := NewReport(m, target, s)
	report.Method = "trust-region"
	report.Cost = res.Cost
	report.Iterations = res.Iterations
	return Result{Schedule: s, Report: report}
}

func otherStart(w WarmStart) WarmStart {
	if w == WarmLinear {
		return WarmConstant
	}
	return WarmLinear
}

// sanitize replaces non-finite or negative concentrations with zero.
func sanitize(t rig.TargetVector) rig.TargetVector {
	out := rig.TargetVector{
		Concentrations: make([]float64, len(t.Concentrations)),
		TotalFlow:      t.TotalFlow,
	}
	for i, c := range t.Concentrations {
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			continue
		}
		out.Concentrations[i] = c
	}
	if math.IsNaN(out.TotalFlow) || math.IsInf(out.TotalFlow, 0) {
		out.TotalFlow = 0
	}
	return out
}
