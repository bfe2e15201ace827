package optimizer

import (
	"math"

	"github.com/san-kum/olfacto/internal/rig"
)

const (
	MinDuty          = 0.001
	MinFlowFraction  = 0.001
	denominatorGuard = 1e-20
	defaultWarmValue = 0.1
)

// problem lays the unknowns out as [wA..., wB..., fA, fB] over the channels
// that carry vapor. Channels without vapor stay closed.
type problem struct {
	active   []int
	flows    []float64
	maxFlows [2]float64
}

func activeChannels(m rig.Matrix) []int {
	var active []int
	for j, total := range m.ChannelTotals() {
		if total > 0 {
			active = append(active, j)
		}
	}
	return active
}

func newProblem(active []int, relaxed []float64, maxFlows [2]float64) *problem {
	flows := make([]float64, len(active))
	for k, j := range active {
		flows[k] = relaxed[j]
	}
	return &problem{active: active, flows: flows, maxFlows: maxFlows}
}

func (p *problem) dim() int { return 2*len(p.active) + 2 }

func (p *problem) bounds() (lower, upper []float64) {
	n := p.dim()
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range upper {
		upper[i] = 1
	}
	lower[n-2] = MinFlowFraction
	lower[n-1] = MinFlowFraction
	return lower, upper
}

// residuals evaluates the per-channel flow mismatch for vars into r.
func (p *problem) residuals(vars, r []float64) {
	Residuals(vars, p.flows, p.maxFlows, r)
}

// Residuals is the fitted model: for each vapor channel k,
//
//	fA*maxA*wA_k/ΣwA + fB*maxB*wBabs_k/ΣwBabs - x_k,  wBabs_k = (1-wA_k)*wB_k
//
// vars is laid out as [wA..., wB..., fA, fB] and r must hold len(flows) values.
func Residuals(vars, flows []float64, maxFlows [2]float64, r []float64) {
	m := len(flows)
	wA := vars[:m]
	wB := vars[m : 2*m]
	fA, fB := vars[2*m], vars[2*m+1]

	sumA, sumB := 0.0, 0.0
	for k := 0; k < m; k++ {
		sumA += wA[k]
		sumB += (1 - wA[k]) * wB[k]
	}
	if sumA == 0 {
		sumA = denominatorGuard
	}
	if sumB == 0 {
		sumB = denominatorGuard
	}

	for k := 0; k < m; k++ {
		wBabs := (1 - wA[k]) * wB[k]
		r[k] = fA*maxFlows[0]*wA[k]/sumA + fB*maxFlows[1]*wBabs/sumB - flows[k]
	}
}

// pinned holds a duty block fixed when all of it is closed, together with
// its controller flow. The residual jumps across the denominator guard there,
// so finite differences on that block are meaningless.
func (p *problem) pinned(vars []float64, out []bool) {
	m := len(p.active)
	sumA, sumB := 0.0, 0.0
	for k := 0; k < m; k++ {
		sumA += vars[k]
		sumB += (1 - vars[k]) * vars[m+k]
	}
	if sumA == 0 {
		for k := 0; k < m; k++ {
			out[k] = true
		}
		out[2*m] = true
	}
	if sumB == 0 {
		for k := 0; k < m; k++ {
			out[m+k] = true
		}
		out[2*m+1] = true
	}
}

func (p *problem) warmStart(mode WarmStart) []float64 {
	n := p.dim()
	x := make([]float64, n)
	for i := range x {
		x[i] = defaultWarmValue
	}
	if mode != WarmLinear {
		return x
	}

	m := len(p.active)
	var sumA, sumB float64
	for _, f := range p.flows {
		if f > p.maxFlows[1] {
			sumA += f
		} else if f > 0 {
			sumB += f
		}
	}
	for k, f := range p.flows {
		x[k], x[m+k] = 0, 0
		switch {
		case f > p.maxFlows[1]:
			x[k] = f / sumA
		case f > 0:
			x[m+k] = f / sumB
		}
	}
	if sumA > 0 {
		x[n-2] = sumA / p.maxFlows[0]
	}
	if sumB > 0 {
		x[n-1] = sumB / p.maxFlows[1]
	}
	lower, upper := p.bounds()
	for i := range x {
		x[i] = math.Min(upper[i], math.Max(lower[i], x[i]))
	}
	return x
}

// raw expands a solution vector back onto every rig channel.
func (p *problem) raw(vars []float64, channels int) Raw {
	m := len(p.active)
	out := Raw{
		WA: make([]float64, channels),
		WB: make([]float64, channels),
		FA: vars[2*m],
		FB: vars[2*m+1],
	}
	for k, j := range p.active {
		out.WA[j] = vars[k]
		out.WB[j] = vars[m+k]
	}
	return out
}

// Raw is the solver's variable vector over every channel. WB is the fraction
// of the time left after state A.
type Raw struct {
	WA []float64
	WB []float64
	FA float64
	FB float64
}

// Finalize turns raw variables into a schedule: duties below MinDuty are
// dropped, state B time becomes absolute, a mixing controller with no open
// channel is turned off and the carrier makes up the remaining flow.
func Finalize(raw Raw, maxFlows [2]float64, totalFlow float64) rig.Schedule {
	s := rig.Schedule{Duties: make([]rig.Duty, len(raw.WA))}
	usedA, usedB := false, false
	for i := range raw.WA {
		wA := clampUnit(raw.WA[i])
		wB := 0.0
		if i < len(raw.WB) {
			wB = clampUnit(raw.WB[i])
		}
		if wA < MinDuty {
			wA = 0
		}
		if wB < MinDuty {
			wB = 0
		}
		d := rig.Duty{A: wA, B: (1 - wA) * wB}
		s.Duties[i] = d
		usedA = usedA || d.A > 0
		usedB = usedB || d.B > 0
	}

	if usedA {
		s.Mixing[0] = clampRange(raw.FA, MinFlowFraction, 1) * maxFlows[0]
	}
	if usedB {
		s.Mixing[1] = clampRange(raw.FB, MinFlowFraction, 1) * maxFlows[1]
	}
	s.Carrier = math.Max(0, totalFlow-s.Mixing[0]-s.Mixing[1])
	return s
}

func clampUnit(v float64) float64 { return clampRange(v, 0, 1) }

func clampRange(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
