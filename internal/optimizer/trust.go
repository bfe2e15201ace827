package optimizer

import (
	"math"

	"github.com/san-kum/olfacto/internal/rig"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type residualFunc func(x, r []float64)

// Observer receives every accepted iterate of the solver. It must not retain
// or modify vars.
type Observer func(iteration int, vars []float64, cost float64)

// trustRegion minimizes 0.5*||r(x)||^2 inside a box. Each iteration fixes the
// variables sitting on a bound whose gradient pushes outward, takes a damped
// Gauss-Newton step on the rest and projects back into the box. The radius
// grows or shrinks with the ratio of actual to predicted reduction.
type trustRegion struct {
	lower    []float64
	upper    []float64
	maxIter  int
	ftol     float64
	gtol     float64
	xtol     float64
	shrink   float64
	grow     float64
	observer Observer

	// pinned, when set, marks variables to hold fixed at x for one iteration.
	pinned func(x []float64, out []bool)
}

const (
	fdStep    = 1e-7
	maxRadius = 10.0
	accept    = 1e-4
)

type lsqResult struct {
	X          []float64
	Cost       float64
	Iterations int
}

func newTrustRegion(lower, upper []float64, maxIter int, ftol float64) *trustRegion {
	return &trustRegion{
		lower:   lower,
		upper:   upper,
		maxIter: maxIter,
		ftol:    ftol,
		gtol:    1e-12,
		xtol:    1e-12,
		shrink:  0.25,
		grow:    2.0,
	}
}

func (t *trustRegion) project(x []float64) {
	for i := range x {
		x[i] = math.Min(t.upper[i], math.Max(t.lower[i], x[i]))
	}
}

func (t *trustRegion) minimize(f residualFunc, m int, x0 []float64) (lsqResult, error) {
	n := len(x0)
	x := append([]float64(nil), x0...)
	t.project(x)

	r := make([]float64, m)
	f(x, r)
	cost := 0.5 * floats.Dot(r, r)
	if !isFinite(cost) {
		return lsqResult{}, rig.ErrOptimizerDegenerate
	}

	jac := mat.NewDense(m, n, nil)
	rTrial := make([]float64, m)
	xTrial := make([]float64, n)
	step := make([]float64, n)
	hold := make([]bool, n)
	radius := 1.0

	iter := 0
	for ; iter < t.maxIter; iter++ {
		if t.observer != nil {
			t.observer(iter, x, cost)
		}
		if cost == 0 {
			break
		}

		t.jacobian(f, x, r, jac, rTrial)
		var gv mat.VecDense
		gv.MulVec(jac.T(), mat.NewVecDense(m, r))
		g := gv.RawVector().Data

		for j := range hold {
			hold[j] = false
		}
		if t.pinned != nil {
			t.pinned(x, hold)
		}
		free := t.freeSet(x, g, hold)
		if len(free) == 0 || projectedNorm(g, free) < t.gtol {
			break
		}

		p, ok := t.dampedStep(jac, g, free, radius)
		if !ok {
			return lsqResult{}, rig.ErrOptimizerDegenerate
		}

		copy(xTrial, x)
		for k, j := range free {
			xTrial[j] += p[k]
		}
		t.project(xTrial)
		floats.SubTo(step, xTrial, x)
		stepNorm := floats.Norm(step, 2)
		if stepNorm == 0 {
			break
		}

		var jd mat.VecDense
		jd.MulVec(jac, mat.NewVecDense(n, step))
		predicted := -(floats.Dot(g, step) + 0.5*mat.Dot(&jd, &jd))

		f(xTrial, rTrial)
		costTrial := 0.5 * floats.Dot(rTrial, rTrial)
		actual := cost - costTrial

		rho := -1.0
		if predicted > 0 && isFinite(costTrial) {
			rho = actual / predicted
		}

		switch {
		case rho < 0.25:
			radius = t.shrink * stepNorm
		case rho > 0.75 && stepNorm >= 0.9*radius:
			radius = math.Min(t.grow*radius, maxRadius)
		}

		if rho > accept {
			converged := actual <= t.ftol*cost
			copy(x, xTrial)
			copy(r, rTrial)
			cost = costTrial
			if converged {
				iter++
				break
			}
		}
		if radius < t.xtol*(t.xtol+floats.Norm(x, 2)) {
			break
		}
	}

	return lsqResult{X: x, Cost: cost, Iterations: iter}, nil
}

// jacobian fills jac with forward differences, stepping inward at the upper bound.
func (t *trustRegion) jacobian(f residualFunc, x, r []float64, jac *mat.Dense, scratch []float64) {
	xh := append([]float64(nil), x...)
	for j := range x {
		h := fdStep * math.Max(1, math.Abs(x[j]))
		if x[j]+h > t.upper[j] {
			h = -h
		}
		xh[j] = x[j] + h
		f(xh, scratch)
		for i := range r {
			jac.Set(i, j, (scratch[i]-r[i])/h)
		}
		xh[j] = x[j]
	}
}

func (t *trustRegion) freeSet(x, g []float64, hold []bool) []int {
	free := make([]int, 0, len(x))
	for j := range x {
		if hold[j] {
			continue
		}
		if x[j] <= t.lower[j] && g[j] > 0 {
			continue
		}
		if x[j] >= t.upper[j] && g[j] < 0 {
			continue
		}
		free = append(free, j)
	}
	return free
}

// dampedStep solves (JfᵀJf + λI)p = -gf for the free variables, raising λ
// until the step fits inside the trust radius.
func (t *trustRegion) dampedStep(jac *mat.Dense, g []float64, free []int, radius float64) ([]float64, bool) {
	m, _ := jac.Dims()
	nf := len(free)

	jf := mat.NewDense(m, nf, nil)
	for k, j := range free {
		for i := 0; i < m; i++ {
			jf.Set(i, k, jac.At(i, j))
		}
	}
	var jtj mat.Dense
	jtj.Mul(jf.T(), jf)

	rhs := mat.NewVecDense(nf, nil)
	maxDiag := 0.0
	for k, j := range free {
		rhs.SetVec(k, -g[j])
		maxDiag = math.Max(maxDiag, jtj.At(k, k))
	}
	if maxDiag == 0 || !isFinite(maxDiag) {
		maxDiag = 1
	}

	lambda := 0.0
	var p mat.VecDense
	for attempt := 0; attempt < 60; attempt++ {
		sym := mat.NewSymDense(nf, nil)
		for a := 0; a < nf; a++ {
			for b := a; b < nf; b++ {
				v := jtj.At(a, b)
				if a == b {
					v += lambda
				}
				sym.SetSym(a, b, v)
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(sym) {
			if err := chol.SolveVecTo(&p, rhs); err == nil && mat.Norm(&p, 2) <= radius {
				return append([]float64(nil), p.RawVector().Data...), true
			}
		}

		if lambda == 0 {
			lambda = 1e-10 * maxDiag
		} else {
			lambda *= 10
		}
	}

	// Fall back to a steepest descent step clipped to the radius.
	gn := mat.Norm(rhs, 2)
	if gn == 0 || !isFinite(gn) {
		return nil, false
	}
	out := make([]float64, nf)
	for k := range out {
		out[k] = rhs.AtVec(k) * radius / gn
	}
	return out, true
}

func projectedNorm(g []float64, free []int) float64 {
	n := 0.0
	for _, j := range free {
		n = math.Max(n, math.Abs(g[j]))
	}
	return n
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
