package optimizer

import (
	"fmt"
	"math"

	"github.com/san-kum/olfacto/internal/rig"
	"gonum.org/v1/gonum/mat"
)

const defaultRCond = 1e-12

// Relax solves min ||(A/F)x - b|| for the per-channel flows x, returning the
// minimum-norm solution. Singular values below rcond*max are discarded.
func Relax(m rig.Matrix, target rig.TargetVector, rcond float64) ([]float64, error) {
	rows, cols := m.Odorants(), m.Channels()
	if rows == 0 || cols == 0 {
		return nil, rig.ErrDimensionMismatch
	}
	if len(target.Concentrations) != rows {
		return nil, fmt.Errorf("%d targets for %d odorants: %w", len(target.Concentrations), rows, rig.ErrDimensionMismatch)
	}
	if target.TotalFlow <= 0 {
		return nil, fmt.Errorf("total flow %g: %w", target.TotalFlow, rig.ErrOptimizerDegenerate)
	}
	if rcond <= 0 {
		rcond = defaultRCond
	}

	a := mat.NewDense(rows, cols, nil)
	for i, row := range m {
		for j, v := range row {
			a.Set(i, j, v/target.TotalFlow)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, rig.ErrOptimizerDegenerate
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	if len(s) == 0 || s[0] == 0 || math.IsNaN(s[0]) {
		return nil, rig.ErrOptimizerDegenerate
	}

	b := mat.NewVecDense(rows, append([]float64(nil), target.Concentrations...))
	var utb mat.VecDense
	utb.MulVec(u.T(), b)
	cutoff := rcond * s[0]
	for i, sv := range s {
		if sv > cutoff {
			utb.SetVec(i, utb.AtVec(i)/sv)
		} else {
			utb.SetVec(i, 0)
		}
	}

	var x mat.VecDense
	x.MulVec(&v, &utb)
	out := make([]float64, cols)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}
