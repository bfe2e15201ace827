package optimizer

import (
	"math"

	"github.com/san-kum/olfacto/internal/rig"
)

type ReportRow struct {
	Odorant      int
	Target       float64
	Achieved     float64
	PercentError float64
}

type Report struct {
	Rows       []ReportRow
	Method     string
	Cost       float64
	Iterations int
}

// Achieved recomputes the outflow concentrations a schedule delivers.
func Achieved(m rig.Matrix, s rig.Schedule) []float64 {
	return m.Delivered(s.ChannelFlows(), s.TotalFlow())
}

func NewReport(m rig.Matrix, target rig.TargetVector, s rig.Schedule) Report {
	achieved := Achieved(m, s)
	rows := make([]ReportRow, len(target.Concentrations))
	for i, want := range target.Concentrations {
		got := 0.0
		if i < len(achieved) {
			got = achieved[i]
		}
		rows[i] = ReportRow{
			Odorant:      i,
			Target:       want,
			Achieved:     got,
			PercentError: percentError(want, got),
		}
	}
	return Report{Rows: rows}
}

func percentError(target, achieved float64) float64 {
	if target == 0 {
		if achieved == 0 {
			return 0
		}
		return 100
	}
	return 100 * (achieved - target) / target
}

// MeanAbsError is the mean of |percent error| over all rows.
func (r Report) MeanAbsError() float64 {
	if len(r.Rows) == 0 {
		return 0
	}
	sum := 0.0
	for _, row := range r.Rows {
		sum += math.Abs(row.PercentError)
	}
	return sum / float64(len(r.Rows))
}
