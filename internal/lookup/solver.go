package lookup

import (
	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
)

// Solver answers targets with the nearest precomputed table row.
type Solver struct {
	table  *Table
	forest *Forest
}

func NewSolver(t *Table, partitions int) *Solver {
	return &Solver{table: t, forest: NewForest(t.Points(), partitions)}
}

func (s *Solver) Solve(m rig.Matrix, target rig.TargetVector, maxFlows [2]float64) optimizer.Result {
	channels := m.Channels()
	if channels == 0 {
		channels = s.table.Channels
	}

	var sched rig.Schedule
	method := "lookup"
	idx := -1
	if len(target.Concentrations) == s.table.Odorants && channels == s.table.Channels && !target.IsZero() {
		idx, _ = s.forest.Nearest(target.Concentrations)
	}
	if idx < 0 {
		sched = rig.Off(channels, target.TotalFlow)
		method = "off"
	} else {
		sched = optimizer.Finalize(s.table.Rows[idx].Raw, maxFlows, target.TotalFlow)
	}

	report := optimizer.NewReport(m, target, sched)
	report.Method = method
	return optimizer.Result{Schedule: sched, Report: report}
}
