package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
)

// RenderReport draws the per-odorant comparison. names may be nil.
func RenderReport(r optimizer.Report, names []string) string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("OPTIMIZATION REPORT") + "\n")
	s.WriteString(fmt.Sprintf("%-12s %14s %14s %10s\n", "odorant", "target (M)", "achieved (M)", "error"))
	for _, row := range r.Rows {
		name := fmt.Sprintf("#%d", row.Odorant+1)
		if row.Odorant < len(names) {
			name = names[row.Odorant]
		}
		pct := errorStyle(row.PercentError).Render(fmt.Sprintf("%9.3f%%", row.PercentError))
		s.WriteString(fmt.Sprintf("%-12s %14.4e %14.4e %s\n", name, row.Target, row.Achieved, pct))
	}
	s.WriteString("\n")
	s.WriteString(labelStyle.Render("method") + valueStyle.Render(r.Method) + "\n")
	s.WriteString(labelStyle.Render("iterations") + valueStyle.Render(fmt.Sprintf("%d", r.Iterations)) + "\n")
	s.WriteString(labelStyle.Render("cost") + valueStyle.Render(fmt.Sprintf("%.3e", r.Cost)) + "\n")
	s.WriteString(labelStyle.Render("mean |error|") + valueStyle.Render(fmt.Sprintf("%.3f%%", r.MeanAbsError())) + "\n")
	return s.String()
}

// RenderSchedule lists every channel's duty and the controller setpoints.
func RenderSchedule(sched rig.Schedule) string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("SCHEDULE") + "\n")
	for i, d := range sched.Duties {
		if d.IsZero() {
			continue
		}
		s.WriteString(fmt.Sprintf("ch%-3d A %s %5.1f%%  B %s %5.1f%%\n",
			i+1, ProgressBar(d.A, 20), 100*d.A, ProgressBar(d.B, 20), 100*d.B))
	}
	s.WriteString(labelStyle.Render("mixing A") + valueStyle.Render(fmt.Sprintf("%.3f cc/min", sched.Mixing[0])) + "\n")
	s.WriteString(labelStyle.Render("mixing B") + valueStyle.Render(fmt.Sprintf("%.3f cc/min", sched.Mixing[1])) + "\n")
	s.WriteString(labelStyle.Render("carrier") + valueStyle.Render(fmt.Sprintf("%.3f cc/min", sched.Carrier)) + "\n")
	return s.String()
}

// ChannelSeries returns one value per sample: 2 in state A, 1 in state B, 0 closed.
func ChannelSeries(f rig.Frame, channel int) []float64 {
	out := make([]float64, len(f.Digital))
	for k, w := range f.Digital {
		a, b := rig.ChannelBits(w, channel)
		switch {
		case a:
			out[k] = 2
		case b:
			out[k] = 1
		}
	}
	return out
}

// RenderFrame plots the waveform of every channel that opens during the frame.
func RenderFrame(f rig.Frame, channels int) string {
	var s strings.Builder
	for ch := 1; ch <= channels; ch++ {
		series := ChannelSeries(f, ch)
		active := false
		for _, v := range series {
			if v != 0 {
				active = true
				break
			}
		}
		if !active || len(series) < 2 {
			continue
		}
		chart := asciigraph.Plot(series,
			asciigraph.Height(2),
			asciigraph.Width(len(series)),
			asciigraph.LowerBound(0),
			asciigraph.UpperBound(2),
			asciigraph.Caption(fmt.Sprintf("channel %d (2=A, 1=B)", ch)))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	if s.Len() == 0 {
		return "all valves closed\n"
	}
	return s.String()
}
