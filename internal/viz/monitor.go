package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/writer"
)

const historyCapacity = 120

// Snapshot is everything the monitor shows for one refresh.
type Snapshot struct {
	SessionID   string
	Phase       string
	Peer        string
	Sessions    int
	Refused     int
	Targets     int
	LastError   string
	WriterState string
	Stats       writer.Stats
	Mixing      [2]float64
	Carrier     float64
	Report      optimizer.Report
	Metrics     map[string]float64
}

// Source provides snapshots and optional writer control.
type Source interface {
	Snapshot() Snapshot
	TogglePause()
}

type TickMsg time.Time

type Monitor struct {
	source   Source
	interval time.Duration
	snap     Snapshot
	mixingA  []float64
	mixingB  []float64
}

func NewMonitor(src Source, refresh time.Duration) Monitor {
	if refresh <= 0 {
		refresh = 250 * time.Millisecond
	}
	return Monitor{
		source:   src,
		interval: refresh,
		mixingA:  make([]float64, 0, historyCapacity),
		mixingB:  make([]float64, 0, historyCapacity),
	}
}

func (m Monitor) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Monitor) Init() tea.Cmd {
	return m.tick()
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p", " ":
			m.source.TogglePause()
		}
	case TickMsg:
		m.snap = m.source.Snapshot()
		m.mixingA = appendBounded(m.mixingA, m.snap.Mixing[0])
		m.mixingB = appendBounded(m.mixingB, m.snap.Mixing[1])
		return m, m.tick()
	}
	return m, nil
}

func appendBounded(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyCapacity {
		h = h[len(h)-historyCapacity:]
	}
	return h
}

func (m Monitor) View() string {
	snap := m.snap
	var s strings.Builder
	s.WriteString(headerStyle.Render("OLFACTO") + "\n")

	state := snap.WriterState
	if state == "" {
		state = "idle"
	}
	s.WriteString(labelStyle.Render("writer") + statusStyle(state).Render(strings.ToUpper(state)) + "\n")
	session := snap.SessionID
	if session == "" {
		session = "-"
	}
	s.WriteString(labelStyle.Render("session") + valueStyle.Render(session) + "\n")
	s.WriteString(labelStyle.Render("phase") + valueStyle.Render(snap.Phase) + "\n")
	if snap.Peer != "" {
		s.WriteString(labelStyle.Render("peer") + valueStyle.Render(snap.Peer) + "\n")
	}
	s.WriteString(labelStyle.Render("sessions") + valueStyle.Render(fmt.Sprintf("%d (%d refused)", snap.Sessions, snap.Refused)) + "\n")
	s.WriteString(labelStyle.Render("targets") + valueStyle.Render(fmt.Sprintf("%d", snap.Targets)) + "\n")
	s.WriteString(labelStyle.Render("writes") + valueStyle.Render(fmt.Sprintf("%d ok / %d failed / %d skipped",
		snap.Stats.Writes, snap.Stats.WriteErrors, snap.Stats.Skipped)) + "\n")
	s.WriteString(labelStyle.Render("commits") + valueStyle.Render(fmt.Sprintf("%d (%d superseded)",
		snap.Stats.Commits, snap.Stats.Superseded)) + "\n")
	if v, ok := snap.Metrics["solve_latency_ms"]; ok {
		s.WriteString(labelStyle.Render("solve") + valueStyle.Render(fmt.Sprintf("%.2f ms avg, %.2f ms max",
			v, snap.Metrics["solve_latency_max_ms"])) + "\n")
	}
	s.WriteString(labelStyle.Render("carrier") + valueStyle.Render(fmt.Sprintf("%.1f cc/min", snap.Carrier)) + "\n")
	if snap.LastError != "" {
		s.WriteString(labelStyle.Render("last error") + StatusStopped.Render(snap.LastError) + "\n")
	}

	if len(m.mixingA) > 1 {
		chart := asciigraph.PlotMany([][]float64{m.mixingA, m.mixingB},
			asciigraph.Height(6),
			asciigraph.Width(60),
			asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
			asciigraph.Caption("mixing A / B (cc/min)"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}

	if len(snap.Report.Rows) > 0 {
		s.WriteString(panelStyle.Render(strings.TrimRight(RenderReport(snap.Report, nil), "\n")) + "\n")
	}
	s.WriteString(helpStyle.Render("p pause/resume writer • q quit"))
	return s.String()
}
