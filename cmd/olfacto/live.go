package main

import (
	"sync"

	"github.com/san-kum/olfacto/internal/engine"
	"github.com/san-kum/olfacto/internal/session"
	"github.com/san-kum/olfacto/internal/viz"
	"github.com/san-kum/olfacto/internal/writer"
)

// liveSource feeds the monitor from the server and its newest pipeline.
type liveSource struct {
	server *session.Server

	mu      sync.Mutex
	current *engine.Pipeline
}

func (l *liveSource) attach(p *engine.Pipeline) {
	l.mu.Lock()
	l.current = p
	l.mu.Unlock()
}

func (l *liveSource) pipeline() *engine.Pipeline {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *liveSource) Snapshot() viz.Snapshot {
	st := l.server.Status()
	snap := viz.Snapshot{
		SessionID: st.SessionID,
		Phase:     st.Phase.String(),
		Peer:      st.Peer,
		Sessions:  st.Sessions,
		Refused:   st.Refused,
		Targets:   st.Targets,
		LastError: st.LastError,
	}
	p := l.pipeline()
	if p == nil {
		return snap
	}
	sched := p.Engine.Schedule()
	snap.WriterState = p.Loop.State().String()
	snap.Stats = p.Loop.Stats()
	snap.Mixing = sched.Mixing
	snap.Carrier = sched.Carrier
	snap.Report = p.Engine.Last().Report
	snap.Metrics = p.Engine.Metrics()
	return snap
}

func (l *liveSource) TogglePause() {
	p := l.pipeline()
	if p == nil {
		return
	}
	switch p.Loop.State() {
	case writer.Running:
		p.Loop.Pause()
	case writer.Paused:
		p.Loop.Resume()
	}
}
