package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/olfacto/internal/metrics"
	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
	"github.com/san-kum/olfacto/internal/telemetry"
	"github.com/san-kum/olfacto/internal/writer"
	"github.com/sirupsen/logrus"
)

// Builder assembles a fresh pipeline for every client session.
type Builder struct {
	Rig       *rig.Rig
	Chemistry rig.ChemistryModel
	Solver    optimizer.Solver
	NewSink   func() writer.Sink
	Interval  time.Duration
	Samples   int
	TotalFlow float64
	Store     *telemetry.Store
	Log       logrus.FieldLogger

	// OnPipeline, when set, is called with every pipeline that starts.
	OnPipeline func(*Pipeline)
}

// Pipeline is the per-session engine plus the writer loop it commits to.
type Pipeline struct {
	ID       string
	Engine   *Engine
	Loop     *writer.Loop
	Odorants []rig.Odorant

	recorder *telemetry.Recorder
	store    *telemetry.Store
	started  time.Time
	log      logrus.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

// Build loads the odorants, starts a writer loop under ctx and commits the
// all-off frame.
func (b *Builder) Build(ctx context.Context, id string, odorants []rig.Odorant) (*Pipeline, error) {
	m, err := b.Chemistry.VaporConcentrationMatrix(odorants)
	if err != nil {
		return nil, fmt.Errorf("load odorants: %w", err)
	}

	base := b.Log
	if base == nil {
		base = logrus.StandardLogger()
	}
	log := base.WithField("session", id)
	outputs := len(b.Rig.Controllers())
	loop := writer.New(b.NewSink(), b.Interval, rig.ZeroFrame(b.Samples, outputs), log.WithField("component", "writer"))

	rec := telemetry.NewRecorder()
	eng, err := New(Config{
		Rig:       b.Rig,
		Matrix:    m,
		Solver:    b.Solver,
		Committer: loop,
		Samples:   b.Samples,
		TotalFlow: b.TotalFlow,
		Metrics:   metrics.Default(),
		Events:    rec,
		Log:       log.WithField("component", "engine"),
	})
	if err != nil {
		_ = loop.Stop()
		return nil, err
	}

	p := &Pipeline{
		ID:       id,
		Engine:   eng,
		Loop:     loop,
		Odorants: append([]rig.Odorant(nil), odorants...),
		recorder: rec,
		store:    b.Store,
		started:  time.Now(),
		log:      log,
	}
	go func() {
		if err := loop.Run(ctx); err != nil {
			log.WithError(err).Warn("writer loop ended with error")
		}
	}()
	if b.OnPipeline != nil {
		b.OnPipeline(p)
	}
	return p, nil
}

func (p *Pipeline) SetTarget(concentrations []float64) error {
	_, err := p.Engine.SetTarget(concentrations)
	return err
}

// Close stops the writer (zero frame last) and flushes the session's events.
func (p *Pipeline) Close(reason string) error {
	p.closeOnce.Do(func() {
		p.closeErr = p.Loop.Stop()
		if p.store == nil {
			return
		}

		meta := telemetry.SessionMetadata{
			ID:      p.ID,
			Started: p.started,
			Ended:   time.Now(),
			Reason:  reason,
			Metrics: p.Engine.Metrics(),
			Events:  p.recorder.Events(),
		}
		for _, o := range p.Odorants {
			meta.Odorants = append(meta.Odorants, o.ID)
			meta.Dilutions = append(meta.Dilutions, o.Dilution)
		}
		dir, err := p.store.Save(meta)
		if err != nil {
			p.log.WithError(err).Warn("telemetry flush failed")
			return
		}
		p.log.WithField("dir", dir).Info("telemetry flushed")
	})
	return p.closeErr
}

func (p *Pipeline) Events() []telemetry.Event { return p.recorder.Events() }
