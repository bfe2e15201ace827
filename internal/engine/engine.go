// Package engine connects a solver, the schedule encoder and the writer loop.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/olfacto/internal/encoder"
	"github.com/san-kum/olfacto/internal/metrics"
	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
	"github.com/san-kum/olfacto/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Committer receives every frame the engine produces.
type Committer interface {
	Commit(f rig.Frame)
}

type Config struct {
	Rig       *rig.Rig
	Matrix    rig.Matrix
	Solver    optimizer.Solver
	Committer Committer
	Samples   int
	TotalFlow float64
	Metrics   *metrics.Set
	Events    telemetry.Sink
	Log       logrus.FieldLogger
}

type Engine struct {
	rig       *rig.Rig
	matrix    rig.Matrix
	solver    optimizer.Solver
	committer Committer
	samples   int
	totalFlow float64
	metrics   *metrics.Set
	events    telemetry.Sink
	log       logrus.FieldLogger

	mu       sync.Mutex
	last     optimizer.Result
	schedule rig.Schedule
	frame    rig.Frame
}

// New validates the configuration and commits the all-off frame so the
// writer never transmits stale output from a previous session.
func New(cfg Config) (*Engine, error) {
	if cfg.Rig == nil || cfg.Solver == nil || cfg.Committer == nil {
		return nil, fmt.Errorf("engine: rig, solver and committer are required")
	}
	if err := cfg.Matrix.Validate(); err != nil {
		return nil, err
	}
	if cfg.Matrix.Odorants() > 0 && cfg.Matrix.Channels() != cfg.Rig.Channels() {
		return nil, fmt.Errorf("matrix has %d channels, rig %d: %w", cfg.Matrix.Channels(), cfg.Rig.Channels(), rig.ErrDimensionMismatch)
	}
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("samples per frame %d: %w", cfg.Samples, rig.ErrDimensionMismatch)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Events == nil {
		cfg.Events = telemetry.Discard{}
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	e := &Engine{
		rig:       cfg.Rig,
		matrix:    cfg.Matrix,
		solver:    cfg.Solver,
		committer: cfg.Committer,
		samples:   cfg.Samples,
		totalFlow: cfg.TotalFlow,
		metrics:   cfg.Metrics,
		events:    cfg.Events,
		log:       cfg.Log,
	}
	if err := e.Apply(rig.Off(cfg.Rig.Channels(), cfg.TotalFlow)); err != nil {
		return nil, err
	}
	return e, nil
}

// SetTarget solves for concentrations at the engine's total flow.
func (e *Engine) SetTarget(concentrations []float64) (optimizer.Result, error) {
	return e.SetTargetVector(rig.TargetVector{Concentrations: concentrations, TotalFlow: e.totalFlow})
}

func (e *Engine) SetTargetVector(target rig.TargetVector) (optimizer.Result, error) {
	if len(target.Concentrations) != e.matrix.Odorants() {
		return optimizer.Result{}, fmt.Errorf("%d concentrations for %d odorants: %w",
			len(target.Concentrations), e.matrix.Odorants(), rig.ErrDimensionMismatch)
	}

	start := time.Now()
	res := e.solver.Solve(e.matrix, target, e.rig.MaxFlows())
	paired := res.Schedule.Paired()
	frame, err := encoder.Encode(paired, e.rig, e.samples)
	if err != nil {
		return res, fmt.Errorf("encode schedule: %w", err)
	}
	e.committer.Commit(frame)
	latency := time.Since(start)

	e.mu.Lock()
	e.last = res
	e.schedule = paired
	e.frame = frame
	e.mu.Unlock()

	e.metrics.Observe(metrics.Sample{Latency: latency, MeanAbsError: res.Report.MeanAbsError()})
	now := time.Now()
	e.events.AppendEvent(now, "target", target.Concentrations)
	e.events.AppendEvent(now, "setpoints", e.rig.Setpoints(paired))

	e.log.WithFields(logrus.Fields{
		"method":     res.Report.Method,
		"iterations": res.Report.Iterations,
		"error_pct":  res.Report.MeanAbsError(),
		"latency":    latency,
		"mixing_a":   paired.Mixing[0],
		"mixing_b":   paired.Mixing[1],
		"carrier":    paired.Carrier,
	}).Debug("committed schedule")
	return res, nil
}

// Apply encodes and commits a schedule as given, without solving or pairing.
func (e *Engine) Apply(s rig.Schedule) error {
	frame, err := encoder.Encode(s, e.rig, e.samples)
	if err != nil {
		return err
	}
	e.committer.Commit(frame)

	e.mu.Lock()
	e.schedule = s.Clone()
	e.frame = frame
	e.mu.Unlock()
	e.events.AppendEvent(time.Now(), "setpoints", e.rig.Setpoints(s))
	return nil
}

func (e *Engine) Last() optimizer.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Schedule returns the schedule behind the latest committed frame.
func (e *Engine) Schedule() rig.Schedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schedule.Clone()
}

func (e *Engine) Frame() rig.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

func (e *Engine) Rig() *rig.Rig { return e.rig }

func (e *Engine) Metrics() map[string]float64 { return e.metrics.Values() }
