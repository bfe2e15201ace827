// Package writer re-transmits the latest committed frame to the device at a
// fixed cadence until stopped.
//
// The loop owns one goroutine (Run). Commit, Pause, Resume and Stop are safe
// for concurrent use. The committed frame lives in a single-slot mailbox:
// a new commit replaces the previous one whether or not it was ever written.
package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/olfacto/internal/rig"
	"github.com/sirupsen/logrus"
)

type State int32

const (
	Running State = iota
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Sink is the device driver boundary. Stop must be idempotent.
type Sink interface {
	Initialize() error
	Write(f rig.Frame) error
	Stop() error
}

type Stats struct {
	Writes      uint64
	WriteErrors uint64
	Skipped     uint64
	Commits     uint64
	Superseded  uint64
}

// IntervalFor returns half the frame period, so every frame is written at
// least once per period even with scheduling jitter.
func IntervalFor(framesPerSecond float64) time.Duration {
	if framesPerSecond <= 0 {
		framesPerSecond = 1
	}
	return time.Duration(float64(time.Second) / (2 * framesPerSecond))
}

type Loop struct {
	sink     Sink
	interval time.Duration
	zero     rig.Frame
	log      logrus.FieldLogger

	mu        sync.Mutex // guards the fields below
	state     State
	committed *rig.Frame
	unwritten bool
	stats     Stats

	writeMu     sync.Mutex // held for every device write
	initialized bool

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func New(sink Sink, interval time.Duration, zero rig.Frame, log logrus.FieldLogger) *Loop {
	if interval <= 0 {
		interval = IntervalFor(1)
	}
	return &Loop{
		sink:     sink,
		interval: interval,
		zero:     zero,
		log:      log,
		state:    Running,
		done:     make(chan struct{}),
	}
}

// Run ticks until Stop is called or ctx is canceled. Cancellation stops the
// loop, which includes the final zero write.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return l.Stop()
		case <-l.done:
			return nil
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	state := l.state
	frame := l.committed
	if state == Running && frame != nil {
		l.unwritten = false
	}
	l.mu.Unlock()

	if state != Running || frame == nil {
		l.count(func(s *Stats) { s.Skipped++ })
		return
	}

	if !l.initialized {
		if err := l.sink.Initialize(); err != nil {
			l.log.WithError(err).Debug("device not ready, skipping write")
			l.count(func(s *Stats) { s.Skipped++ })
			return
		}
		l.initialized = true
	}

	if err := l.sink.Write(*frame); err != nil {
		l.log.WithError(fmt.Errorf("%w: %v", rig.ErrHardwareWrite, err)).Warn("frame write failed")
		l.count(func(s *Stats) { s.WriteErrors++ })
		return
	}
	l.count(func(s *Stats) { s.Writes++ })
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

// Commit publishes a new frame. Readers only ever observe whole frames.
func (l *Loop) Commit(f rig.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Stopped {
		return
	}
	if l.unwritten {
		l.stats.Superseded++
	}
	l.committed = &f
	l.unwritten = true
	l.stats.Commits++
}

// Committed returns the frame currently being re-transmitted.
func (l *Loop) Committed() (rig.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.committed == nil {
		return rig.Frame{}, false
	}
	return *l.committed, true
}

func (l *Loop) Pause()  { l.transition(Running, Paused) }
func (l *Loop) Resume() { l.transition(Paused, Running) }

func (l *Loop) transition(from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == from {
		l.state = to
	}
}

// Stop pauses the loop, waits for any in-flight write, writes the all-zero
// frame and releases the device. Later calls return the first result.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() {
		l.transition(Running, Paused)

		l.writeMu.Lock()
		defer l.writeMu.Unlock()

		if !l.initialized {
			if err := l.sink.Initialize(); err == nil {
				l.initialized = true
			}
		}
		if l.initialized {
			if err := l.sink.Write(l.zero); err != nil {
				l.stopErr = fmt.Errorf("zero frame: %w: %v", rig.ErrHardwareWrite, err)
				l.count(func(s *Stats) { s.WriteErrors++ })
			} else {
				l.count(func(s *Stats) { s.Writes++ })
			}
		} else {
			l.stopErr = rig.ErrChannelsUninitialized
		}
		if err := l.sink.Stop(); err != nil && l.stopErr == nil {
			l.stopErr = err
		}

		l.mu.Lock()
		l.state = Stopped
		l.mu.Unlock()
		close(l.done)

		if l.stopErr != nil {
			l.log.WithError(l.stopErr).Warn("writer stopped with error")
		} else {
			l.log.Info("writer stopped")
		}
	})
	return l.stopErr
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }
