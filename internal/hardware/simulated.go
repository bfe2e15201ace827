// Package hardware provides device sinks for the writer loop.
package hardware

import (
	"errors"
	"sync"

	"github.com/san-kum/olfacto/internal/rig"
)

var errInjected = errors.New("hardware: injected failure")

// Simulated records frames in memory instead of driving a DAQ card.
type Simulated struct {
	mu          sync.Mutex
	frames      []rig.Frame
	keep        int
	initFails   int
	writeFails  bool
	initialized bool
	stopped     bool
	stops       int
}

// NewSimulated keeps at most keep frames (0 keeps everything).
func NewSimulated(keep int) *Simulated {
	return &Simulated{keep: keep}
}

// FailInitialize makes the next n Initialize calls fail.
func (s *Simulated) FailInitialize(n int) {
	s.mu.Lock()
	s.initFails = n
	s.mu.Unlock()
}

func (s *Simulated) FailWrites(fail bool) {
	s.mu.Lock()
	s.writeFails = fail
	s.mu.Unlock()
}

func (s *Simulated) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initFails > 0 {
		s.initFails--
		return rig.ErrChannelsUninitialized
	}
	s.initialized = true
	s.stopped = false
	return nil
}

func (s *Simulated) Write(f rig.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.stopped {
		return rig.ErrChannelsUninitialized
	}
	if s.writeFails {
		return errInjected
	}
	s.frames = append(s.frames, f)
	if s.keep > 0 && len(s.frames) > s.keep {
		s.frames = s.frames[len(s.frames)-s.keep:]
	}
	return nil
}

func (s *Simulated) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.stopped = true
	return nil
}

func (s *Simulated) Frames() []rig.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rig.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *Simulated) Last() (rig.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return rig.Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

func (s *Simulated) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Simulated) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
