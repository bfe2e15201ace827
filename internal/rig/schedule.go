package rig

import (
	"fmt"
	"math"
)

const dutyTolerance = 1e-9

// Duty is one channel's share of a frame. A and B are absolute fractions of
// the frame spent in mixing state A and B; the active window starts at Offset.
type Duty struct {
	A      float64
	B      float64
	Offset float64
}

func (d Duty) Active() float64 { return d.A + d.B }

func (d Duty) IsZero() bool { return d.A == 0 && d.B == 0 }

// Schedule is what a single optimizer solve produces for one target.
type Schedule struct {
	Duties  []Duty
	Mixing  [2]float64 // A and B controller setpoints, cc/min
	Carrier float64    // cc/min
}

// Off returns the all-closed schedule that sends the whole flow through the carrier.
func Off(channels int, totalFlow float64) Schedule {
	return Schedule{
		Duties:  make([]Duty, channels),
		Carrier: math.Max(0, totalFlow),
	}
}

func (s Schedule) Clone() Schedule {
	c := s
	c.Duties = make([]Duty, len(s.Duties))
	copy(c.Duties, s.Duties)
	return c
}

func (s Schedule) IsOff() bool {
	for _, d := range s.Duties {
		if !d.IsZero() {
			return false
		}
	}
	return s.Mixing[0] == 0 && s.Mixing[1] == 0
}

func (s Schedule) TotalFlow() float64 {
	return s.Mixing[0] + s.Mixing[1] + s.Carrier
}

func (s Schedule) Validate() error {
	for i, d := range s.Duties {
		if d.A < 0 || d.B < 0 || d.Offset < 0 {
			return fmt.Errorf("channel %d has negative duty %+v", i+1, d)
		}
		if d.Offset+d.A+d.B > 1+dutyTolerance {
			return fmt.Errorf("channel %d duty %+v exceeds one frame", i+1, d)
		}
	}
	if s.Mixing[0] < 0 || s.Mixing[1] < 0 || s.Carrier < 0 {
		return fmt.Errorf("negative setpoint in %v / %g", s.Mixing, s.Carrier)
	}
	return nil
}

// ChannelFlows returns the time-averaged flow through every channel. The flow
// of a mixing controller is divided among its channels by their duty share.
func (s Schedule) ChannelFlows() []float64 {
	var sumA, sumB float64
	for _, d := range s.Duties {
		sumA += d.A
		sumB += d.B
	}
	flows := make([]float64, len(s.Duties))
	for i, d := range s.Duties {
		if sumA > 0 {
			flows[i] += s.Mixing[0] * d.A / sumA
		}
		if sumB > 0 {
			flows[i] += s.Mixing[1] * d.B / sumB
		}
	}
	return flows
}

// Paired applies clean-air pairing: channel i and channel N-1-i form a pair
// and at every instant of the frame exactly one member of an active pair is
// open, so the mixing flow never sees a closed manifold. The active member
// keeps its duty at the start of the frame and its partner covers the rest
// in the same mixing state. State B wins when the active member uses both.
// With an odd channel count the middle channel is left alone.
func (s Schedule) Paired() Schedule {
	out := s.Clone()
	n := len(out.Duties)
	for i := 0; i < n/2; i++ {
		j := n - 1 - i
		primary, partner := i, j
		if out.Duties[primary].IsZero() {
			if out.Duties[partner].IsZero() {
				continue
			}
			primary, partner = j, i
		}

		p := out.Duties[primary]
		p.Offset = 0
		t := p.Active()
		if t > 1 {
			t = 1
		}
		rest := math.Max(0, 1-t)

		var d Duty
		if p.B > 0 {
			d.B = rest
		} else {
			d.A = rest
		}
		d.Offset = t
		out.Duties[primary] = p
		out.Duties[partner] = d
	}
	return out
}
