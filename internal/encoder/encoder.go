// Package encoder renders schedules into device frames.
package encoder

import (
	"fmt"
	"math"

	"github.com/san-kum/olfacto/internal/rig"
)

const boundaryTolerance = 1e-9

// Encode lays every channel's duty out over samples words. A channel is in
// state A from its offset for ⌈A·S⌉ samples and in state B immediately after,
// until ⌈(A+B)·S⌉ samples past the offset. Windows never wrap.
func Encode(s rig.Schedule, r *rig.Rig, samples int) (rig.Frame, error) {
	if samples <= 0 {
		return rig.Frame{}, fmt.Errorf("samples per frame %d: %w", samples, rig.ErrDimensionMismatch)
	}
	if len(s.Duties) != r.Channels() {
		return rig.Frame{}, fmt.Errorf("schedule has %d channels, rig %d: %w", len(s.Duties), r.Channels(), rig.ErrDimensionMismatch)
	}
	if err := s.Validate(); err != nil {
		return rig.Frame{}, err
	}

	digital := make([]uint32, samples)
	for i, d := range s.Duties {
		if d.IsZero() {
			continue
		}
		bitA := uint32(1) << uint(i+rig.StateAShift)
		bitB := uint32(1) << uint(i+rig.StateBShift)

		start := boundary(d.Offset, samples)
		endA := boundary(d.Offset+d.A, samples)
		endB := boundary(d.Offset+d.A+d.B, samples)
		for k := start; k < endA; k++ {
			digital[k] |= bitA
		}
		for k := endA; k < endB; k++ {
			digital[k] |= bitB
		}
	}

	volts := r.Voltages(s)
	analog := make([][]float64, len(volts))
	for i, v := range volts {
		out := make([]float64, samples)
		for k := range out {
			out[k] = v
		}
		analog[i] = out
	}
	return rig.Frame{Digital: digital, Analog: analog}, nil
}

func boundary(x float64, samples int) int {
	b := int(math.Ceil(x*float64(samples) - boundaryTolerance))
	if b < 0 {
		return 0
	}
	if b > samples {
		return samples
	}
	return b
}

// Decode counts each channel's state A and B samples in a frame.
func Decode(f rig.Frame, channels int) []rig.Duty {
	out := make([]rig.Duty, channels)
	n := float64(len(f.Digital))
	if n == 0 {
		return out
	}
	for i := range out {
		first := -1
		for k, w := range f.Digital {
			a, b := rig.ChannelBits(w, i+1)
			if a {
				out[i].A++
			}
			if b {
				out[i].B++
			}
			if (a || b) && first < 0 {
				first = k
			}
		}
		out[i].A /= n
		out[i].B /= n
		if first > 0 {
			out[i].Offset = float64(first) / n
		}
	}
	return out
}
