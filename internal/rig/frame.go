package rig

// StateBShift and StateAShift position a channel's bit in a digital word.
const (
	StateBShift = 0
	StateAShift = 16
)

// Frame is the device payload for one frame period. Digital holds one word
// per sample; Analog holds one constant array per controller in output order.
// Frames are never mutated once built.
type Frame struct {
	Digital []uint32
	Analog  [][]float64
}

func ZeroFrame(samples, outputs int) Frame {
	f := Frame{
		Digital: make([]uint32, samples),
		Analog:  make([][]float64, outputs),
	}
	for i := range f.Analog {
		f.Analog[i] = make([]float64, samples)
	}
	return f
}

func (f Frame) Samples() int { return len(f.Digital) }

func (f Frame) IsZero() bool {
	for _, w := range f.Digital {
		if w != 0 {
			return false
		}
	}
	for _, out := range f.Analog {
		for _, v := range out {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

// ChannelBits returns the A and B bits of channel (1-based) in word w.
func ChannelBits(w uint32, channel int) (a, b bool) {
	a = w&(1<<uint(channel-1+StateAShift)) != 0
	b = w&(1<<uint(channel-1+StateBShift)) != 0
	return a, b
}
