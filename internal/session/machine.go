package session

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/san-kum/olfacto/internal/rig"
)

type Phase int

const (
	AwaitingCount Phase = iota
	AwaitingIdentities
	AwaitingDilutions
	Streaming
	Terminated
)

func (p Phase) String() string {
	switch p {
	case AwaitingCount:
		return "awaiting_count"
	case AwaitingIdentities:
		return "awaiting_identities"
	case AwaitingDilutions:
		return "awaiting_dilutions"
	case Streaming:
		return "streaming"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type EventKind int

const (
	EventNone EventKind = iota
	EventConfigured
	EventTarget
	EventDuplicate
)

type Event struct {
	Kind           EventKind
	Odorants       []rig.Odorant
	Concentrations []float64
	// Overflowed lists components whose antilog did not fit a float64.
	Overflowed []int
}

// Machine tracks one session's phase. It performs no I/O.
type Machine struct {
	order       binary.ByteOrder
	maxChannels int

	phase     Phase
	count     int
	ids       []int32
	dilutions []int32
	last      []byte
}

func NewMachine(order binary.ByteOrder, maxChannels int) *Machine {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Machine{order: order, maxChannels: maxChannels}
}

func (m *Machine) Phase() Phase { return m.phase }

func (m *Machine) Count() int { return m.count }

// Expect returns the size in bytes of the next message, or 0 once terminated.
func (m *Machine) Expect() int {
	switch m.phase {
	case AwaitingCount:
		return 4
	case AwaitingIdentities, AwaitingDilutions:
		return 4 * m.count
	case Streaming:
		return 8 * m.count
	}
	return 0
}

func (m *Machine) Terminate() { m.phase = Terminated }

// Feed consumes one complete message. Any error terminates the machine.
func (m *Machine) Feed(msg []byte) (Event, error) {
	if m.phase == Terminated {
		return Event{}, fmt.Errorf("message after termination: %w", rig.ErrProtocolFraming)
	}
	if want := m.Expect(); len(msg) != want {
		err := fmt.Errorf("%s: got %d bytes, want %d: %w", m.phase, len(msg), want, rig.ErrProtocolFraming)
		m.phase = Terminated
		return Event{}, err
	}

	switch m.phase {
	case AwaitingCount:
		n := int(int32(m.order.Uint32(msg)))
		if n <= 0 || n > m.maxChannels {
			m.phase = Terminated
			return Event{}, fmt.Errorf("count %d outside 1..%d: %w", n, m.maxChannels, rig.ErrProtocolFraming)
		}
		m.count = n
		m.phase = AwaitingIdentities
		return Event{}, nil

	case AwaitingIdentities:
		m.ids = m.int32s(msg)
		m.phase = AwaitingDilutions
		return Event{}, nil

	case AwaitingDilutions:
		m.dilutions = m.int32s(msg)
		m.phase = Streaming
		odorants := make([]rig.Odorant, m.count)
		for i := range odorants {
			odorants[i] = rig.Odorant{ID: m.ids[i], Dilution: m.dilutions[i]}
		}
		return Event{Kind: EventConfigured, Odorants: odorants}, nil
	}

	if m.last != nil && bytes.Equal(msg, m.last) {
		return Event{Kind: EventDuplicate}, nil
	}
	m.last = append(m.last[:0], msg...)

	ev := Event{Kind: EventTarget, Concentrations: make([]float64, m.count)}
	for i := range ev.Concentrations {
		x := math.Float64frombits(m.order.Uint64(msg[8*i:]))
		c, ok := Antilog(x)
		if !ok {
			ev.Overflowed = append(ev.Overflowed, i)
		}
		ev.Concentrations[i] = c
	}
	return ev, nil
}

func (m *Machine) int32s(msg []byte) []int32 {
	out := make([]int32, len(msg)/4)
	for i := range out {
		out[i] = int32(m.order.Uint32(msg[4*i:]))
	}
	return out
}

// Antilog returns 10^x. Results that are not finite map to 0 with ok false.
func Antilog(x float64) (float64, bool) {
	if math.IsNaN(x) {
		return 0, false
	}
	v := math.Pow(10, x)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
