package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/olfacto/internal/rig"
)

func configMessages(t *testing.T, order binary.ByteOrder, odorants []rig.Odorant) [][]byte {
	t.Helper()
	var buf bytes.Buffer
	if err := NewClient(&buf, order).Configure(odorants); err != nil {
		t.Fatalf("configure: %v", err)
	}
	raw := buf.Bytes()
	n := len(odorants)
	return [][]byte{raw[:4], raw[4 : 4+4*n], raw[4+4*n:]}
}

func targetMessage(t *testing.T, order binary.ByteOrder, logs ...float64) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := NewClient(&buf, order).Send(logs); err != nil {
		t.Fatalf("send: %v", err)
	}
	return buf.Bytes()
}

var testOdorants = []rig.Odorant{{ID: 111, Dilution: 10}, {ID: 222, Dilution: 10}, {ID: 333, Dilution: 10}}

func TestMachine_Phases(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		m := NewMachine(order, 16)
		msgs := configMessages(t, order, testOdorants)

		wantPhases := []Phase{AwaitingIdentities, AwaitingDilutions, Streaming}
		wantExpect := []int{12, 12, 24}
		if m.Expect() != 4 {
			t.Fatalf("expected a 4 byte count first, got %d", m.Expect())
		}
		var ev Event
		for i, msg := range msgs {
			var err error
			ev, err = m.Feed(msg)
			if err != nil {
				t.Fatalf("%v message %d: %v", order, i, err)
			}
			if m.Phase() != wantPhases[i] || m.Expect() != wantExpect[i] {
				t.Errorf("%v message %d: phase %v expect %d", order, i, m.Phase(), m.Expect())
			}
		}
		if ev.Kind != EventConfigured || len(ev.Odorants) != 3 || ev.Odorants[1] != testOdorants[1] {
			t.Errorf("%v: unexpected configure event %+v", order, ev)
		}
	}
}

func TestMachine_DuplicateSuppression(t *testing.T) {
	order := binary.LittleEndian
	m := NewMachine(order, 16)
	for _, msg := range configMessages(t, order, testOdorants) {
		if _, err := m.Feed(msg); err != nil {
			t.Fatal(err)
		}
	}

	first, _ := m.Feed(targetMessage(t, order, -7, -8, -9))
	second, _ := m.Feed(targetMessage(t, order, -7, -8, -9))
	third, _ := m.Feed(targetMessage(t, order, -7, -8, -10))
	fourth, _ := m.Feed(targetMessage(t, order, -7, -8, -9))

	kinds := []EventKind{first.Kind, second.Kind, third.Kind, fourth.Kind}
	want := []EventKind{EventTarget, EventDuplicate, EventTarget, EventTarget}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("message %d: got kind %v, want %v", i, kinds[i], want[i])
		}
	}

	wantC := []float64{1e-7, 1e-8, 1e-9}
	for i, c := range first.Concentrations {
		if math.Abs(c-wantC[i])/wantC[i] > 1e-12 {
			t.Errorf("component %d: got %g want %g", i, c, wantC[i])
		}
	}
}

func TestMachine_Overflow(t *testing.T) {
	order := binary.LittleEndian
	m := NewMachine(order, 16)
	for _, msg := range configMessages(t, order, testOdorants) {
		_, _ = m.Feed(msg)
	}
	ev, err := m.Feed(targetMessage(t, order, 400, math.NaN(), -3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Concentrations[0] != 0 || ev.Concentrations[1] != 0 {
		t.Errorf("expected overflowing components to be 0, got %v", ev.Concentrations)
	}
	if math.Abs(ev.Concentrations[2]-1e-3) > 1e-15 {
		t.Errorf("unexpected third component %g", ev.Concentrations[2])
	}
	if len(ev.Overflowed) != 2 || ev.Overflowed[0] != 0 || ev.Overflowed[1] != 1 {
		t.Errorf("unexpected overflow list %v", ev.Overflowed)
	}
	if m.Phase() != Streaming {
		t.Errorf("overflow must not end the session, phase %v", m.Phase())
	}
}

func TestMachine_FramingErrors(t *testing.T) {
	le := binary.LittleEndian
	count := func(n int32) []byte {
		b := make([]byte, 4)
		le.PutUint32(b, uint32(n))
		return b
	}

	tests := []struct {
		name string
		msgs [][]byte
	}{
		{"zero count", [][]byte{count(0)}},
		{"negative count", [][]byte{count(-2)}},
		{"count above channels", [][]byte{count(5)}},
		{"short identities", [][]byte{count(2), make([]byte, 4)}},
		{"long count", [][]byte{make([]byte, 8)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(le, 4)
			var err error
			for _, msg := range tt.msgs {
				if _, err = m.Feed(msg); err != nil {
					break
				}
			}
			if !errors.Is(err, rig.ErrProtocolFraming) {
				t.Errorf("expected ErrProtocolFraming, got %v", err)
			}
			if m.Phase() != Terminated || m.Expect() != 0 {
				t.Errorf("expected terminated machine, got %v", m.Phase())
			}
			if _, err := m.Feed(count(1)); !errors.Is(err, rig.ErrProtocolFraming) {
				t.Errorf("terminated machine accepted a message: %v", err)
			}
		})
	}
}

func TestAntilog(t *testing.T) {
	tests := []struct {
		x    float64
		want float64
		ok   bool
	}{
		{0, 1, true},
		{-7, 1e-7, true},
		{400, 0, false},
		{math.Inf(1), 0, false},
		{math.Inf(-1), 0, true},
		{math.NaN(), 0, false},
	}
	for _, tt := range tests {
		got, ok := Antilog(tt.x)
		if ok != tt.ok || math.Abs(got-tt.want) > 1e-20 {
			t.Errorf("Antilog(%g) = %g, %v; want %g, %v", tt.x, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSessionError(t *testing.T) {
	err := &SessionError{SessionID: "abc", Phase: Streaming, Wrapped: rig.ErrTransportDisconnect}
	if !errors.Is(err, rig.ErrTransportDisconnect) {
		t.Error("expected SessionError to unwrap")
	}
	if err.Error() == "" {
		t.Error("expected message")
	}
}
