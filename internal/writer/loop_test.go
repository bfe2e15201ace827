package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/san-kum/olfacto/internal/hardware"
	"github.com/san-kum/olfacto/internal/rig"
	"github.com/sirupsen/logrus/hooks/test"
)

func frameWith(word uint32) rig.Frame {
	f := rig.ZeroFrame(4, 3)
	for i := range f.Digital {
		f.Digital[i] = word
	}
	return f
}

func newTestLoop(sink Sink) *Loop {
	log, _ := test.NewNullLogger()
	return New(sink, time.Millisecond, rig.ZeroFrame(4, 3), log)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoop_RetransmitsCommittedFrame(t *testing.T) {
	sink := hardware.NewSimulated(0)
	l := newTestLoop(sink)
	l.Commit(frameWith(0x10001))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return len(sink.Frames()) >= 3 })
	for _, f := range sink.Frames() {
		if f.Digital[0] != 0x10001 {
			t.Fatalf("unexpected word %#x", f.Digital[0])
		}
	}

	l.Commit(frameWith(0x2))
	waitFor(t, func() bool {
		last, _ := sink.Last()
		return last.Digital[0] == 0x2
	})
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestLoop_StopWritesZeroLast(t *testing.T) {
	sink := hardware.NewSimulated(0)
	l := newTestLoop(sink)
	l.Commit(frameWith(0xff))

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	waitFor(t, func() bool { return len(sink.Frames()) > 0 })

	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	n := len(sink.Frames())
	time.Sleep(10 * time.Millisecond)
	frames := sink.Frames()
	if len(frames) != n {
		t.Errorf("writes continued after stop: %d -> %d", n, len(frames))
	}
	if !frames[len(frames)-1].IsZero() {
		t.Error("last frame written was not all-zero")
	}
	if l.State() != Stopped || !sink.Stopped() {
		t.Errorf("state %v, sink stopped %v", l.State(), sink.Stopped())
	}
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	sink := hardware.NewSimulated(0)
	l := newTestLoop(sink)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Stop()
		}()
	}
	wg.Wait()

	zeros := 0
	for _, f := range sink.Frames() {
		if f.IsZero() {
			zeros++
		}
	}
	if zeros != 1 {
		t.Errorf("expected exactly one zero write, got %d", zeros)
	}
	select {
	case <-l.Done():
	default:
		t.Error("done channel not closed")
	}
}

func TestLoop_PauseSkipsWrites(t *testing.T) {
	sink := hardware.NewSimulated(0)
	l := newTestLoop(sink)
	l.Commit(frameWith(1))
	l.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	waitFor(t, func() bool { return l.Stats().Skipped >= 3 })
	if n := len(sink.Frames()); n != 0 {
		t.Errorf("paused loop wrote %d frames", n)
	}

	l.Resume()
	waitFor(t, func() bool { return len(sink.Frames()) > 0 })

	cancel()
	<-l.Done()
	last, _ := sink.Last()
	if !last.IsZero() {
		t.Error("cancel should stop with a zero write")
	}
}

func TestLoop_RetriesInitialization(t *testing.T) {
	sink := hardware.NewSimulated(0)
	sink.FailInitialize(3)
	l := newTestLoop(sink)
	l.Commit(frameWith(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return len(sink.Frames()) > 0 })
	if s := l.Stats(); s.Skipped < 3 {
		t.Errorf("expected at least 3 skipped ticks, got %d", s.Skipped)
	}
	_ = l.Stop()
}

func TestLoop_WriteErrorsAreNotFatal(t *testing.T) {
	sink := hardware.NewSimulated(0)
	sink.FailWrites(true)
	l := newTestLoop(sink)
	l.Commit(frameWith(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return l.Stats().WriteErrors >= 2 })
	if l.State() != Running {
		t.Errorf("expected loop to keep running, got %v", l.State())
	}

	sink.FailWrites(false)
	waitFor(t, func() bool { return l.Stats().Writes > 0 })
	_ = l.Stop()
}

func TestLoop_StopWithoutDevice(t *testing.T) {
	sink := hardware.NewSimulated(0)
	sink.FailInitialize(100)
	l := newTestLoop(sink)
	if err := l.Stop(); !errors.Is(err, rig.ErrChannelsUninitialized) {
		t.Errorf("expected ErrChannelsUninitialized, got %v", err)
	}
	if !sink.Stopped() {
		t.Error("sink should still be released")
	}
}

func TestLoop_CommitCounters(t *testing.T) {
	l := newTestLoop(hardware.NewSimulated(0))
	l.Commit(frameWith(1))
	l.Commit(frameWith(2))
	l.Commit(frameWith(3))

	s := l.Stats()
	if s.Commits != 3 || s.Superseded != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
	f, ok := l.Committed()
	if !ok || f.Digital[0] != 3 {
		t.Errorf("expected latest commit, got %v", f.Digital)
	}

	_ = l.Stop()
	l.Commit(frameWith(4))
	if f, _ := l.Committed(); f.Digital[0] != 3 {
		t.Error("commit after stop should be ignored")
	}
}

func TestIntervalFor(t *testing.T) {
	if got := IntervalFor(1); got != 500*time.Millisecond {
		t.Errorf("IntervalFor(1) = %v", got)
	}
	if got := IntervalFor(0); got != 500*time.Millisecond {
		t.Errorf("IntervalFor(0) = %v", got)
	}
	if got := IntervalFor(4); got != 125*time.Millisecond {
		t.Errorf("IntervalFor(4) = %v", got)
	}
}

// consistentFrame carries its digital word in every analog sample too.
func consistentFrame(word uint32) rig.Frame {
	f := frameWith(word)
	for _, out := range f.Analog {
		for k := range out {
			out[k] = float64(word)
		}
	}
	return f
}

func TestLoop_ConcurrentCommitsWriteWholeFrames(t *testing.T) {
	sink := hardware.NewSimulated(0)
	log, _ := test.NewNullLogger()
	l := New(sink, 50*time.Microsecond, rig.ZeroFrame(4, 3), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	const workers, perWorker = 10, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				l.Commit(consistentFrame(uint32(w*perWorker + i + 1)))
				if i%10 == 0 {
					time.Sleep(100 * time.Microsecond)
				}
			}
		}(w)
	}
	wg.Wait()
	waitFor(t, func() bool { return l.Stats().Writes >= 20 })
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := l.Stats().Commits; got != workers*perWorker {
		t.Errorf("commits = %d, want %d", got, workers*perWorker)
	}
	frames := sink.Frames()
	if len(frames) == 0 {
		t.Fatal("nothing written")
	}
	for n, f := range frames {
		word := f.Digital[0]
		for k, d := range f.Digital {
			if d != word {
				t.Fatalf("frame %d: sample %d word %#x, want %#x", n, k, d, word)
			}
		}
		for o, out := range f.Analog {
			for k, v := range out {
				if v != float64(word) {
					t.Fatalf("frame %d: output %d sample %d = %g, digital word %#x", n, o, k, v, word)
				}
			}
		}
	}
}
