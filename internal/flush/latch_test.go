package flush

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestLatch_ReleaseBeforeWait(t *testing.T) {
	t.Parallel()
	l := NewLatch(clock.NewMock())
	l.Release()

	if !l.Wait(time.Second) {
		t.Fatalf("released latch must report durable immediately")
	}
	if !l.Released() {
		t.Fatalf("expected Released to report true")
	}
}

func TestLatch_ReleaseUnblocksWait(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	l := NewLatch(mock)

	got := make(chan bool, 1)
	go func() { got <- l.Wait(5 * time.Second) }()

	time.Sleep(10 * time.Millisecond) // let Wait block
	l.Release()

	select {
	case ok := <-got:
		if !ok {
			t.Fatalf("expected Wait to observe the release")
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after release")
	}
}

func TestLatch_TimeoutBounds(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	l := NewLatch(mock)

	got := make(chan bool, 1)
	go func() { got <- l.Wait(2 * time.Second) }()

	time.Sleep(10 * time.Millisecond) // let Wait block

	// Just short of the timeout: still waiting.
	mock.Add(1999 * time.Millisecond)
	select {
	case <-got:
		t.Fatalf("Wait must not return before the timeout")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(time.Millisecond)
	select {
	case ok := <-got:
		if ok {
			t.Fatalf("expected timeout result false")
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return at the timeout")
	}
}

func TestLatch_ZeroTimeout(t *testing.T) {
	t.Parallel()
	l := NewLatch(clock.NewMock())

	if l.Wait(0) {
		t.Fatalf("unreleased latch must report false on zero timeout")
	}
	l.Release()
	if !l.Wait(0) {
		t.Fatalf("released latch must report true on zero timeout")
	}
}

func TestLatch_ReleaseIdempotent(t *testing.T) {
	t.Parallel()
	l := NewLatch(clock.NewMock())
	l.Release()
	l.Release()

	if !l.Released() {
		t.Fatalf("latch must stay released")
	}
}

func TestLatch_RealClockDefault(t *testing.T) {
	t.Parallel()
	l := NewLatch(nil)

	start := time.Now()
	if l.Wait(20 * time.Millisecond) {
		t.Fatalf("expected timeout on unreleased latch")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("Wait returned too early: %v", elapsed)
	}
}
