package clock

import (
	"testing"
	"time"
)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f := NewFake(start)

	if got := f.Now(); !got.Equal(start) {
		t.Fatalf("Now = %v, want %v", got, start)
	}

	f.Advance(1500 * time.Millisecond)
	want := start.Add(1500 * time.Millisecond)
	if got := f.Now(); !got.Equal(want) {
		t.Fatalf("Now after advance = %v, want %v", got, want)
	}
}

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(0, 0))
	tm := f.NewTimer(2 * time.Second)

	select {
	case <-tm.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	f.Advance(time.Second)
	select {
	case <-tm.C():
		t.Fatal("timer fired 1s early")
	default:
	}

	f.Advance(time.Second)
	select {
	case at := <-tm.C():
		if want := time.Unix(2, 0); !at.Equal(want) {
			t.Fatalf("fired at %v, want %v", at, want)
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestFakeTimerImmediate(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(100, 0))
	tm := f.NewTimer(0)

	select {
	case <-tm.C():
	default:
		t.Fatal("zero-duration timer should fire immediately")
	}
}

func TestFakeTimerStop(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(0, 0))
	tm := f.NewTimer(time.Second)

	if !tm.Stop() {
		t.Fatal("Stop on active timer should report true")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}

	f.Advance(2 * time.Second)
	select {
	case <-tm.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeTimerReset(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(0, 0))
	tm := f.NewTimer(time.Second)

	f.Advance(time.Second)
	select {
	case <-tm.C():
	default:
		t.Fatal("timer did not fire")
	}

	// Rearm after firing; old tick must not leak through.
	if tm.Reset(3*time.Second) {
		t.Fatal("Reset on fired timer should report false")
	}
	f.Advance(2 * time.Second)
	select {
	case <-tm.C():
		t.Fatal("reset timer fired early")
	default:
	}
	f.Advance(time.Second)
	select {
	case <-tm.C():
	default:
		t.Fatal("reset timer did not fire at new deadline")
	}
}

func TestFakeMultipleTimersFireInDeadlineOrder(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Unix(0, 0))
	late := f.NewTimer(3 * time.Second)
	early := f.NewTimer(1 * time.Second)

	f.Advance(5 * time.Second)

	var earlyAt, lateAt time.Time
	select {
	case earlyAt = <-early.C():
	default:
		t.Fatal("early timer did not fire")
	}
	select {
	case lateAt = <-late.C():
	default:
		t.Fatal("late timer did not fire")
	}
	if !earlyAt.Before(lateAt) {
		t.Fatalf("fire times out of order: early=%v late=%v", earlyAt, lateAt)
	}
}

func TestSystemClock(t *testing.T) {
	t.Parallel()
	c := System()

	before := time.Now()
	got := c.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Fatalf("System Now %v outside [%v, %v]", got, before, after)
	}

	tm := c.NewTimer(time.Millisecond)
	select {
	case <-tm.C():
	case <-time.After(time.Second):
		t.Fatal("system timer did not fire")
	}
}
