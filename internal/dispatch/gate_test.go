package dispatch

import "testing"

func TestGateBounds(t *testing.T) {
	t.Parallel()

	g := newGate(3)
	if g.free() != 3 || g.inFlight() != 0 {
		t.Fatalf("fresh gate free=%d inFlight=%d, want 3/0", g.free(), g.inFlight())
	}

	for i := 0; i < 3; i++ {
		if !g.tryAcquire() {
			t.Fatalf("acquire %d failed with free slots", i)
		}
	}
	if g.tryAcquire() {
		t.Fatal("acquired past capacity")
	}
	if g.free() != 0 || g.inFlight() != 3 {
		t.Fatalf("full gate free=%d inFlight=%d, want 0/3", g.free(), g.inFlight())
	}

	g.release()
	if !g.tryAcquire() {
		t.Fatal("acquire failed after release")
	}
}

func TestGateDefaultCapacity(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{0, -1} {
		g := newGate(capacity)
		if g.free() != DefaultCapacity {
			t.Fatalf("newGate(%d) free = %d, want %d", capacity, g.free(), DefaultCapacity)
		}
	}
}

func TestGateOverReleasePanics(t *testing.T) {
	t.Parallel()

	g := newGate(2)
	defer func() {
		if recover() == nil {
			t.Fatal("over-release did not panic")
		}
	}()
	g.release()
}
