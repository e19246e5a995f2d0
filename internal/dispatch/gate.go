package dispatch

// gate is the fleet-wide admission bound: a channel-based semaphore whose
// tokens are pre-filled up to capacity.
//
// Only the dispatcher loop acquires and releases, one release per acquire.
// An extra release means the scheduler state machine is broken, so it
// panics instead of absorbing the slot.
type gate struct {
	capacity int
	ch       chan struct{}
}

func newGate(capacity int) *gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	g := &gate{capacity: capacity, ch: make(chan struct{}, capacity)}
	for i := 0; i < capacity; i++ {
		g.ch <- struct{}{}
	}
	return g
}

func (g *gate) tryAcquire() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

func (g *gate) release() {
	select {
	case g.ch <- struct{}{}:
	default:
		panic("dispatch: gate over-release")
	}
}

func (g *gate) free() int { return len(g.ch) }

func (g *gate) inFlight() int { return g.capacity - len(g.ch) }
