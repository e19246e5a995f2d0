package clock

import (
	"sync"
	"time"
)

// Fake is a Clock that only moves when Advance is called.
//
// Timers created from a Fake fire during Advance once their deadline is
// reached. All methods are safe for concurrent use.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a Fake pinned to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		f:  f,
		ch: make(chan time.Time, 1),
	}
	t.deadline = f.now.Add(d)
	if d <= 0 {
		t.fire(f.now)
	} else {
		f.timers = append(f.timers, t)
	}
	return t
}

// Advance moves the clock forward and fires every timer whose deadline has
// been reached. Timers fire in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	// Fire due timers; keep the rest. Repeated scans keep this simple and
	// the timer counts here are tiny.
	for {
		var due *fakeTimer
		for _, t := range f.timers {
			if t.fired || t.stopped || t.deadline.After(f.now) {
				continue
			}
			if due == nil || t.deadline.Before(due.deadline) {
				due = t
			}
		}
		if due == nil {
			break
		}
		due.fire(due.deadline)
	}
	f.compactLocked()
}

func (f *Fake) compactLocked() {
	kept := f.timers[:0]
	for _, t := range f.timers {
		if !t.fired && !t.stopped {
			kept = append(kept, t)
		}
	}
	f.timers = kept
}

type fakeTimer struct {
	f        *Fake
	ch       chan time.Time
	deadline time.Time
	fired    bool
	stopped  bool
}

// fire requires f.mu held.
func (t *fakeTimer) fire(at time.Time) {
	t.fired = true
	select {
	case t.ch <- at:
	default:
	}
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()

	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()

	active := !t.fired && !t.stopped
	t.fired = false
	t.stopped = false
	t.deadline = t.f.now.Add(d)

	// Drain a stale tick so the next receive sees only the new deadline.
	select {
	case <-t.ch:
	default:
	}

	if d <= 0 {
		t.fire(t.f.now)
	} else {
		found := false
		for _, existing := range t.f.timers {
			if existing == t {
				found = true
				break
			}
		}
		if !found {
			t.f.timers = append(t.f.timers, t)
		}
	}
	return active
}
