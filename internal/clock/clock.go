// Package clock supplies the scheduler's notion of time.
//
// The dispatcher never calls time.Now or time.NewTimer directly; it goes
// through a Clock so tests can drive admission decisions with a manually
// advanced Fake instead of real sleeps.
package clock

import "time"

// Clock is the time source injected into the dispatcher.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the parts of time.Timer the dispatcher uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// System returns a Clock backed by the runtime wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer { return &systemTimer{t: time.NewTimer(d)} }

type systemTimer struct{ t *time.Timer }

func (st *systemTimer) C() <-chan time.Time         { return st.t.C }
func (st *systemTimer) Stop() bool                  { return st.t.Stop() }
func (st *systemTimer) Reset(d time.Duration) bool  { return st.t.Reset(d) }
