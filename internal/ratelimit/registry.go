// Package ratelimit enforces the fleet-wide minimum interval between
// admissions of each chore kind.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry holds one limiter per chore kind, shared across all robots.
//
// Every method takes an explicit instant so the dispatcher's clock drives
// all decisions; the registry never reads the wall clock itself. Burst is
// pinned to 1: admissions of the same kind are at least the configured
// interval apart, with no catch-up bursts after quiet periods.
type Registry struct {
	mu    sync.Mutex
	kinds map[string]*entry
}

type entry struct {
	every time.Duration
	lim   *rate.Limiter // nil when the kind is unlimited
}

func New() *Registry {
	return &Registry{kinds: map[string]*entry{}}
}

// Configure installs the limiter for kind. every <= 0 leaves the kind
// unlimited. Reconfiguring replaces the limiter and forgets admission
// history.
func (r *Registry) Configure(kind string, every time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if every <= 0 {
		r.kinds[kind] = &entry{}
		return
	}
	r.kinds[kind] = &entry{
		every: every,
		lim:   rate.NewLimiter(rate.Every(every), 1),
	}
}

// Every returns the configured interval for kind, 0 when unlimited.
func (r *Registry) Every(kind string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.kinds[kind]; e != nil {
		return e.every
	}
	return 0
}

// Allow reports whether an admission of kind at now honors the kind's
// interval, and records the admission if so. Check and record are a single
// step under the registry lock. Unknown kinds are unlimited.
func (r *Registry) Allow(kind string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.kinds[kind]
	if e == nil || e.lim == nil {
		return true
	}
	return e.lim.AllowN(now, 1)
}

// NextEligible returns the earliest instant at or after now when Allow can
// succeed for kind. It does not consume the admission: the reservation used
// to read the delay is canceled under the same lock hold, which restores
// the limiter exactly because the dispatcher is the registry's only caller.
func (r *Registry) NextEligible(kind string, now time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.kinds[kind]
	if e == nil || e.lim == nil {
		return now
	}
	res := e.lim.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return now.Add(delay)
}
