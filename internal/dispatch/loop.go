package dispatch

import (
	"context"
	"sort"
	"time"

	"robofleet/internal/chore"
	"robofleet/internal/clock"
	logx "robofleet/pkg/logx"
)

// loop is the single decision point. It ingests accepted tasks, admits
// eligible lane heads while gate slots are free, and reconciles
// completions. It exits on a clean drain (sealed and everything completed)
// or on ctx cancellation (hard stop).
func (s *Service) loop(ctx context.Context) error {
	var (
		timer   clock.Timer
		timerCh <-chan time.Time
		sealCh  = s.sealCh
	)
	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C():
			default:
			}
		}
		timerCh = nil
	}
	armTimer := func(d time.Duration) {
		if d < 0 {
			d = 0
		}
		if timer == nil {
			timer = s.clk.NewTimer(d)
		} else {
			stopTimer()
			timer.Reset(d)
		}
		timerCh = timer.C()
	}
	defer stopTimer()

	for {
		// Fast-exit check so cancellation wins over queued events.
		select {
		case <-ctx.Done():
			return s.abandon(ctx)
		default:
		}

		admissions, wake := s.admitPass()
		for _, a := range admissions {
			s.dispatch(a)
		}
		// A wake-up is armed only when a free slot is idled purely by a
		// rate limit; when the gate is the blocker, completions are the
		// only events that can change anything.
		if !wake.IsZero() {
			armTimer(wake.Sub(s.clk.Now()))
		} else {
			stopTimer()
		}

		if s.checkDrained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return s.abandon(ctx)
		case q := <-s.intake:
			s.ingest(q)
		case rec := <-s.doneCh:
			s.complete(rec)
		case <-timerCh:
			// A rate-blocked head may have become admissible; rescan.
		case <-sealCh:
			sealCh = nil
		}
	}
}

// admitPass performs one greedy admission scan: while a slot is free and an
// eligible head exists, admit the eligible head with the smallest
// submission sequence. The whole pass runs under mu, so each admission is
// an atomic {rate-check, gate-acquire, pop-head} transition. When a free
// slot is left idle by rate limits, the earliest instant a blocked head
// becomes admissible is returned as the wake-up.
func (s *Service) admitPass() ([]admission, time.Time) {
	now := s.clk.Now()
	var (
		out  []admission
		wake time.Time
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.gate.tryAcquire() {
		l, ok := s.pickLocked(now, &wake)
		if !ok {
			s.gate.release()
			break
		}
		q := l.markAdmitted()
		s.admitted++
		if inf := s.gate.inFlight(); inf > s.maxInFlight {
			s.maxInFlight = inf
		}
		out = append(out, admission{queued: q, admittedAt: now})
	}
	if s.gate.free() == 0 {
		wake = time.Time{}
	}
	return out, wake
}

// pickLocked selects the admissible head with the smallest submission
// sequence. Heads blocked by their kind's interval contribute their next
// eligible instant to wake. Requires s.mu held.
func (s *Service) pickLocked(now time.Time, wake *time.Time) (*lane, bool) {
	type cand struct {
		l *lane
		q queued
	}
	cands := make([]cand, 0, len(s.lanes))
	for _, l := range s.lanes {
		if q, ok := l.head(); ok {
			cands = append(cands, cand{l: l, q: q})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].q.task.Seq < cands[j].q.task.Seq })

	for _, c := range cands {
		if s.limiter.Allow(c.q.task.Kind, now) {
			return c.l, true
		}
		ne := s.limiter.NextEligible(c.q.task.Kind, now)
		if wake.IsZero() || ne.Before(*wake) {
			*wake = ne
		}
	}
	return nil, false
}

func (s *Service) dispatch(a admission) {
	waited := a.admittedAt.Sub(a.submittedAt)
	s.log.Debug("task admitted",
		logx.Int64("task", a.task.ID),
		logx.String("robot", a.task.Robot),
		logx.String("kind", a.task.Kind),
		logx.Uint64("seq", a.task.Seq),
		logx.Duration("waited", waited),
	)
	s.publish("task.admitted", TaskEvent{
		TaskID: a.task.ID, Robot: a.task.Robot, Kind: a.task.Kind, Seq: a.task.Seq,
		At: a.admittedAt, Waited: waited,
	})
	// Buffered to capacity, so this never blocks: every in-flight task
	// holds a gate slot and occupies at most one runCh entry.
	s.runCh <- a
}

func (s *Service) ingest(q queued) {
	s.mu.Lock()
	l := s.lanes[q.task.Robot]
	if l == nil {
		l = newLane(q.task.Robot)
		s.lanes[q.task.Robot] = l
	}
	l.enqueue(q)
	s.ingested++
	s.mu.Unlock()

	s.log.Debug("task queued",
		logx.Int64("task", q.task.ID),
		logx.String("robot", q.task.Robot),
		logx.String("kind", q.task.Kind),
		logx.Uint64("seq", q.task.Seq),
	)
}

func (s *Service) complete(rec chore.Completion) {
	s.mu.Lock()
	l := s.lanes[rec.Robot]
	if l == nil {
		s.mu.Unlock()
		panic("dispatch: completion for unknown robot " + rec.Robot)
	}
	l.markCompleted()
	s.gate.release()
	if rec.Failed() {
		s.failed++
	} else {
		s.completed++
	}
	s.history = append(s.history, rec)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.mu.Unlock()
}

// checkDrained reports whether the run is complete: sealed, every counted
// submission ingested, all lanes idle, nothing in flight. On the first
// true it closes Done() and cancels the executor pool.
func (s *Service) checkDrained() bool {
	s.mu.Lock()
	if !s.sealed || s.drained || s.ingested != s.submitted || s.gate.inFlight() != 0 {
		s.mu.Unlock()
		return false
	}
	for _, l := range s.lanes {
		if !l.empty() {
			s.mu.Unlock()
			return false
		}
	}
	s.drained = true
	completed := s.completed
	failed := s.failed
	rejected := s.rejected
	maxInFlight := s.maxInFlight
	sup := s.sup
	s.mu.Unlock()

	s.publish("fleet.drained", TaskEvent{At: s.clk.Now()})
	s.log.Info("fleet drained",
		logx.Uint64("completed", completed),
		logx.Uint64("failed", failed),
		logx.Uint64("rejected", rejected),
		logx.Int("max_in_flight", maxInFlight),
	)
	close(s.drainedCh)
	// No more work can arrive; release the idle workers.
	sup.Cancel()
	return true
}

// abandon accounts for work cut off by a hard stop. In-flight bodies see
// cancellation in their workers and still produce journaled records;
// counters here are the best-effort remainder.
func (s *Service) abandon(ctx context.Context) error {
	s.mu.Lock()
	pending := s.submitted - s.ingested
	for _, l := range s.lanes {
		pending += uint64(len(l.pending))
	}
	pending += uint64(len(s.runCh))
	s.abandoned = pending
	s.mu.Unlock()

	if pending > 0 {
		s.log.Warn("run aborted with pending tasks", logx.Uint64("abandoned", pending))
	}
	return ctx.Err()
}
