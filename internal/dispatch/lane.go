package dispatch

// lane is one robot's strictly ordered execution channel: pending tasks are
// consumed head-first, and at most one task is admitted or running at a
// time.
//
// Lanes are owned by the dispatcher loop (no internal locking). Admitting
// past a busy lane or completing an idle one means the loop's bookkeeping
// is broken, so both panic.
type lane struct {
	robot   string
	pending []queued
	busy    bool
}

func newLane(robot string) *lane {
	return &lane{robot: robot}
}

func (l *lane) enqueue(q queued) {
	l.pending = append(l.pending, q)
}

// head returns the robot's oldest pending task, but only when the lane is
// free to admit it.
func (l *lane) head() (queued, bool) {
	if l.busy || len(l.pending) == 0 {
		return queued{}, false
	}
	return l.pending[0], true
}

func (l *lane) markAdmitted() queued {
	if l.busy {
		panic("dispatch: lane " + l.robot + " double admission")
	}
	if len(l.pending) == 0 {
		panic("dispatch: lane " + l.robot + " admission without pending task")
	}
	q := l.pending[0]
	l.pending[0] = queued{}
	l.pending = l.pending[1:]
	l.busy = true
	return q
}

func (l *lane) markCompleted() {
	if !l.busy {
		panic("dispatch: lane " + l.robot + " completion while idle")
	}
	l.busy = false
}

// empty reports whether the lane holds no pending and no running task.
func (l *lane) empty() bool { return !l.busy && len(l.pending) == 0 }
