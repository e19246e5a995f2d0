package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"robofleet/internal/chore"
	logx "robofleet/pkg/logx"
)

// worker runs admitted tasks. Scheduling stays in the loop; workers only
// execute bodies, persist the resulting record, and report back.
func (s *Service) worker(ctx context.Context) {
	for {
		// Fast-exit check so cancellation wins over queued admissions.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case a := <-s.runCh:
			s.finish(s.execOne(ctx, a))
		}
	}
}

// execOne runs one task body with panic recovery and the kind's timeout,
// and builds the completion record.
func (s *Service) execOne(ctx context.Context, a admission) chore.Completion {
	start := s.clk.Now()
	s.publish("task.started", TaskEvent{
		TaskID: a.task.ID, Robot: a.task.Robot, Kind: a.task.Kind, Seq: a.task.Seq,
		At: start, Waited: a.admittedAt.Sub(a.submittedAt),
	})

	runCtx := ctx
	var cancel context.CancelFunc
	if a.def.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, a.def.Timeout)
	}

	var (
		result string
		err    error
	)
	// Guard against body panics: convert to error so one bad chore cannot
	// kill a worker or leak its slot.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task panicked",
					logx.Int64("task", a.task.ID),
					logx.String("robot", a.task.Robot),
					logx.String("kind", a.task.Kind),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		result, err = a.def.Run(runCtx, a.task)
	}()
	if cancel != nil {
		cancel()
	}
	if err != nil && a.def.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("chore timed out after %s: %w", a.def.Timeout, err)
	}

	finished := s.clk.Now()
	rec := chore.Completion{
		RunID:       s.runID,
		TaskID:      a.task.ID,
		Robot:       a.task.Robot,
		Kind:        a.task.Kind,
		Seq:         a.task.Seq,
		SubmittedAt: a.submittedAt,
		AdmittedAt:  a.admittedAt,
		StartedAt:   start,
		FinishedAt:  finished,
		Waited:      a.admittedAt.Sub(a.submittedAt),
		Took:        finished.Sub(start),
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Result = result
	}
	return rec
}

// finish persists and announces one record, then reports the completion to
// the loop. The journal append happens before the loop can admit the
// robot's next task, so per-robot records land in completion order.
func (s *Service) finish(rec chore.Completion) {
	s.journalAppend(rec)

	ev := TaskEvent{
		TaskID: rec.TaskID, Robot: rec.Robot, Kind: rec.Kind, Seq: rec.Seq,
		At: rec.FinishedAt, Waited: rec.Waited, Took: rec.Took,
		Result: rec.Result, Error: rec.Error,
	}
	if rec.Failed() {
		s.publish("task.failed", ev)
		s.log.Warn("task failed",
			logx.Int64("task", rec.TaskID),
			logx.String("robot", rec.Robot),
			logx.String("kind", rec.Kind),
			logx.String("err", rec.Error),
			logx.Duration("took", rec.Took),
		)
	} else {
		s.publish("task.finished", ev)
		s.log.Debug("task finished",
			logx.Int64("task", rec.TaskID),
			logx.String("robot", rec.Robot),
			logx.String("kind", rec.Kind),
			logx.String("result", rec.Result),
			logx.Duration("waited", rec.Waited),
			logx.Duration("took", rec.Took),
		)
	}

	// Buffered to capacity; never blocks, even when the loop has already
	// exited on a hard stop.
	s.doneCh <- rec
}
