package dispatch

import (
	"testing"

	"robofleet/internal/chore"
)

func queuedTask(id int64, seq uint64) queued {
	return queued{task: chore.Task{ID: id, Robot: "Dave", Kind: "feed_the_cat", Seq: seq}}
}

func TestLaneFIFO(t *testing.T) {
	t.Parallel()

	l := newLane("Dave")
	if !l.empty() {
		t.Fatal("new lane not empty")
	}
	if _, ok := l.head(); ok {
		t.Fatal("empty lane produced a head")
	}

	l.enqueue(queuedTask(10, 1))
	l.enqueue(queuedTask(11, 2))
	l.enqueue(queuedTask(12, 3))

	for want := int64(10); want <= 12; want++ {
		q, ok := l.head()
		if !ok {
			t.Fatalf("no head at task %d", want)
		}
		if q.task.ID != want {
			t.Fatalf("head = task %d, want %d", q.task.ID, want)
		}
		if got := l.markAdmitted(); got.task.ID != want {
			t.Fatalf("admitted task %d, want %d", got.task.ID, want)
		}
		if _, ok := l.head(); ok {
			t.Fatal("busy lane produced a head")
		}
		l.markCompleted()
	}
	if !l.empty() {
		t.Fatal("drained lane not empty")
	}
}

func TestLaneBusyBlocksHead(t *testing.T) {
	t.Parallel()

	l := newLane("Andi")
	l.enqueue(queuedTask(1, 1))
	l.enqueue(queuedTask(2, 2))
	l.markAdmitted()

	if _, ok := l.head(); ok {
		t.Fatal("lane with a running task still offers its head")
	}
	if l.empty() {
		t.Fatal("busy lane reported empty")
	}
}

func TestLaneDoubleAdmissionPanics(t *testing.T) {
	t.Parallel()

	l := newLane("Phil")
	l.enqueue(queuedTask(1, 1))
	l.enqueue(queuedTask(2, 2))
	l.markAdmitted()

	defer func() {
		if recover() == nil {
			t.Fatal("double admission did not panic")
		}
	}()
	l.markAdmitted()
}

func TestLaneAdmitEmptyPanics(t *testing.T) {
	t.Parallel()

	l := newLane("Nick")
	defer func() {
		if recover() == nil {
			t.Fatal("admission on empty lane did not panic")
		}
	}()
	l.markAdmitted()
}

func TestLaneIdleCompletionPanics(t *testing.T) {
	t.Parallel()

	l := newLane("Maxi")
	defer func() {
		if recover() == nil {
			t.Fatal("completion on idle lane did not panic")
		}
	}()
	l.markCompleted()
}
